// Package review accumulates per-reviewer verdicts on micro-tasks.
package review

import (
	"fmt"
	"strings"
	"time"

	"labelflow/internal/domain"
	"labelflow/internal/lifecycle"
)

// Policy decides what happens when a reviewer answers the same task twice.
type Policy string

const (
	PolicyReject     Policy = "reject"
	PolicyLatestWins Policy = "latest_wins"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.TrimSpace(raw)) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyLatestWins:
		return PolicyLatestWins, nil
	default:
		return "", fmt.Errorf("unknown response policy %q (expected reject or latest_wins)", raw)
	}
}

// Outcome reports how Add changed the list.
type Outcome int

const (
	Unchanged Outcome = iota
	Appended
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// Add returns responses with r applied under policy. The input slice is not
// modified. Entries keep first-submission order and are never removed.
func Add(responses []domain.TaskResponse, r domain.TaskResponse, policy Policy, at time.Time) ([]domain.TaskResponse, Outcome, error) {
	r.ReviewerID = strings.TrimSpace(r.ReviewerID)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.ReviewerID == "" {
		return nil, Unchanged, fmt.Errorf("%w: reviewer id required", lifecycle.ErrInvalidInput)
	}
	if r.Reason == "" {
		return nil, Unchanged, fmt.Errorf("%w: reason required", lifecycle.ErrInvalidInput)
	}
	ts := at.UTC().Format(time.RFC3339)
	out := make([]domain.TaskResponse, len(responses), len(responses)+1)
	copy(out, responses)
	for i, existing := range out {
		if existing.ReviewerID != r.ReviewerID {
			continue
		}
		if policy != PolicyLatestWins {
			return nil, Unchanged, fmt.Errorf("%w: %s already answered", lifecycle.ErrDuplicateResponse, r.ReviewerID)
		}
		if existing.Verdict == r.Verdict && existing.Reason == r.Reason {
			return out, Unchanged, nil
		}
		existing.Verdict = r.Verdict
		existing.Reason = r.Reason
		existing.UpdatedAt = ts
		out[i] = existing
		return out, Replaced, nil
	}
	r.CreatedAt = ts
	r.UpdatedAt = ""
	return append(out, r), Appended, nil
}

// Tally counts accept and reject verdicts.
func Tally(responses []domain.TaskResponse) (accepted, rejected int) {
	for _, r := range responses {
		if r.Verdict {
			accepted++
		} else {
			rejected++
		}
	}
	return accepted, rejected
}
