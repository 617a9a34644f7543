package review

import (
	"errors"
	"testing"
	"time"

	"labelflow/internal/domain"
	"labelflow/internal/lifecycle"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestAddRejectsDuplicateReviewer(t *testing.T) {
	list, outcome, err := Add(nil, domain.TaskResponse{ReviewerID: "u1", Verdict: true, Reason: "clear"}, PolicyReject, t0)
	if err != nil || outcome != Appended || len(list) != 1 {
		t.Fatalf("first add: %v %v %d", err, outcome, len(list))
	}
	list, _, err = Add(list, domain.TaskResponse{ReviewerID: "u2", Verdict: false, Reason: "blurry"}, PolicyReject, t0)
	if err != nil {
		t.Fatalf("second reviewer: %v", err)
	}
	_, _, err = Add(list, domain.TaskResponse{ReviewerID: "u1", Verdict: false, Reason: "changed mind"}, PolicyReject, t0)
	if !errors.Is(err, lifecycle.ErrDuplicateResponse) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if len(list) != 2 || list[0].ReviewerID != "u1" || list[1].ReviewerID != "u2" {
		t.Fatalf("order changed: %+v", list)
	}
}

func TestAddLatestWinsReplacesInPlace(t *testing.T) {
	list, _, _ := Add(nil, domain.TaskResponse{ReviewerID: "u1", Verdict: true, Reason: "ok"}, PolicyLatestWins, t0)
	list, _, _ = Add(list, domain.TaskResponse{ReviewerID: "u2", Verdict: true, Reason: "ok"}, PolicyLatestWins, t0)
	later := t0.Add(time.Minute)
	updated, outcome, err := Add(list, domain.TaskResponse{ReviewerID: "u1", Verdict: false, Reason: "wrong label"}, PolicyLatestWins, later)
	if err != nil || outcome != Replaced {
		t.Fatalf("replace: %v %v", err, outcome)
	}
	if len(updated) != 2 || updated[0].ReviewerID != "u1" || updated[0].Verdict || updated[0].UpdatedAt == "" {
		t.Fatalf("unexpected list: %+v", updated)
	}
	if updated[0].CreatedAt != t0.Format(time.RFC3339) {
		t.Fatalf("created_at must be preserved: %s", updated[0].CreatedAt)
	}
	if !list[0].Verdict {
		t.Fatalf("input slice was modified")
	}
	same, outcome, err := Add(updated, domain.TaskResponse{ReviewerID: "u1", Verdict: false, Reason: "wrong label"}, PolicyLatestWins, later)
	if err != nil || outcome != Unchanged || len(same) != 2 {
		t.Fatalf("identical repeat: %v %v", err, outcome)
	}
}

func TestAddValidation(t *testing.T) {
	if _, _, err := Add(nil, domain.TaskResponse{Reason: "x"}, PolicyReject, t0); !errors.Is(err, lifecycle.ErrInvalidInput) {
		t.Fatalf("expected reviewer required, got %v", err)
	}
	if _, _, err := Add(nil, domain.TaskResponse{ReviewerID: "u1", Reason: " "}, PolicyReject, t0); !errors.Is(err, lifecycle.ErrInvalidInput) {
		t.Fatalf("expected reason required, got %v", err)
	}
}

func TestParsePolicyAndTally(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyReject {
		t.Fatalf("default policy: %v %v", p, err)
	}
	if _, err := ParsePolicy("first_wins"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
	acc, rej := Tally([]domain.TaskResponse{{Verdict: true}, {Verdict: false}, {Verdict: true}})
	if acc != 2 || rej != 1 {
		t.Fatalf("tally %d/%d", acc, rej)
	}
}
