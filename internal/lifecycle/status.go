package lifecycle

import "fmt"

// Status is one of the eleven project lifecycle labels. The string values are
// part of the wire format.
type Status string

const (
	StatusTaskListed                 Status = "Task Listed"
	StatusLabelingStarted            Status = "Labeling Started"
	StatusLabelingOngoing            Status = "Labeling Ongoing"
	StatusFilesSubmitted             Status = "Files Submitted by Labeler"
	StatusValidationStarted          Status = "Validation Started"
	StatusValidationOngoing          Status = "Validation Ongoing"
	StatusInitialValidationCompleted Status = "Initial Validation Completed"
	StatusSentBackForFixes           Status = "Sent Back for Fixes"
	StatusFilesResubmitted           Status = "Files Resubmitted by Labeler"
	StatusFinalValidationCompleted   Status = "Final Validation Completed"
	StatusCompleted                  Status = "Completed"
)

// Ordered lists every status by its decile.
var Ordered = []Status{
	StatusTaskListed,
	StatusLabelingStarted,
	StatusLabelingOngoing,
	StatusFilesSubmitted,
	StatusValidationStarted,
	StatusValidationOngoing,
	StatusInitialValidationCompleted,
	StatusSentBackForFixes,
	StatusFilesResubmitted,
	StatusFinalValidationCompleted,
	StatusCompleted,
}

var successors = map[Status][]Status{
	StatusTaskListed:      {StatusLabelingStarted},
	StatusLabelingStarted: {StatusLabelingOngoing, StatusFilesSubmitted},
	StatusLabelingOngoing: {StatusFilesSubmitted},
	StatusFilesSubmitted:  {StatusValidationStarted},
	StatusValidationStarted: {
		StatusValidationOngoing,
		StatusInitialValidationCompleted,
		StatusSentBackForFixes,
		StatusFinalValidationCompleted,
	},
	StatusValidationOngoing: {
		StatusInitialValidationCompleted,
		StatusSentBackForFixes,
		StatusFinalValidationCompleted,
	},
	StatusInitialValidationCompleted: {StatusSentBackForFixes, StatusFinalValidationCompleted},
	StatusSentBackForFixes:           {StatusFilesResubmitted},
	StatusFilesResubmitted:           {StatusSentBackForFixes, StatusFinalValidationCompleted},
	StatusFinalValidationCompleted:   {StatusCompleted},
	StatusCompleted:                  {},
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known labels.
func (s Status) Valid() bool {
	_, ok := successors[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// ParseStatus maps a wire label to a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

// Successors returns the statuses reachable from s in one step.
func Successors(s Status) []Status {
	next := successors[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func IsValidTransition(from, to Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to Status) error {
	if !IsValidTransition(from, to) {
		return TransitionError{From: from, To: to}
	}
	return nil
}
