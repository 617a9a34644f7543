package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"labelflow/internal/domain"
)

// Action names a lifecycle operation. The value doubles as the audit event suffix.
type Action string

const (
	ActionClaimLabeling    Action = "claim_labeling"
	ActionDownloadSource   Action = "download_source"
	ActionSubmitLabelled   Action = "submit_labelled"
	ActionClaimValidation  Action = "claim_validation"
	ActionDownloadLabelled Action = "download_labelled"
	ActionSendBack         Action = "send_back"
	ActionResubmit         Action = "resubmit"
	ActionFinalize         Action = "finalize"
	ActionComplete         Action = "complete"
	ActionSetProgress      Action = "set_progress"
	ActionUpdateFeedback   Action = "update_feedback"
)

// Request carries the caller and the inputs of one named operation.
type Request struct {
	Action   Action
	ActorID  string
	FileIDs  []string
	Notes    string
	Progress int
	Feedback *domain.Feedback
	At       time.Time
}

// Result is the outcome of a successful Apply.
type Result struct {
	Project domain.Project
	From    Status
	To      Status
}

func (r Result) StatusChanged() bool { return r.From != r.To }

// Apply evaluates req against p and returns the updated project. p is never
// modified; on error nothing of the attempted change is observable.
func Apply(p domain.Project, req Request) (Result, error) {
	if strings.TrimSpace(req.ActorID) == "" {
		return Result{}, invalidInput("actor required")
	}
	from := Status(p.Status)
	if !from.Valid() {
		return Result{}, invalidInput("stored status %q is unknown", p.Status)
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	next := p.Clone()
	var err error
	switch req.Action {
	case ActionClaimLabeling:
		err = claimLabeling(&next, req)
	case ActionDownloadSource:
		err = downloadSource(&next, req)
	case ActionSubmitLabelled:
		err = submitLabelled(&next, req)
	case ActionClaimValidation:
		err = claimValidation(&next, req)
	case ActionDownloadLabelled:
		err = downloadLabelled(&next, req)
	case ActionSendBack:
		err = sendBack(&next, req, at)
	case ActionResubmit:
		err = resubmit(&next, req)
	case ActionFinalize:
		err = finalize(&next, req, at)
	case ActionComplete:
		err = complete(&next, req)
	case ActionSetProgress:
		err = setProgress(&next, req)
	case ActionUpdateFeedback:
		err = updateFeedback(&next, req)
	default:
		err = invalidInput("unknown action %q", req.Action)
	}
	if err != nil {
		return Result{}, err
	}
	next.LastActivity = at.UTC().Format(time.RFC3339)
	return Result{Project: next, From: from, To: Status(next.Status)}, nil
}

// advance moves p to the decile floor of to.
func advance(p *domain.Project, to Status) error {
	from := Status(p.Status)
	if err := ensureTransition(from, to); err != nil {
		return err
	}
	progress := MinProgressForStatus(to)
	if err := CheckProgress(p.Progress, progress); err != nil {
		return err
	}
	p.Status = string(to)
	p.Progress = progress
	return nil
}

// claimLabeling starts labeling from Task Listed. While labeling is under way
// further labelers join without moving status or progress.
func claimLabeling(p *domain.Project, req Request) error {
	from := Status(p.Status)
	if _, err := AddLabeler(p, req.ActorID); err != nil {
		return err
	}
	if from == StatusLabelingStarted || from == StatusLabelingOngoing {
		return nil
	}
	return advance(p, StatusLabelingStarted)
}

func downloadSource(p *domain.Project, req Request) error {
	if err := requireLabeler(*p, req.ActorID); err != nil {
		return err
	}
	if p.Progress <= MinProgressForStatus(StatusLabelingStarted) {
		return advance(p, StatusLabelingOngoing)
	}
	return nil
}

func submitLabelled(p *domain.Project, req Request) error {
	if err := requireLabeler(*p, req.ActorID); err != nil {
		return err
	}
	files := cleanIDs(req.FileIDs)
	if len(files) == 0 {
		return invalidInput("labelled file ids required")
	}
	if err := advance(p, StatusFilesSubmitted); err != nil {
		return err
	}
	p.LabelledFileIDs = files
	return nil
}

func claimValidation(p *domain.Project, req Request) error {
	if _, err := AddValidator(p, req.ActorID); err != nil {
		return err
	}
	if p.Progress < MinProgressForStatus(StatusFilesSubmitted) {
		return TransitionError{From: Status(p.Status), To: StatusValidationStarted}
	}
	return advance(p, StatusValidationStarted)
}

func downloadLabelled(p *domain.Project, req Request) error {
	if err := requireValidator(*p, req.ActorID); err != nil {
		return err
	}
	if Status(p.Status) == StatusValidationStarted {
		return advance(p, StatusValidationOngoing)
	}
	return nil
}

// sendBack is the only operation allowed to lower progress: sending a
// resubmission (80) back for fixes lands on 70.
func sendBack(p *domain.Project, req Request, at time.Time) error {
	if err := requireValidator(*p, req.ActorID); err != nil {
		return err
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return invalidInput("validator notes required")
	}
	from := Status(p.Status)
	if err := ensureTransition(from, StatusSentBackForFixes); err != nil {
		return err
	}
	p.Status = string(StatusSentBackForFixes)
	p.Progress = MinProgressForStatus(StatusSentBackForFixes)
	p.ValidatedFileIDs = cleanIDs(req.FileIDs)
	p.Notes = appendValidatorNotes(p.Notes, notes, at)
	return nil
}

func resubmit(p *domain.Project, req Request) error {
	if err := requireLabeler(*p, req.ActorID); err != nil {
		return err
	}
	files := cleanIDs(req.FileIDs)
	if len(files) == 0 {
		return invalidInput("labelled file ids required")
	}
	if err := advance(p, StatusFilesResubmitted); err != nil {
		return err
	}
	p.LabelledFileIDs = files
	return nil
}

func finalize(p *domain.Project, req Request, at time.Time) error {
	if err := requireValidator(*p, req.ActorID); err != nil {
		return err
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return invalidInput("validator notes required")
	}
	if err := advance(p, StatusFinalValidationCompleted); err != nil {
		return err
	}
	if files := cleanIDs(req.FileIDs); len(files) > 0 {
		p.ValidatedFileIDs = files
	}
	p.Notes = appendValidatorNotes(p.Notes, notes, at)
	return nil
}

func complete(p *domain.Project, req Request) error {
	if err := requireSubmitter(*p, req.ActorID); err != nil {
		return err
	}
	from := Status(p.Status)
	if from != StatusFinalValidationCompleted || p.Progress != MinProgressForStatus(StatusFinalValidationCompleted) {
		return TransitionError{From: from, To: StatusCompleted}
	}
	fb, err := checkFeedback(req.Feedback)
	if err != nil {
		return err
	}
	if err := advance(p, StatusCompleted); err != nil {
		return err
	}
	p.Feedback = &fb
	return nil
}

// setProgress is the submitter's manual override. It never reaches Completed;
// completion always goes through complete, which needs progress at the Final
// Validation Completed floor. A target status owned by a role nobody holds is
// refused.
func setProgress(p *domain.Project, req Request) error {
	if err := requireSubmitter(*p, req.ActorID); err != nil {
		return err
	}
	target, err := StatusForProgress(req.Progress)
	if err != nil {
		return err
	}
	from := Status(p.Status)
	if from.Terminal() || target == StatusCompleted {
		return TransitionError{From: from, To: target}
	}
	if err := CheckProgress(p.Progress, req.Progress); err != nil {
		return err
	}
	if target != from {
		if err := ensureTransition(from, target); err != nil {
			return err
		}
	}
	if floor := MinProgressForStatus(StatusFinalValidationCompleted); target == StatusFinalValidationCompleted && req.Progress != floor {
		return fmt.Errorf("%w: %s is held at %d until completion", ErrOutOfRange, target, floor)
	}
	if err := requireRoleHolder(*p, target); err != nil {
		return err
	}
	p.Status = string(target)
	p.Progress = req.Progress
	return nil
}

func updateFeedback(p *domain.Project, req Request) error {
	if err := requireSubmitter(*p, req.ActorID); err != nil {
		return err
	}
	if !Status(p.Status).Terminal() {
		return fmt.Errorf("%w: feedback is only editable once the project is completed", ErrInvalidTransition)
	}
	fb, err := checkFeedback(req.Feedback)
	if err != nil {
		return err
	}
	p.Feedback = &fb
	return nil
}

func checkFeedback(fb *domain.Feedback) (domain.Feedback, error) {
	if fb == nil || strings.TrimSpace(fb.Complete) == "" {
		return domain.Feedback{}, invalidInput("completion feedback required")
	}
	return fb.Clone(), nil
}

const validatorNotesTag = "[VALIDATOR NOTES "

func appendValidatorNotes(existing, notes string, at time.Time) string {
	entry := fmt.Sprintf("%s%s] %s", validatorNotesTag, at.UTC().Format(time.RFC3339), notes)
	if strings.TrimSpace(existing) == "" {
		return entry
	}
	return existing + "\n\n" + entry
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
