package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"labelflow/internal/domain"
	"labelflow/internal/events"
	"labelflow/internal/lifecycle"
	"labelflow/internal/observability"
	"labelflow/internal/repo"
)

type ProjectCreateOptions struct {
	ID      string
	ActorID string
	Details lifecycle.Details
	FileIDs []string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p, err := lifecycle.NewProject(id, opts.ActorID, opts.Details, opts.FileIDs, e.now())
	if err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	evt, err := e.writer().Append(ctx, tx, "project.create", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"name":     p.Name,
		"status":   p.Status,
		"progress": p.Progress,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.publish(ctx, evt)
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if f.Status != "" {
		if _, err := lifecycle.ParseStatus(f.Status); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListProjects(ctx, f)
}

// UpdateDetails merges metadata edits into a project owned by actorID.
func (e Engine) UpdateDetails(ctx context.Context, projectID, actorID string, expectedVersion int64, d lifecycle.Details) (domain.Project, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := checkVersion("project", projectID, expectedVersion, current.Version); err != nil {
		return domain.Project{}, err
	}
	next, err := lifecycle.ApplyDetails(current, actorID, d, e.now())
	if err != nil {
		return domain.Project{}, err
	}
	if next.Version, err = e.Repo.UpdateProject(ctx, tx, next, current.Version); err != nil {
		return domain.Project{}, err
	}
	evt, err := e.writer().Append(ctx, tx, "project.update", next.ID, "project", next.ID, actorID, events.EventPayload{
		"version": next.Version,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.publish(ctx, evt)
	return next, nil
}

// DeleteProject removes a project. Only its submitter may do so.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if !lifecycle.IsSubmitter(p, actorID) {
		return lifecycle.RoleError{ActorID: actorID, Role: "submitter"}
	}
	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return err
	}
	evt, err := e.writer().Append(ctx, tx, "project.delete", projectID, "project", projectID, actorID, events.EventPayload{
		"status": p.Status,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, evt)
	return nil
}

// Transition runs one lifecycle action against the stored project. A
// non-zero expectedVersion must match the stored version.
func (e Engine) Transition(ctx context.Context, projectID string, expectedVersion int64, req lifecycle.Request) (p domain.Project, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle."+string(req.Action),
		attribute.String("project.id", projectID),
		attribute.String("actor.id", req.ActorID))
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if req.At.IsZero() {
		req.At = e.now()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := checkVersion("project", projectID, expectedVersion, current.Version); err != nil {
		return domain.Project{}, err
	}
	res, err := lifecycle.Apply(current, req)
	if err != nil {
		return domain.Project{}, err
	}
	next := res.Project
	if next.Version, err = e.Repo.UpdateProject(ctx, tx, next, current.Version); err != nil {
		return domain.Project{}, err
	}
	evt, err := e.writer().Append(ctx, tx, "project."+string(req.Action), next.ID, "project", next.ID, req.ActorID, events.EventPayload{
		"from":     string(res.From),
		"to":       string(res.To),
		"progress": next.Progress,
		"version":  next.Version,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, fmt.Errorf("commit %s: %w", req.Action, err)
	}
	span.SetAttributes(
		attribute.String("project.status", next.Status),
		attribute.Int("project.progress", next.Progress))
	e.publish(ctx, evt)
	return next, nil
}

func (e Engine) ClaimForLabeling(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionClaimLabeling, ActorID: actorID})
}

func (e Engine) DownloadSourceFiles(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionDownloadSource, ActorID: actorID})
}

func (e Engine) SubmitLabelledFiles(ctx context.Context, projectID, actorID string, fileIDs []string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionSubmitLabelled, ActorID: actorID, FileIDs: fileIDs})
}

func (e Engine) ClaimForValidation(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionClaimValidation, ActorID: actorID})
}

func (e Engine) DownloadLabelledFiles(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionDownloadLabelled, ActorID: actorID})
}

func (e Engine) SendBackForFixes(ctx context.Context, projectID, actorID string, fileIDs []string, notes string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionSendBack, ActorID: actorID, FileIDs: fileIDs, Notes: notes})
}

func (e Engine) ResubmitAfterFix(ctx context.Context, projectID, actorID string, fileIDs []string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionResubmit, ActorID: actorID, FileIDs: fileIDs})
}

func (e Engine) FinalizeValidation(ctx context.Context, projectID, actorID string, fileIDs []string, notes string) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionFinalize, ActorID: actorID, FileIDs: fileIDs, Notes: notes})
}

func (e Engine) CompleteProject(ctx context.Context, projectID, actorID string, fb domain.Feedback) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionComplete, ActorID: actorID, Feedback: &fb})
}

func (e Engine) UpdateProgressManually(ctx context.Context, projectID, actorID string, progress int) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionSetProgress, ActorID: actorID, Progress: progress})
}

func (e Engine) UpdateFeedback(ctx context.Context, projectID, actorID string, fb domain.Feedback) (domain.Project, error) {
	return e.Transition(ctx, projectID, 0, lifecycle.Request{Action: lifecycle.ActionUpdateFeedback, ActorID: actorID, Feedback: &fb})
}
