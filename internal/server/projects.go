package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"labelflow/internal/domain"
	"labelflow/internal/engine"
	"labelflow/internal/lifecycle"
	"labelflow/internal/repo"
)

type projectOutput struct {
	ETag string          `header:"ETag"`
	Body ProjectResponse `json:"body"`
}

func projectResult(p domain.Project) *projectOutput {
	return &projectOutput{ETag: etag(p.Version), Body: projectResponse(p)}
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		Description:   "The caller becomes the project's submitter.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ActorID: actorID,
			Details: input.Body.details(),
			FileIDs: input.Body.FileIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Submitter string `query:"submitter" doc:"Only projects created by this user"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Submitter: strings.TrimSpace(input.Submitter),
			Status:    strings.TrimSpace(input.Status),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*projectOutput, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project metadata",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		IfMatch   string               `header:"If-Match" doc:"Expected project version"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)
		for _, field := range lifecycleFields {
			if _, ok := raw[field]; ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", field+" is managed by lifecycle operations", map[string]any{"field": field})
			}
		}
		expected, verr := parseIfMatch(input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		p, err := e.UpdateDetails(ctx, input.ProjectID, actorID, expected, input.Body.details())
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func runTransition(ctx context.Context, e engine.Engine, projectID, ifMatch string, req lifecycle.Request) (*projectOutput, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	expected, verr := parseIfMatch(ifMatch)
	if verr != nil {
		return nil, verr
	}
	req.ActorID = actorID
	p, err := e.Transition(ctx, projectID, expected, req)
	if err != nil {
		return nil, handleError(err)
	}
	return projectResult(p), nil
}

func transitionOperation(id, method, route, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        route,
		Summary:     summary,
		Tags:        []string{"lifecycle"},
		Errors:      transitionErrors,
	}
}

type projectRef struct {
	ProjectID string `path:"project_id"`
	IfMatch   string `header:"If-Match" doc:"Expected project version"`
}

func registerTransitions(api huma.API, e engine.Engine) {
	bare := []struct {
		id, route, summary string
		action             lifecycle.Action
	}{
		{"claim-labeling", "/projects/{project_id}/labeling/claim", "Claim a project for labeling", lifecycle.ActionClaimLabeling},
		{"download-source", "/projects/{project_id}/labeling/download", "Record a source file download", lifecycle.ActionDownloadSource},
		{"claim-validation", "/projects/{project_id}/validation/claim", "Claim a project for validation", lifecycle.ActionClaimValidation},
		{"download-labelled", "/projects/{project_id}/validation/download", "Record a labelled file download", lifecycle.ActionDownloadLabelled},
	}
	for _, op := range bare {
		huma.Register(api, transitionOperation(op.id, http.MethodPost, op.route, op.summary),
			func(ctx context.Context, input *projectRef) (*projectOutput, error) {
				return runTransition(ctx, e, input.ProjectID, input.IfMatch, lifecycle.Request{Action: op.action})
			})
	}

	files := []struct {
		id, route, summary string
		action             lifecycle.Action
	}{
		{"submit-labelled", "/projects/{project_id}/labeling/submit", "Submit labelled files", lifecycle.ActionSubmitLabelled},
		{"resubmit", "/projects/{project_id}/labeling/resubmit", "Resubmit fixed files", lifecycle.ActionResubmit},
	}
	for _, op := range files {
		huma.Register(api, transitionOperation(op.id, http.MethodPost, op.route, op.summary),
			func(ctx context.Context, input *struct {
				ProjectID string       `path:"project_id"`
				IfMatch   string       `header:"If-Match" doc:"Expected project version"`
				Body      FilesRequest `json:"body"`
			}) (*projectOutput, error) {
				return runTransition(ctx, e, input.ProjectID, input.IfMatch, lifecycle.Request{
					Action:  op.action,
					FileIDs: input.Body.FileIDs,
				})
			})
	}

	notes := []struct {
		id, route, summary string
		action             lifecycle.Action
	}{
		{"send-back", "/projects/{project_id}/validation/send-back", "Send labelled files back for fixes", lifecycle.ActionSendBack},
		{"finalize-validation", "/projects/{project_id}/validation/finalize", "Finalize validation", lifecycle.ActionFinalize},
	}
	for _, op := range notes {
		huma.Register(api, transitionOperation(op.id, http.MethodPost, op.route, op.summary),
			func(ctx context.Context, input *struct {
				ProjectID string       `path:"project_id"`
				IfMatch   string       `header:"If-Match" doc:"Expected project version"`
				Body      NotesRequest `json:"body"`
			}) (*projectOutput, error) {
				return runTransition(ctx, e, input.ProjectID, input.IfMatch, lifecycle.Request{
					Action:  op.action,
					FileIDs: input.Body.FileIDs,
					Notes:   input.Body.Notes,
				})
			})
	}

	feedback := []struct {
		id, method, route, summary string
		action                     lifecycle.Action
	}{
		{"complete-project", http.MethodPost, "/projects/{project_id}/complete", "Complete a validated project", lifecycle.ActionComplete},
		{"update-feedback", http.MethodPut, "/projects/{project_id}/feedback", "Replace feedback on a completed project", lifecycle.ActionUpdateFeedback},
	}
	for _, op := range feedback {
		huma.Register(api, transitionOperation(op.id, op.method, op.route, op.summary),
			func(ctx context.Context, input *struct {
				ProjectID string          `path:"project_id"`
				IfMatch   string          `header:"If-Match" doc:"Expected project version"`
				Body      FeedbackRequest `json:"body"`
			}) (*projectOutput, error) {
				fb := input.Body.feedback()
				return runTransition(ctx, e, input.ProjectID, input.IfMatch, lifecycle.Request{
					Action:   op.action,
					Feedback: &fb,
				})
			})
	}

	huma.Register(api, transitionOperation("set-progress", http.MethodPut, "/projects/{project_id}/progress", "Set progress manually"),
		func(ctx context.Context, input *struct {
			ProjectID string          `path:"project_id"`
			IfMatch   string          `header:"If-Match" doc:"Expected project version"`
			Body      ProgressRequest `json:"body"`
		}) (*projectOutput, error) {
			return runTransition(ctx, e, input.ProjectID, input.IfMatch, lifecycle.Request{
				Action:   lifecycle.ActionSetProgress,
				Progress: input.Body.Progress,
			})
		})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Audit trail of a project, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			ProjectID: input.ProjectID,
			Type:      input.Type,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
