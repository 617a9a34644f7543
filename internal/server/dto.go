package server

import (
	"encoding/json"
	"path"

	"labelflow/internal/domain"
	"labelflow/internal/engine"
	"labelflow/internal/lifecycle"
	"labelflow/internal/review"
)

// Request payloads

type ProjectDetailsRequest struct {
	Name                *string  `json:"name,omitempty" maxLength:"200"`
	Description         *string  `json:"description,omitempty"`
	FileType            *string  `json:"file_type,omitempty"`
	FileCount           *int     `json:"file_count,omitempty" minimum:"0"`
	TotalSize           *string  `json:"total_size,omitempty"`
	Priority            *string  `json:"priority,omitempty" enum:"High,Medium,Low"`
	Categories          []string `json:"categories,omitempty"`
	Notes               *string  `json:"notes,omitempty"`
	EstimatedCompletion *string  `json:"estimated_completion,omitempty"`
}

type CreateProjectRequest struct {
	ProjectDetailsRequest
	FileIDs []string `json:"file_ids,omitempty"`
}

// UpdateProjectRequest accepts metadata only. Lifecycle fields are listed so
// the schema documents them, but any request carrying one is refused.
type UpdateProjectRequest struct {
	ProjectDetailsRequest
	Accuracy       *float64 `json:"accuracy,omitempty" minimum:"0" maximum:"100"`
	CompletedTasks *int     `json:"completed_tasks,omitempty" minimum:"0"`
	TotalTasks     *int     `json:"total_tasks,omitempty" minimum:"0"`

	Status           *string  `json:"status,omitempty" doc:"Not writable; use the lifecycle operations"`
	Progress         *int     `json:"progress,omitempty" doc:"Not writable; use PUT /projects/{project_id}/progress"`
	Labelers         []string `json:"labelers,omitempty" doc:"Not writable"`
	Validators       []string `json:"validators,omitempty" doc:"Not writable"`
	FileIDs          []string `json:"file_ids,omitempty" doc:"Not writable"`
	LabelledFileIDs  []string `json:"labelled_file_ids,omitempty" doc:"Not writable"`
	ValidatedFileIDs []string `json:"validated_file_ids,omitempty" doc:"Not writable"`
}

var lifecycleFields = []string{"status", "progress", "labelers", "validators", "file_ids", "labelled_file_ids", "validated_file_ids"}

type FilesRequest struct {
	FileIDs []string `json:"file_ids" minItems:"1"`
}

type NotesRequest struct {
	FileIDs []string `json:"file_ids,omitempty"`
	Notes   string   `json:"notes" minLength:"1"`
}

type ProgressRequest struct {
	Progress int `json:"progress"`
}

type FeedbackRequest struct {
	Labeler   *domain.FeedbackNote `json:"labeler,omitempty"`
	Validator *domain.FeedbackNote `json:"validator,omitempty"`
	Complete  string               `json:"complete"`
}

type AddResponseRequest struct {
	Answer *bool  `json:"answer"`
	Reason string `json:"reason"`
}

type CreateUserRequest struct {
	Username      string                  `json:"username"`
	WalletAddress string                  `json:"wallet_address"`
	UserType      string                  `json:"user_type" enum:"submitter,labeler,validator"`
	Email         *string                 `json:"email,omitempty"`
	Picture       *string                 `json:"picture,omitempty"`
	Preferences   *domain.UserPreferences `json:"preferences,omitempty"`
	Socials       *domain.UserSocials     `json:"socials,omitempty"`
}

type UpdateUserRequest struct {
	Username    *string                 `json:"username,omitempty"`
	UserType    *string                 `json:"user_type,omitempty" enum:"submitter,labeler,validator"`
	Email       *string                 `json:"email,omitempty"`
	Picture     *string                 `json:"picture,omitempty"`
	Preferences *domain.UserPreferences `json:"preferences,omitempty"`
	Socials     *domain.UserSocials     `json:"socials,omitempty"`
}

// Responses

type ProjectResponse struct {
	domain.Project
	Successors []string `json:"successors"`
}

type TaskResponse struct {
	domain.Task
	ImageURL        string `json:"image_url"`
	ExampleImageURL string `json:"example_image_url,omitempty"`
	Accepted        int    `json:"accepted"`
	Rejected        int    `json:"rejected"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type StatusResponse struct {
	Name        string   `json:"name"`
	MinProgress int      `json:"min_progress"`
	Terminal    bool     `json:"terminal"`
	Successors  []string `json:"successors"`
}

func (r ProjectDetailsRequest) details() lifecycle.Details {
	return lifecycle.Details{
		Name:                r.Name,
		Description:         r.Description,
		FileType:            r.FileType,
		FileCount:           r.FileCount,
		TotalSize:           r.TotalSize,
		Priority:            r.Priority,
		Categories:          r.Categories,
		Notes:               r.Notes,
		EstimatedCompletion: r.EstimatedCompletion,
	}
}

func (r UpdateProjectRequest) details() lifecycle.Details {
	d := r.ProjectDetailsRequest.details()
	d.Accuracy = r.Accuracy
	d.CompletedTasks = r.CompletedTasks
	d.TotalTasks = r.TotalTasks
	return d
}

func (r FeedbackRequest) feedback() domain.Feedback {
	return domain.Feedback{Labeler: r.Labeler, Validator: r.Validator, Complete: r.Complete}
}

func (r CreateUserRequest) fields() engine.UserFields {
	username, userType := r.Username, r.UserType
	return engine.UserFields{
		Username:    &username,
		UserType:    &userType,
		Email:       r.Email,
		Picture:     r.Picture,
		Preferences: r.Preferences,
		Socials:     r.Socials,
	}
}

func (r UpdateUserRequest) fields() engine.UserFields {
	return engine.UserFields{
		Username:    r.Username,
		UserType:    r.UserType,
		Email:       r.Email,
		Picture:     r.Picture,
		Preferences: r.Preferences,
		Socials:     r.Socials,
	}
}

func statusNames(items []lifecycle.Status) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, string(s))
	}
	return out
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		Project:    p,
		Successors: statusNames(lifecycle.Successors(lifecycle.Status(p.Status))),
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(basePath string, t domain.Task) TaskResponse {
	if t.Responses == nil {
		t.Responses = []domain.TaskResponse{}
	}
	accepted, rejected := review.Tally(t.Responses)
	resp := TaskResponse{
		Task:     t,
		ImageURL: path.Join(basePath, "tasks", t.ID, "image"),
		Accepted: accepted,
		Rejected: rejected,
	}
	if t.Example.ImageKey != "" {
		resp.ExampleImageURL = path.Join(basePath, "tasks", t.ID, "example-image")
	}
	return resp
}

func mapTasks(basePath string, items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(basePath, t))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func statusTable() []StatusResponse {
	out := make([]StatusResponse, 0, len(lifecycle.Ordered))
	for _, s := range lifecycle.Ordered {
		out = append(out, StatusResponse{
			Name:        string(s),
			MinProgress: lifecycle.MinProgressForStatus(s),
			Terminal:    s.Terminal(),
			Successors:  statusNames(lifecycle.Successors(s)),
		})
	}
	return out
}
