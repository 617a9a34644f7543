package labelflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Labelflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set. Servers accept
	// it only with allow_header_identity enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Priority         string    `json:"priority"`
	Status           string    `json:"status"`
	Progress         int       `json:"progress"`
	Submitter        string    `json:"submitter"`
	Labelers         []string  `json:"labelers"`
	Validators       []string  `json:"validators"`
	FileIDs          []string  `json:"file_ids"`
	LabelledFileIDs  []string  `json:"labelled_file_ids"`
	ValidatedFileIDs []string  `json:"validated_file_ids"`
	Notes            string    `json:"notes"`
	Feedback         *Feedback `json:"feedback,omitempty"`
	Successors       []string  `json:"successors"`
	LastActivity     string    `json:"last_activity"`
	Version          int64     `json:"version"`
}

type FeedbackNote struct {
	Public  string `json:"public,omitempty"`
	Private string `json:"private,omitempty"`
}

type Feedback struct {
	Labeler   *FeedbackNote `json:"labeler,omitempty"`
	Validator *FeedbackNote `json:"validator,omitempty"`
	Complete  string        `json:"complete"`
}

// NewProject is the create payload.
type NewProject struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	FileType    string   `json:"file_type,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	FileIDs     []string `json:"file_ids,omitempty"`
}

type TaskResponse struct {
	UserID string `json:"user_id"`
	Answer bool   `json:"answer"`
	Reason string `json:"reason"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Text            string         `json:"text"`
	Points          int            `json:"points"`
	ImageURL        string         `json:"image_url"`
	ExampleImageURL string         `json:"example_image_url"`
	Responses       []TaskResponse `json:"responses"`
	Accepted        int            `json:"accepted"`
	Rejected        int            `json:"rejected"`
	Version         int64          `json:"version"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the envelope code of an *APIError, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// ListProjects returns projects, optionally only those of submitter.
func (c *Client) ListProjects(ctx context.Context, submitter string) ([]Project, error) {
	endpoint := "projects"
	if submitter != "" {
		endpoint += "?submitter=" + url.QueryEscape(submitter)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, nil, &resp)
	return resp, err
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, p NewProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", nil, p, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id, ""), nil, nil, nil)
}

// Transition posts to a lifecycle route such as "labeling/claim". A non-zero
// version is sent as If-Match.
func (c *Client) Transition(ctx context.Context, projectID, route string, version int64, body any) (Project, error) {
	method := http.MethodPost
	if route == "progress" || route == "feedback" {
		method = http.MethodPut
	}
	var headers http.Header
	if version > 0 {
		headers = http.Header{"If-Match": []string{strconv.Quote(strconv.FormatInt(version, 10))}}
	}
	if body == nil {
		body = struct{}{}
	}
	var resp Project
	err := c.do(ctx, method, projectPath(projectID, route), headers, body, &resp)
	return resp, err
}

func (c *Client) ClaimLabeling(ctx context.Context, projectID string) (Project, error) {
	return c.Transition(ctx, projectID, "labeling/claim", 0, nil)
}

func (c *Client) DownloadSource(ctx context.Context, projectID string) (Project, error) {
	return c.Transition(ctx, projectID, "labeling/download", 0, nil)
}

func (c *Client) SubmitLabelled(ctx context.Context, projectID string, fileIDs []string) (Project, error) {
	return c.Transition(ctx, projectID, "labeling/submit", 0, map[string]any{"file_ids": fileIDs})
}

func (c *Client) Resubmit(ctx context.Context, projectID string, fileIDs []string) (Project, error) {
	return c.Transition(ctx, projectID, "labeling/resubmit", 0, map[string]any{"file_ids": fileIDs})
}

func (c *Client) ClaimValidation(ctx context.Context, projectID string) (Project, error) {
	return c.Transition(ctx, projectID, "validation/claim", 0, nil)
}

func (c *Client) DownloadLabelled(ctx context.Context, projectID string) (Project, error) {
	return c.Transition(ctx, projectID, "validation/download", 0, nil)
}

func (c *Client) SendBack(ctx context.Context, projectID string, fileIDs []string, notes string) (Project, error) {
	return c.Transition(ctx, projectID, "validation/send-back", 0, map[string]any{"file_ids": fileIDs, "notes": notes})
}

func (c *Client) Finalize(ctx context.Context, projectID string, fileIDs []string, notes string) (Project, error) {
	return c.Transition(ctx, projectID, "validation/finalize", 0, map[string]any{"file_ids": fileIDs, "notes": notes})
}

func (c *Client) Complete(ctx context.Context, projectID string, fb Feedback) (Project, error) {
	return c.Transition(ctx, projectID, "complete", 0, fb)
}

func (c *Client) UpdateFeedback(ctx context.Context, projectID string, fb Feedback) (Project, error) {
	return c.Transition(ctx, projectID, "feedback", 0, fb)
}

func (c *Client) SetProgress(ctx context.Context, projectID string, progress int) (Project, error) {
	return c.Transition(ctx, projectID, "progress", 0, map[string]any{"progress": progress})
}

// Events returns the newest events of a project.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := projectPath(projectID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Respond records the caller's answer to a task.
func (c *Client) Respond(ctx context.Context, taskID string, answer bool, reason string) (Task, error) {
	body := map[string]any{"answer": answer, "reason": reason}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/responses", nil, body, &resp)
	return resp, err
}

// Usernames resolves user ids; unknown ids are absent from the map.
func (c *Client) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	resp := map[string]string{}
	err := c.do(ctx, http.MethodGet, "usernames?ids="+url.QueryEscape(strings.Join(ids, ",")), nil, nil, &resp)
	return resp, err
}

// SocialCheck is the result of CheckSocial.
type SocialCheck struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
	URL      string `json:"url"`
	Valid    bool   `json:"valid"`
}

// CheckSocial asks the server whether a handle exists on platform ("x" or "telegram").
func (c *Client) CheckSocial(ctx context.Context, platform, username string) (SocialCheck, error) {
	q := url.Values{"platform": {platform}, "username": {username}}
	var resp SocialCheck
	err := c.do(ctx, http.MethodGet, "users/socials/check?"+q.Encode(), nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers http.Header, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(id, p string) string {
	endpoint := "projects/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
