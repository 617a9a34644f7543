package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"labelflow/internal/config"
	"labelflow/internal/db"
	"labelflow/internal/domain"
	"labelflow/internal/engine"
	"labelflow/internal/migrate"
	"labelflow/internal/storage"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Blobs = blobs
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowHeaderIdentity: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(user string) map[string]string {
	return map[string]string{HeaderUserID: user}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeProject(t *testing.T, data []byte) domain.Project {
	t.Helper()
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v (%s)", err, data)
	}
	return p
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, data)
	}
	if got := errorCode(t, data); got != code {
		t.Fatalf("expected code %q, got %q", code, got)
	}
}

func createProject(t *testing.T, srv *testServer, submitter string) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name":     "traffic lights",
		"file_ids": []string{"f1", "f2", "f3"},
	}, as(submitter))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, data)
	}
	return decodeProject(t, data)
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	token, err := SignToken(testSecret, "sub", 0)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "jwt project"},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt status %d: %s", res.StatusCode, data)
	}
	if p := decodeProject(t, data); p.Submitter != "sub" {
		t.Fatalf("submitter from token subject, got %q", p.Submitter)
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv, "sub")
	base := srv.URL + "/v0/projects/" + p.ID

	steps := []struct {
		method, path, user string
		body               any
		status             string
		progress           int
	}{
		{http.MethodPost, "/labeling/claim", "lab", nil, "Labeling Started", 10},
		{http.MethodPost, "/labeling/download", "lab", nil, "Labeling Ongoing", 20},
		{http.MethodPost, "/labeling/submit", "lab", map[string]any{"file_ids": []string{"l1"}}, "Files Submitted by Labeler", 30},
		{http.MethodPost, "/validation/claim", "val", nil, "Validation Started", 40},
		{http.MethodPost, "/validation/download", "val", nil, "Validation Ongoing", 50},
		{http.MethodPost, "/validation/send-back", "val", map[string]any{"file_ids": []string{"l1"}, "notes": "fix edges"}, "Sent Back for Fixes", 70},
		{http.MethodPost, "/labeling/resubmit", "lab", map[string]any{"file_ids": []string{"l2"}}, "Files Resubmitted by Labeler", 80},
		{http.MethodPost, "/validation/finalize", "val", map[string]any{"notes": "looks good"}, "Final Validation Completed", 90},
		{http.MethodPost, "/complete", "sub", map[string]any{"complete": "great job"}, "Completed", 100},
	}
	for _, step := range steps {
		res, data := doJSON(t, client, step.method, base+step.path, step.body, as(step.user))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", step.path, res.StatusCode, data)
		}
		got := decodeProject(t, data)
		if got.Status != step.status || got.Progress != step.progress {
			t.Fatalf("%s: got %s/%d", step.path, got.Status, got.Progress)
		}
		if res.Header.Get("ETag") != strconv.FormatInt(got.Version, 10) {
			t.Fatalf("%s: etag %q version %d", step.path, res.Header.Get("ETag"), got.Version)
		}
	}

	res, data := doJSON(t, client, http.MethodPut, base+"/feedback", map[string]any{"complete": "even better"}, as("sub"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feedback status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/events?limit=100", nil, as("sub"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != len(steps)+2 || evts[0].Type != "project.update_feedback" {
		t.Fatalf("unexpected events: %d first %+v", len(evts), evts[0])
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv, "sub")
	base := srv.URL + "/v0/projects/" + p.ID

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/missing", nil, as("sub"))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPost, base+"/labeling/claim", nil, as("sub"))
	expectError(t, res, data, http.StatusConflict, "role_conflict")

	res, data = doJSON(t, client, http.MethodPost, base+"/complete", map[string]any{"complete": "x"}, as("sub"))
	expectError(t, res, data, http.StatusConflict, "invalid_transition")

	res, data = doJSON(t, client, http.MethodPost, base+"/labeling/claim", nil, as("lab"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/labeling/claim", nil, as("lab"))
	expectError(t, res, data, http.StatusConflict, "already_assigned")

	res, data = doJSON(t, client, http.MethodPut, base+"/progress", map[string]any{"progress": 150}, as("sub"))
	expectError(t, res, data, http.StatusBadRequest, "out_of_range")

	res, data = doJSON(t, client, http.MethodPut, base+"/progress", map[string]any{"progress": 25}, as("lab"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPut, base+"/progress", map[string]any{"progress": 15}, as("sub"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPut, base+"/progress", map[string]any{"progress": 12}, as("sub"))
	expectError(t, res, data, http.StatusUnprocessableEntity, "regression_rejected")

	stale := map[string]string{HeaderUserID: "lab", "If-Match": strconv.FormatInt(p.Version, 10)}
	res, data = doJSON(t, client, http.MethodPost, base+"/labeling/download", nil, stale)
	expectError(t, res, data, http.StatusConflict, "persistence_conflict")

	res, data = doJSON(t, client, http.MethodPatch, base, map[string]any{"status": "Completed"}, as("sub"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPatch, base, map[string]any{"priority": "High"}, as("lab"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPatch, base, map[string]any{"priority": "High", "categories": []string{"vision"}}, as("sub"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, data)
	}
	if got := decodeProject(t, data); got.Priority != "High" || got.Status != "Labeling Started" {
		t.Fatalf("patch result %+v", got)
	}
}

func TestStatusesArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/statuses", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("statuses status %d: %s", res.StatusCode, data)
	}
	var table []StatusResponse
	if err := json.Unmarshal(data, &table); err != nil {
		t.Fatal(err)
	}
	if len(table) != 11 || table[10].Name != "Completed" || !table[10].Terminal || table[3].MinProgress != 30 {
		t.Fatalf("unexpected table %+v", table)
	}
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadTask(t *testing.T, srv *testServer, user string) TaskResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{"title": "Pedestrian?", "text": "Is there a pedestrian", "points": "3", "exampleDescription": "person crossing"}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("image", "street.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pngUpload(t, 64, 32))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/tasks", &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderUserID, user)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestTaskUploadAndResponses(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := uploadTask(t, srv, "sub")
	if task.Points != 3 || task.ImageURL != "/v0/tasks/"+task.ID+"/image" || task.ExampleImageURL != "" {
		t.Fatalf("unexpected task %+v", task)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+task.ImageURL, nil)
	req.Header.Set(HeaderUserID, "rev")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	img, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("image status %d type %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(img)); err != nil {
		t.Fatalf("served image is not png: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/example-image", nil, as("rev"))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	url := srv.URL + "/v0/tasks/" + task.ID + "/responses"
	res, data = doJSON(t, client, http.MethodPost, url, map[string]any{"answer": true, "reason": "clearly visible"}, as("rev"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, data)
	}
	if res.Header.Get("X-Labelflow-Outcome") != "appended" {
		t.Fatalf("outcome header %q", res.Header.Get("X-Labelflow-Outcome"))
	}
	res, data = doJSON(t, client, http.MethodPost, url, map[string]any{"answer": false, "reason": "again"}, as("rev"))
	expectError(t, res, data, http.StatusConflict, "duplicate_response")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, as("rev"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Accepted != 1 || tasks[0].Rejected != 0 || len(tasks[0].Responses) != 1 {
		t.Fatalf("unexpected list %+v", tasks)
	}
}

func TestUsersOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"username":       "grace",
		"wallet_address": "0x1",
		"user_type":      "validator",
	}, as("anon"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, data)
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"username": "mallory", "wallet_address": "0x1", "user_type": "labeler",
	}, as("anon"))
	expectError(t, res, data, http.StatusConflict, "already_exists")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users?wallet_address=0x1", nil, as("anon"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("find user status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/"+u.ID, map[string]any{"username": "hopper"}, as("anon"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/"+u.ID, map[string]any{"username": "hopper"}, as(u.ID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update user status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/usernames?ids="+u.ID+",ghost", nil, as("anon"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("usernames status %d: %s", res.StatusCode, data)
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[u.ID] != "hopper" {
		t.Fatalf("names %v", names)
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		received []string
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Labelflow-Event"))
		secrets = append(secrets, r.Header.Get("X-Labelflow-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	createProject(t, srv, "sub")
	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"project.claim_labeling", "task.*"}, Secret: "s3cret"},
	}, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	p := createProject(t, srv, "sub")
	if _, err := srv.Engine.ClaimForLabeling(ctx, p.ID, "lab"); err != nil {
		t.Fatal(err)
	}
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "project.claim_labeling" || secrets[0] != "s3cret" {
		t.Fatalf("unexpected deliveries %v %v", received, secrets)
	}
}

func TestPatchKeepsValidatorNotes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv, "sub")
	base := srv.URL + "/v0/projects/" + p.ID
	for _, step := range []struct {
		path, user string
		body       any
	}{
		{"/labeling/claim", "lab", nil},
		{"/labeling/submit", "lab", map[string]any{"file_ids": []string{"l1"}}},
		{"/validation/claim", "val", nil},
		{"/validation/send-back", "val", map[string]any{"notes": "fix edges"}},
	} {
		res, data := doJSON(t, client, http.MethodPost, base+step.path, step.body, as(step.user))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", step.path, res.StatusCode, data)
		}
	}

	res, data := doJSON(t, client, http.MethodPatch, base, map[string]any{"notes": ""}, as("sub"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, base, nil, as("sub"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	if got := decodeProject(t, data); !strings.Contains(got.Notes, "fix edges") {
		t.Fatalf("validator notes lost: %q", got.Notes)
	}
}

func TestHandleErrorHidesInternalsAndMapsTimeouts(t *testing.T) {
	se := handleError(fmt.Errorf("load project p1: %w", context.DeadlineExceeded))
	ae, ok := se.(*apiError)
	if !ok || ae.GetStatus() != http.StatusGatewayTimeout || ae.Body.Code != "timeout" {
		t.Fatalf("deadline mapped to %+v", se)
	}

	se = handleError(errors.New("sqlite: disk I/O error at /var/lib/labelflow"))
	ae, ok = se.(*apiError)
	if !ok || ae.GetStatus() != http.StatusInternalServerError || ae.Body.Code != "internal_error" {
		t.Fatalf("unexpected mapping %+v", se)
	}
	if ae.Body.Details != nil || strings.Contains(ae.Body.Message, "sqlite") {
		t.Fatalf("internal error leaked: %+v", ae.Body)
	}
}
