package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"labelflow/internal/engine"
)

const defaultMaxUpload = 10 << 20

type taskOutput struct {
	ETag string       `header:"ETag"`
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks with their responses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(basePath, items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{ETag: etag(t.Version), Body: taskResponse(basePath, t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-task-response",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/responses",
		Summary:     "Record the caller's answer to a task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID  string             `path:"task_id"`
		IfMatch string             `header:"If-Match" doc:"Expected task version"`
		Body    AddResponseRequest `json:"body"`
	}) (*struct {
		ETag    string       `header:"ETag"`
		Outcome string       `header:"X-Labelflow-Outcome"`
		Body    TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Answer == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "answer required", nil)
		}
		expected, verr := parseIfMatch(input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		t, outcome, err := e.AddTaskResponse(ctx, engine.ResponseOptions{
			TaskID:          input.TaskID,
			ActorID:         actorID,
			Verdict:         *input.Body.Answer,
			Reason:          input.Body.Reason,
			ExpectedVersion: expected,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ETag    string       `header:"ETag"`
			Outcome string       `header:"X-Labelflow-Outcome"`
			Body    TaskResponse `json:"body"`
		}{ETag: etag(t.Version), Outcome: outcome.String(), Body: taskResponse(basePath, t)}, nil
	})
}

// registerTaskUploads mounts the routes that move image bytes. They bypass
// huma because the bodies are multipart uploads and raw image streams.
func registerTaskUploads(r chi.Router, basePath string, e engine.Engine, maxBytes int64) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	r.Post(path.Join(basePath, "tasks"), func(w http.ResponseWriter, req *http.Request) {
		actorID, authErr := actorIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		req.Body = http.MaxBytesReader(w, req.Body, maxBytes)
		if err := req.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit", map[string]any{"limit_bytes": maxBytes}))
				return
			}
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", map[string]any{"error": err.Error()}))
			return
		}
		defer req.MultipartForm.RemoveAll()

		points := 0
		if raw := strings.TrimSpace(req.FormValue("points")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "points must be an integer", map[string]any{"points": raw}))
				return
			}
			points = n
		}
		image, err := formUpload(req, "image")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "image file required", nil))
			return
		}
		defer image.close()
		opts := engine.TaskCreateOptions{
			ActorID:            actorID,
			Title:              req.FormValue("title"),
			Text:               req.FormValue("text"),
			Points:             points,
			ExampleDescription: req.FormValue("exampleDescription"),
			Image:              &image.Upload,
		}
		if example, err := formUpload(req, "exampleImage"); err == nil {
			defer example.close()
			opts.ExampleImage = &example.Upload
		}
		t, err := e.CreateTask(req.Context(), opts)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("ETag", etag(t.Version))
		writeJSON(w, http.StatusCreated, taskResponse(basePath, t))
	})

	serveImage := func(kind engine.ImageKind) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			rc, obj, err := e.OpenTaskImage(req.Context(), chi.URLParam(req, "task_id"), kind)
			if err != nil {
				respondStatusError(w, handleError(err))
				return
			}
			defer rc.Close()
			w.Header().Set("Content-Type", obj.ContentType)
			if obj.Size > 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
			}
			w.Header().Set("Cache-Control", "private, max-age=3600")
			w.WriteHeader(http.StatusOK)
			io.Copy(w, rc)
		}
	}
	r.Get(path.Join(basePath, "tasks/{task_id}/image"), serveImage(engine.ImageMain))
	r.Get(path.Join(basePath, "tasks/{task_id}/example-image"), serveImage(engine.ImageExample))
}

type formFile struct {
	engine.Upload
	file multipart.File
}

func (f formFile) close() { f.file.Close() }

func formUpload(req *http.Request, field string) (formFile, error) {
	file, header, err := req.FormFile(field)
	if err != nil {
		return formFile{}, err
	}
	return formFile{Upload: engine.Upload{Filename: header.Filename, Reader: file}, file: file}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
