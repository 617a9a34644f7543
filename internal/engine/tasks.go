package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"labelflow/internal/domain"
	"labelflow/internal/events"
	"labelflow/internal/lifecycle"
	"labelflow/internal/observability"
	"labelflow/internal/review"
	"labelflow/internal/storage"
)

// Upload is an image as received from a client.
type Upload struct {
	Filename string
	Reader   io.Reader
}

type TaskCreateOptions struct {
	ActorID            string
	Title              string
	Text               string
	Points             int
	ExampleDescription string
	Image              *Upload
	ExampleImage       *Upload
}

type ImageKind string

const (
	ImageMain    ImageKind = "image"
	ImageExample ImageKind = "example"
)

func (o TaskCreateOptions) validate() error {
	switch {
	case strings.TrimSpace(o.ActorID) == "":
		return fmt.Errorf("%w: actor required", lifecycle.ErrInvalidInput)
	case strings.TrimSpace(o.Title) == "":
		return fmt.Errorf("%w: title required", lifecycle.ErrInvalidInput)
	case strings.TrimSpace(o.Text) == "":
		return fmt.Errorf("%w: text required", lifecycle.ErrInvalidInput)
	case strings.TrimSpace(o.ExampleDescription) == "":
		return fmt.Errorf("%w: example description required", lifecycle.ErrInvalidInput)
	case o.Points < 0:
		return fmt.Errorf("%w: points must be >= 0", lifecycle.ErrInvalidInput)
	case o.Image == nil || o.Image.Reader == nil:
		return fmt.Errorf("%w: image required", lifecycle.ErrInvalidInput)
	}
	return nil
}

// CreateTask stores the normalized images and then the task row. Blobs written
// for a task whose row could not be inserted are removed again.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := opts.validate(); err != nil {
		return domain.Task{}, err
	}
	if e.Blobs == nil {
		return domain.Task{}, errors.New("no blob store configured")
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(opts.Title),
		Text:      strings.TrimSpace(opts.Text),
		Points:    opts.Points,
		Example:   domain.TaskExample{Description: strings.TrimSpace(opts.ExampleDescription)},
		Responses: []domain.TaskResponse{},
		CreatedBy: opts.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	maxDim := e.Config.Storage.MaxImageDimension
	primary, err := storage.NormalizeImage(opts.Image.Reader, opts.Image.Filename, maxDim)
	if err != nil {
		return domain.Task{}, err
	}
	t.ImageKey = imageKey(t.ID, ImageMain, primary.Extension)
	var example *storage.NormalizedImage
	if opts.ExampleImage != nil && opts.ExampleImage.Reader != nil {
		img, err := storage.NormalizeImage(opts.ExampleImage.Reader, opts.ExampleImage.Filename, maxDim)
		if err != nil {
			return domain.Task{}, err
		}
		example = &img
		t.Example.ImageKey = imageKey(t.ID, ImageExample, img.Extension)
	}

	if err := e.saveImages(ctx, t, primary, example); err != nil {
		return domain.Task{}, err
	}
	if err := e.insertTask(ctx, t); err != nil {
		e.discardImages(ctx, t)
		return domain.Task{}, err
	}
	return t, nil
}

func imageKey(taskID string, kind ImageKind, ext string) string {
	return "tasks/" + taskID + "/" + string(kind) + ext
}

// saveImages writes both blobs concurrently under the storage timeout.
func (e Engine) saveImages(ctx context.Context, t domain.Task, primary storage.NormalizedImage, example *storage.NormalizedImage) error {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	put := func(key string, img storage.NormalizedImage) {
		g.Go(func() error {
			if _, err := e.Blobs.Save(gctx, key, bytes.NewReader(img.Data), int64(len(img.Data))); err != nil {
				return fmt.Errorf("store %s: %w", key, err)
			}
			return nil
		})
	}
	put(t.ImageKey, primary)
	if example != nil {
		put(t.Example.ImageKey, *example)
	}
	if err := g.Wait(); err != nil {
		e.discardImages(ctx, t)
		return err
	}
	return nil
}

func (e Engine) discardImages(ctx context.Context, t domain.Task) {
	ctx, cancel := e.storageContext(context.WithoutCancel(ctx))
	defer cancel()
	for _, key := range []string{t.ImageKey, t.Example.ImageKey} {
		if key == "" {
			continue
		}
		if err := e.Blobs.Delete(ctx, key); err != nil {
			e.logger().Warn("orphaned task image", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

func (e Engine) insertTask(ctx context.Context, t domain.Task) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return err
	}
	evt, err := e.writer().Append(ctx, tx, "task.create", "", "task", t.ID, t.CreatedBy, events.EventPayload{
		"title":  t.Title,
		"points": t.Points,
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

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context) ([]domain.Task, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.ListTasks(ctx)
}

// OpenTaskImage streams one of the stored images of a task. The caller closes
// the reader.
func (e Engine) OpenTaskImage(ctx context.Context, taskID string, kind ImageKind) (io.ReadCloser, storage.Object, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return nil, storage.Object{}, err
	}
	key := t.ImageKey
	if kind == ImageExample {
		key = t.Example.ImageKey
	}
	if key == "" || e.Blobs == nil {
		return nil, storage.Object{}, storage.ErrNotFound
	}
	return e.Blobs.Open(ctx, key)
}

type ResponseOptions struct {
	TaskID          string
	ActorID         string
	Verdict         bool
	Reason          string
	ExpectedVersion int64
}

// AddTaskResponse records the actor's verdict on a task under the configured
// duplicate policy.
func (e Engine) AddTaskResponse(ctx context.Context, opts ResponseOptions) (t domain.Task, outcome review.Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "review.add_response",
		attribute.String("task.id", opts.TaskID),
		attribute.String("actor.id", opts.ActorID))
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := e.opContext(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	if err := checkVersion("task", opts.TaskID, opts.ExpectedVersion, t.Version); err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	now := e.now()
	updated, outcome, err := review.Add(t.Responses, domain.TaskResponse{
		ReviewerID: opts.ActorID,
		Verdict:    opts.Verdict,
		Reason:     opts.Reason,
	}, e.responsePolicy(), now)
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	if outcome == review.Unchanged {
		return t, outcome, nil
	}
	var resp domain.TaskResponse
	for i, r := range updated {
		if r.ReviewerID != strings.TrimSpace(opts.ActorID) {
			continue
		}
		resp = r
		if outcome == review.Appended {
			err = e.Repo.InsertResponse(ctx, tx, t.ID, i+1, r)
		} else {
			err = e.Repo.UpdateResponse(ctx, tx, t.ID, r)
		}
		break
	}
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	ts := now.UTC().Format(time.RFC3339)
	version, err := e.Repo.TouchTask(ctx, tx, t.ID, t.Version, ts)
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	evt, err := e.writer().Append(ctx, tx, "task.response_"+outcome.String(), "", "task", t.ID, opts.ActorID, events.EventPayload{
		"answer":  resp.Verdict,
		"version": version,
	})
	if err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, review.Unchanged, err
	}
	t.Responses = updated
	t.UpdatedAt = ts
	t.Version = version
	e.publish(ctx, evt)
	return t, outcome, nil
}
