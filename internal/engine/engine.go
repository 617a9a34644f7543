package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"labelflow/internal/config"
	"labelflow/internal/domain"
	"labelflow/internal/events"
	"labelflow/internal/lifecycle"
	"labelflow/internal/repo"
	"labelflow/internal/review"
	"labelflow/internal/storage"
)

// UsernameCache is a read-through cache in front of the users table.
type UsernameCache interface {
	Get(ctx context.Context, ids []string) (map[string]string, []string, error)
	Set(ctx context.Context, names map[string]string) error
	Invalidate(ctx context.Context, id string) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Blobs     storage.Store
	Names     UsernameCache
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time

	validate *validator.Validate
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Publisher: events.Nop{},
		Config:    cfg,
		Logger:    slog.Default(),
		Now:       time.Now,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) responsePolicy() review.Policy {
	p, err := review.ParsePolicy(e.Config.Lifecycle.ResponsePolicy)
	if err != nil {
		return review.PolicyReject
	}
	return p
}

// opContext bounds a persistence operation by the configured timeout.
func (e Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.Config.Timeouts.Persistence
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func (e Engine) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.Config.Timeouts.Storage
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// publish forwards committed events. Failures are logged only: the change is
// already durable and the event log remains the source of truth.
func (e Engine) publish(ctx context.Context, evts ...domain.Event) {
	if e.Publisher == nil {
		return
	}
	d := e.Config.Timeouts.Publish
	if d <= 0 {
		d = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d)
	defer cancel()
	for _, evt := range evts {
		if err := e.Publisher.Publish(pctx, evt); err != nil {
			e.logger().Warn("event publish failed",
				slog.Int64("event_id", evt.ID),
				slog.String("type", evt.Type),
				slog.String("error", err.Error()))
		}
	}
}

// checkVersion compares a caller supplied version (0 = unconditional).
func checkVersion(kind, id string, expected, actual int64) error {
	if expected > 0 && expected != actual {
		return fmt.Errorf("%w: %s %s is at version %d, not %d", lifecycle.ErrPersistenceConflict, kind, id, actual, expected)
	}
	return nil
}

func (e Engine) validateStruct(v any) error {
	if e.validate == nil {
		return nil
	}
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", lifecycle.ErrInvalidInput, strings.Join(parts, ", "))
	}
	return fmt.Errorf("%w: %v", lifecycle.ErrInvalidInput, err)
}
