// Package app builds the Engine and its collaborators from labelflow.yml and
// runs the HTTP API next to the webhook dispatcher.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"labelflow/internal/cache"
	"labelflow/internal/config"
	"labelflow/internal/db"
	"labelflow/internal/engine"
	"labelflow/internal/events"
	"labelflow/internal/migrate"
	"labelflow/internal/observability"
	"labelflow/internal/server"
	"labelflow/internal/storage"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Workspace string
	// Config overrides labelflow.yml when set.
	Config *config.Config
	Logger *slog.Logger
	// Offline skips the network collaborators (redis, nats, tracing). CLI
	// commands that only touch the local database use it.
	Offline bool
}

type App struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Engine    engine.Engine

	closers []func(context.Context) error
}

// NewLogger returns a text slog logger and installs it as the default.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// Build opens the workspace database, applies migrations and connects the
// configured blob store, cache, publisher and tracer. On error everything
// opened so far is closed again.
func Build(ctx context.Context, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.Load(opts.Workspace); err != nil {
			return nil, err
		}
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	if err := migrate.Migrate(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Logger = logger

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	e.Blobs = blobs

	if !opts.Offline {
		if err := a.connect(ctx, &e); err != nil {
			return nil, err
		}
	}
	a.Engine = e
	return a, nil
}

func (a *App) blobStore(ctx context.Context) (storage.Store, error) {
	sc := a.Config.Storage
	switch sc.Driver {
	case "minio":
		store, err := storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:        sc.MinIO.Endpoint,
			AccessKeyID:     sc.MinIO.AccessKeyID,
			SecretAccessKey: sc.MinIO.SecretAccessKey,
			UseSSL:          sc.MinIO.UseSSL,
			Bucket:          sc.MinIO.Bucket,
			BasePath:        sc.MinIO.BasePath,
			MaxRetries:      sc.MinIO.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("minio store: %w", err)
		}
		a.Logger.Info("initialized MinIO blob store",
			slog.String("endpoint", sc.MinIO.Endpoint),
			slog.String("bucket", sc.MinIO.Bucket))
		return store, nil
	default:
		dir := sc.LocalDir
		if !filepath.IsAbs(dir) && a.Workspace != "" {
			dir = filepath.Join(a.Workspace, dir)
		}
		store, err := storage.NewLocalStore(dir)
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		a.Logger.Debug("initialized local blob store", slog.String("dir", dir))
		return store, nil
	}
}

func (a *App) connect(ctx context.Context, e *engine.Engine) error {
	cfg := a.Config
	if cfg.Redis.Addr != "" {
		names, err := cache.NewUsernames(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.UsernameTTL,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return names.Close() })
		e.Names = names
		a.Logger.Info("initialized username cache", slog.String("addr", cfg.Redis.Addr))
	}
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          "labelflow",
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Stream:        cfg.NATS.Stream,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		e.Publisher = pub
		a.Logger.Info("initialized NATS publisher",
			slog.String("url", cfg.NATS.URL),
			slog.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)
	return nil
}

// Close releases collaborators in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler builds the API handler from the server section of the config.
func (a *App) Handler() (http.Handler, error) {
	sc := a.Config.Server
	return server.New(server.Config{
		Engine:   a.Engine,
		BasePath: sc.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:           sc.JWTSecret,
			AllowHeaderIdentity: sc.AllowHeaderIdentity,
			Logger:              a.Logger,
		},
		MaxUploadBytes: sc.MaxUploadMB << 20,
		Socials:        server.SocialsConfig{Timeout: a.Config.Timeouts.SocialCheck},
		Logger:         a.Logger,
	})
}

// Serve runs the API on ln and the webhook dispatcher until ctx is done or
// either of them fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	dispatcher := server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("starting server", slog.String("addr", ln.Addr().String()), slog.String("base_path", a.Config.Server.BasePath))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("server shutdown error", slog.String("error", err.Error()))
			return err
		}
		a.Logger.Info("server gracefully stopped")
		return nil
	})
	return g.Wait()
}

// ListenAndServe listens on addr (the config address when empty) and calls Serve.
func (a *App) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}
