package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"ftrack/internal/caption"
	"ftrack/internal/config"
	"ftrack/internal/database"
	"ftrack/internal/ft"
	"ftrack/internal/httpapi"
)

const (
	shutdownTimeout = 10 * time.Second
	captionTimeout  = time.Minute
)

// ServerApp runs the catalog, the task queue and the HTTP API.
type ServerApp struct {
	*base
	db      ft.Database
	catalog *ft.CatalogService
	pool    *caption.Pool
	handler *httpapi.Server
}

// NewServerApp wires the server from cfg. stderr receives a copy of the log;
// nil logs to the file only. The caller must call Close.
func NewServerApp(cfg *config.Config, operation string, stderr io.Writer) (*ServerApp, error) {
	b, err := newBase(cfg, operation, stderr)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		b.closeLog()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		b.closeLog()
		return nil, fmt.Errorf("database schema out of date (run `ftrack db migrate`): %w", err)
	}

	catalog := ft.NewCatalogService(db, b.logger, ft.RealClock{}, ft.UUIDGenerator{}, ft.CatalogOptions{
		TaskLease:       cfg.Server.TaskLease.Duration,
		MaxTaskAttempts: cfg.Server.MaxTaskAttempts,
	})

	captioner, err := caption.NewCaptionerFromConfig(cfg.Captioning, os.Getenv)
	if err != nil {
		db.Close()
		b.closeLog()
		return nil, fmt.Errorf("creating captioner: %w", err)
	}

	a := &ServerApp{base: b, db: db, catalog: catalog}

	// A nil queue makes the image routes answer captioning_disabled.
	var queue httpapi.CaptionQueue
	if captioner != nil {
		a.pool = caption.NewPool(captioner, catalog, b.logger, cfg.Captioning.Workers, cfg.Captioning.QueueSize, captionTimeout)
		queue = a.pool
	}

	a.handler, err = httpapi.NewServer(catalog, queue, b.logger, httpapi.ServerConfig{
		Token:        cfg.Server.Token,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		db.Close()
		b.closeLog()
		return nil, fmt.Errorf("creating http server: %w", err)
	}
	return a, nil
}

// Catalog exposes the catalog for commands that run next to the database.
func (a *ServerApp) Catalog() *ft.CatalogService { return a.catalog }

// Handler returns the HTTP API.
func (a *ServerApp) Handler() http.Handler { return a.handler }

// Serve listens on the configured address until ctx is cancelled.
func (a *ServerApp) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Server.Addr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then drains in-flight
// requests and the caption queue.
func (a *ServerApp) ServeListener(ctx context.Context, ln net.Listener) error {
	if a.pool != nil {
		a.pool.Start(ctx)
		defer a.pool.Stop()
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.logger.Info("server listening", "addr", ln.Addr().String(), "captioning", a.pool != nil)

	select {
	case err := <-errc:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
		err = firstErr(err, serveErr)
	}
	a.logger.Info("server stopped")
	if err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Close releases the database and the log file.
func (a *ServerApp) Close() error {
	var dbErr error
	if err := a.db.Close(); err != nil {
		dbErr = fmt.Errorf("closing database: %w", err)
	}
	return firstErr(dbErr, a.closeLog())
}

// MigrateDatabase applies pending schema migrations to the configured database.
func MigrateDatabase(cfg config.DatabaseConfig) error {
	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
