package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/api"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/auth"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/job"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/session"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

type Service struct {
	cfg         model.Config
	cancel      context.CancelFunc
	sessions    *session.Registry
	ws          *workspace.Workspace
	history     *history.Store
	catalog     *routine.Catalog
	coordinator *job.Coordinator
	janitor     *workspace.Janitor
}

// Catalog returns the built-in routines tuned by cfg.
func Catalog(cfg model.API) *routine.Catalog {
	return routine.Builtin(routine.Options{
		HTTPClient:      &http.Client{Timeout: cfg.Timeout},
		RequestInterval: cfg.RequestInterval,
	})
}

// New opens the workspace and the run history. Jobs started by the Service
// are cancelled together with ctx.
func New(ctx context.Context, cfg model.Config, catalog *routine.Catalog) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ws, err := workspace.Open(ctx, cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	janitor, err := workspace.NewJanitor(ctx, ws, cfg.Workspace.Sweep)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	store, err := history.Open(ctx, cfg.History.DSN)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("opening run history: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sessions := session.NewRegistry()
	coordinator := job.NewCoordinator(ctx, sessions, catalog, ws, auth.New(cfg.Auth, nil)).
		WithHistory(store)

	return &Service{
		cfg:         cfg,
		cancel:      cancel,
		sessions:    sessions,
		ws:          ws,
		history:     store,
		catalog:     catalog,
		coordinator: coordinator,
		janitor:     janitor,
	}, nil
}

func (s *Service) handler() http.Handler {
	return api.New(s.cfg.Server, s.sessions, s.coordinator, s.catalog, s.ws).
		WithRuns(s.history)
}

// Serve listens on the configured address and serves until ctx is
// cancelled or the listener fails. Running jobs are cancelled on return.
func (s *Service) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		return s.sessions.Do(gctx)
	})
	g.Go(func() error {
		return s.janitor.Do(gctx)
	})
	g.Go(func() error {
		slog.InfoContext(gctx, "serving", "addr", ln.Addr().String())
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	s.cancel()
	s.coordinator.Wait()
	slog.DebugContext(ctx, "service stopped")
	return err
}

// Close stops running jobs and releases the workspace and run history.
func (s *Service) Close() error {
	s.cancel()
	s.coordinator.Wait()
	return errors.Join(s.history.Close(), s.ws.Close())
}
