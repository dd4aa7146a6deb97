// Package api is the HTTP surface of the tool: routine catalog, uploads,
// job control, the live log channel and downloads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/job"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/session"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/workspace"
)

const (
	maxUploadSize = 64 << 20
	xlsxType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultRuns   = 50
)

// Sessions is the part of the session registry used by handlers.
type Sessions interface {
	Connect(clientID string) (*session.Stream, error)
	IsActive(clientID string) bool
	RequestCancel(clientID string) bool
	ClearSession(clientID string)
}

type Executor interface {
	Execute(ctx context.Context, req job.Request) (job.Ack, error)
}

// Files stores uploads and serves produced outputs.
type Files interface {
	SaveUpload(ctx context.Context, original string, r io.Reader) (workspace.Upload, error)
	OpenOutput(name string) (*os.File, error)
}

type Runs interface {
	List(ctx context.Context, clientID string, limit int) ([]history.Run, error)
}

// Server routes requests to the job machinery. It is an http.Handler.
type Server struct {
	cfg      model.Server
	sessions Sessions
	executor Executor
	catalog  *routine.Catalog
	files    Files
	runs     Runs
	mux      *http.ServeMux
}

func New(cfg model.Server, sessions Sessions, executor Executor, catalog *routine.Catalog, files Files) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		executor: executor,
		catalog:  catalog,
		files:    files,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// WithRuns enables GET /api/runs/{client_id}.
func (s *Server) WithRuns(runs Runs) *Server {
	s.runs = runs
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/scripts", s.handleScripts)
	s.mux.HandleFunc("GET /api/template/{name}", s.handleTemplate)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/execute", s.handleExecute)
	s.mux.HandleFunc("GET /api/logs/{client_id}", s.handleLogs)
	s.mux.HandleFunc("GET /api/status/{client_id}", s.handleStatus)
	s.mux.HandleFunc("POST /api/stop/{client_id}", s.handleStop)
	s.mux.HandleFunc("POST /api/clear_session/{client_id}", s.handleClearSession)
	s.mux.HandleFunc("GET /api/download/{filename}", s.handleDownload)
	s.mux.HandleFunc("GET /api/runs/{client_id}", s.handleRuns)

	if s.cfg.StaticDir != "" {
		static := http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir)))
		s.mux.Handle("GET /static/", static)
		s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
		})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := log.ContextAttrs(r.Context(),
		slog.Group("http",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		),
	)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
	slog.DebugContext(ctx, "request served", "duration", time.Since(start))
}

// writeJSON sends v with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response", "error", err)
	}
}

type problem struct {
	Detail string `json:"detail"`
}

// writeError maps err to a status code and sends it as {"detail": ...}.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrInvalid):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "error", err)
	} else {
		slog.DebugContext(ctx, "request rejected", "code", code, "error", err)
	}
	writeJSON(ctx, w, code, problem{Detail: err.Error()})
}
