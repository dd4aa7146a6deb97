package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/job"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
)

type script struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Label         string `json:"label"`
	RequiresInput bool   `json:"requires_input"`
	Streams       bool   `json:"streams"`
	Description   string `json:"description"`
}

type scriptsResponse struct {
	Scripts []script `json:"scripts"`
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	list := s.catalog.List()
	resp := scriptsResponse{Scripts: make([]script, 0, len(list))}
	for _, rt := range list {
		resp.Scripts = append(resp.Scripts, script{
			Name:          rt.Name,
			URL:           rt.DefaultURL,
			Label:         rt.Label,
			RequiresInput: rt.RequiresInput,
			Streams:       rt.Streams,
			Description:   rt.Description,
		})
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// handleTemplate serves <template dir>/<routine>.xlsx, or a sheet holding
// just the routine's header row when no such file exists.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	rt, ok := s.catalog.Lookup(name)
	if !ok {
		writeError(ctx, w, fmt.Errorf("template for %s: %w", name, model.ErrNotFound))
		return
	}
	filename := rt.Name + ".xlsx"
	w.Header().Set("Content-Disposition", attachment(filename))

	if s.cfg.TemplateDir != "" {
		path := filepath.Join(s.cfg.TemplateDir, filename)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			w.Header().Set("Content-Type", xlsxType)
			http.ServeFile(w, r, path)
			return
		}
	}

	if len(rt.Columns) == 0 {
		w.Header().Del("Content-Disposition")
		writeError(ctx, w, fmt.Errorf("template for %s: %w", rt.Name, model.ErrNotFound))
		return
	}
	w.Header().Set("Content-Type", xlsxType)
	if err := routine.NewSheet(rt.Columns...).Write(w); err != nil {
		slog.WarnContext(ctx, "generating template", "routine", rt.Name, "error", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: file: %w", model.ErrInvalid, err))
		return
	}
	defer func() {
		_ = f.Close()
	}()

	up, err := s.files.SaveUpload(ctx, hdr.Filename, f)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "file uploaded", "original", hdr.Filename, "filename", up.Filename, "size", hdr.Size)
	writeJSON(ctx, w, http.StatusOK, up)
}

// handleExecute reads the form fields script_name, input_filename, config
// and client_id and queues the run.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := job.Request{
		Routine:  r.FormValue("script_name"),
		Input:    r.FormValue("input_filename"),
		ClientID: r.FormValue("client_id"),
		Config:   routine.Config{},
	}
	if req.Routine == "" {
		writeError(ctx, w, fmt.Errorf("%w: script_name is required", model.ErrInvalid))
		return
	}
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Config); err != nil {
			writeError(ctx, w, fmt.Errorf("%w: config: %w", model.ErrInvalid, err))
			return
		}
	}

	ctx = log.ContextAttrs(ctx, slog.String("client_id", req.ClientID))
	ack, err := s.executor.Execute(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, ack)
}

type statusResponse struct {
	IsRunning bool `json:"is_running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("client_id")
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{IsRunning: s.sessions.IsActive(id)})
}

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("client_id")
	if !s.sessions.RequestCancel(id) {
		writeJSON(ctx, w, http.StatusOK, statusMessage{Status: "ignored", Message: "No active job."})
		return
	}
	slog.InfoContext(ctx, "stop requested", "client_id", id)
	writeJSON(ctx, w, http.StatusOK, statusMessage{Status: "stopping", Message: "Stop signal sent."})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearSession(r.PathValue("client_id"))
	writeJSON(r.Context(), w, http.StatusOK, statusMessage{Status: "cleared"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("filename")
	f, err := s.files.OpenOutput(name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

type runsResponse struct {
	Runs []history.Run `json:"runs"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.runs == nil {
		writeError(ctx, w, fmt.Errorf("run history: %w", model.ErrNotFound))
		return
	}
	limit := defaultRuns
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(ctx, w, fmt.Errorf("%w: limit %q", model.ErrInvalid, v))
			return
		}
		limit = n
	}
	runs, err := s.runs.List(ctx, r.PathValue("client_id"), limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, runsResponse{Runs: runs})
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
