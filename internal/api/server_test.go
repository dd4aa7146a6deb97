package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/api"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/auth"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/job"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/session"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/workspace"
	"github.com/stretchr/testify/require"
)

func TestScripts(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})

	var got struct {
		Scripts []struct {
			Name          string `json:"name"`
			URL           string `json:"url"`
			Label         string `json:"label"`
			RequiresInput bool   `json:"requires_input"`
			Streams       bool   `json:"streams"`
		} `json:"scripts"`
	}
	resp := e.get(t, "/api/scripts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Scripts, 3)
	require.Equal(t, "Copy", got.Scripts[0].Name)
	require.Equal(t, "https://example.test/api/copy", got.Scripts[0].URL)
	require.Equal(t, "Base Api Url", got.Scripts[0].Label)
	require.True(t, got.Scripts[0].RequiresInput)
	require.True(t, got.Scripts[0].Streams)
	require.Equal(t, "Loop", got.Scripts[1].Name)
	require.Equal(t, "Silent", got.Scripts[2].Name)
	require.False(t, got.Scripts[2].Streams)
}

func TestTemplate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Loop.xlsx"), []byte("from disk"), 0o644))
	e := setup(t, model.Server{TemplateDir: dir})

	t.Run("generated", func(t *testing.T) {
		resp := e.get(t, "/api/template/Copy.py")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, `attachment; filename="Copy.xlsx"`, resp.Header.Get("Content-Disposition"))
		path := filepath.Join(t.TempDir(), "template.xlsx")
		save(t, resp.Body, path)
		s, err := routine.ReadSheet(path)
		require.NoError(t, err)
		require.Equal(t, []string{"id", "value"}, s.Header())
		require.Zero(t, s.Len())
	})
	t.Run("from disk", func(t *testing.T) {
		resp := e.get(t, "/api/template/Loop")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "from disk", string(b))
	})
	t.Run("no columns", func(t *testing.T) {
		resp := e.get(t, "/api/template/Silent")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
	t.Run("unknown", func(t *testing.T) {
		resp := e.get(t, "/api/template/Nope")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Contains(t, detail(t, resp), "Nope")
	})
}

func TestUploadExecuteDownload(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})

	events := e.logs(t, "abc")
	require.Equal(t, session.MarkerConnected, events())

	up := e.upload(t, "input.xlsx", "payload")
	require.True(t, strings.HasSuffix(up.Filename, "_input.xlsx"))

	resp := e.execute(t, url.Values{
		"script_name":    {"Copy.py"},
		"input_filename": {up.Filename},
		"config":         {`{"unit": "ha"}`},
		"client_id":      {"abc"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack job.Ack
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, "queued", ack.Status)
	require.Equal(t, "Execution of Copy.py started.", ack.Message)

	require.Equal(t, "Starting execution of Copy.py...", events())
	require.Equal(t, "unit=ha\nsecond line", events())
	require.Equal(t, "JOB_COMPLETED::Copy_Output.xlsx", events())
	e.coordinator.Wait()

	resp = e.get(t, "/api/download/Copy_Output.xlsx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `attachment; filename="Copy_Output.xlsx"`, resp.Header.Get("Content-Disposition"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))

	var runs struct {
		Runs []history.Run `json:"runs"`
	}
	resp = e.get(t, "/api/runs/abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs.Runs, 1)
	require.Equal(t, ack.RunID, runs.Runs[0].ID)
	require.Equal(t, history.StatusCompleted, runs.Runs[0].Status)
}

func TestExecute_Errors(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})
	up := e.upload(t, "input.xlsx", "payload")

	var testCases = []struct {
		scenario string
		given    url.Values
		then     int
	}{
		{
			scenario: "unknown script",
			given:    url.Values{"script_name": {"Nope.py"}, "client_id": {"abc"}},
			then:     http.StatusNotFound,
		},
		{
			scenario: "missing input",
			given:    url.Values{"script_name": {"Copy"}, "input_filename": {"ghost.xlsx"}, "client_id": {"abc"}},
			then:     http.StatusNotFound,
		},
		{
			scenario: "input required",
			given:    url.Values{"script_name": {"Copy"}, "client_id": {"abc"}},
			then:     http.StatusBadRequest,
		},
		{
			scenario: "bad config",
			given:    url.Values{"script_name": {"Copy"}, "input_filename": {up.Filename}, "config": {"{"}, "client_id": {"abc"}},
			then:     http.StatusBadRequest,
		},
		{
			scenario: "no client",
			given:    url.Values{"script_name": {"Copy"}, "input_filename": {up.Filename}},
			then:     http.StatusBadRequest,
		},
		{
			scenario: "no script",
			given:    url.Values{"client_id": {"abc"}},
			then:     http.StatusBadRequest,
		},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			resp := e.execute(t, tt.given)
			require.Equal(t, tt.then, resp.StatusCode)
			require.NotEmpty(t, detail(t, resp))
		})
	}
	require.False(t, e.sessions.IsActive("abc"))
}

func TestLogs_Replay(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})
	e.sessions.SendLog("abc", "first")
	e.sessions.SendLog("abc", "multi\nline")
	e.sessions.SendLog("abc", "500 Internal Server Error\rretry\r\nlater")

	events := e.logs(t, "abc")
	require.Equal(t, session.MarkerResuming, events())
	require.Equal(t, "first", events())
	require.Equal(t, "multi\nline", events())
	require.Equal(t, "500 Internal Server Error\nretry\nlater", events())

	e.sessions.SendLog("abc", "live")
	require.Equal(t, "live", events())
}

func TestStopStatusClear(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})

	status := func() bool {
		var got struct {
			IsRunning bool `json:"is_running"`
		}
		resp := e.get(t, "/api/status/abc")
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		return got.IsRunning
	}
	post := func(path string) string {
		var got struct {
			Status string `json:"status"`
		}
		resp := e.post(t, path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		return got.Status
	}

	require.False(t, status())
	require.Equal(t, "ignored", post("/api/stop/abc"))

	e.sessions.MarkActive("abc")
	require.True(t, status())
	require.Equal(t, "stopping", post("/api/stop/abc"))
	require.True(t, e.sessions.IsCancelled("abc"))

	require.Equal(t, "cleared", post("/api/clear_session/abc"))
	require.False(t, status())
	require.False(t, e.sessions.IsCancelled("abc"))
}

func TestStopRunningJob(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})
	events := e.logs(t, "xyz")
	require.Equal(t, session.MarkerConnected, events())

	resp := e.execute(t, url.Values{"script_name": {"Loop"}, "client_id": {"xyz"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Starting execution of Loop...", events())
	require.Equal(t, "tick", events())

	resp = e.post(t, "/api/stop/xyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for {
		ev := events()
		if ev == "tick" {
			continue
		}
		require.Equal(t, "JOB_FAILED::Stopped by User", ev)
		break
	}
	e.coordinator.Wait()
	require.False(t, e.sessions.IsActive("xyz"))
}

func TestDownload_NotFound(t *testing.T) {
	t.Parallel()
	e := setup(t, model.Server{})
	resp := e.get(t, "/api/download/missing.xlsx")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, detail(t, resp), "missing.xlsx")
}

func TestStatic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ui</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("// app"), 0o644))
	e := setup(t, model.Server{StaticDir: dir})

	for path, want := range map[string]string{
		"/":                 "<html>ui</html>",
		"/static/js/app.js": "// app",
	} {
		resp := e.get(t, path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, want, string(b))
	}
}

type env struct {
	srv         *httptest.Server
	sessions    *session.Registry
	coordinator *job.Coordinator
}

func setup(t *testing.T, cfg model.Server) env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sessions := session.NewRegistry()
	var wg sync.WaitGroup
	wg.Go(func() {
		_ = sessions.Do(ctx)
	})

	dir := t.TempDir()
	ws, err := workspace.Open(ctx, model.Workspace{
		UploadDir: filepath.Join(dir, "uploads"),
		OutputDir: filepath.Join(dir, "outputs"),
	})
	require.NoError(t, err)
	store, err := history.Open(ctx, model.HistoryInMemory)
	require.NoError(t, err)

	catalog := routine.NewCatalog(copyRoutine, loopRoutine, silentRoutine)
	coord := job.NewCoordinator(ctx, sessions, catalog, ws, noAuth{}).WithHistory(store)
	srv := httptest.NewServer(api.New(cfg, sessions, coord, catalog, ws).WithRuns(store))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		coord.Wait()
		wg.Wait()
		require.NoError(t, store.Close())
		require.NoError(t, ws.Close())
	})
	return env{srv: srv, sessions: sessions, coordinator: coord}
}

func (e env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	return e.do(t, req)
}

func (e env) post(t *testing.T, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return e.do(t, req)
}

func (e env) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func (e env) execute(t *testing.T, form url.Values) *http.Response {
	t.Helper()
	return e.post(t, "/api/execute", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (e env) upload(t *testing.T, name, content string) workspace.Upload {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := e.post(t, "/api/upload", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up workspace.Upload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	return up
}

// logs opens the live log channel and returns a function reading the next
// event, with multiple data lines joined by a newline.
func (e env) logs(t *testing.T, clientID string) func() string {
	t.Helper()
	resp := e.get(t, "/api/logs/"+clientID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	return func() string {
		t.Helper()
		var data []string
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				return strings.Join(data, "\n")
			}
			v, ok := strings.CutPrefix(line, "data: ")
			require.True(t, ok, line)
			data = append(data, v)
		}
		require.NoError(t, sc.Err())
		require.FailNow(t, "live log ended")
		return ""
	}
}

func detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var p struct {
		Detail string `json:"detail"`
	}
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p.Detail
}

func save(t *testing.T, r io.Reader, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = io.Copy(f, r)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

type noAuth struct{}

func (noAuth) Token(context.Context, auth.Credentials) (string, error) {
	return "", auth.ErrUnknownEnvironment
}

var copyRoutine = routine.Routine{
	Name:          "Copy",
	DefaultURL:    "https://example.test/api/copy",
	Label:         "Base Api Url",
	RequiresInput: true,
	Streams:       true,
	Columns:       []string{"id", "value"},
	Run: func(_ context.Context, in, out string, cfg routine.Config, log routine.LogFunc) error {
		if err := log("unit=" + cfg.String(routine.KeyUnit) + "\nsecond line"); err != nil {
			return err
		}
		b, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		return os.WriteFile(out, b, 0o644)
	},
}

var loopRoutine = routine.Routine{
	Name:    "Loop",
	Streams: true,
	Run: func(ctx context.Context, _, _ string, _ routine.Config, log routine.LogFunc) error {
		for {
			if err := log("tick"); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	},
}

var silentRoutine = routine.Routine{
	Name: "Silent",
	Run: func(context.Context, string, string, routine.Config, routine.LogFunc) error {
		return nil
	},
}

func TestWriteEvent(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"single line", "hello", "data: hello\n\n"},
		{"empty", "", "data: \n\n"},
		{"lf", "a\nb", "data: a\ndata: b\n\n"},
		{"crlf", "a\r\nb", "data: a\ndata: b\n\n"},
		{"lone cr", "a\rb\r", "data: a\ndata: b\n\n"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, api.WriteEvent(&buf, tt.given))
			require.Equal(t, tt.then, buf.String())
		})
	}
}
