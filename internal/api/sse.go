package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
)

// handleLogs is the live log channel of a client. It replays the archived
// lines and then follows the session until the peer goes away, a newer
// connection for the same client replaces it or the registry stops.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("client_id")
	ctx := log.ContextAttrs(r.Context(), slog.String("client_id", id))

	st, err := s.sessions.Connect(id)
	if err != nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, problem{Detail: err.Error()})
		return
	}
	defer st.Close()

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.WarnContext(ctx, "live log: flushing not supported", "error", err)
		return
	}

	slog.DebugContext(ctx, "live log attached")
	for line := range st.Lines(ctx) {
		if err := writeEvent(w, line); err != nil {
			slog.DebugContext(ctx, "live log: write failed", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
	slog.DebugContext(ctx, "live log detached")
}

// writeEvent sends msg as one event; every line of msg is its own data field.
// CRLF and a lone CR end a line too, as event stream parsers treat them so.
func writeEvent(w io.Writer, msg string) error {
	msg = crlf.Replace(msg)
	var b strings.Builder
	for line := range strings.Lines(msg) {
		line = strings.TrimSuffix(line, "\n")
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if msg == "" {
		b.WriteString("data: \n")
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

var crlf = strings.NewReplacer("\r\n", "\n", "\r", "\n")
