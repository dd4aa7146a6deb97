package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

var (
	ErrStopped      = errors.New("session registry stopped")
	ErrStreamClosed = errors.New("stream closed")
)

// First line of every stream, depending on whether there is history to replay.
const (
	MarkerConnected = "Connected to log stream."
	MarkerResuming  = "Resuming session, replaying previous logs..."
)

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opDetach
	opSendLog
	opClearLogs
	opClearSession
	opMarkActive
	opMarkInactive
	opRequestCancel
	opIsActive
	opIsCancelled
	opArchive
)

type op struct {
	kind   opKind
	id     string
	msg    string
	stream *Stream
	reply  chan reply
}

type reply struct {
	ok     bool
	stream *Stream
	lines  []string
}

type clientSession struct {
	live            *Stream
	archive         []string
	active          bool
	cancelRequested bool
}

// Registry is the single owner of every per-client session. The sessions map
// is touched only by the Do goroutine; all other goroutines (HTTP handlers,
// job workers) talk to it by sending op values on the ops channel. Ops from
// one goroutine are applied in the order they were sent.
//
// Unknown client ids are never an error: reads return false and mutations
// are no-ops, except SendLog and MarkActive which create the session.
type Registry struct {
	ops      chan op
	done     chan struct{}
	sessions map[string]*clientSession
}

func NewRegistry() *Registry {
	return &Registry{
		ops:      make(chan op, 256),
		done:     make(chan struct{}),
		sessions: make(map[string]*clientSession),
	}
}

// Do runs the registry event loop until ctx is cancelled. It must be called
// exactly once. On return every attached stream is closed and further calls
// return zero values.
func (r *Registry) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a session registry")
	defer r.shutdown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-r.ops:
			r.handle(ctx, o)
		}
	}
}

func (r *Registry) shutdown(ctx context.Context) {
	close(r.done)
	for id, s := range r.sessions {
		if s.live != nil {
			s.live.q.close()
			s.live = nil
			slog.DebugContext(ctx, "live stream closed on shutdown", "client_id", id)
		}
	}
}

// Connect attaches a new live stream for id. The stream starts with a marker
// line followed by the archived history. An older stream of the same client
// is closed.
func (r *Registry) Connect(id string) (*Stream, error) {
	rep, ok := r.call(op{kind: opConnect, id: id})
	if !ok {
		return nil, ErrStopped
	}
	return rep.stream, nil
}

// Disconnect detaches the live stream of id, the archive is kept.
func (r *Registry) Disconnect(id string) {
	r.submit(op{kind: opDisconnect, id: id})
}

// SendLog archives msg and forwards it to the live stream if one is attached.
// It never waits for the delivery.
func (r *Registry) SendLog(id, msg string) {
	r.submit(op{kind: opSendLog, id: id, msg: msg})
}

func (r *Registry) ClearLogs(id string) {
	r.submit(op{kind: opClearLogs, id: id})
}

// ClearSession drops the archive and resets the active and cancel flags.
func (r *Registry) ClearSession(id string) {
	r.submit(op{kind: opClearSession, id: id})
}

func (r *Registry) MarkActive(id string) {
	r.submit(op{kind: opMarkActive, id: id})
}

func (r *Registry) MarkInactive(id string) {
	r.submit(op{kind: opMarkInactive, id: id})
}

// RequestCancel asks the running job of id to stop. It reports whether a job
// was active; for an idle client it does nothing and returns false.
func (r *Registry) RequestCancel(id string) bool {
	rep, _ := r.call(op{kind: opRequestCancel, id: id})
	return rep.ok
}

func (r *Registry) IsActive(id string) bool {
	rep, _ := r.call(op{kind: opIsActive, id: id})
	return rep.ok
}

func (r *Registry) IsCancelled(id string) bool {
	rep, _ := r.call(op{kind: opIsCancelled, id: id})
	return rep.ok
}

// Archive returns a copy of the lines sent to id since the last clear.
func (r *Registry) Archive(id string) []string {
	rep, _ := r.call(op{kind: opArchive, id: id})
	return rep.lines
}

func (r *Registry) submit(o op) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ops <- o:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry) call(o op) (reply, bool) {
	o.reply = make(chan reply, 1)
	if !r.submit(o) {
		return reply{}, false
	}
	select {
	case rep := <-o.reply:
		return rep, true
	case <-r.done:
		return reply{}, false
	}
}

func (r *Registry) handle(ctx context.Context, o op) {
	switch o.kind {
	case opConnect:
		o.reply <- reply{ok: true, stream: r.handleConnect(ctx, o.id)}
	case opDisconnect:
		if s, ok := r.sessions[o.id]; ok && s.live != nil {
			s.live.q.close()
			s.live = nil
			slog.DebugContext(ctx, "live stream detached", "client_id", o.id)
		}
	case opDetach:
		o.stream.q.close()
		if s, ok := r.sessions[o.id]; ok && s.live == o.stream {
			s.live = nil
			slog.DebugContext(ctx, "live stream closed by client", "client_id", o.id)
		}
	case opSendLog:
		s := r.session(o.id)
		s.archive = append(s.archive, o.msg)
		if s.live != nil {
			s.live.q.push(o.msg)
		}
	case opClearLogs:
		if s, ok := r.sessions[o.id]; ok {
			s.archive = nil
		}
	case opClearSession:
		if s, ok := r.sessions[o.id]; ok {
			s.archive = nil
			s.active = false
			s.cancelRequested = false
		}
	case opMarkActive:
		s := r.session(o.id)
		s.active = true
		s.cancelRequested = false
	case opMarkInactive:
		if s, ok := r.sessions[o.id]; ok {
			s.active = false
			s.cancelRequested = false
		}
	case opRequestCancel:
		s, ok := r.sessions[o.id]
		if ok && s.active {
			s.cancelRequested = true
		}
		o.reply <- reply{ok: ok && s.active}
	case opIsActive:
		s, ok := r.sessions[o.id]
		o.reply <- reply{ok: ok && s.active}
	case opIsCancelled:
		s, ok := r.sessions[o.id]
		o.reply <- reply{ok: ok && s.cancelRequested}
	case opArchive:
		var lines []string
		if s, ok := r.sessions[o.id]; ok {
			lines = slices.Clone(s.archive)
		}
		o.reply <- reply{ok: true, lines: lines}
	default:
		slog.WarnContext(ctx, "session operation not supported: ignoring", "op", o.kind)
	}
}

func (r *Registry) handleConnect(ctx context.Context, id string) *Stream {
	s := r.session(id)
	if s.live != nil {
		s.live.q.close()
		slog.DebugContext(ctx, "replacing live stream", "client_id", id)
	}

	st := newStream(r, id)
	if len(s.archive) == 0 {
		st.q.push(MarkerConnected)
	} else {
		st.q.push(MarkerResuming)
		for _, line := range s.archive {
			st.q.push(line)
		}
	}
	s.live = st
	slog.DebugContext(ctx, "live stream attached", "client_id", id, "replayed", len(s.archive))
	return st
}

func (r *Registry) session(id string) *clientSession {
	s, ok := r.sessions[id]
	if !ok {
		s = &clientSession{}
		r.sessions[id] = s
	}
	return s
}
