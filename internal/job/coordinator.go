package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
)

// Coordinator validates run requests and starts a runner goroutine for each
// accepted one.
type Coordinator struct {
	ctx      context.Context
	sessions Sessions
	catalog  *routine.Catalog
	ws       Workspace
	auth     Authenticator
	history  Recorder
	wg       sync.WaitGroup
}

// NewCoordinator returns a Coordinator whose runs live as long as ctx.
func NewCoordinator(ctx context.Context, sessions Sessions, catalog *routine.Catalog, ws Workspace, authn Authenticator) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		sessions: sessions,
		catalog:  catalog,
		ws:       ws,
		auth:     authn,
	}
}

// WithHistory makes the Coordinator record every run.
func (c *Coordinator) WithHistory(r Recorder) *Coordinator {
	c.history = r
	return c
}

// Execute validates req, resets the client's log and queues the run.
// Validation errors wrap model.ErrNotFound or model.ErrInvalid and leave the
// session untouched.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Ack, error) {
	if req.ClientID == "" {
		return Ack{}, fmt.Errorf("%w: client_id is required", model.ErrInvalid)
	}
	r, ok := c.catalog.Lookup(req.Routine)
	if !ok {
		return Ack{}, fmt.Errorf("script %q: %w", req.Routine, model.ErrNotFound)
	}

	var input string
	switch {
	case req.Input != "":
		var err error
		input, err = c.ws.UploadPath(req.Input)
		if err != nil {
			return Ack{}, fmt.Errorf("input file: %w", err)
		}
	case r.RequiresInput:
		return Ack{}, fmt.Errorf("%w: script %s requires an input file", model.ErrInvalid, r.Name)
	}

	outName := r.Name + "_Output.xlsx"
	output, err := c.ws.OutputPath(outName)
	if err != nil {
		return Ack{}, err
	}

	cfg := req.Config.Clone()
	if cfg == nil {
		cfg = routine.Config{}
	}
	j := run{
		id:        uuid.NewString(),
		clientID:  req.ClientID,
		requested: req.Routine,
		routine:   r,
		input:     input,
		output:    output,
		outName:   outName,
		cfg:       cfg,
	}

	c.sessions.ClearLogs(j.clientID)
	c.sessions.MarkActive(j.clientID)

	runCtx := log.ContextAttrs(c.ctx,
		slog.String("client_id", j.clientID),
		slog.String("routine", r.Name),
		slog.String("run_id", j.id),
	)
	if c.history != nil {
		if err := c.history.Start(runCtx, j.id, j.clientID, r.Name); err != nil {
			slog.WarnContext(runCtx, "recording run start", "error", err)
		}
	}
	slog.InfoContext(runCtx, "job queued")

	c.wg.Go(func() {
		c.run(runCtx, j)
	})

	return Ack{
		Status:  "queued",
		Message: fmt.Sprintf("Execution of %s started.", req.Routine),
		RunID:   j.id,
	}, nil
}

// Wait blocks until every started run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
