package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/auth"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
)

// run is one accepted request.
type run struct {
	id        string
	clientID  string
	requested string
	routine   routine.Routine
	input     string
	output    string
	outName   string
	cfg       routine.Config
}

// run executes j to its terminal line. The client is marked inactive on
// every path, panics included, before the terminal line is sent.
func (c *Coordinator) run(ctx context.Context, j run) {
	var o outcome
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "routine panicked", "panic", r, "stack", string(debug.Stack()))
			o = failed(fmt.Sprintf("%v", r))
		}
		c.finish(ctx, j, o)
	}()

	o = c.execute(ctx, j)
}

func (c *Coordinator) execute(ctx context.Context, j run) outcome {
	say := func(format string, args ...any) {
		c.sessions.SendLog(j.clientID, fmt.Sprintf(format, args...))
	}

	creds := auth.Credentials{
		Username:    j.cfg.String(routine.KeyUsername),
		Password:    j.cfg.String(routine.KeyPassword),
		Environment: j.cfg.String(routine.KeyEnvironment),
		TenantCode:  j.cfg.String(routine.KeyTenantCode),
	}
	if creds.Complete() {
		say("Authenticating user: %s...", creds.Username)
		token, err := c.auth.Token(ctx, creds)
		if err != nil {
			slog.WarnContext(ctx, "authentication failed", "error", err)
			say("Auth Error: %v", err)
			return failed(fmt.Sprintf("Authentication failed: %v", err))
		}
		j.cfg[routine.KeyToken] = token
		say("Authentication successful.")
	}

	say("Starting execution of %s...", j.requested)
	var logf routine.LogFunc
	if j.routine.Streams {
		logf = c.logFunc(j.clientID)
	}
	if err := c.ws.RemoveOutput(j.outName); err != nil {
		return failed(fmt.Sprintf("Removing previous output: %v", err))
	}

	err := j.routine.Run(ctx, j.input, j.output, j.cfg, logf)
	switch {
	case errors.Is(err, routine.ErrStopped):
		return cancelled()
	case err != nil:
		return failed(err.Error())
	case !c.ws.OutputExists(j.outName):
		return failed(ReasonNoOutput)
	default:
		return completed(j.outName)
	}
}

// logFunc hands routine lines to the session and turns a stop request into
// routine.ErrStopped.
func (c *Coordinator) logFunc(clientID string) routine.LogFunc {
	return func(msg string) error {
		if c.sessions.IsCancelled(clientID) {
			return routine.ErrStopped
		}
		c.sessions.SendLog(clientID, msg)
		return nil
	}
}

// finish reports o. MarkInactive and SendLog are applied in submission
// order, so a client which has seen the terminal line sees the job inactive,
// and a job started after it is not marked inactive by this one.
func (c *Coordinator) finish(ctx context.Context, j run, o outcome) {
	c.sessions.MarkInactive(j.clientID)
	c.sessions.SendLog(j.clientID, o.line())

	switch o.state {
	case stateCompleted:
		slog.InfoContext(ctx, "job completed", "output", o.output)
	case stateCancelled:
		slog.InfoContext(ctx, "job stopped by user")
	default:
		slog.WarnContext(ctx, "job failed", "reason", o.reason)
	}

	if c.history == nil {
		return
	}
	// the run is recorded even when the server is shutting down
	ctx = context.WithoutCancel(ctx)
	var err error
	switch o.state {
	case stateCompleted:
		err = c.history.FinishOK(ctx, j.id, o.output)
	case stateCancelled:
		err = c.history.FinishErr(ctx, j.id, history.StatusCancelled, o.reason)
	default:
		err = c.history.FinishErr(ctx, j.id, history.StatusFailed, o.reason)
	}
	if err != nil {
		slog.WarnContext(ctx, "recording run finish", "error", err)
	}
}
