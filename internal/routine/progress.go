package routine

import (
	"context"
	"fmt"
	"log/slog"
)

// progress reports routine lines. Every line goes to slog at debug level,
// and to the LogFunc when there is one.
type progress struct {
	ctx context.Context
	log LogFunc
}

func newProgress(ctx context.Context, log LogFunc) progress {
	return progress{ctx: ctx, log: log}
}

// Say formats and emits one line. A non-nil error means stop.
func (p progress) Say(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	slog.DebugContext(p.ctx, msg)
	if p.log == nil {
		return p.ctx.Err()
	}
	if err := p.log(msg); err != nil {
		return err
	}
	return p.ctx.Err()
}
