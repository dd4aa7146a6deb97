// Package job executes routines in the background on behalf of a client and
// reports their progress through the client's session.
//
// A run moves through QUEUED -> AUTHENTICATING -> RUNNING and ends in exactly
// one of COMPLETED, FAILED or CANCELLED. AUTHENTICATING is skipped unless
// the configuration carries credentials. The end of every run is reported by
// a single terminal line:
//
//	JOB_COMPLETED::<output file name>
//	JOB_FAILED::<reason>
//
// A cancelled run is reported as JOB_FAILED::Stopped by User.
package job

import (
	"context"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/auth"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/history"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
)

// Terminal line prefixes.
const (
	MarkerCompleted = "JOB_COMPLETED::"
	MarkerFailed    = "JOB_FAILED::"
)

const (
	ReasonStopped  = "Stopped by User"
	ReasonNoOutput = "Script finished but no output file was generated."
)

// Sessions is the part of the session registry a run reports to.
type Sessions interface {
	SendLog(clientID, msg string)
	ClearLogs(clientID string)
	MarkActive(clientID string)
	MarkInactive(clientID string)
	IsCancelled(clientID string) bool
}

type Authenticator interface {
	Token(ctx context.Context, creds auth.Credentials) (string, error)
}

// Workspace resolves input and output names to paths.
type Workspace interface {
	UploadPath(name string) (string, error)
	OutputPath(name string) (string, error)
	OutputExists(name string) bool
	RemoveOutput(name string) error
}

// Recorder keeps the run history.
type Recorder interface {
	Start(ctx context.Context, id, clientID, routine string) error
	FinishOK(ctx context.Context, id, output string) error
	FinishErr(ctx context.Context, id string, status history.Status, reason string) error
}

// Request asks for one run. Input is the name of an upload and may be empty
// for routines not requiring input.
type Request struct {
	Routine  string
	Input    string
	Config   routine.Config
	ClientID string
}

// Ack is returned once a run is queued.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

type state int

const (
	stateCompleted state = iota
	stateFailed
	stateCancelled
)

type outcome struct {
	state  state
	output string
	reason string
}

func completed(output string) outcome {
	return outcome{state: stateCompleted, output: output}
}

func failed(reason string) outcome {
	return outcome{state: stateFailed, reason: reason}
}

func cancelled() outcome {
	return outcome{state: stateCancelled, reason: ReasonStopped}
}

// line is the terminal log line of the outcome.
func (o outcome) line() string {
	if o.state == stateCompleted {
		return MarkerCompleted + o.output
	}
	return MarkerFailed + o.reason
}
