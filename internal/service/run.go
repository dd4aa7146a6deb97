package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/job"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
)

// DefaultClientID identifies jobs started from the command line.
const DefaultClientID = "cli"

var ErrJobFailed = errors.New("job failed")

// JobFile describes a job run from the command line. It is JSON which may
// contain comments and trailing commas.
type JobFile struct {
	Script   string         `json:"script"`
	Input    string         `json:"input"`
	ClientID string         `json:"client_id"`
	Config   routine.Config `json:"config"`
}

// ParseJobFile decodes a job file. Relative input paths are resolved against
// dir.
func ParseJobFile(r io.Reader, dir string) (JobFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return JobFile{}, err
	}
	var jf JobFile
	if err := json.Unmarshal(jsonc.ToJSON(raw), &jf); err != nil {
		return JobFile{}, fmt.Errorf("parsing job file: %w", err)
	}
	if jf.Script == "" {
		return JobFile{}, errors.New("job file: script is required")
	}
	if jf.ClientID == "" {
		jf.ClientID = DefaultClientID
	}
	if jf.Input != "" && !filepath.IsAbs(jf.Input) {
		jf.Input = filepath.Join(dir, jf.Input)
	}
	return jf, nil
}

// Run executes one job and writes its log lines to out. It returns once
// the terminal line was seen; a failed or stopped job is reported as
// ErrJobFailed. Cancelling ctx asks the job to stop.
func (s *Service) Run(ctx context.Context, jf JobFile, out io.Writer) error {
	regCtx, stopRegistry := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Go(func() {
		_ = s.sessions.Do(regCtx)
	})
	defer func() {
		stopRegistry()
		wg.Wait()
	}()

	req := job.Request{
		Routine:  jf.Script,
		ClientID: jf.ClientID,
		Config:   jf.Config,
	}
	if jf.Input != "" {
		name, err := s.upload(ctx, jf.Input)
		if err != nil {
			return err
		}
		req.Input = name
	}

	st, err := s.sessions.Connect(req.ClientID)
	if err != nil {
		return err
	}
	defer st.Close()

	ack, err := s.coordinator.Execute(ctx, req)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "job queued", "run_id", ack.RunID)

	stop := context.AfterFunc(ctx, func() {
		s.sessions.RequestCancel(req.ClientID)
	})
	defer stop()

	for line := range st.Lines(regCtx) {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
		if name, ok := strings.CutPrefix(line, job.MarkerCompleted); ok {
			s.coordinator.Wait()
			path, err := s.ws.OutputPath(name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "output: %s\n", path)
			return err
		}
		if reason, ok := strings.CutPrefix(line, job.MarkerFailed); ok {
			s.coordinator.Wait()
			return fmt.Errorf("%w: %s", ErrJobFailed, reason)
		}
	}
	return fmt.Errorf("%w: log stream ended early", ErrJobFailed)
}

func (s *Service) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	up, err := s.ws.SaveUpload(ctx, filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	return up.Filename, nil
}
