package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run JOBFILE",
	Short: "run command executes one job described by a JSON job file and prints its log",
	Long: `run command executes one job described by a JSON job file and prints its log.

The job file may contain comments:

  {
    // routine name as listed by the scripts command
    "script": "UpdateFarmerName",
    "input": "farmers.xlsx",
    "config": {"username": "...", "password": "...", "tenant_code": "..."}
  }

Interrupting the command asks the job to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: doRun,
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening job file: %w", err)
	}
	jf, err := service.ParseJobFile(f, filepath.Dir(args[0]))
	_ = f.Close()
	if err != nil {
		return err
	}

	ctx = log.ContextAttrs(ctx, slog.Group("techops",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	// jobs are stopped through Run, not by cancelling their context; a second
	// interrupt kills the process
	context.AfterFunc(ctx, stop)
	svc, err := service.New(context.WithoutCancel(ctx), config, service.Catalog(config.API))
	if err != nil {
		return err
	}
	defer closeService(ctx, svc)

	return svc.Run(ctx, jf, cmd.OutOrStdout())
}
