package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/log"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve command starts the web interface",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = log.ContextAttrs(ctx, slog.Group("techops",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	svc, err := service.New(ctx, config, service.Catalog(config.API))
	if err != nil {
		return err
	}
	defer closeService(ctx, svc)

	return svc.Serve(ctx)
}

func closeService(ctx context.Context, svc *service.Service) {
	if err := svc.Close(); err != nil {
		slog.WarnContext(ctx, "closing service", "error", err)
	}
}
