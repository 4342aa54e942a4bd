package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fscherf/lona/internal/server"
	"github.com/fscherf/lona/internal/version"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the view runtime server",
	Long: `Starts the server with the built-in demo application: a daemon clock,
an input echo view, URL arguments, and a JSON status endpoint. Use the
settings file or LONA_ environment variables to shape the instance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(settings)
	logger.Info(cmd.Context(), "lona starting", "version", version.Short())

	reg, err := demoRegistry(settings.RoutingTable)
	if err != nil {
		return err
	}

	srv, err := server.New(settings, reg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
