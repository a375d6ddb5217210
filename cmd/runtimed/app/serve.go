package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boltlabs/runtimed/pkg/api"
	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runtime broker API server",
	Long:  `Start the HTTP server that serves the runtime session, files, deploy and cleanup endpoints.`,
	RunE:  serveCmdFunc,
}

var serveAddress string

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "0.0.0.0:8080", "Address to listen on")
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	logger.Initialize()

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return api.Serve(ctx, serveAddress, cfg)
}
