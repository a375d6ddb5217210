package app

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete runtime sessions past their idle TTL",
	Long: `Enumerate platform projects and delete every compose whose idle lease has
expired. Intended for cron or one-off operator use; the server also sweeps
opportunistically on session activity.`,
	RunE: sweepCmdFunc,
}

var sweepActorID string

func init() {
	sweepCmd.Flags().StringVar(&sweepActorID, "actor", "", "Sweep only this actor's sessions")
}

func sweepCmdFunc(cmd *cobra.Command, _ []string) error {
	logger.Initialize()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.RemoteEnabled() {
		return fmt.Errorf("sweep requires RUNTIME_PROVIDER=dokploy")
	}

	platform := dokploy.New(cfg.DokployBaseURL, cfg.DokployAPIKey)
	sw := sweeper.New(platform)
	requestID := uuid.NewString()

	if sweepActorID != "" {
		if err := sw.Run(cmd.Context(), sweepActorID, requestID); err != nil {
			return err
		}
		logger.Infow("sweep finished", "actorId", sweepActorID)
		return nil
	}

	count, err := sw.RunAll(cmd.Context(), requestID)
	if err != nil {
		return err
	}
	logger.Infow("sweep finished", "actorCount", count)
	return nil
}
