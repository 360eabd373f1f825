package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/logging"
)

const flushTimeout = 30 * time.Second

// openDeps connects the backend and optional services; tests swap it.
var openDeps = app.OpenDeps

type cli struct {
	backend  string
	eventID  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "rollcall",
		Short:         "Manage the attendance roster stored in the configured backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.backend, "backend", "", "Backend override: memory, sqlite, redis or postgres")
	root.PersistentFlags().StringVar(&c.eventID, "event", "", "Event id override")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level override")

	root.AddCommand(
		newImportCmd(c),
		newReportCmd(c),
		newShareCmd(c),
		newLoadCmd(c),
		newClearCmd(c),
		newHashKeyCmd(),
	)
	return root
}

// open loads configuration, connects the backend and pulls the remote
// roster.
func (c *cli) open(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.backend != "" {
		cfg.Backend = c.backend
	}
	if c.eventID != "" {
		cfg.EventID = c.eventID
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Subscribe = false

	log := logging.Setup(cfg.LogLevel)
	deps, err := openDeps(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		_ = service.Close()
		return nil, err
	}
	return service, nil
}

// flush waits for the background pushes of a mutating command and fails when
// any of them did not reach the backend.
func flush(ctx context.Context, service *app.Service) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := service.Flush(ctx); err != nil {
		return fmt.Errorf("remote writes failed: %w", err)
	}
	return nil
}
