package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roadbuddy/fleetwatch/internal/api"
	"github.com/roadbuddy/fleetwatch/internal/audit"
	"github.com/roadbuddy/fleetwatch/internal/auth"
	"github.com/roadbuddy/fleetwatch/internal/bus"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/ingress"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

func newServeCommand(ctx context.Context, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runServe(ctx, cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.String("addr", "", "listen address")
	fs.String("roster-source", "", "roster source: none, file, postgres or http")
	fs.String("roster-file", "", "roster YAML file for the file source")
	fs.String("mqtt-broker", "", "MQTT broker URL; empty disables MQTT ingress")
	fs.String("audit-file", "", "append a JSON-lines submission audit trail to this file")

	opts.bind("server.addr", fs.Lookup("addr"))
	opts.bind("roster.source", fs.Lookup("roster-source"))
	opts.bind("roster.file", fs.Lookup("roster-file"))
	opts.bind("mqtt.broker", fs.Lookup("mqtt-broker"))
	opts.bind("audit.file", fs.Lookup("audit-file"))
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting fleetwatch", zap.String("version", Version), zap.String("addr", cfg.Server.Addr))

	rosterSrc, closeRoster, err := roster.Open(ctx, cfg.Roster, logger)
	if err != nil {
		return fmt.Errorf("failed to open roster: %w", err)
	}
	defer func() {
		if err := closeRoster(); err != nil {
			logger.Warn("failed to close roster", zap.Error(err))
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	trail := audit.New(cfg.Audit, logger)
	defer func() { _ = trail.Close() }()

	b := bus.New(cfg.Bus, logger)
	in := ingress.New(b, telemetry.NewClock(), logger)
	server := api.NewServer(b, in, rosterSrc, auth.NewMiddleware(verifier, logger), cfg, logger)
	server.SetAudit(trail)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)

	if cfg.MQTT.Broker != "" {
		sub := ingress.NewMQTTSubscriber(cfg.MQTT, in, logger)
		if trail != nil {
			sub.SetRecorder(trail)
		}
		g.Go(func() error { return sub.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		b.Close()
		return server.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Error("fleetwatch stopped with error", zap.Error(err))
		return err
	}
	logger.Info("fleetwatch stopped")
	return nil
}
