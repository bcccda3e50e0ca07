package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/simulator"
)

func newSimulateCommand(ctx context.Context, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic driver telemetry",
		Long:  "simulate drives a fleet of fake vehicles, taken from the configured roster or invented, and publishes their telemetry over HTTP or MQTT.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runSimulate(ctx, cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.String("target-url", "", "fleetwatch server base URL (http transport)")
	fs.String("transport", "", "publish transport: http or mqtt")
	fs.Duration("interval", 0, "time between fleet updates")
	fs.Int("vehicles", 0, "synthetic fleet size when the roster is empty")
	fs.Uint64("seed", 0, "random seed (0 picks one)")

	opts.bind("simulator.target-url", fs.Lookup("target-url"))
	opts.bind("simulator.transport", fs.Lookup("transport"))
	opts.bind("simulator.interval", fs.Lookup("interval"))
	opts.bind("simulator.vehicles", fs.Lookup("vehicles"))
	opts.bind("simulator.seed", fs.Lookup("seed"))
	return cmd
}

func runSimulate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	drivers, err := loadFleet(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var pub simulator.Publisher
	switch cfg.Simulator.Transport {
	case config.SimulatorTransportMQTT:
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt transport needs mqtt.broker")
		}
		mp := simulator.NewMQTTPublisher(cfg.MQTT)
		if err := mp.Connect(ctx); err != nil {
			return err
		}
		defer mp.Close()
		pub = mp
	default:
		pub = simulator.NewHTTPPublisher(cfg.Simulator.TargetURL, cfg.Simulator.Token)
	}

	return simulator.New(drivers, pub, cfg.Simulator, logger).Run(ctx)
}

// loadFleet reads the configured roster. An unreadable roster falls back to
// a synthetic fleet.
func loadFleet(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]roster.Driver, error) {
	src, closeRoster, err := roster.Open(ctx, cfg.Roster, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer func() { _ = closeRoster() }()

	drivers, err := src.Drivers(ctx)
	if err != nil {
		logger.Warn("roster unavailable, simulating a synthetic fleet", zap.Error(err))
		return nil, nil
	}
	return drivers, nil
}
