package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootOptions() *rootOptions {
	return &rootOptions{v: config.NewViper()}
}

// Flags returns the global flag set. Flags override the config file and
// FLEETWATCH_* environment.
func (o *rootOptions) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ExitOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to a config file (yaml, json or toml)")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("log-format", "", "log format: json or console")
	fs.String("log-file", "", "also write logs to this file, rotated")

	o.bind("log.level", fs.Lookup("log-level"))
	o.bind("log.format", fs.Lookup("log-format"))
	o.bind("log.file", fs.Lookup("log-file"))
	return fs
}

func (o *rootOptions) bind(key string, flag *pflag.Flag) {
	// BindPFlag only fails for a nil flag.
	if err := o.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

// setup loads the configuration and builds the logger.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	if err := config.ReadFile(o.v, o.configPath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.FromViper(o.v)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if used := o.v.ConfigFileUsed(); used != "" {
		logger.Info("configuration loaded", zap.String("file", used))
	}
	return cfg, logger, nil
}

// NewRootCommand returns the fleetwatch command tree.
func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := newRootOptions()
	cmd := &cobra.Command{
		Use:          "fleetwatch",
		Short:        "Real-time fleet telemetry fan-out",
		Long:         "fleetwatch accepts driver telemetry and streams it to every connected dashboard over SSE or WebSocket.",
		Version:      Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().AddFlagSet(opts.Flags())

	cmd.AddCommand(
		newServeCommand(ctx, opts),
		newWatchCommand(ctx, opts),
		newSimulateCommand(ctx, opts),
	)
	return cmd
}
