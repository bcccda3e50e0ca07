package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// FLEETWATCH_STREAM_HEARTBEAT_INTERVAL=10s.
const EnvPrefix = "FLEETWATCH"

// Load merges Baseline() + optional config file + FLEETWATCH_* env overrides
// and validates the result. An empty path searches for fleetwatch.{yaml,json,toml}
// in the working directory and /etc/fleetwatch; a missing file there is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return decode(v)
}

// ReadFile loads the config file into v following Load's lookup rules.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("fleetwatch")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fleetwatch")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// NewViper returns a viper instance seeded with the baseline defaults and
// bound to the FLEETWATCH_* environment. Callers may bind command-line flags
// to it before decoding.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Baseline())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	// Server
	v.SetDefault("server.addr", c.Server.Addr)
	v.SetDefault("server.read-timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write-timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle-timeout", c.Server.IdleTimeout)
	v.SetDefault("server.shutdown-timeout", c.Server.ShutdownTimeout)

	// Stream
	v.SetDefault("stream.heartbeat-interval", c.Stream.HeartbeatInterval)
	v.SetDefault("stream.heartbeat-jitter", c.Stream.HeartbeatJitter)
	v.SetDefault("stream.max-heartbeat-failures", c.Stream.MaxHeartbeatFailures)
	v.SetDefault("stream.max-lifetime", c.Stream.MaxLifetime)
	v.SetDefault("stream.write-timeout", c.Stream.WriteTimeout)

	// Bus
	v.SetDefault("bus.queue-size", c.Bus.QueueSize)
	v.SetDefault("bus.recent-buffer-size", c.Bus.RecentBufferSize)

	// Reconciler
	v.SetDefault("reconciler.stream-url", c.Reconciler.StreamURL)
	v.SetDefault("reconciler.roster-url", c.Reconciler.RosterURL)
	v.SetDefault("reconciler.notification-cap", c.Reconciler.NotificationCap)
	v.SetDefault("reconciler.default-lat", c.Reconciler.DefaultLat)
	v.SetDefault("reconciler.default-lon", c.Reconciler.DefaultLon)
	v.SetDefault("reconciler.retry-initial", c.Reconciler.RetryInitial)
	v.SetDefault("reconciler.retry-backoff", c.Reconciler.RetryBackoff)
	v.SetDefault("reconciler.retry-max", c.Reconciler.RetryMax)
	v.SetDefault("reconciler.max-reconnect-attempts", c.Reconciler.MaxReconnectAttempts)

	// Roster
	v.SetDefault("roster.source", c.Roster.Source)
	v.SetDefault("roster.file", c.Roster.File)
	v.SetDefault("roster.http-url", c.Roster.HTTPURL)
	v.SetDefault("roster.postgres.host", c.Roster.Postgres.Host)
	v.SetDefault("roster.postgres.port", c.Roster.Postgres.Port)
	v.SetDefault("roster.postgres.user", c.Roster.Postgres.User)
	v.SetDefault("roster.postgres.password", c.Roster.Postgres.Password)
	v.SetDefault("roster.postgres.database", c.Roster.Postgres.Database)
	v.SetDefault("roster.postgres.sslmode", c.Roster.Postgres.SSLMode)
	v.SetDefault("roster.postgres.max-conns", c.Roster.Postgres.MaxConns)
	v.SetDefault("roster.postgres.max-idle", c.Roster.Postgres.MaxIdle)
	v.SetDefault("roster.redis.addr", c.Roster.Redis.Addr)
	v.SetDefault("roster.redis.password", c.Roster.Redis.Password)
	v.SetDefault("roster.redis.db", c.Roster.Redis.DB)
	v.SetDefault("roster.redis.ttl", c.Roster.Redis.TTL)

	// MQTT
	v.SetDefault("mqtt.broker", c.MQTT.Broker)
	v.SetDefault("mqtt.client-id", c.MQTT.ClientID)
	v.SetDefault("mqtt.username", c.MQTT.Username)
	v.SetDefault("mqtt.password", c.MQTT.Password)
	v.SetDefault("mqtt.topic", c.MQTT.Topic)
	v.SetDefault("mqtt.qos", c.MQTT.QoS)

	// Auth
	v.SetDefault("auth.algorithm", c.Auth.Algorithm)
	v.SetDefault("auth.secret-key", c.Auth.SecretKey)
	v.SetDefault("auth.public-key-pem", c.Auth.PublicKeyPEM)

	// Audit
	v.SetDefault("audit.file", c.Audit.File)
	v.SetDefault("audit.max-size-mb", c.Audit.MaxSizeMB)
	v.SetDefault("audit.max-backups", c.Audit.MaxBackups)
	v.SetDefault("audit.max-age-days", c.Audit.MaxAgeDays)

	// Simulator
	v.SetDefault("simulator.target-url", c.Simulator.TargetURL)
	v.SetDefault("simulator.transport", c.Simulator.Transport)
	v.SetDefault("simulator.token", c.Simulator.Token)
	v.SetDefault("simulator.interval", c.Simulator.Interval)
	v.SetDefault("simulator.vehicles", c.Simulator.Vehicles)
	v.SetDefault("simulator.center-lat", c.Simulator.CenterLat)
	v.SetDefault("simulator.center-lon", c.Simulator.CenterLon)
	v.SetDefault("simulator.seed", c.Simulator.Seed)

	// Log
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.service", c.Log.Service)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max-size-mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max-backups", c.Log.MaxBackups)
	v.SetDefault("log.max-age-days", c.Log.MaxAgeDays)
}
