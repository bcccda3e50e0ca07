package config

import (
	"fmt"
	"strings"
)

// Validate enforces the configuration rules.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := validateStream(&config.Stream); err != nil {
		return fmt.Errorf("stream validation failed: %w", err)
	}

	if err := validateBus(&config.Bus); err != nil {
		return fmt.Errorf("bus validation failed: %w", err)
	}

	if err := validateReconciler(&config.Reconciler); err != nil {
		return fmt.Errorf("reconciler validation failed: %w", err)
	}

	if err := validateRoster(&config.Roster); err != nil {
		return fmt.Errorf("roster validation failed: %w", err)
	}

	if err := validateAuth(&config.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := validateSimulator(&config.Simulator); err != nil {
		return fmt.Errorf("simulator validation failed: %w", err)
	}

	return nil
}

func validateServer(c *ServerConfig) error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}

// validateStream validates session timing parameters.
func validateStream(c *StreamConfig) error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.HeartbeatInterval)
	}

	// Jitter must be non-negative and ≤ 50% of interval
	if c.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", c.HeartbeatJitter)
	}
	if c.HeartbeatJitter > c.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", c.HeartbeatJitter, c.HeartbeatInterval)
	}

	if c.MaxHeartbeatFailures < 1 {
		return fmt.Errorf("max heartbeat failures must be >= 1, got %d", c.MaxHeartbeatFailures)
	}

	// A lifetime shorter than one heartbeat would never exercise liveness.
	if c.MaxLifetime < c.HeartbeatInterval {
		return fmt.Errorf("max lifetime %v must be >= heartbeat interval %v", c.MaxLifetime, c.HeartbeatInterval)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout)
	}

	return nil
}

func validateBus(c *BusConfig) error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.RecentBufferSize < 0 {
		return fmt.Errorf("recent buffer size must be non-negative, got %d", c.RecentBufferSize)
	}
	return nil
}

// validateReconciler validates viewer-side parameters.
func validateReconciler(c *ReconcilerConfig) error {
	if c.NotificationCap <= 0 {
		return fmt.Errorf("notification cap must be positive, got %d", c.NotificationCap)
	}

	if c.DefaultLat < -90 || c.DefaultLat > 90 {
		return fmt.Errorf("default lat %v out of range", c.DefaultLat)
	}
	if c.DefaultLon < -180 || c.DefaultLon > 180 {
		return fmt.Errorf("default lon %v out of range", c.DefaultLon)
	}

	if c.RetryInitial <= 0 {
		return fmt.Errorf("retry initial must be positive, got %v", c.RetryInitial)
	}
	if c.RetryBackoff < 1.0 {
		return fmt.Errorf("retry backoff must be >= 1.0, got %v", c.RetryBackoff)
	}
	if c.RetryMax < c.RetryInitial {
		return fmt.Errorf("retry max %v must be >= initial %v", c.RetryMax, c.RetryInitial)
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be non-negative, got %d", c.MaxReconnectAttempts)
	}

	return nil
}

func validateRoster(c *RosterConfig) error {
	switch c.Source {
	case RosterSourceNone:
	case RosterSourceFile:
		if c.File == "" {
			return fmt.Errorf("file must be set for source %q", c.Source)
		}
	case RosterSourcePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database must be set")
		}
	case RosterSourceHTTP:
		if c.HTTPURL == "" {
			return fmt.Errorf("http-url must be set for source %q", c.Source)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}

	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis ttl must be positive, got %v", c.Redis.TTL)
	}

	return nil
}

func validateAuth(c *AuthConfig) error {
	switch strings.ToUpper(c.Algorithm) {
	case "":
	case "HS256":
		if c.SecretKey == "" {
			return fmt.Errorf("secret key required for HS256")
		}
	case "RS256":
		if c.PublicKeyPEM == "" {
			return fmt.Errorf("public key required for RS256")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", c.Algorithm)
	}
	return nil
}

func validateSimulator(c *SimulatorConfig) error {
	switch c.Transport {
	case SimulatorTransportHTTP, SimulatorTransportMQTT:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Vehicles < 0 {
		return fmt.Errorf("vehicles must be non-negative, got %d", c.Vehicles)
	}
	return nil
}
