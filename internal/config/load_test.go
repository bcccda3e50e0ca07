package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.Stream.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", config.Stream.HeartbeatInterval)
	}
	if config.Stream.MaxLifetime != 55*time.Second {
		t.Errorf("MaxLifetime = %v, want 55s", config.Stream.MaxLifetime)
	}
	if config.Reconciler.NotificationCap != 100 {
		t.Errorf("NotificationCap = %d, want 100", config.Reconciler.NotificationCap)
	}
	if config.Server.Addr != ":8000" {
		t.Errorf("Addr = %q, want :8000", config.Server.Addr)
	}
	if config.MQTT.QoS != 1 {
		t.Errorf("QoS = %d, want 1", config.MQTT.QoS)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("FLEETWATCH_STREAM_HEARTBEAT_INTERVAL", "20s")
	t.Setenv("FLEETWATCH_STREAM_HEARTBEAT_JITTER", "3s")
	t.Setenv("FLEETWATCH_BUS_QUEUE_SIZE", "128")
	t.Setenv("FLEETWATCH_RECONCILER_MAX_RECONNECT_ATTEMPTS", "5")
	t.Setenv("FLEETWATCH_ROSTER_POSTGRES_HOST", "db.internal")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() with env overrides failed: %v", err)
	}

	if config.Stream.HeartbeatInterval != 20*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 20s", config.Stream.HeartbeatInterval)
	}
	if config.Stream.HeartbeatJitter != 3*time.Second {
		t.Errorf("HeartbeatJitter = %v, want 3s", config.Stream.HeartbeatJitter)
	}
	if config.Bus.QueueSize != 128 {
		t.Errorf("QueueSize = %d, want 128", config.Bus.QueueSize)
	}
	if config.Reconciler.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", config.Reconciler.MaxReconnectAttempts)
	}
	if config.Roster.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q, want db.internal", config.Roster.Postgres.Host)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	data := `
server:
  addr: ":9090"
stream:
  heartbeat-interval: 10s
  heartbeat-jitter: 1s
  max-lifetime: 30s
roster:
  source: postgres
  postgres:
    host: pg
    database: fleet
mqtt:
  broker: tcp://broker:1883
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", path, err)
	}

	if config.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", config.Server.Addr)
	}
	if config.Stream.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", config.Stream.HeartbeatInterval)
	}
	if config.Stream.MaxLifetime != 30*time.Second {
		t.Errorf("MaxLifetime = %v, want 30s", config.Stream.MaxLifetime)
	}
	if config.Roster.Source != RosterSourcePostgres {
		t.Errorf("Roster.Source = %q, want postgres", config.Roster.Source)
	}
	if config.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT.Broker = %q", config.MQTT.Broker)
	}
	// Untouched keys keep baseline values.
	if config.Stream.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", config.Stream.WriteTimeout)
	}
	if config.Roster.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want 5432", config.Roster.Postgres.Port)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  queue-size: 16\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("FLEETWATCH_BUS_QUEUE_SIZE", "32")

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if config.Bus.QueueSize != 32 {
		t.Errorf("QueueSize = %d, want 32", config.Bus.QueueSize)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load() with missing explicit file should fail")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("FLEETWATCH_STREAM_HEARTBEAT_JITTER", "10s")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() should reject jitter above half the interval")
	}
	if !strings.Contains(err.Error(), "stream validation failed") {
		t.Errorf("error = %v, want stream validation failure", err)
	}
}

func TestValidate_Baseline(t *testing.T) {
	if err := Validate(Baseline()); err != nil {
		t.Fatalf("baseline should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "zero heartbeat interval",
			mutate: func(c *Config) { c.Stream.HeartbeatInterval = 0 },
			want:   "heartbeat interval must be positive",
		},
		{
			name:   "negative jitter",
			mutate: func(c *Config) { c.Stream.HeartbeatJitter = -time.Second },
			want:   "heartbeat jitter must be non-negative",
		},
		{
			name:   "lifetime shorter than heartbeat",
			mutate: func(c *Config) { c.Stream.MaxLifetime = 5 * time.Second },
			want:   "max lifetime",
		},
		{
			name:   "zero heartbeat failures",
			mutate: func(c *Config) { c.Stream.MaxHeartbeatFailures = 0 },
			want:   "max heartbeat failures",
		},
		{
			name:   "zero queue size",
			mutate: func(c *Config) { c.Bus.QueueSize = 0 },
			want:   "queue size must be positive",
		},
		{
			name:   "zero notification cap",
			mutate: func(c *Config) { c.Reconciler.NotificationCap = 0 },
			want:   "notification cap must be positive",
		},
		{
			name:   "backoff below one",
			mutate: func(c *Config) { c.Reconciler.RetryBackoff = 0.5 },
			want:   "retry backoff must be >= 1.0",
		},
		{
			name:   "retry max below initial",
			mutate: func(c *Config) { c.Reconciler.RetryMax = 100 * time.Millisecond },
			want:   "retry max",
		},
		{
			name:   "default lat out of range",
			mutate: func(c *Config) { c.Reconciler.DefaultLat = 91 },
			want:   "default lat",
		},
		{
			name:   "unknown roster source",
			mutate: func(c *Config) { c.Roster.Source = "ldap" },
			want:   "unknown source",
		},
		{
			name:   "http roster without url",
			mutate: func(c *Config) { c.Roster.Source = RosterSourceHTTP },
			want:   "http-url must be set",
		},
		{
			name:   "hs256 without secret",
			mutate: func(c *Config) { c.Auth.Algorithm = "HS256" },
			want:   "secret key required",
		},
		{
			name:   "unsupported algorithm",
			mutate: func(c *Config) { c.Auth.Algorithm = "ES512" },
			want:   "unsupported algorithm",
		},
		{
			name:   "unknown simulator transport",
			mutate: func(c *Config) { c.Simulator.Transport = "carrier-pigeon" },
			want:   "unknown transport",
		},
		{
			name:   "zero simulator interval",
			mutate: func(c *Config) { c.Simulator.Interval = 0 },
			want:   "interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Baseline()
			tt.mutate(config)

			err := Validate(config)
			if err == nil {
				t.Fatalf("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("Validate(nil) should fail")
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	c := Baseline().Roster.Postgres
	c.Password = "secret"

	want := "host=localhost port=5432 user=postgres password=secret dbname=fleet sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
