package config

import (
	"fmt"
	"time"
)

// Config is the complete fleetwatch configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Bus        BusConfig        `mapstructure:"bus"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Roster     RosterConfig     `mapstructure:"roster"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// StreamConfig holds stream session timing.
type StreamConfig struct {
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat-interval"`
	HeartbeatJitter      time.Duration `mapstructure:"heartbeat-jitter"`
	MaxHeartbeatFailures int           `mapstructure:"max-heartbeat-failures"`
	// MaxLifetime bounds a session; the server sends ":closing" and the
	// viewer reconnects.
	MaxLifetime  time.Duration `mapstructure:"max-lifetime"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
}

// BusConfig holds event bus sizing.
type BusConfig struct {
	QueueSize        int `mapstructure:"queue-size"`
	RecentBufferSize int `mapstructure:"recent-buffer-size"`
}

// ReconcilerConfig holds viewer-side settings.
type ReconcilerConfig struct {
	StreamURL       string  `mapstructure:"stream-url"`
	RosterURL       string  `mapstructure:"roster-url"`
	NotificationCap int     `mapstructure:"notification-cap"`
	DefaultLat      float64 `mapstructure:"default-lat"`
	DefaultLon      float64 `mapstructure:"default-lon"`

	RetryInitial time.Duration `mapstructure:"retry-initial"`
	RetryBackoff float64       `mapstructure:"retry-backoff"`
	RetryMax     time.Duration `mapstructure:"retry-max"`
	// MaxReconnectAttempts is the number of consecutive failed reconnect
	// cycles before the reconciler gives up. Zero retries forever.
	MaxReconnectAttempts int `mapstructure:"max-reconnect-attempts"`
}

// Roster source kinds.
const (
	RosterSourceNone     = "none"
	RosterSourceFile     = "file"
	RosterSourcePostgres = "postgres"
	RosterSourceHTTP     = "http"
)

// RosterConfig selects and configures the vehicle roster backing /drivers.
type RosterConfig struct {
	Source   string         `mapstructure:"source"`
	File     string         `mapstructure:"file"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
	HTTPURL  string         `mapstructure:"http-url"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max-conns"`
	MaxIdle  int    `mapstructure:"max-idle"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the optional roster cache settings. An empty Addr
// disables the cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MQTTConfig configures the optional MQTT ingress. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client-id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// AuthConfig configures bearer-token checks on the ingress route. An empty
// Algorithm disables them.
type AuthConfig struct {
	Algorithm    string `mapstructure:"algorithm"`
	SecretKey    string `mapstructure:"secret-key"`
	PublicKeyPEM string `mapstructure:"public-key-pem"`
}

// AuditConfig configures the submission audit trail. An empty File disables
// it.
type AuditConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
}

// Simulator transports.
const (
	SimulatorTransportHTTP = "http"
	SimulatorTransportMQTT = "mqtt"
)

// SimulatorConfig drives the synthetic telemetry generator.
type SimulatorConfig struct {
	TargetURL string        `mapstructure:"target-url"`
	Transport string        `mapstructure:"transport"`
	Token     string        `mapstructure:"token"`
	Interval  time.Duration `mapstructure:"interval"`
	// Vehicles is the synthetic fleet size used when the roster is empty.
	Vehicles  int     `mapstructure:"vehicles"`
	CenterLat float64 `mapstructure:"center-lat"`
	CenterLon float64 `mapstructure:"center-lon"`
	Seed      uint64  `mapstructure:"seed"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Service    string `mapstructure:"service"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
}

// Baseline returns the default configuration.
func Baseline() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},

		// Heartbeat 15s matches the dashboard's original cadence; the 55s
		// lifetime stays under the 60s platform connection cap.
		Stream: StreamConfig{
			HeartbeatInterval:    15 * time.Second,
			HeartbeatJitter:      2 * time.Second,
			MaxHeartbeatFailures: 2,
			MaxLifetime:          55 * time.Second,
			WriteTimeout:         10 * time.Second,
		},

		Bus: BusConfig{
			QueueSize:        64,
			RecentBufferSize: 50,
		},

		Reconciler: ReconcilerConfig{
			StreamURL:            "http://localhost:8000/api/v1/drivers/sse",
			RosterURL:            "http://localhost:8000",
			NotificationCap:      100,
			RetryInitial:         1 * time.Second,
			RetryBackoff:         2.0,
			RetryMax:             30 * time.Second,
			MaxReconnectAttempts: 0,
		},

		Roster: RosterConfig{
			Source: RosterSourceFile,
			File:   "roster.yaml",
			Postgres: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "fleet",
				SSLMode:  "disable",
				MaxConns: 10,
				MaxIdle:  2,
			},
			Redis: RedisConfig{
				TTL: 30 * time.Second,
			},
		},

		MQTT: MQTTConfig{
			ClientID: "fleetwatch-ingress",
			Topic:    "fleet/+/telemetry",
			QoS:      1,
		},

		Audit: AuditConfig{
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 90,
		},

		Simulator: SimulatorConfig{
			TargetURL: "http://localhost:8000",
			Transport: SimulatorTransportHTTP,
			Interval:  2 * time.Second,
			Vehicles:  5,
			CenterLat: 34.05,
			CenterLon: -118.24,
		},

		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Service:    "fleetwatch",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}
