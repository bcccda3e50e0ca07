package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

const (
	queryDrivers = `SELECT name, vehicle_id, state FROM drivers ORDER BY vehicle_id`
	queryDriver  = `SELECT name, vehicle_id, state FROM drivers WHERE vehicle_id = $1`
)

// NewPostgresDB opens and pings a lib/pq connection pool.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresSource reads the drivers table.
type PostgresSource struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSource wraps db.
func NewPostgresSource(db *sql.DB, logger *zap.Logger) *PostgresSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSource{db: db, logger: logger.Named("roster.postgres")}
}

// Drivers lists every driver ordered by vehicle id.
func (s *PostgresSource) Drivers(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.QueryContext(ctx, queryDrivers)
	if err != nil {
		return nil, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer rows.Close()

	var drivers []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drivers: %w", err)
	}

	s.logger.Debug("loaded drivers", zap.Int("count", len(drivers)))
	return drivers, nil
}

// Driver returns the driver assigned to vehicleID.
func (s *PostgresSource) Driver(ctx context.Context, vehicleID string) (Driver, error) {
	d, err := scanDriver(s.db.QueryRowContext(ctx, queryDriver, vehicleID))
	if errors.Is(err, sql.ErrNoRows) {
		return Driver{}, ErrNotFound
	}
	return d, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDriver(row scanner) (Driver, error) {
	var (
		d     Driver
		state sql.NullString
	)
	if err := row.Scan(&d.Name, &d.VehicleID, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Driver{}, err
		}
		return Driver{}, fmt.Errorf("failed to scan driver: %w", err)
	}
	d.State = telemetry.DriverState(state.String)

	normalized, err := normalize(d)
	if err != nil {
		return Driver{}, fmt.Errorf("driver %s: %w", d.VehicleID, err)
	}
	return normalized, nil
}
