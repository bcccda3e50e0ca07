package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

var sampleRoster = StaticSource{
	{Name: "Alice Johnson", VehicleID: "T-100", State: telemetry.StateNormal},
	{Name: "Bob Smith", VehicleID: "T-101", State: telemetry.StateDrowsy},
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()

	drivers, err := sampleRoster.Drivers(ctx)
	require.NoError(t, err)
	assert.Len(t, drivers, 2)

	d, err := sampleRoster.Driver(ctx, "T-101")
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", d.Name)

	_, err = sampleRoster.Driver(ctx, "T-999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileSource(t *testing.T) {
	path := writeRoster(t, `
drivers:
  - name: Alice Johnson
    vehicle_id: T-100
    state: normal
  - name: Bob Smith
    vehicle_id: T-101
`)
	src := NewFileSource(path)

	drivers, err := src.Drivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	assert.Equal(t, telemetry.StateNormal, drivers[0].State)
	assert.Equal(t, telemetry.StateNormal, drivers[1].State, "blank state defaults to Normal")

	d, err := src.Driver(context.Background(), "T-100")
	require.NoError(t, err)
	assert.Equal(t, "Alice Johnson", d.Name)

	_, err = src.Driver(context.Background(), "T-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", "drivers:\n  - {name: A, vehicle_id: T1}\n  - {name: B, vehicle_id: T1}\n", "duplicate vehicle_id"},
		{"missing id", "drivers:\n  - {name: A}\n", "has no vehicle_id"},
		{"bad state", "drivers:\n  - {name: A, vehicle_id: T1, state: Sleepy}\n", "unknown driver state"},
		{"bad yaml", "drivers: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileSource(writeRoster(t, tt.body)).Drivers(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml")).Drivers(context.Background())
	assert.Error(t, err)
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSource) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock, NewPostgresSource(db, zap.NewNop())
}

func TestPostgresSourceDrivers(t *testing.T) {
	_, mock, src := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"name", "vehicle_id", "state"}).
		AddRow("Alice Johnson", "T-100", "Normal").
		AddRow("Bob Smith", "T-101", "ASLEEP").
		AddRow("Carol Williams", "T-102", nil)
	mock.ExpectQuery(`SELECT name, vehicle_id, state FROM drivers`).WillReturnRows(rows)

	drivers, err := src.Drivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 3)
	assert.Equal(t, telemetry.StateAsleep, drivers[1].State)
	assert.Equal(t, telemetry.StateNormal, drivers[2].State)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceDriver(t *testing.T) {
	_, mock, src := setupMockDB(t)

	mock.ExpectQuery(`SELECT name, vehicle_id, state FROM drivers WHERE vehicle_id`).
		WithArgs("T-100").
		WillReturnRows(sqlmock.NewRows([]string{"name", "vehicle_id", "state"}).AddRow("Alice Johnson", "T-100", "Drowsy"))

	d, err := src.Driver(context.Background(), "T-100")
	require.NoError(t, err)
	assert.Equal(t, Driver{Name: "Alice Johnson", VehicleID: "T-100", State: telemetry.StateDrowsy}, d)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceDriverNotFound(t *testing.T) {
	_, mock, src := setupMockDB(t)

	mock.ExpectQuery(`SELECT`).WithArgs("T-404").WillReturnError(sql.ErrNoRows)

	_, err := src.Driver(context.Background(), "T-404")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceQueryError(t *testing.T) {
	_, mock, src := setupMockDB(t)

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection refused"))

	_, err := src.Drivers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query drivers")

	require.NoError(t, mock.ExpectationsWereMet())
}

func newRosterServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == DriversPath:
			_ = json.NewEncoder(w).Encode(sampleRoster)
		case strings.HasPrefix(r.URL.Path, DriversPath+"/"):
			d, err := sampleRoster.Driver(r.Context(), strings.TrimPrefix(r.URL.Path, DriversPath+"/"))
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"Driver not found"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(d)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource(t *testing.T) {
	srv := newRosterServer(t, nil)
	src := NewHTTPSource(srv.URL)
	ctx := context.Background()

	drivers, err := src.Drivers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Driver(sampleRoster), drivers)

	d, err := src.Driver(ctx, "T-100")
	require.NoError(t, err)
	assert.Equal(t, "Alice Johnson", d.Name)

	_, err = src.Driver(ctx, "T-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Drivers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func setupCache(t *testing.T, next Source) (*miniredis.Miniredis, *CachedSource) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewCachedSource(next, client, time.Minute, zap.NewNop())
}

func TestCachedSourceReadThrough(t *testing.T) {
	var hits atomic.Int32
	srv := newRosterServer(t, &hits)
	mr, src := setupCache(t, NewHTTPSource(srv.URL))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		drivers, err := src.Drivers(ctx)
		require.NoError(t, err)
		assert.Len(t, drivers, 2)
	}
	assert.Equal(t, int32(1), hits.Load(), "roster fetched once then served from cache")
	assert.True(t, mr.Exists(cacheKeyDrivers))
	assert.Greater(t, mr.TTL(cacheKeyDrivers), time.Duration(0))

	for i := 0; i < 2; i++ {
		d, err := src.Driver(ctx, "T-101")
		require.NoError(t, err)
		assert.Equal(t, "Bob Smith", d.Name)
	}
	assert.Equal(t, int32(2), hits.Load())

	// Misses are not cached.
	_, err := src.Driver(ctx, "T-404")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = src.Driver(ctx, "T-404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(4), hits.Load())
	assert.False(t, mr.Exists(cacheKeyDriverPrefix+"T-404"))
}

func TestCachedSourceExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := newRosterServer(t, &hits)
	mr, src := setupCache(t, NewHTTPSource(srv.URL))
	ctx := context.Background()

	_, err := src.Drivers(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = src.Drivers(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
}

func TestCachedSourceDegradesWhenRedisDown(t *testing.T) {
	mr, src := setupCache(t, sampleRoster)
	mr.Close()

	drivers, err := src.Drivers(context.Background())
	require.NoError(t, err)
	assert.Len(t, drivers, 2)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.Baseline().Roster
	cfg.Source = config.RosterSourceFile
	cfg.File = writeRoster(t, "drivers:\n  - {name: A, vehicle_id: T1}\n")

	src, closeFn, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	drivers, err := src.Drivers(ctx)
	require.NoError(t, err)
	assert.Len(t, drivers, 1)
	require.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	src, closeFn, err = Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	_, ok := src.(*CachedSource)
	assert.True(t, ok)
	require.NoError(t, closeFn())

	cfg.Source = config.RosterSourceNone
	cfg.Redis.Addr = ""
	src, _, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	drivers, err = src.Drivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)

	cfg.Source = "ldap"
	_, _, err = Open(ctx, cfg, nil)
	assert.Error(t, err)
}
