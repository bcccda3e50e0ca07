package roster

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Roster endpoint paths served by the fleetwatch API.
const (
	DriversPath = "/api/v1/drivers"
)

// HTTPSource reads the roster from a fleetwatch server's /drivers endpoints.
type HTTPSource struct {
	client *resty.Client
}

// NewHTTPSource returns a source for the server at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	return &HTTPSource{client: client}
}

type errorBody struct {
	Error string `json:"error"`
}

// Drivers fetches the full roster.
func (s *HTTPSource) Drivers(ctx context.Context) ([]Driver, error) {
	var drivers []Driver
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&drivers).
		SetError(&errorBody{}).
		Get(DriversPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roster: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch roster: %s", statusError(resp))
	}

	for i, d := range drivers {
		normalized, err := normalize(d)
		if err != nil {
			return nil, fmt.Errorf("roster entry %s: %w", d.VehicleID, err)
		}
		drivers[i] = normalized
	}
	return drivers, nil
}

// Driver fetches one roster entry.
func (s *HTTPSource) Driver(ctx context.Context, vehicleID string) (Driver, error) {
	var d Driver
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&d).
		SetError(&errorBody{}).
		Get(DriversPath + "/" + url.PathEscape(vehicleID))
	if err != nil {
		return Driver{}, fmt.Errorf("failed to fetch driver %s: %w", vehicleID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Driver{}, ErrNotFound
	}
	if resp.IsError() {
		return Driver{}, fmt.Errorf("failed to fetch driver %s: %s", vehicleID, statusError(resp))
	}
	return normalize(d)
}

func statusError(resp *resty.Response) string {
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode(), body.Error)
	}
	return fmt.Sprintf("status %d", resp.StatusCode())
}
