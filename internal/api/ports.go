package api

import (
	"context"

	"github.com/roadbuddy/fleetwatch/internal/ingress"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Ingestor accepts telemetry submissions.
type Ingestor interface {
	Ingest(ctx context.Context, u ingress.Update) (telemetry.Event, error)
}

var _ Ingestor = (*ingress.Ingress)(nil)
