package reconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrStream wraps every failure of the telemetry stream: dial errors,
	// transport errors and server-initiated closes.
	ErrStream = errors.New("stream error")

	// ErrNotificationNotFound is returned by Acknowledge for unknown ids.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrFailed is returned by Run once the reconnect budget is exhausted.
	ErrFailed = errors.New("reconciler failed")
)

// SnapshotLoadError reports a failed roster fetch. It is the only failure
// that can leave the snapshot empty.
type SnapshotLoadError struct {
	Err error
}

func (e *SnapshotLoadError) Error() string {
	return fmt.Sprintf("snapshot load failed: %v", e.Err)
}

func (e *SnapshotLoadError) Unwrap() error {
	return e.Err
}

func streamError(err error) error {
	return fmt.Errorf("%w: %w", ErrStream, err)
}
