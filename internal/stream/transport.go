package stream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Transport carries encoded frames to one viewer.
type Transport interface {
	// WriteFrame writes one complete frame.
	WriteFrame(frame []byte) error
	// Flush pushes buffered frames to the viewer.
	Flush() error
	// Name identifies the transport in logs and metrics.
	Name() string
}

// SSETransport writes frames to an HTTP response as text/event-stream.
type SSETransport struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewSSETransport writes the event-stream headers and status to w.
func NewSSETransport(w http.ResponseWriter, writeTimeout time.Duration) *SSETransport {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &SSETransport{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

// WriteFrame writes and flushes frame. The connection write deadline is
// pushed forward first so the server-wide write timeout does not cut the
// stream.
func (t *SSETransport) WriteFrame(frame []byte) error {
	if t.writeTimeout > 0 {
		if err := t.rc.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := t.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return t.Flush()
}

// Flush flushes the response.
func (t *SSETransport) Flush() error {
	if err := t.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Name returns "sse".
func (t *SSETransport) Name() string {
	return "sse"
}
