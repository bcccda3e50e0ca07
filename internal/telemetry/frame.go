package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Sentinel names carried by comment frames.
const (
	SentinelOK        = "ok"
	SentinelHeartbeat = "heartbeat"
	SentinelClosing   = "closing"
)

// FrameKind distinguishes data frames from lifecycle sentinels.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameSentinel
)

// Frame is one decoded unit of the stream.
type Frame struct {
	Kind     FrameKind
	Sentinel string
	Event    Event
	// Type is the payload "type" of a data frame. Only DRIVER_TELEMETRY frames
	// populate Event.
	Type string
}

// IsTelemetry reports whether f carries a telemetry event.
func (f Frame) IsTelemetry() bool {
	return f.Kind == FrameData && f.Type == EventTypeDriverTelemetry
}

// IsClosing reports whether f is the server-initiated closing sentinel.
func (f Frame) IsClosing() bool {
	return f.Kind == FrameSentinel && f.Sentinel == SentinelClosing
}

// wireEvent is the JSON payload of a telemetry data frame.
type wireEvent struct {
	Type      string   `json:"type"`
	DriverID  string   `json:"driver_id"`
	State     string   `json:"state"`
	Location  Location `json:"location"`
	Timestamp int64    `json:"timestamp"`
}

// MarshalEvent returns the JSON payload of e.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:      EventTypeDriverTelemetry,
		DriverID:  e.VehicleID,
		State:     string(e.State),
		Location:  e.Location,
		Timestamp: e.Timestamp.UnixMilli(),
	})
}

// EncodeEvent returns the complete data frame for e.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := MarshalEvent(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telemetry event: %w", err)
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// EncodeSentinel returns the comment frame for name.
func EncodeSentinel(name string) []byte {
	return []byte(":" + name + "\n\n")
}

// ErrMalformedFrame is returned for data frames whose payload is not valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodePayload parses a data frame payload.
func DecodePayload(payload []byte) (Frame, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	frame := Frame{Kind: FrameData, Type: w.Type}
	if w.Type != EventTypeDriverTelemetry {
		return frame, nil
	}

	frame.Event = Event{
		VehicleID: w.DriverID,
		State:     DriverState(w.State),
		Location:  w.Location,
		Timestamp: time.UnixMilli(w.Timestamp),
	}
	return frame, nil
}

// Decoder reads frames from a text stream.
type Decoder struct {
	r *bufio.Reader
	// pending holds data lines of a frame whose terminating blank line has
	// not arrived yet. It survives sentinels returned in between.
	pending bytes.Buffer
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame. Comment lines are returned as sentinels as
// soon as they are read; data lines are accumulated until the blank line that
// terminates the frame. Other SSE fields (event, id, retry) are ignored.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				if d.pending.Len() > 0 {
					d.pending.Reset()
					return Frame{}, io.ErrUnexpectedEOF
				}
				return Frame{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Frame{}, err
			}
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if d.pending.Len() > 0 {
				frame, derr := DecodePayload(d.pending.Bytes())
				d.pending.Reset()
				return frame, derr
			}
		case strings.HasPrefix(line, ":"):
			return Frame{Kind: FrameSentinel, Sentinel: strings.TrimSpace(line[1:])}, nil
		case strings.HasPrefix(line, "data:"):
			if d.pending.Len() > 0 {
				d.pending.WriteByte('\n')
			}
			d.pending.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if err != nil {
			// EOF in the middle of a frame drops the partial frame.
			d.pending.Reset()
			return Frame{}, io.ErrUnexpectedEOF
		}
	}
}
