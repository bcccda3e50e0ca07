package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/bus"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Conn is a viewer-side stream connection.
type Conn interface {
	// Next blocks until the next frame arrives. It returns io.EOF when the
	// server ended the stream cleanly.
	Next() (telemetry.Frame, error)
	Close() error
}

// Source dials stream connections.
type Source interface {
	Connect(ctx context.Context) (Conn, error)
}

var (
	_ Source = (*LocalSource)(nil)
	_ Source = (*HTTPSource)(nil)
	_ Source = (*WSSource)(nil)
)

// LocalSource serves a Session over an in-memory pipe. The frames are the
// exact bytes an SSE viewer would receive.
type LocalSource struct {
	bus    *bus.Bus
	cfg    config.StreamConfig
	logger *zap.Logger
}

// NewLocalSource returns a Source attached directly to b.
func NewLocalSource(b *bus.Bus, cfg config.StreamConfig, logger *zap.Logger) *LocalSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSource{bus: b, cfg: cfg, logger: logger}
}

// Connect starts a session and returns its read side. The stream ends with
// io.EOF once the session closes.
func (s *LocalSource) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	sessionCtx, cancel := context.WithCancel(context.Background())

	session := NewSession(s.bus, &pipeTransport{w: pw}, s.cfg, s.logger)
	go func() {
		_ = pw.CloseWithError(session.Run(sessionCtx))
	}()

	return &localConn{
		dec:    telemetry.NewDecoder(pr),
		r:      pr,
		cancel: cancel,
	}, nil
}

type localConn struct {
	dec    *telemetry.Decoder
	r      *io.PipeReader
	cancel context.CancelFunc
	once   sync.Once
}

func (c *localConn) Next() (telemetry.Frame, error) {
	return c.dec.Next()
}

func (c *localConn) Close() error {
	c.once.Do(func() {
		c.cancel()
		_ = c.r.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}

// pipeTransport writes frames into an io.Pipe.
type pipeTransport struct {
	w *io.PipeWriter
}

func (t *pipeTransport) WriteFrame(frame []byte) error {
	_, err := t.w.Write(frame)
	return err
}

func (t *pipeTransport) Flush() error { return nil }

func (t *pipeTransport) Name() string { return "local" }

// HTTPSource dials an SSE endpoint.
type HTTPSource struct {
	client *resty.Client
	url    string
}

// NewHTTPSource returns a Source reading the event stream at url. client may
// be nil; it must not carry a request timeout since streams are long-lived.
func NewHTTPSource(url string, client *resty.Client) *HTTPSource {
	if client == nil {
		client = resty.New()
	}
	return &HTTPSource{client: client, url: url}
}

// Connect issues the GET and returns a decoder over the response body.
func (s *HTTPSource) Connect(ctx context.Context) (Conn, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), s.url)
	}

	return &readerConn{dec: telemetry.NewDecoder(body), body: body}, nil
}

type readerConn struct {
	dec  *telemetry.Decoder
	body io.ReadCloser
}

func (c *readerConn) Next() (telemetry.Frame, error) {
	return c.dec.Next()
}

func (c *readerConn) Close() error {
	return c.body.Close()
}

// WSSource dials a WebSocket stream endpoint.
type WSSource struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSSource returns a Source for the ws:// or wss:// url.
func NewWSSource(url string) *WSSource {
	return &WSSource{url: url, dialer: websocket.DefaultDialer}
}

// Connect performs the WebSocket handshake.
func (s *WSSource) Connect(ctx context.Context) (Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", s.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Next reads one message; each message holds exactly one frame.
func (c *wsConn) Next() (telemetry.Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return telemetry.Frame{}, io.EOF
		}
		return telemetry.Frame{}, err
	}
	return telemetry.NewDecoder(bytes.NewReader(msg)).Next()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
