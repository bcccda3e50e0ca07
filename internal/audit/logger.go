package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roadbuddy/fleetwatch/internal/auth"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/ingress"
)

// Outcome codes.
const (
	CodeAccepted     = "ACCEPTED"
	CodeMissingField = "MISSING_FIELD"
	CodeInvalidField = "INVALID_FIELD"
	CodeMalformed    = "MALFORMED"
	CodeTooLarge     = "TOO_LARGE"
	CodeError        = "ERROR"
)

// Anonymous is recorded when a submission carries no verified token.
const Anonymous = "anonymous"

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Subject   string    `json:"sub"`
	Source    string    `json:"source"`
	VehicleID string    `json:"vehicleId,omitempty"`
	State     string    `json:"state,omitempty"`
	Code      string    `json:"code"`
	Error     string    `json:"error,omitempty"`
}

// Logger appends entries to a writer. A nil *Logger discards everything.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
	logger *zap.Logger
}

// New opens the rotated trail described by cfg. It returns nil when
// cfg.File is empty.
func New(cfg config.AuditConfig, logger *zap.Logger) *Logger {
	if cfg.File == "" {
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	l := NewWriter(rotator, logger)
	l.closer = rotator
	return l
}

// NewWriter returns a Logger appending to w.
func NewWriter(w io.Writer, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{w: w, now: time.Now, logger: logger.Named("audit")}
}

// Record logs the outcome of one submission. err is the decode or ingest
// error, nil when the update was accepted.
func (l *Logger) Record(ctx context.Context, source string, u ingress.Update, err error) {
	if l == nil {
		return
	}

	entry := Entry{
		Timestamp: l.now().UTC(),
		Subject:   subject(ctx),
		Source:    source,
		Code:      Code(err),
	}
	if u.DriverID != nil {
		entry.VehicleID = *u.DriverID
	}
	if u.State != nil {
		entry.State = *u.State
	}
	if err != nil {
		entry.Error = err.Error()
	}
	l.write(entry)
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", zap.Error(err))
	}
}

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}

// Code maps a submission error onto its outcome code.
func Code(err error) string {
	if err == nil {
		return CodeAccepted
	}

	var ve *ingress.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return CodeTooLarge
	case errors.As(err, &ve) && ve.Kind == ingress.MissingField:
		return CodeMissingField
	case errors.As(err, &ve):
		return CodeInvalidField
	case errors.Is(err, ingress.ErrMalformedBody):
		return CodeMalformed
	default:
		return CodeError
	}
}

func subject(ctx context.Context) string {
	if claims := auth.ClaimsFromContext(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return Anonymous
}
