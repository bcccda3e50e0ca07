package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/auth"
	"github.com/roadbuddy/fleetwatch/internal/ingress"
	"github.com/roadbuddy/fleetwatch/internal/metrics"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/stream"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

const (
	apiV1 = "/api/v1"

	// maxBodyBytes bounds a telemetry submission.
	maxBodyBytes = 64 << 10

	defaultRecentLimit = 20
)

// RegisterRoutes registers every endpoint on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	ingest := s.authMiddleware.RequireScope(auth.ScopeTelemetryWrite)(http.HandlerFunc(s.handleIngest))

	submit := r.NewRoute().Subrouter()
	submit.Use(corsMiddleware)
	submit.Handle(apiV1+"/drivers/telemetry", ingest).Methods(http.MethodPut, http.MethodOptions)
	submit.Handle("/api/drivers/driver", ingest).Methods(http.MethodPut, http.MethodOptions)

	r.HandleFunc(apiV1+"/drivers/sse", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/api/drivers/sse", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc(apiV1+"/drivers/ws", s.handleWS).Methods(http.MethodGet)

	r.HandleFunc(apiV1+"/drivers", s.handleDrivers).Methods(http.MethodGet)
	r.HandleFunc(apiV1+"/drivers/{id}", s.handleDriver).Methods(http.MethodGet)

	r.HandleFunc(apiV1+"/events/recent", s.handleRecent).Methods(http.MethodGet)
	r.HandleFunc(apiV1+"/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// corsMiddleware adds the permissive CORS headers browsers need to submit
// telemetry and answers preflights.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIngest handles PUT /drivers/telemetry.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _ = body.Close() }()

	u, err := ingress.DecodeUpdate(body)
	if err == nil {
		_, err = s.ingress.Ingest(r.Context(), u)
	}
	s.audit.Record(r.Context(), ingress.SourceHTTP, u, err)

	if err != nil {
		if !ingress.IsValidation(err) {
			s.logger.Error("telemetry ingest failed", zap.Error(err))
		}
		writeAPIError(w, err)
		return
	}
	WriteOK(w)
}

// handleSSE handles GET /drivers/sse.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	transport := stream.NewSSETransport(w, s.streamCfg.WriteTimeout)
	session := stream.NewSession(s.bus, transport, s.streamCfg, s.logger)
	if err := session.Run(r.Context()); err != nil {
		s.logger.Warn("stream session failed to open", zap.Error(err))
	}
}

// handleWS handles GET /drivers/ws.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := stream.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	transport := stream.NewWSTransport(conn, s.streamCfg.WriteTimeout)
	defer func() { _ = transport.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go transport.ReadPump(cancel)

	if err := stream.NewSession(s.bus, transport, s.streamCfg, s.logger).Run(ctx); err != nil {
		s.logger.Warn("stream session failed to open", zap.Error(err))
	}
}

// handleDrivers handles GET /drivers and GET /drivers?id=.
func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		s.writeDriver(w, r, id)
		return
	}

	drivers, err := s.roster.Drivers(r.Context())
	if err != nil {
		s.logger.Error("failed to list drivers", zap.Error(err))
		writeAPIError(w, err)
		return
	}
	if drivers == nil {
		drivers = []roster.Driver{}
	}
	WriteJSON(w, http.StatusOK, drivers)
}

// handleDriver handles GET /drivers/{id}.
func (s *Server) handleDriver(w http.ResponseWriter, r *http.Request) {
	s.writeDriver(w, r, mux.Vars(r)["id"])
}

func (s *Server) writeDriver(w http.ResponseWriter, r *http.Request, id string) {
	driver, err := s.roster.Driver(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, driver)
}

// handleRecent handles GET /events/recent.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events := s.bus.Recent(limit)
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		data, err := telemetry.MarshalEvent(e)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out = append(out, data)
	}
	WriteJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime":      int64(time.Since(s.startTime).Seconds()),
		"subscribers": s.bus.Len(),
		"auth":        s.authMiddleware.Enabled(),
	})
}
