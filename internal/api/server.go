// Package api exposes order intake over HTTP and per-order status
// streams over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/registry"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

const maxRequestBody = 64 << 10

// Intake accepts orders. *engine.Engine implements it.
type Intake interface {
	Execute(ctx context.Context, amount decimal.Decimal) (types.Acceptance, error)
	InFlight() int64
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg      config.ServerConfig
	wsCfg    config.WebSocketConfig
	intake   Intake
	registry *registry.Registry
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	httpServer *http.Server
	streamCtx  context.Context
	stopStream context.CancelFunc
}

// NewServer wires the routes. gatherer may be nil, in which case /metrics
// is not served.
func NewServer(cfg config.ServerConfig, wsCfg config.WebSocketConfig, intake Intake, reg *registry.Registry, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		wsCfg:    wsCfg,
		intake:   intake,
		registry: reg,
		gatherer: gatherer,
		logger:   logging.Component("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.streamCtx, s.stopStream = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	s.httpServer.RegisterOnShutdown(s.stopStream)
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders/execute", s.handleExecute)
	mux.HandleFunc("GET /ws/orders/{orderId}", s.handleOrderStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is
// not reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes open status streams.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type executeRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type healthResponse struct {
	OK            bool  `json:"ok"`
	InFlight      int64 `json:"inFlight"`
	Subscriptions int   `json:"subscriptions"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil || req.Amount == nil {
		s.writeError(w, types.NewError(types.ErrMalformedRequest, `request body must be {"amount": number}`, err))
		return
	}

	acc, err := s.intake.Execute(r.Context(), *req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:            true,
		InFlight:      s.intake.InFlight(),
		Subscriptions: s.registry.Len(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case types.ErrMalformedRequest:
		status = http.StatusBadRequest
	case types.ErrCapacityExceeded, types.ErrCancelled:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: types.PublicMessage(err), Code: code.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// originChecker allows requests without an Origin header, and otherwise
// only the configured origins. "*" or an empty list allows any origin,
// matching the CORS defaults.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
