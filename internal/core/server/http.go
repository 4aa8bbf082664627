package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

// Guard evaluates every request against the live policy before it reaches
// the wrapped handler. Blocked requests get 403 and never reach next.
type Guard struct {
	holder  *reload.Holder
	next    http.Handler
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewGuard wraps next. metrics may be nil.
func NewGuard(holder *reload.Holder, next http.Handler, metrics *telemetry.Metrics, logger zerolog.Logger) *Guard {
	return &Guard{
		holder:  holder,
		next:    next,
		metrics: metrics,
		logger:  logger.With().Str("component", "guard").Logger(),
	}
}

type blockedResponse struct {
	Error    string `json:"error"`
	Rule     string `json:"rule"`
	PolicyID string `json:"policy_id"`
}

func (g *Guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	attrs := types.AttributesFromHTTP(r)
	decision := g.holder.Load().Decide(attrs)
	if g.metrics != nil {
		g.metrics.ObserveDecision(decision, time.Since(start))
	}

	if decision.Blocked() {
		g.logger.Info().
			Str("method", attrs.Method).
			Str("path", attrs.URIPath).
			Str("rule", decision.MatchedRule).
			Str("policy_id", string(decision.PolicyID)).
			Msg("request blocked")

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(blockedResponse{
			Error:    "forbidden",
			Rule:     decision.MatchedRule,
			PolicyID: string(decision.PolicyID),
		})
		return
	}

	if len(decision.Overrides) > 0 {
		g.logger.Debug().
			Str("path", attrs.URIPath).
			Strs("overrides", decision.Overrides).
			Msg("override rules matched")
	}
	g.next.ServeHTTP(w, r)
}

// HTTPServer manages the guarded upload service lifecycle.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	config   config.ServerConfig
	logger   zerolog.Logger
}

// NewHTTPServer routes the metrics endpoint (when metrics is non-nil) around
// the guard and everything else through it.
func NewHTTPServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, guard *Guard, metrics *telemetry.Metrics, logger zerolog.Logger) (*HTTPServer, error) {
	if guard == nil {
		return nil, fmt.Errorf("guard cannot be nil")
	}

	mux := http.NewServeMux()
	if metrics != nil && metricsCfg.Enabled {
		mux.Handle(metricsCfg.Path, metrics.Handler())
	}
	mux.Handle("/", guard)

	return &HTTPServer{
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		config: cfg,
		logger: logger.With().Str("component", "http").Logger(),
	}, nil
}

// Handler exposes the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Listen binds the configured address. Start calls it when needed.
func (s *HTTPServer) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *HTTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("serving uploads")
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, bounded by ShutdownTimeout.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return fmt.Errorf("graceful shutdown failed, forced close: %w", err)
	}
	return nil
}
