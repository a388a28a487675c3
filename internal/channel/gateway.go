// Package channel exposes the ticket agent over HTTP.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"supportdesk/internal/agent"
	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
	"supportdesk/internal/security"
)

const gatewayMaxBodySize = 1 << 20 // 1MB

// AgentHandler runs one agent request. *agent.Agent implements it.
type AgentHandler interface {
	Handle(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Pinger reports backend health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gateway serves POST /v1/agent, GET /healthz and the metrics endpoint.
type Gateway struct {
	host            string
	port            int
	apiKey          string
	metricsEndpoint string
	agent           AgentHandler
	health          Pinger
	limiter         *UserLimiter
	logger          *slog.Logger
	server          *http.Server
}

type GatewayConfig struct {
	Host            string
	Port            int
	APIKey          string // optional: Bearer token required when set
	MetricsEndpoint string // optional: metrics are not served when empty
	RatePerMinute   float64
	Burst           int
	Agent           AgentHandler
	Health          Pinger // optional
	Logger          *slog.Logger
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gateway{
		host:            cfg.Host,
		port:            cfg.Port,
		apiKey:          cfg.APIKey,
		metricsEndpoint: cfg.MetricsEndpoint,
		agent:           cfg.Agent,
		health:          cfg.Health,
		logger:          cfg.Logger,
	}
	if cfg.RatePerMinute > 0 {
		g.limiter = NewUserLimiter(cfg.Burst, cfg.RatePerMinute)
	}
	return g
}

// Handler returns the routed mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agent", g.handleAgent)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	if g.metricsEndpoint != "" {
		mux.Handle("GET "+g.metricsEndpoint, metrics.Collector.Handler())
	}
	return mux
}

// Addr is the listen address.
func (g *Gateway) Addr() string {
	return net.JoinHostPort(g.host, strconv.Itoa(g.port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	g.server = &http.Server{
		Addr:              g.Addr(),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second, // allow time for LLM response
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g.logger.Info("agent gateway started", "addr", g.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("agent gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("agent gateway: %w", err)
		}
		return nil
	}
}

// SweepLimiter evicts refilled rate-limit buckets every interval until ctx
// is cancelled. It returns immediately when rate limiting is off.
func (g *Gateway) SweepLimiter(ctx context.Context, interval time.Duration) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.RunSweeper(ctx, interval, g.logger)
}

type agentResponse struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (g *Gateway) handleAgent(rw http.ResponseWriter, r *http.Request) {
	if g.apiKey != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || !security.CheckAPIKey(g.apiKey, strings.TrimPrefix(auth, "Bearer ")) {
			writeError(rw, http.StatusUnauthorized, "unauthenticated", "invalid API key")
			return
		}
	}

	// Buckets key on the client address, never on request fields.
	if g.limiter != nil {
		if ok, wait := g.limiter.Allow(clientIP(r)); !ok {
			rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(rw, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, gatewayMaxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "bad_request", "cannot read request body")
		return
	}

	var req agent.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	res, err := g.agent.Handle(r.Context(), req)
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("agent request failed", "ticket", req.TicketID, "kind", kind, "error", err)
		} else {
			g.logger.Warn("agent request rejected", "ticket", req.TicketID, "kind", kind, "error", err)
		}
		writeError(rw, status, kind, err.Error())
		return
	}

	writeJSON(rw, http.StatusOK, agentResponse{Message: res.Message})
}

func (g *Gateway) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if g.health != nil {
		if err := g.health.Ping(r.Context()); err != nil {
			writeError(rw, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

// classify maps pipeline errors to an HTTP status and error kind.
func classify(err error) (int, string) {
	var (
		authErr  *domain.AuthorizationError
		interErr *domain.InterpreterError
		protoErr *domain.ProtocolError
		execErr  *domain.ExecutionError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusForbidden, "authorization"
	case errors.As(err, &interErr):
		return http.StatusBadGateway, "interpreter"
	case errors.As(err, &protoErr):
		return http.StatusUnprocessableEntity, "protocol"
	case errors.As(err, &execErr):
		return http.StatusInternalServerError, "execution"
	case errors.Is(err, domain.ErrTicketNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrEmptyInstruction):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, kind, message string) {
	writeJSON(rw, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
