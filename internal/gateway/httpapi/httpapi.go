// Package httpapi implements the HTTP API gateway for Kiongozi.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/uuid"

	"github.com/bassmang/kiongozi/internal/orchestrator"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8080"
	EnableDocs bool
	APIKeys    map[string]string // API key → user ID mapping. Keys from env.

	// Observability
	MetricsRegistry *prometheus.Registry // Custom Prometheus registry for /metrics.
	MetricsPath     string               // Path for metrics endpoint. Default: "/metrics".
}

// Gateway is the HTTP API gateway over the run engine.
type Gateway struct {
	config Config
	engine orchestrator.RunEngine
	logger *slog.Logger
	server *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket event
	// stream endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, engine orchestrator.RunEngine, logger *slog.Logger) *Gateway {
	return &Gateway{
		config: cfg,
		engine: engine,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket event endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Kiongozi",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Run endpoints.
	g.group.Post("/runs", g.handleRunSubmit,
		okapi.DocSummary("Submit a new task run"),
		okapi.DocTags("Runs"),
		okapi.DocRequestBody(RunSubmitRequest{}),
		okapi.DocResponse(http.StatusAccepted, RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/runs", g.handleRunList,
		okapi.DocSummary("List all runs, newest first"),
		okapi.DocTags("Runs"),
		okapi.DocResponse([]RunResponse{}),
	)
	g.group.Get("/runs/{id}", g.handleRunStatus,
		okapi.DocSummary("Get run status"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/runs/{id}/cancel", g.handleRunCancel,
		okapi.DocSummary("Cancel a running run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/runs/{id}/checkpoints", g.handleRunCheckpoints,
		okapi.DocSummary("List the per-turn checkpoint audit trail of a run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse([]CheckpointResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/runs/{id}/messages", g.handleRunMessages,
		okapi.DocSummary("List the persisted transcript of a run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse([]MessageResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., WebSocket event endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// RunSubmitRequest is the JSON body for POST /v1/runs.
type RunSubmitRequest struct {
	Task     string `json:"task"`
	MaxTurns int    `json:"max_turns,omitempty"` // 0 = engine default.
}

// RunResponse is the JSON response for run endpoints.
type RunResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Task          string `json:"task"`
	Outcome       string `json:"outcome,omitempty"`
	Turns         int    `json:"turns"`
	TimesStalled  int    `json:"times_stalled"`
	Plan          string `json:"plan,omitempty"`
	Facts         string `json:"facts,omitempty"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func (g *Gateway) handleRunSubmit(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	var req RunSubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Task == "" {
		return c.AbortBadRequest("task is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http run submission",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
	)

	run, err := g.engine.Submit(c.Context(), &orchestrator.RunRequest{
		Task:     req.Task,
		MaxTurns: req.MaxTurns,
	})
	if err != nil {
		g.logger.Error("run submission failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("run submission failed")
	}

	resp := toRunResponse(run)
	resp.CorrelationID = correlationID
	return c.JSON(http.StatusAccepted, resp)
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	runs, err := g.engine.List(c.Context())
	if err != nil {
		return c.AbortInternalServerError("listing runs failed")
	}

	resp := make([]RunResponse, len(runs))
	for i := range runs {
		resp[i] = toRunResponse(&runs[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleRunStatus(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	run, err := g.engine.Status(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}
	return c.OK(toRunResponse(run))
}

func (g *Gateway) handleRunCancel(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	if err := g.engine.Cancel(c.Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}
	return c.OK(map[string]string{"status": "cancelled"})
}

// CheckpointResponse is one entry of a run's checkpoint audit trail.
type CheckpointResponse struct {
	Turn        int    `json:"turn"`
	Plan        string `json:"plan"`
	Evaluation  int    `json:"evaluation"`
	Instruction string `json:"instruction"`
	CreatedAt   string `json:"created_at"`
}

func (g *Gateway) handleRunCheckpoints(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	cps, err := g.engine.ListCheckpoints(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}

	resp := make([]CheckpointResponse, len(cps))
	for i, cp := range cps {
		resp[i] = CheckpointResponse{
			Turn:        cp.Turn,
			Plan:        cp.Plan,
			Evaluation:  cp.Evaluation,
			Instruction: cp.Instruction,
			CreatedAt:   cp.CreatedAt.Format(time.RFC3339),
		}
	}
	return c.OK(resp)
}

// MessageResponse is one persisted transcript entry of a run.
type MessageResponse struct {
	Role      string `json:"role"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	Visible   bool   `json:"visible"`
	CreatedAt string `json:"created_at"`
}

func (g *Gateway) handleRunMessages(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	msgs, err := g.engine.ListMessages(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}

	resp := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		resp[i] = MessageResponse{
			Role:      m.Role,
			Speaker:   m.Speaker,
			Content:   m.Content,
			Visible:   m.Visible,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}
	return c.OK(resp)
}

// HealthResponse is the JSON response for GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// --- Helpers ---

func toRunResponse(run *orchestrator.Run) RunResponse {
	resp := RunResponse{
		ID:           run.ID.String(),
		Status:       string(run.Status),
		Task:         run.Task,
		Outcome:      string(run.Outcome),
		Turns:        run.Turns,
		TimesStalled: run.TimesStalled,
		Plan:         run.Plan,
		Facts:        run.Facts,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
