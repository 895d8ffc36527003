package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/giilbert/radix/internal/v1/logging"
	"go.uber.org/zap"
)

// SandboxChecker checks the health of the code-execution sandbox.
type SandboxChecker interface {
	Check(ctx context.Context, baseURL string) string
}

// DefaultSandboxChecker verifies HTTP connectivity to the Piston-compatible
// sandbox by requesting its runtime list.
type DefaultSandboxChecker struct {
	client *http.Client
}

// Check performs an HTTP GET against the sandbox's runtimes endpoint.
func (c *DefaultSandboxChecker) Check(ctx context.Context, baseURL string) string {
	if c.client == nil {
		c.client = &http.Client{Timeout: 3 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v2/runtimes", nil)
	if err != nil {
		logging.Error(ctx, "failed to build sandbox health check request", zap.Error(err))
		return "unhealthy"
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logging.Error(ctx, "sandbox health check failed", zap.Error(err), zap.String("addr", baseURL))
		return "unhealthy"
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logging.Warn(ctx, "sandbox is not serving", zap.Int("status", resp.StatusCode))
		return "unhealthy"
	}

	return "healthy"
}

// Handler manages health check endpoints.
type Handler struct {
	redisClient     *redis.Client
	sandboxURL      string
	sandboxEnabled  bool
	sandboxChecker  SandboxChecker
}

// NewHandler creates a new health check handler. redisClient may be nil if
// the judge result cache is disabled.
func NewHandler(redisClient *redis.Client) *Handler {
	sandboxURL := os.Getenv("PISTON_URL")
	if sandboxURL == "" {
		sandboxURL = "http://localhost:2000"
	}

	sandboxEnabled := os.Getenv("SANDBOX_HEALTH_CHECK_ENABLED")
	enabled := sandboxEnabled != "false"

	return &Handler{
		redisClient:    redisClient,
		sandboxURL:     sandboxURL,
		sandboxEnabled: enabled,
		sandboxChecker: &DefaultSandboxChecker{},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy.
// Returns 503 if any dependency is unhealthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.sandboxEnabled {
		sandboxStatus := h.checkSandbox(ctx)
		checks["sandbox"] = sandboxStatus
		if sandboxStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using the PING command. A nil
// client (cache disabled) is considered healthy, since Redis is optional.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisClient == nil {
		return "healthy"
	}

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkSandbox verifies HTTP connectivity to the code-execution sandbox.
func (h *Handler) checkSandbox(ctx context.Context) string {
	if h.sandboxChecker == nil {
		return "unhealthy"
	}
	return h.sandboxChecker.Check(ctx, h.sandboxURL)
}

// HealthCheckResponse is a generic health check response for backward
// compatibility with older probes.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
