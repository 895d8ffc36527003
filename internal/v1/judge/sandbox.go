package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/giilbert/radix/internal/v1/logging"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ExecutionResult is the raw outcome of running source code in the
// sandbox, before judge post-processing.
type ExecutionResult struct {
	Stdout    string
	Stderr    string
	RuntimeMs int64
}

// Sandbox is the external code-execution backend the spec treats as a
// collaborator: Execute(language, source) -> (stdout, stderr,
// runtimeMs) | Error, per spec.md §1.
type Sandbox interface {
	Execute(ctx context.Context, language, source string) (ExecutionResult, error)
}

// pistonClient calls a Piston-compatible HTTP sandbox at PISTON_URL,
// guarded by a circuit breaker so a flapping backend degrades to fast
// failures instead of stalling the single judge worker.
//
// Grounded on bus/redis.go's gobreaker-wrapped client construction,
// retargeted from Redis to the sandbox HTTP client.
type pistonClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

// NewPistonSandbox builds a Sandbox backed by an HTTP call to a
// Piston-compatible execution engine.
func NewPistonSandbox(baseURL string) Sandbox {
	st := gobreaker.Settings{
		Name:        "piston-sandbox",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			circuitBreakerState.WithLabelValues("sandbox").Set(v)
		},
	}
	return &pistonClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

type pistonRunRequest struct {
	Language string          `json:"language"`
	Version  string          `json:"version"`
	Files    []pistonFile    `json:"files"`
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonRunResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"run"`
}

var languageVersions = map[string]string{
	"python":     "3.12.0",
	"javascript": "20.11.1",
}

func (p *pistonClient) Execute(ctx context.Context, language, source string) (ExecutionResult, error) {
	start := time.Now()
	result, err := p.cb.Execute(func() (any, error) {
		body, err := json.Marshal(pistonRunRequest{
			Language: language,
			Version:  languageVersions[language],
			Files:    []pistonFile{{Content: source}},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal piston request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v2/execute", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build piston request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call piston: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("piston returned status %d", resp.StatusCode)
		}

		var parsed pistonRunResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode piston response: %w", err)
		}
		return parsed, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			logging.Warn(ctx, "sandbox circuit breaker open, failing fast")
			return ExecutionResult{}, fmt.Errorf("sandbox unavailable: %w", err)
		}
		logging.Error(ctx, "sandbox execution failed", zap.Error(err))
		return ExecutionResult{}, err
	}

	parsed := result.(pistonRunResponse)
	return ExecutionResult{
		Stdout:    parsed.Run.Stdout,
		Stderr:    parsed.Run.Stderr,
		RuntimeMs: time.Since(start).Milliseconds(),
	}, nil
}
