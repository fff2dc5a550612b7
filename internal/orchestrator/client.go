package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Ranish-Garg/econos-master-agent/internal/authz"
	"github.com/Ranish-Garg/econos-master-agent/internal/core/resilience"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// workerClient dispatches the three worker endpoints named by spec §6's
// consumed HTTP interface, over one pooled client — the connection-pooling
// and header/trace-propagation discipline of
// services/orchestrator/task_executor.go's HTTPTaskExecutor, narrowed to
// exactly the three named calls instead of a generic template-resolved
// request. Each worker endpoint gets its own CircuitBreaker, so one
// misbehaving worker trips independently of the rest.
type workerClient struct {
	client *http.Client

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

func newWorkerClient() *workerClient {
	return &workerClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (c *workerClient) breakerFor(endpoint string) *resilience.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	b, ok := c.breakers[endpoint]
	if !ok {
		b = resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 1, 0.5, 10*time.Second, 3)
		c.breakers[endpoint] = b
	}
	return b
}

type authorizeRequest struct {
	Payload       map[string]any            `json:"payload"`
	Authorization *authz.SignedAuthorization `json:"authorization"`
}

// authorize posts {payload, authorization} to the worker's /authorize/:taskId
// and succeeds only on a 2xx response.
func (c *workerClient) authorize(ctx context.Context, endpoint, taskID string, params map[string]any, signed *authz.SignedAuthorization) error {
	body, err := json.Marshal(authorizeRequest{Payload: params, Authorization: signed})
	if err != nil {
		return fmt.Errorf("marshal authorize body: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + "/authorize/" + taskID
	resp, err := c.do(ctx, http.MethodPost, endpoint, url, taskID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return task.ErrDispatchFailed(resp.StatusCode)
	}
	return nil
}

type proofResponse struct {
	Success bool `json:"success"`
	Proof   *struct {
		ResultHash string `json:"resultHash"`
		Signature  string `json:"signature"`
	} `json:"proof"`
}

// fetchProof reads the worker's /proof/:taskId, purely informational — the
// task's own status, driven by C9 observing the chain, is authoritative.
func (c *workerClient) fetchProof(ctx context.Context, endpoint, taskID string) (*proofResponse, error) {
	url := strings.TrimRight(endpoint, "/") + "/proof/" + taskID
	resp, err := c.do(ctx, http.MethodGet, endpoint, url, taskID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, task.ErrDispatchFailed(resp.StatusCode)
	}
	var out proofResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode proof response: %w", err)
	}
	return &out, nil
}

type resultResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
}

// fetchResult reads the worker's /result/:taskId once C9 has observed
// TaskCompleted on-chain.
func (c *workerClient) fetchResult(ctx context.Context, endpoint, taskID string) (map[string]any, error) {
	url := strings.TrimRight(endpoint, "/") + "/result/" + taskID
	resp, err := c.do(ctx, http.MethodGet, endpoint, url, taskID, nil)
	if err != nil {
		return nil, task.ErrResultFetchFailed(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, task.ErrResultFetchFailed(fmt.Errorf("worker returned HTTP %d", resp.StatusCode))
	}
	var out resultResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&out); err != nil {
		return nil, task.ErrResultFetchFailed(err)
	}
	if !out.Success {
		return nil, task.ErrResultFetchFailed(fmt.Errorf("worker reported unsuccessful result"))
	}
	return out.Data, nil
}

func (c *workerClient) do(ctx context.Context, method, endpoint, url, taskID string, body io.Reader) (*http.Response, error) {
	breaker := c.breakerFor(endpoint)
	if !breaker.Allow() {
		return nil, task.ErrCircuitOpen(endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", taskID)
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := c.client.Do(req)
	if err != nil {
		breaker.RecordResult(false)
		return nil, fmt.Errorf("worker request failed: %w", err)
	}
	breaker.RecordResult(resp.StatusCode < 500)
	return resp, nil
}

// headerCarrier adapts http.Header for OpenTelemetry's text-map propagator,
// mirroring task_executor.go's headerCarrier.
type headerCarrier struct {
	header http.Header
}

func (hc *headerCarrier) Get(key string) string { return hc.header.Get(key) }
func (hc *headerCarrier) Set(key, value string) { hc.header.Set(key, value) }
func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.header))
	for k := range hc.header {
		keys = append(keys, k)
	}
	return keys
}
