// Package apiserver implements C11, the HTTP transport exposing
// Orchestrator.Execute over spec §6's /hire and /chat surface. The
// middleware chain (logging → auth → rate limit → handler) and its
// ordering are carried verbatim from services/api-gateway/gateway_v2.go's
// realMainV2 wiring, with the gateway's hand-rolled bearer check replaced
// by golang-jwt/jwt/v5 and its PerKeyRateLimiter replaced by
// internal/core/resilience.HybridRateLimiter — the same token-bucket plus
// leaky-bucket limiter C2 uses to smooth its manifest polling, reused here
// as one server-wide limiter. Only its token-bucket Allow path is used: a
// request that finds no token is rejected with 429, not queued.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Ranish-Garg/econos-master-agent/internal/core/resilience"
	"github.com/Ranish-Garg/econos-master-agent/internal/orchestrator"
	"github.com/Ranish-Garg/econos-master-agent/internal/planner"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

const serviceName = "econos-master-agent"

// TaskManager is the subset of C6 this package depends on.
type TaskManager interface {
	Get(ctx context.Context, taskID string) (*task.Task, error)
}

// Executor is the subset of C10 this package depends on.
type Executor interface {
	Execute(ctx context.Context, plan *task.ExecutionPlan, requestParams map[string]any, opts orchestrator.Options) (*task.PipelineExecutionResult, error)
}

// Planner is the subset of C7 this package depends on.
type Planner interface {
	Plan(ctx context.Context, requestText string, opts planner.Options) (*task.ExecutionPlan, error)
}

// CapabilityIndex is the subset of C2 this package depends on.
type CapabilityIndex interface {
	FindCheapest(serviceType task.Type) (*task.Offer, bool)
}

// Config configures a Server.
type Config struct {
	JWTSigningKey   string
	ExecDeadline    time.Duration // default task deadline window for /hire and /chat
	MaxBudget       uint64
	RateLimitPerMin int64
	MetricsHandler  http.Handler // mounted at /metrics if non-nil
}

// Server is C11.
type Server struct {
	tasks   TaskManager
	exec    Executor
	planner Planner
	index   CapabilityIndex
	cfg     Config
	limiter *resilience.HybridRateLimiter
	jwtKey  []byte

	// execBreaker guards the exposed API surface's one downstream
	// dependency reachable from every handler: Executor.Execute, which
	// ultimately dispatches to worker HTTP. Independent of the per-worker
	// breakers inside orchestrator.workerClient — this one protects the
	// API surface itself from piling up requests against an executor
	// that is failing broadly (e.g. a saturated chain gateway).
	execBreaker *resilience.CircuitBreaker

	reqCounter metric.Int64Counter
	latency    metric.Float64Histogram
}

// New constructs the mux-backed Server.
func New(tasks TaskManager, exec Executor, pl Planner, index CapabilityIndex, cfg Config, meter metric.Meter) *Server {
	if cfg.ExecDeadline <= 0 {
		cfg.ExecDeadline = time.Hour
	}
	rl := cfg.RateLimitPerMin
	if rl <= 0 {
		rl = 120
	}
	reqCounter, _ := meter.Int64Counter("econos_api_requests_total")
	latency, _ := meter.Float64Histogram("econos_api_latency_ms")

	leakRate := time.Minute / time.Duration(rl)

	return &Server{
		tasks:      tasks,
		exec:       exec,
		planner:    pl,
		index:      index,
		cfg:        cfg,
		limiter:     resilience.NewHybridRateLimiter(int(rl), float64(rl)/60.0, int(rl), leakRate),
		jwtKey:      []byte(cfg.JWTSigningKey),
		execBreaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 15*time.Second, 3),
		reqCounter:  reqCounter,
		latency:     latency,
	}
}

// Handler builds the full mux with middleware applied per spec's ordering.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("/metrics", s.cfg.MetricsHandler)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /hire", s.handleHire)
	protected.HandleFunc("POST /chat", s.handleChat)
	protected.HandleFunc("GET /tasks/{id}", s.handleGetTask)

	mux.Handle("/", s.loggingMiddleware(s.authMiddleware(s.rateLimitMiddleware(protected))))
	return mux
}

// Stop releases the rate limiter's background workers. Callers should
// invoke it once the server's listener has stopped accepting connections.
func (s *Server) Stop() {
	s.limiter.Stop()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

type hireRequest struct {
	TaskType task.Type      `json:"taskType"`
	Params   map[string]any `json:"params"`
}

func (s *Server) handleHire(w http.ResponseWriter, r *http.Request) {
	var req hireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.TaskType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "taskType is required"})
		return
	}

	offer, ok := s.index.FindCheapest(req.TaskType)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": task.ErrNoWorkerForService(req.TaskType).Error()})
		return
	}
	price, _ := offer.PriceFor(req.TaskType)

	deadline := time.Now().Add(s.cfg.ExecDeadline).Unix()
	plan := &task.ExecutionPlan{
		PlanID:          newRequestID(),
		EstimatedBudget: price,
		Steps: []task.Step{{
			StepID:         newRequestID(),
			Order:          0,
			ServiceType:    req.TaskType,
			InputMapping:   task.InputMapping{Kind: task.MappingDirect},
			AssignedWorker: offer.Address,
			WorkerEndpoint: offer.Endpoint,
			Price:          price,
			Status:         task.StepPending,
		}},
	}

	result, err := s.executeGuarded(r.Context(), plan, req.Params, deadline)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	plan, err := s.planner.Plan(r.Context(), req.Message, planner.Options{MaxBudget: s.cfg.MaxBudget})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	deadline := time.Now().Add(s.cfg.ExecDeadline).Unix()
	result, err := s.executeGuarded(r.Context(), plan, map[string]any{"message": req.Message}, deadline)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// executeGuarded wraps the one downstream call every handler ultimately
// reaches — Executor.Execute — in the server-wide CircuitBreaker, so a
// broadly failing executor (chain gateway down, every worker unreachable)
// trips open instead of every request blocking out to its own deadline.
func (s *Server) executeGuarded(ctx context.Context, plan *task.ExecutionPlan, params map[string]any, deadline int64) (*task.PipelineExecutionResult, error) {
	if !s.execBreaker.Allow() {
		return nil, task.ErrCircuitOpen("executor")
	}
	result, err := s.exec.Execute(ctx, plan, params, orchestrator.Options{Deadline: deadline})
	s.execBreaker.RecordResult(err == nil)
	return result, err
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	t, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
