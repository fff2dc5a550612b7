// Command master is the Econos Master Agent process: it wires every
// component (C1-C12) into one binary, starts the lifecycle monitor's two
// background loops alongside the HTTP and gRPC transports, and drains
// cleanly on SIGINT/SIGTERM. Structure follows
// services/orchestrator/main.go's realMain shape (logging.Init →
// signal.NotifyContext → otelinit.InitTracer/InitMetrics → build servers →
// run until ctx.Done() → graceful shutdown → otelinit.Flush), generalized
// from that file's single in-process HTTP mux to this system's HTTP +
// gRPC pair plus two background loops.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/Ranish-Garg/econos-master-agent/internal/adminplane"
	"github.com/Ranish-Garg/econos-master-agent/internal/apiserver"
	"github.com/Ranish-Garg/econos-master-agent/internal/authz"
	"github.com/Ranish-Garg/econos-master-agent/internal/capability"
	"github.com/Ranish-Garg/econos-master-agent/internal/chain"
	"github.com/Ranish-Garg/econos-master-agent/internal/config"
	"github.com/Ranish-Garg/econos-master-agent/internal/core/logging"
	"github.com/Ranish-Garg/econos-master-agent/internal/core/otelinit"
	"github.com/Ranish-Garg/econos-master-agent/internal/directory"
	"github.com/Ranish-Garg/econos-master-agent/internal/lifecycle"
	"github.com/Ranish-Garg/econos-master-agent/internal/orchestrator"
	"github.com/Ranish-Garg/econos-master-agent/internal/planner"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
	"github.com/Ranish-Garg/econos-master-agent/internal/task/store"
	"github.com/Ranish-Garg/econos-master-agent/internal/taskmanager"
)

const serviceName = "econos-master-agent"

func main() {
	logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, serviceName)
	meter := otel.GetMeterProvider().Meter(serviceName)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration", "error", err)
		return
	}

	privateKey, err := parsePrivateKey(cfg.MasterPrivateKey)
	if err != nil {
		slog.Error("master private key", "error", err)
		return
	}

	taskStore, err := store.Open(cfg.DataDir, meter)
	if err != nil {
		slog.Error("open task store", "error", err)
		return
	}
	defer taskStore.Close()

	chainGW, err := chain.Dial(ctx, chain.Config{
		RPCURL:             cfg.ChainRPCURL,
		ChainID:            cfg.ChainID,
		BlockConfirmations: cfg.BlockConfirmations,
		MasterPrivateKey:   privateKey,
		MasterAddress:      common.HexToAddress(cfg.MasterAddress),
		EscrowAddress:      common.HexToAddress(cfg.EscrowAddress),
		RegistryAddress:    common.HexToAddress(cfg.RegistryAddress),
	}, cfg.DataDir, meter)
	if err != nil {
		slog.Error("dial chain gateway", "error", err)
		return
	}
	defer chainGW.Close()

	policy, err := taskmanager.NewPolicyEngine(ctx, meter)
	if err != nil {
		slog.Error("compile budget policy", "error", err)
		return
	}

	manager := taskmanager.New(taskStore, keccakHasher, policy, meter)

	// Reputation is deferred to a future registry RPC (C1 exposes none
	// today); every worker reports the same floor so StrategyReputation
	// degrades to an availability filter rather than a ranking.
	reputation := func(_ context.Context, _ string) int { return cfg.MinReputation }
	index := capability.New(cfg.CapabilityCacheInterval, reputation, "", meter)
	go func() {
		if err := index.Start(ctx); err != nil {
			slog.Error("capability index stopped", "error", err)
		}
	}()

	isActive := func(ctx context.Context, address string) (bool, error) {
		return chainGW.IsWorkerActive(ctx, common.HexToAddress(address))
	}
	dir := directory.New(index, isActive, cfg.MinReputation)

	domain := authz.Domain{
		Name:              "Econos Master Agent",
		Version:           "1",
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(cfg.EscrowAddress),
	}
	signer := authz.New(domain, privateKey)

	pruneSched := cron.New()
	if _, err := pruneSched.AddFunc("@hourly", func() {
		signer.PruneNoncesOlderThan(cfg.NonceRetention)
	}); err != nil {
		slog.Error("schedule nonce pruning", "error", err)
		return
	}
	pruneSched.Start()
	defer pruneSched.Stop()

	pl := planner.New(singleStepAnalyzer{}, index)

	orch := orchestrator.New(manager, chainGW, signer, dir, meter)

	bus, err := lifecycle.NewEventBus(cfg.NATSURL)
	if err != nil {
		slog.Error("start lifecycle event bus", "error", err)
		return
	}
	defer bus.Close()

	monitor := lifecycle.New(chainGW, manager, lifecycle.Callbacks{
		OnTaskComplete: func(t *task.Task) {
			bus.Publish(lifecycle.LifecycleEvent{TaskID: t.TaskID, Status: t.Status})
		},
		OnTaskRefund: func(t *task.Task) {
			bus.Publish(lifecycle.LifecycleEvent{TaskID: t.TaskID, Status: t.Status})
		},
		OnTaskFail: func(t *task.Task, cause error) {
			bus.Publish(lifecycle.LifecycleEvent{TaskID: t.TaskID, Status: t.Status, Cause: cause.Error()})
		},
	}, cfg.ExpirationCheckInterval, meter)
	if err := monitor.Start(ctx); err != nil {
		slog.Error("start lifecycle monitor", "error", err)
		return
	}

	apiSrv := apiserver.New(manager, orch, pl, index, apiserver.Config{
		JWTSigningKey:   cfg.JWTSigningKey,
		ExecDeadline:    cfg.AuthorizationDefaultValidity,
		RateLimitPerMin: 120,
		MetricsHandler:  promHandler,
	}, meter)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	adminSrv := adminplane.New(manager, monitor, orch)
	grpcSrv := grpc.NewServer()
	adminplane.Register(grpcSrv, adminSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("listen grpc", "error", err)
		cancel()
	} else {
		go func() {
			if err := grpcSrv.Serve(grpcLis); err != nil {
				slog.Error("grpc server error", "error", err)
			}
		}()
	}

	slog.Info("service started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	apiSrv.Stop()
	grpcSrv.GracefulStop()
	_ = monitor.Stop(shutdownCtx)

	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

func keccakHasher(taskID string) [32]byte {
	return [32]byte(crypto.Keccak256Hash([]byte(taskID)))
}

// singleStepAnalyzer is the default planner.Analyzer: it treats the whole
// request as one step bound to whichever known service type appears as a
// substring of the request text. C7's Analyzer is an external, pluggable
// collaborator per spec §1's Non-goals; this is the in-process fallback so
// /chat has a usable decomposition with no external NLP service deployed.
type singleStepAnalyzer struct{}

func (a singleStepAnalyzer) Analyze(ctx context.Context, requestText string, capabilities *task.CapabilitySummary) (*planner.AnalyzerResponse, error) {
	lower := strings.ToLower(requestText)
	for serviceType := range capabilities.ByServiceType {
		if strings.Contains(lower, strings.ToLower(string(serviceType))) {
			return &planner.AnalyzerResponse{
				IsSingleAgent: true,
				Steps: []planner.AnalyzerStep{{
					Order:       0,
					ServiceType: serviceType,
					Description: requestText,
					InputSource: task.InputSourceUser,
				}},
				Reasoning:  "matched service type by keyword",
				Confidence: 0.5,
			}, nil
		}
	}
	return nil, fmt.Errorf("no known service type matched request: %q", requestText)
}
