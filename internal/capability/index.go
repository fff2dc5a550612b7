// Package capability implements C2, the Capability Index: polls each known
// worker's manifest endpoint on a fixed interval, aggregates offers by
// service type, and serves cached reads so C7's planning loop never blocks
// on a worker's network latency. The polling-plus-cache shape and its
// fsnotify-driven local-file reload are adapted from
// services/policy-service/main.go's opaManager (Load/Watch/debounce), moved
// from rego-file hot reload to a worker-manifest poll.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ranish-Garg/econos-master-agent/internal/core/resilience"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// manifestResponse is the worker sidecar's GET /manifest payload, per
// spec §6's external interface.
type manifestResponse struct {
	Worker struct {
		Address string `json:"address"`
		ChainID uint64 `json:"chainId"`
		RPCURL  string `json:"rpcUrl"`
	} `json:"worker"`
	Services []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		PriceWei    uint64 `json:"priceWei"`
		Endpoint    string `json:"endpoint"`
		Version     string `json:"version"`
	} `json:"services"`
	Protocol struct {
		PaymentHeader string `json:"paymentHeader"`
	} `json:"protocol"`
	Timestamp int64 `json:"timestamp"`
}

// ReputationLookup resolves a worker's current reputation score, normally
// backed by the registry contract (C1) or an off-chain reputation cache.
type ReputationLookup func(ctx context.Context, workerAddress string) int

// Index is C2.
type Index struct {
	httpClient *http.Client
	reputation ReputationLookup
	interval   time.Duration
	allowlist  string

	mu       sync.RWMutex
	known    []string // worker endpoints polled each tick
	summary  *task.CapabilitySummary

	fetchLimiter *resilience.HybridRateLimiter

	pollLatency   metric.Float64Histogram
	pollFailures  metric.Int64Counter
}

// New constructs a Capability Index polling interval (default 60s per
// spec §6) and optionally hot-reloading knownWorkersFile (a newline-
// delimited list of endpoints).
func New(interval time.Duration, reputation ReputationLookup, knownWorkersFile string, meter metric.Meter) *Index {
	pollLatency, _ := meter.Float64Histogram("econos_capability_poll_latency_ms")
	pollFailures, _ := meter.Int64Counter("econos_capability_poll_failures_total")

	return &Index{
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		reputation:   reputation,
		interval:     interval,
		allowlist:    knownWorkersFile,
		summary:      &task.CapabilitySummary{ByServiceType: make(map[task.Type][]task.Offer)},
		fetchLimiter: resilience.NewHybridRateLimiter(8, 4.0, 64, 50*time.Millisecond),
		pollLatency:  pollLatency,
		pollFailures: pollFailures,
	}
}

// Start begins the polling loop and, if an allowlist file was configured,
// the fsnotify watch that reloads it on change. Blocks until ctx is done.
func (idx *Index) Start(ctx context.Context) error {
	if idx.allowlist != "" {
		if err := idx.reloadAllowlist(); err != nil {
			return fmt.Errorf("load worker allowlist: %w", err)
		}
		go idx.watchAllowlist(ctx)
	}

	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()

	idx.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			idx.fetchLimiter.Stop()
			return nil
		case <-ticker.C:
			idx.pollOnce(ctx)
		}
	}
}

func (idx *Index) pollOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		idx.pollLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	idx.mu.RLock()
	endpoints := append([]string(nil), idx.known...)
	idx.mu.RUnlock()

	byType := make(map[task.Type][]task.Offer)
	for _, endpoint := range endpoints {
		// Bursts of endpoints (e.g. a full allowlist reload) are smoothed
		// through the leaky bucket instead of firing every fetch at once.
		if err := idx.fetchLimiter.AllowOrWait(ctx); err != nil {
			idx.pollFailures.Add(ctx, 1)
			continue
		}
		offers, err := idx.fetchManifest(ctx, endpoint)
		if err != nil {
			idx.pollFailures.Add(ctx, 1)
			continue // unreachable workers drop from the cache transparently
		}
		for serviceType, offer := range offers {
			byType[serviceType] = append(byType[serviceType], offer)
		}
	}

	idx.mu.Lock()
	idx.summary = &task.CapabilitySummary{ByServiceType: byType}
	idx.mu.Unlock()
}

func (idx *Index) fetchManifest(ctx context.Context, endpoint string) (map[task.Type]task.Offer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/manifest", nil)
	if err != nil {
		return nil, err
	}
	resp, err := idx.httpClient.Do(req)
	if err != nil {
		return nil, task.ErrManifestUnavailable(endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, task.ErrManifestUnavailable(endpoint, fmt.Errorf("http %d", resp.StatusCode))
	}

	var manifest manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, task.ErrManifestUnavailable(endpoint, err)
	}

	reputation := 0
	if idx.reputation != nil {
		reputation = idx.reputation(ctx, manifest.Worker.Address)
	}

	offers := make(map[task.Type]task.Offer, len(manifest.Services))
	for _, svc := range manifest.Services {
		serviceType := task.Type(svc.ID)
		offer, exists := offers[serviceType]
		if !exists {
			offer = task.Offer{
				Address:      manifest.Worker.Address,
				Endpoint:     svc.Endpoint,
				Reputation:   reputation,
				Capabilities: []string{svc.ID},
				Pricing:      make(map[task.Type]uint64),
				IsActive:     true,
			}
		}
		offer.Pricing[serviceType] = svc.PriceWei
		offers[serviceType] = offer
	}
	return offers, nil
}

// Discover returns the current cached capability summary.
func (idx *Index) Discover() *task.CapabilitySummary {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.summary
}

// FindCheapest returns the lowest-priced active offer for serviceType.
func (idx *Index) FindCheapest(serviceType task.Type) (*task.Offer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.summary.Cheapest(serviceType)
}

// IsServiceAvailable reports whether any cached offer covers serviceType.
func (idx *Index) IsServiceAvailable(serviceType task.Type) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.summary.IsServiceAvailable(serviceType)
}

func (idx *Index) watchAllowlist(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(idx.allowlist)); err != nil {
		return
	}

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) == filepath.Clean(idx.allowlist) {
				debounce.Reset(200 * time.Millisecond)
			}
		case <-watcher.Errors:
		case <-debounce.C:
			_ = idx.reloadAllowlist()
		}
	}
}
