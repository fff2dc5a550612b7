package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

func newTestIndex(t *testing.T, reputation ReputationLookup) *Index {
	t.Helper()
	return New(time.Hour, reputation, "", otel.GetMeterProvider().Meter("test"))
}

func manifestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	return httptest.NewServer(mux)
}

func TestPollOnceAggregatesOffersByServiceType(t *testing.T) {
	srv := manifestServer(t, `{
		"worker": {"address": "0xWorker1"},
		"services": [
			{"id": "writer", "priceWei": 30, "endpoint": "http://w/writer"}
		]
	}`)
	defer srv.Close()

	idx := newTestIndex(t, func(context.Context, string) int { return 77 })
	idx.known = []string{srv.URL}

	idx.pollOnce(context.Background())

	offer, ok := idx.FindCheapest(task.TypeWriter)
	if !ok {
		t.Fatal("expected a cached offer for the writer service type")
	}
	if offer.Address != "0xWorker1" || offer.Reputation != 77 {
		t.Fatalf("unexpected offer: %#v", offer)
	}
	if !idx.IsServiceAvailable(task.TypeWriter) {
		t.Fatal("expected writer to be reported available")
	}
	if idx.IsServiceAvailable(task.TypeResearcher) {
		t.Fatal("expected researcher to be reported unavailable")
	}
}

func TestPollOnceDropsUnreachableWorkers(t *testing.T) {
	idx := newTestIndex(t, nil)
	idx.known = []string{"http://127.0.0.1:1"} // nothing listens here

	idx.pollOnce(context.Background())

	if idx.IsServiceAvailable(task.TypeWriter) {
		t.Fatal("expected an unreachable worker to contribute no offers")
	}
}

func TestFetchManifestPropagatesHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	idx := newTestIndex(t, nil)
	if _, err := idx.fetchManifest(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a non-200 manifest response")
	}
}

func TestReloadAllowlistSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.txt")
	content := "http://worker-a\n\n# a comment\nhttp://worker-b\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}

	idx := newTestIndex(t, nil)
	idx.allowlist = path
	if err := idx.reloadAllowlist(); err != nil {
		t.Fatalf("reloadAllowlist: %v", err)
	}
	if len(idx.known) != 2 || idx.known[0] != "http://worker-a" || idx.known[1] != "http://worker-b" {
		t.Fatalf("unexpected parsed endpoints: %v", idx.known)
	}
}

func TestReloadAllowlistMissingFileErrors(t *testing.T) {
	idx := newTestIndex(t, nil)
	idx.allowlist = filepath.Join(t.TempDir(), "does-not-exist.txt")
	if err := idx.reloadAllowlist(); err == nil {
		t.Fatal("expected an error for a missing allowlist file")
	}
}
