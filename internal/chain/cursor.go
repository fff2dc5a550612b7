// Cursor is the resumable block-height bookmark C1's subscriptions advance
// as they drain the escrow contract's event log, so a restart resumes
// scanning from the last confirmed height instead of from genesis. Adapted
// from services/blockchain/store/kv_store.go's Store, narrowed from a full
// block archive to the single counter the gateway needs.
package chain

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/metric"
)

var cursorKeyPrefix = []byte("cursor:lastScannedBlock:")

// cursorKey derives a distinct persisted key per event topic, so each of
// SubscribeTaskCreated/Completed/Refunded advances its own bookmark instead
// of all three goroutines racing to advance one shared height — one
// topic's scan would otherwise silently cause the other two to skip the
// blocks it already consumed.
func cursorKey(topic common.Hash) []byte {
	return append(append([]byte(nil), cursorKeyPrefix...), topic.Bytes()...)
}

// Cursor persists the last block height the gateway has fully processed.
type Cursor struct {
	mu  sync.RWMutex
	db  *badger.DB
	lag metric.Int64Gauge
}

// OpenCursor opens (or creates) a cursor store rooted at path.
func OpenCursor(path string, meter metric.Meter) (*Cursor, error) {
	opts := badger.DefaultOptions(filepath.Clean(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	lag, _ := meter.Int64Gauge("econos_chain_sync_lag_blocks")
	return &Cursor{db: db, lag: lag}, nil
}

func (c *Cursor) Close() error { return c.db.Close() }

// Last returns the last scanned height for topic, or 0 if that topic's
// cursor has never advanced.
func (c *Cursor) Last(_ context.Context, topic common.Hash) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var height uint64
	key := cursorKey(topic)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			height = decodeHeight(val)
			return nil
		})
	})
	return height, err
}

// Advance records height as the new last-scanned block for topic,
// idempotent against out-of-order or repeated calls (it only ever moves
// forward) and independent of every other topic's bookmark.
func (c *Cursor) Advance(ctx context.Context, topic common.Hash, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cursorKey(topic)
	return c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var current uint64
			_ = item.Value(func(val []byte) error {
				current = decodeHeight(val)
				return nil
			})
			if height <= current {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, encodeHeight(height))
	})
}

// SyncLag records the gap between networkHeight and the last scanned block
// for topic.
func (c *Cursor) SyncLag(ctx context.Context, topic common.Hash, networkHeight uint64) error {
	last, err := c.Last(ctx, topic)
	if err != nil {
		return err
	}
	lag := int64(0)
	if networkHeight > last {
		lag = int64(networkHeight - last)
	}
	c.lag.Record(ctx, lag)
	return nil
}

func encodeHeight(h uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}
	return b[:]
}

func decodeHeight(b []byte) uint64 {
	var h uint64
	for i := 0; i < 8 && i < len(b); i++ {
		h |= uint64(b[i]) << (8 * i)
	}
	return h
}
