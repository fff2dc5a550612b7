// Package store implements C5, the Task Store Adapter, backed by bbolt.
// Adapted from the teacher's services/orchestrator/persistence.go
// (WorkflowStore): bucket-per-concern, cache-first reads, soft-delete via
// archival into a versions bucket. The task domain adds two secondary
// indexes (status, deadline) the sweeper needs for GetExpiredTasks, and a
// taskIdHash index resolving spec §9's findTaskByBytes32 scan-elimination
// decision.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

var (
	bucketTasks        = []byte("tasks")
	bucketVersions     = []byte("versions")
	bucketStatusIndex  = []byte("status_index")
	bucketDeadlineIdx  = []byte("deadline_index")
	bucketHashIndex    = []byte("hash_index")
)

// Store is the bbolt-backed implementation of the Task Store Adapter.
type Store struct {
	db       *bbolt.DB
	mu       sync.RWMutex
	memCache map[string]*task.Task

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// Open creates (or reopens) a task store rooted at dataDir.
func Open(dataDir string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		NoGrowSync:   false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(dataDir+"/tasks.db", 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketVersions, bucketStatusIndex, bucketDeadlineIdx, bucketHashIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("econos_taskstore_read_ms")
	writeLatency, _ := meter.Float64Histogram("econos_taskstore_write_ms")
	cacheHits, _ := meter.Int64Counter("econos_taskstore_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("econos_taskstore_cache_misses_total")

	s := &Store{
		db:           db,
		memCache:     make(map[string]*task.Task),
		readLatency:  readLatency,
		writeLatency: writeLatency,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}

	if err := s.warmCache(); err != nil {
		return nil, fmt.Errorf("warm cache: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func statusIndexKey(status task.Status, taskID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", status, taskID))
}

func deadlineIndexKey(deadline int64, taskID string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", deadline, taskID))
}

// Put inserts or overwrites t, versioning the prior record and maintaining
// the status/deadline/hash secondary indexes.
func (s *Store) Put(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put")))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		statusIdx := tx.Bucket(bucketStatusIndex)
		deadlineIdx := tx.Bucket(bucketDeadlineIdx)
		hashIdx := tx.Bucket(bucketHashIndex)
		versions := tx.Bucket(bucketVersions)

		existingData := bucket.Get([]byte(t.TaskID))
		if existingData != nil {
			var prior task.Task
			if err := json.Unmarshal(existingData, &prior); err == nil {
				versionKey := fmt.Sprintf("%s:%d", t.TaskID, time.Now().UnixNano())
				if err := versions.Put([]byte(versionKey), existingData); err != nil {
					return fmt.Errorf("store version: %w", err)
				}
				_ = statusIdx.Delete(statusIndexKey(prior.Status, t.TaskID))
				_ = deadlineIdx.Delete(deadlineIndexKey(prior.Deadline, t.TaskID))
			}
		}

		if err := bucket.Put([]byte(t.TaskID), data); err != nil {
			return err
		}
		if err := statusIdx.Put(statusIndexKey(t.Status, t.TaskID), []byte(t.TaskID)); err != nil {
			return err
		}
		if err := deadlineIdx.Put(deadlineIndexKey(t.Deadline, t.TaskID), []byte(t.TaskID)); err != nil {
			return err
		}
		return hashIdx.Put(t.TaskIDHash[:], []byte(t.TaskID))
	})
	if err != nil {
		return fmt.Errorf("write task: %w", err)
	}

	s.memCache[t.TaskID] = t.Clone()
	return nil
}

// Get retrieves a task by taskId, cache-first.
func (s *Store) Get(ctx context.Context, taskID string) (*task.Task, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get")))
	}()

	s.mu.RLock()
	if t, found := s.memCache[taskID]; found {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1)
		return t.Clone(), true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1)

	var t task.Task
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		data := bucket.Get([]byte(taskID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, false, fmt.Errorf("read task: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	s.mu.Lock()
	s.memCache[taskID] = t.Clone()
	s.mu.Unlock()
	return &t, true, nil
}

// GetByHash resolves a task by its keccak256 id, eliminating the linear
// scan the teacher's (and spec's) findTaskByBytes32 acknowledges as a
// known limitation — see DESIGN.md Open Question 2.
func (s *Store) GetByHash(ctx context.Context, hash [32]byte) (*task.Task, bool, error) {
	var taskID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		hashIdx := tx.Bucket(bucketHashIndex)
		v := hashIdx.Get(hash[:])
		if v == nil {
			return nil
		}
		taskID = string(v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read hash index: %w", err)
	}
	if taskID == "" {
		return nil, false, nil
	}
	return s.Get(ctx, taskID)
}

// GetByStatus returns all tasks currently in status.
func (s *Store) GetByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	prefix := []byte(string(status) + ":")
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketStatusIndex).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan status index: %w", err)
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetExpiredTasks returns tasks with deadline < now and status in
// {Created, Authorized, Running}, per spec §4.8's sweeper predicate.
func (s *Store) GetExpiredTasks(ctx context.Context, now int64) ([]*task.Task, error) {
	eligible := map[task.Status]bool{
		task.StatusCreated:    true,
		task.StatusAuthorized: true,
		task.StatusRunning:    true,
	}

	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketDeadlineIdx).Cursor()
		upper := []byte(fmt.Sprintf("%020d:", now))
		for k, v := cursor.First(); k != nil && string(k) < string(upper); k, v = cursor.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan deadline index: %w", err)
	}

	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && eligible[t.Status] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Archive moves a terminal task's current record into the versions bucket
// and removes it from the live bucket and indexes, per the spec's
// "destroyed only by administrative archival" ownership rule.
func (s *Store) Archive(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		data := bucket.Get([]byte(taskID))
		if data == nil {
			return nil
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		versions := tx.Bucket(bucketVersions)
		archiveKey := fmt.Sprintf("archive:%s:%d", taskID, time.Now().UnixNano())
		if err := versions.Put([]byte(archiveKey), data); err != nil {
			return err
		}
		_ = tx.Bucket(bucketStatusIndex).Delete(statusIndexKey(t.Status, taskID))
		_ = tx.Bucket(bucketDeadlineIdx).Delete(deadlineIndexKey(t.Deadline, taskID))
		_ = tx.Bucket(bucketHashIndex).Delete(t.TaskIDHash[:])
		return bucket.Delete([]byte(taskID))
	})
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	delete(s.memCache, taskID)
	return nil
}

func (s *Store) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var t task.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			s.memCache[t.TaskID] = &t
			return nil
		})
	})
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
