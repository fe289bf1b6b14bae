// Package store implements the ports.Persistence adapter over BoltDB,
// adapted from services/orchestrator/persistence.go's WorkflowStore: bucketed
// storage plus versioning, a hot in-memory cache, and per-operation latency
// histograms. Where the teacher persists workflows and executions, this
// adapter persists the current FrontierState snapshot and a bounded set of
// its prior versions.
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

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

var (
	bucketFrontierState = []byte("frontier_state")
	bucketVersions       = []byte("frontier_versions")
)

// FrontierStore persists FrontierState snapshots keyed by plan id, keeping a
// bounded version history the way WorkflowStore keeps prior workflow
// revisions.
type FrontierStore struct {
	db  *bbolt.DB
	mu  sync.RWMutex
	cache map[string]*wavetypes.FrontierState

	maxVersions int

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// Open creates or opens the BoltDB file at dbPath/frontier.db and prepares its
// buckets.
func Open(dbPath string, meter metric.Meter) (*FrontierStore, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	}

	db, err := bbolt.Open(dbPath+"/frontier.db", 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketFrontierState, bucketVersions} {
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

	readLatency, _ := meter.Float64Histogram("wavecoord_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("wavecoord_store_write_ms")
	cacheHits, _ := meter.Int64Counter("wavecoord_store_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("wavecoord_store_cache_misses_total")

	return &FrontierStore{
		db:           db,
		cache:        make(map[string]*wavetypes.FrontierState),
		maxVersions:  20,
		readLatency:  readLatency,
		writeLatency: writeLatency,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}, nil
}

// Close releases the underlying database file.
func (s *FrontierStore) Close() error {
	return s.db.Close()
}

// SaveState implements ports.Persistence.
func (s *FrontierStore) SaveState(ctx context.Context, state *wavetypes.FrontierState) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "save_state")))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := state.Clone()
	data, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("marshal frontier state: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFrontierState)

		if existing := bucket.Get([]byte(clone.PlanID)); existing != nil {
			versionBucket := tx.Bucket(bucketVersions)
			versionKey := fmt.Sprintf("%s:%d", clone.PlanID, time.Now().UnixNano())
			if err := versionBucket.Put([]byte(versionKey), existing); err != nil {
				return fmt.Errorf("store version: %w", err)
			}
		}

		return bucket.Put([]byte(clone.PlanID), data)
	})
	if err != nil {
		return fmt.Errorf("write frontier state: %w", err)
	}

	s.cache[clone.PlanID] = clone
	s.pruneVersionsLocked(clone.PlanID)
	return nil
}

// LoadState implements ports.Persistence. A (nil, nil) return means no prior
// state exists for planID, matching the interface's documented contract.
func (s *FrontierStore) LoadState(ctx context.Context, planID string) (*wavetypes.FrontierState, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "load_state")))
	}()

	s.mu.RLock()
	if state, ok := s.cache[planID]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1)
		return state.Clone(), nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1)

	var state *wavetypes.FrontierState
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFrontierState)
		data := bucket.Get([]byte(planID))
		if data == nil {
			return nil
		}
		var decoded wavetypes.FrontierState
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		state = &decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read frontier state: %w", err)
	}
	if state == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.cache[planID] = state
	s.mu.Unlock()

	return state.Clone(), nil
}

// pruneVersionsLocked keeps at most maxVersions prior snapshots per plan,
// evicting the oldest first. Caller holds s.mu.
func (s *FrontierStore) pruneVersionsLocked(planID string) {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVersions)
		prefix := []byte(planID + ":")
		var keys [][]byte

		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			keys = append(keys, keyCopy)
		}

		if len(keys) <= s.maxVersions {
			return nil
		}
		for _, k := range keys[:len(keys)-s.maxVersions] {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
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
