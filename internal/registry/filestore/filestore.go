// internal/registry/filestore/filestore.go
//
// JSON-file-backed registry store.
//
// Context
// -------
// The default durability layer is a single JSON document rewritten on every
// mutation via temp-file + fsync + rename, so a crash mid-write leaves the
// previous snapshot intact, never a torn file.  The full entry set lives in
// memory; the file is only read once at startup.
//
// Concurrency
// -----------
// Mutations to the same identifier serialize on a per-id lock.  Mutations to
// different identifiers run their read-modify-write phases concurrently and
// only meet at the snapshot writer.  Mutators work on private clones; the
// staged entry is written into the snapshot file first and published to the
// shared map only after the write succeeded.  Readers therefore observe only
// durable states: either the pre-mutation entry or the acknowledged
// post-mutation one, never a state whose caller got ErrUnavailable.
//
// Startup
// -------
// A missing or corrupt file is not fatal: the store starts empty with a
// logged warning, because resolving the codes that can still be written
// beats refusing to start.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/metrics"
	"github.com/yanizio/qrelay/internal/registry"
)

// document is the on-disk layout.  Entries are kept as an ordered array so
// insertion order survives the round trip.
type document struct {
	Entries []*registry.Entry `json:"entries"`
	SavedAt time.Time         `json:"saved_at"`
}

// Store implements registry.Store over one JSON file.
type Store struct {
	path string
	log  *zap.SugaredLogger

	mu      sync.RWMutex // guards entries and order
	entries map[string]*registry.Entry
	order   []string

	lmu   sync.Mutex // guards locks map
	locks map[string]*sync.Mutex

	wmu sync.Mutex // serializes snapshot writes
}

// Open loads the snapshot at path, creating parent directories as needed.
// Load problems degrade to an empty registry with a warning.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		path:    path,
		log:     log,
		entries: make(map[string]*registry.Entry),
		locks:   make(map[string]*sync.Mutex),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Infow("registry file absent, starting empty", "path", path)
	case err != nil:
		log.Warnw("registry file unreadable, starting empty", "path", path, "err", err)
	default:
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			log.Warnw("registry file corrupt, starting empty", "path", path, "err", err)
			break
		}
		for _, e := range doc.Entries {
			if _, dup := s.entries[e.ID]; dup {
				log.Warnw("duplicate id in registry file, keeping first", "id", e.ID)
				continue
			}
			s.entries[e.ID] = e
			s.order = append(s.order, e.ID)
		}
		log.Infow("registry loaded", "path", path, "entries", len(s.order))
	}

	metrics.EntriesTotal.Set(float64(len(s.order)))
	return s, nil
}

// lockFor returns the mutation lock for id, creating it on first use.  Locks
// are retained after delete; the per-id footprint is one mutex.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// Get implements registry.Store.
func (s *Store) Get(ctx context.Context, id string) (*registry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, registry.Unavailable(err)
	}
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, registry.ErrNotFound
	}
	return e.Clone(), nil
}

// Put implements registry.Store.
func (s *Store) Put(ctx context.Context, e *registry.Entry) error {
	lk := s.lockFor(e.ID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	_, dup := s.entries[e.ID]
	s.mu.RUnlock()
	if dup {
		return registry.ErrConflict
	}

	if err := s.commitEntry(ctx, e.ID, e.Clone(), true); err != nil {
		return err
	}
	metrics.EntriesTotal.Inc()
	return nil
}

// Update implements registry.Store.
func (s *Store) Update(ctx context.Context, id string, fn registry.Mutator) (*registry.Entry, error) {
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	cur, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, registry.ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID               // identifiers are immutable
	next.CreatedAt = cur.CreatedAt // so is the creation timestamp

	if err := s.commitEntry(ctx, id, next, false); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete implements registry.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	_, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return registry.ErrNotFound
	}

	if err := s.commitEntry(ctx, id, nil, false); err != nil {
		return err
	}
	metrics.EntriesTotal.Dec()
	return nil
}

// List implements registry.Store.
func (s *Store) List(ctx context.Context) ([]*registry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, registry.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*registry.Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].Clone())
	}
	return out, nil
}

// Aggregate implements registry.Store.
func (s *Store) Aggregate(ctx context.Context) (registry.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return registry.Aggregate{}, registry.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg := registry.Aggregate{Entries: len(s.entries)}
	for _, e := range s.entries {
		if e.Status == registry.StatusActive {
			agg.ActiveEntries++
		}
		agg.TotalScans += e.ScanCount
	}
	return agg, nil
}

// Close implements registry.Store.  The file is already consistent after
// every acknowledged mutation, so there is nothing to flush.
func (s *Store) Close() error { return nil }

// commitEntry makes one staged change durable, then publishes it.  next is
// the entry to store under id (nil removes it); fresh appends id to the
// insertion order.  The snapshot containing the staged state hits disk
// before the shared map changes, so a failed write leaves readers on the
// previous durable state and there is nothing to roll back.  Every failure
// surfaces as ErrUnavailable so callers know the mutation did not stick.
//
// The writer lock is held from marshal through publish: each snapshot sees
// every previously acknowledged mutation plus exactly this staged one.
func (s *Store) commitEntry(ctx context.Context, id string, next *registry.Entry, fresh bool) error {
	if err := ctx.Err(); err != nil {
		return registry.Unavailable(err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	order := s.order
	if fresh {
		order = append(append(make([]string, 0, len(s.order)+1), s.order...), id)
	}
	doc := document{
		Entries: make([]*registry.Entry, 0, len(order)),
		SavedAt: time.Now().UTC(),
	}
	for _, cur := range order {
		if cur == id {
			if next != nil {
				doc.Entries = append(doc.Entries, next)
			}
			continue
		}
		doc.Entries = append(doc.Entries, s.entries[cur])
	}
	raw, err := json.MarshalIndent(&doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return registry.Unavailable(err)
	}

	start := time.Now()
	if err := writeAtomic(s.path, raw); err != nil {
		s.log.Errorw("registry snapshot write failed", "path", s.path, "err", err)
		return registry.Unavailable(err)
	}
	metrics.StoreWriteSeconds.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	switch {
	case next == nil:
		delete(s.entries, id)
		s.order = removeID(s.order, id)
	default:
		s.entries[id] = next
		if fresh {
			s.order = append(s.order, id)
		}
	}
	s.mu.Unlock()
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// writeAtomic replaces path with data via a same-directory temp file so the
// rename never crosses filesystems.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
