// internal/registry/filestore/filestore_test.go
//
// Tests for the JSON file store.
//
// The interesting behaviours:
//
//   • create / duplicate-create / delete error contract
//   • insertion-stable List
//   • reload round-trip: a fresh Open over the same file reproduces the
//     exact entry set
//   • corrupt or missing file degrades to an empty registry, never an error
//   • concurrent Updates to one id lose no increments
//   • a failed snapshot write reports ErrUnavailable and its state is never
//     observable by readers
package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/registry"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	s, err := Open(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func entry(id, email string) *registry.Entry {
	return &registry.Entry{
		ID:        id,
		Target:    registry.Target{Email: email, Subject: "Hi"},
		Status:    registry.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPut_DuplicateConflict(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if err := s.Put(ctx, entry("a", "first@x.com")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	err := s.Put(ctx, entry("a", "second@x.com"))
	if !errors.Is(err, registry.ErrConflict) {
		t.Fatalf("duplicate Put = %v, want ErrConflict", err)
	}

	// The original entry must be unchanged.
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Target.Email != "first@x.com" {
		t.Fatalf("conflict overwrote target: %q", got.Target.Email)
	}
}

func TestGetDelete_NotFound(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Get(nope) = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Delete(nope) = %v, want ErrNotFound", err)
	}

	if err := s.Put(ctx, entry("a", "a@x.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestList_InsertionOrder(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		if err := s.Put(ctx, entry(id, id+"@x.com")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("List len = %d", len(got))
	}
	for i, id := range ids {
		if got[i].ID != id {
			t.Fatalf("List[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestUpdate_NotFoundAndMutatorError(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if _, err := s.Update(ctx, "nope", func(*registry.Entry) error { return nil }); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Update(nope) = %v, want ErrNotFound", err)
	}

	if err := s.Put(ctx, entry("a", "a@x.com")); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if _, err := s.Update(ctx, "a", func(*registry.Entry) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("mutator error not passed through: %v", err)
	}

	// The aborted update must not have been applied.
	got, _ := s.Get(ctx, "a")
	if got.Status != registry.StatusActive {
		t.Fatal("aborted update mutated stored entry")
	}
}

func TestReload_RoundTrip(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	if err := s.Put(ctx, entry("a", "a@x.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, entry("b", "b@x.com")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "b", func(e *registry.Entry) error {
		e.Status = registry.StatusStopped
		e.ScanCount = 7
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart.
	s2, err := Open(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got, err := s2.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("reload order wrong: %+v", got)
	}
	if got[1].Status != registry.StatusStopped || got[1].ScanCount != 7 {
		t.Fatalf("reload lost mutation: %+v", got[1])
	}
	if got[0].Target.Email != "a@x.com" {
		t.Fatalf("reload lost target: %+v", got[0])
	}
}

func TestOpen_MissingAndCorruptFile(t *testing.T) {
	dir := t.TempDir()

	// Missing file: empty registry, no error.
	s, err := Open(filepath.Join(dir, "absent.json"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open missing: %v", err)
	}
	if got, _ := s.List(context.Background()); len(got) != 0 {
		t.Fatalf("missing file not empty: %d entries", len(got))
	}

	// Corrupt file: same outcome.
	bad := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(bad, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(bad, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open corrupt: %v", err)
	}
	if got, _ := s2.List(context.Background()); len(got) != 0 {
		t.Fatalf("corrupt file not empty: %d entries", len(got))
	}
}

func TestUpdate_ConcurrentSameID_NoLostIncrements(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if err := s.Put(ctx, entry("hot", "hot@x.com")); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, "hot", func(e *registry.Entry) error {
				e.ScanCount++
				return nil
			}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "hot")
	if err != nil {
		t.Fatal(err)
	}
	if got.ScanCount != n {
		t.Fatalf("ScanCount = %d, want %d", got.ScanCount, n)
	}
}

func TestUpdate_FailedWriteInvisibleToReaders(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	if err := s.Put(ctx, entry("a", "old@x.com")); err != nil {
		t.Fatal(err)
	}

	// Point the snapshot at a missing directory so every write fails.
	s.path = filepath.Join(filepath.Dir(path), "missing", "registry.json")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, err := s.Get(ctx, "a")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			// An unacknowledged mutation must never be observable.
			if got.Target.Email != "old@x.com" {
				t.Errorf("reader observed non-durable target %q", got.Target.Email)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := s.Update(ctx, "a", func(e *registry.Entry) error {
			e.Target.Email = "new@x.com"
			return nil
		})
		if !errors.Is(err, registry.ErrUnavailable) {
			t.Fatalf("Update with failing write = %v, want ErrUnavailable", err)
		}
	}
	close(stop)
	wg.Wait()

	// Restore the path; the next mutation is durable and becomes visible.
	s.path = path
	if _, err := s.Update(ctx, "a", func(e *registry.Entry) error {
		e.Target.Email = "new@x.com"
		return nil
	}); err != nil {
		t.Fatalf("Update after restore: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Target.Email != "new@x.com" {
		t.Fatalf("acknowledged update not visible: %q", got.Target.Email)
	}
}

func TestPutDelete_FailedWriteInvisibleToReaders(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	if err := s.Put(ctx, entry("a", "a@x.com")); err != nil {
		t.Fatal(err)
	}
	s.path = filepath.Join(filepath.Dir(path), "missing", "registry.json")

	if err := s.Put(ctx, entry("b", "b@x.com")); !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("Put with failing write = %v, want ErrUnavailable", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatal("failed Put is visible to readers")
	}

	if err := s.Delete(ctx, "a"); !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("Delete with failing write = %v, want ErrUnavailable", err)
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("failed Delete removed the entry: %v", err)
	}
	if got, _ := s.List(ctx); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("List after failed mutations = %+v", got)
	}
}

func TestPersist_NoLeftoverTempFiles(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Put(ctx, entry(string(rune('a'+i)), "x@x.com")); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".registry-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}
