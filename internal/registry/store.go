// internal/registry/store.go
//
// Store contract.
//
// Context
// -------
// The store is the single shared mutable resource in the system.  Both the
// resolution path and the administration path go through it; neither holds
// store-internal locks across external I/O.  Two implementations exist:
// a JSON file with atomic replace-on-write (the default), and PostgreSQL
// (selected when a DSN is configured).
//
// Guarantees every implementation must honor:
//
//   - Mutations to the same identifier are linearizable; mutations to
//     different identifiers may proceed concurrently.
//   - A mutation is durable before it is acknowledged.
//   - A failed mutation is never partially applied; callers receive
//     ErrUnavailable and may retry idempotently.
//   - Readers never observe a half-updated entry.
package registry

import "context"

// Mutator is applied to a private copy of an entry inside Update.  Returning
// an error aborts the update without touching stored state.  Mutators must
// not retain the *Entry beyond the call.
type Mutator func(*Entry) error

// Aggregate carries registry-wide counters for /api/stats and /health.
type Aggregate struct {
	Entries       int   `json:"entries"`
	ActiveEntries int   `json:"active_entries"`
	TotalScans    int64 `json:"total_scans"`
}

// Store is the durable identifier → entry mapping.
type Store interface {
	// Get returns a copy of the entry, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Put creates the entry.  ErrConflict if the identifier exists; the
	// existing entry is unchanged.
	Put(ctx context.Context, e *Entry) error

	// Update applies fn atomically against the single identified entry and
	// returns the committed result.  ErrNotFound if the identifier is
	// unknown; the mutator's own error is passed through unwrapped.
	Update(ctx context.Context, id string, fn Mutator) (*Entry, error)

	// List returns a snapshot of all entries in insertion order.
	List(ctx context.Context) ([]*Entry, error)

	// Delete removes the entry.  ErrNotFound if the identifier is unknown.
	// A deleted identifier must never resolve again.
	Delete(ctx context.Context, id string) error

	// Aggregate returns registry-wide counters consistent at call time.
	Aggregate(ctx context.Context) (Aggregate, error)

	// Close releases the underlying resources.
	Close() error
}
