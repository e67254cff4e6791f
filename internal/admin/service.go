// internal/admin/service.go
//
// Administration service: create, toggle, retarget, inspect, and delete
// registry entries.
//
// Context
// -------
// Every mutation goes through the store's atomic primitives — there is no
// in-memory shortcut that could bypass persistence.  Validation happens
// here, at the boundary: a malformed recipient never reaches a store, so
// the resolution path can trust stored targets unconditionally.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/registry"
)

var v = validator.New()

// validateTarget enforces the target contract: recipient must be a
// syntactically valid address, cc likewise when present, subject and body
// are free text.
func validateTarget(t registry.Target) error {
	if err := v.Var(t.Email, "required,email"); err != nil {
		return fmt.Errorf("%w: recipient %q", registry.ErrInvalidTarget, t.Email)
	}
	if t.CC != "" {
		if err := v.Var(t.CC, "email"); err != nil {
			return fmt.Errorf("%w: cc %q", registry.ErrInvalidTarget, t.CC)
		}
	}
	return nil
}

// ScanStats is the per-entry telemetry view returned by Stats.
type ScanStats struct {
	ID            string                `json:"id"`
	ScanCount     int64                 `json:"scan_count"`
	LastScannedAt *time.Time            `json:"last_scanned_at,omitempty"`
	Recent        []registry.ScanRecord `json:"recent,omitempty"`
}

// Service wraps a store with validation and id generation.
type Service struct {
	store registry.Store
	log   *zap.SugaredLogger
}

// New builds the administration service.
func New(store registry.Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

// Create registers a new entry.  A blank id gets a generated UUID.  The new
// entry starts active with zero telemetry; duplicate ids fail with
// ErrConflict and leave the existing entry untouched.
func (s *Service) Create(ctx context.Context, id string, t registry.Target) (*registry.Entry, error) {
	if err := validateTarget(t); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	e := &registry.Entry{
		ID:        id,
		Target:    t,
		Status:    registry.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, e); err != nil {
		return nil, err
	}
	s.log.Infow("entry created", "id", id, "email", t.Email)
	return e, nil
}

// SetStatus flips one entry.  Idempotent: setting the current status again
// is a successful no-op mutation.
func (s *Service) SetStatus(ctx context.Context, id string, status registry.Status) (*registry.Entry, error) {
	e, err := s.store.Update(ctx, id, func(e *registry.Entry) error {
		e.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("entry status set", "id", id, "status", status)
	return e, nil
}

// BulkSetStatus applies status to every entry, best-effort per entry.  Each
// entry's update is atomic; the bulk pass as a whole is not all-or-nothing.
// Returns the number of entries updated.
func (s *Service) BulkSetStatus(ctx context.Context, status registry.Status) (int, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	affected := 0
	for _, e := range entries {
		if _, err := s.store.Update(ctx, e.ID, func(e *registry.Entry) error {
			e.Status = status
			return nil
		}); err != nil {
			// Deleted mid-pass or transiently unavailable; skip and report.
			s.log.Warnw("bulk status skip", "id", e.ID, "err", err)
			continue
		}
		affected++
	}
	s.log.Infow("bulk status applied", "status", status, "affected", affected)
	return affected, nil
}

// UpdateTarget replaces the mail-compose descriptor without touching the
// identifier, status, or telemetry.
func (s *Service) UpdateTarget(ctx context.Context, id string, t registry.Target) (*registry.Entry, error) {
	if err := validateTarget(t); err != nil {
		return nil, err
	}
	e, err := s.store.Update(ctx, id, func(e *registry.Entry) error {
		e.Target = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("entry retargeted", "id", id, "email", t.Email)
	return e, nil
}

// Delete removes the entry.  Its id stops resolving immediately.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("entry deleted", "id", id)
	return nil
}

// List returns all entries in insertion order.
func (s *Service) List(ctx context.Context) ([]*registry.Entry, error) {
	return s.store.List(ctx)
}

// Stats returns the telemetry view for one entry.
func (s *Service) Stats(ctx context.Context, id string) (*ScanStats, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ScanStats{
		ID:            e.ID,
		ScanCount:     e.ScanCount,
		LastScannedAt: e.LastScannedAt,
		Recent:        e.ScanLog,
	}, nil
}

// Aggregate returns registry-wide counters.
func (s *Service) Aggregate(ctx context.Context) (registry.Aggregate, error) {
	return s.store.Aggregate(ctx)
}
