// internal/registry/errors.go
//
// Error taxonomy shared by every store implementation and by the services
// layered on top.  Handlers map these to HTTP statuses; nothing outside this
// package invents its own sentinel for the same condition.
package registry

import "errors"

var (
	// ErrNotFound — the identifier is unknown.  Non-retryable.
	ErrNotFound = errors.New("registry: entry not found")

	// ErrConflict — create was asked for an identifier that already exists.
	// The existing entry is left untouched.
	ErrConflict = errors.New("registry: entry already exists")

	// ErrInvalidTarget — the target descriptor failed validation (malformed
	// recipient or cc address).  Rejected before reaching a store.
	ErrInvalidTarget = errors.New("registry: invalid target")

	// ErrDisabled — the identifier exists but is intentionally stopped.
	// Deliberately distinct from ErrNotFound so operators can tell "never
	// existed" from "turned off."
	ErrDisabled = errors.New("registry: entry disabled")

	// ErrUnavailable — the durability layer could not complete an operation.
	// Transient and retryable; the failed mutation is never partially applied.
	ErrUnavailable = errors.New("registry: store unavailable")
)

// Unavailable wraps a low-level store failure so callers can match it with
// errors.Is(err, ErrUnavailable) while the cause stays in the message.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnavailable, err)
}
