// internal/resolve/resolver.go
//
// Resolution service: identifier in, mailto redirect target out.
//
// Context
// -------
// Resolve is the hot path — every scan of a printed code lands here.  It
// does one bounded store lookup, one status branch, and one in-memory
// telemetry enqueue; no disk I/O and no re-validation of target data (the
// administration boundary already rejected malformed targets).  Status is
// read as of the lookup instant; a concurrent stop landing after the check
// is acceptable by design.
package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/yanizio/qrelay/internal/metrics"
	"github.com/yanizio/qrelay/internal/registry"
	"github.com/yanizio/qrelay/internal/scaninfo"
	"github.com/yanizio/qrelay/internal/telemetry"
)

// DefaultTimeout bounds the store lookup; a lookup that cannot finish in
// time fails closed as retryable, never as NotFound.
const DefaultTimeout = 2 * time.Second

// Resolver serves scan resolutions over a shared store.
type Resolver struct {
	store   registry.Store
	rec     *telemetry.Recorder
	timeout time.Duration
}

// New builds a Resolver.  A non-positive timeout selects DefaultTimeout.
func New(store registry.Store, rec *telemetry.Recorder, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{store: store, rec: rec, timeout: timeout}
}

// Resolve maps id to its mailto URI.  Error taxonomy: ErrNotFound (unknown
// id), ErrDisabled (known but stopped), ErrUnavailable (store could not
// answer in time).  On success a telemetry increment is enqueued; its
// durability never gates the returned redirect.
func (rv *Resolver) Resolve(ctx context.Context, id string, client scaninfo.Info) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rv.timeout)
	defer cancel()

	e, err := rv.store.Get(ctx, id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		metrics.ResolveErrorsTotal.WithLabelValues("not_found").Inc()
		return "", err
	case err != nil:
		metrics.ResolveErrorsTotal.WithLabelValues("unavailable").Inc()
		return "", registry.Unavailable(err)
	}

	if e.Status != registry.StatusActive {
		metrics.ResolveErrorsTotal.WithLabelValues("disabled").Inc()
		return "", registry.ErrDisabled
	}

	rv.rec.RecordScan(id, registry.ScanRecord{
		At:      time.Now().UTC(),
		Device:  client.Device,
		Browser: client.Browser,
		OS:      client.OS,
		Country: client.Country,
		Bot:     client.Bot,
	})
	metrics.ScansTotal.Inc()

	return e.Target.MailtoURL(), nil
}
