// internal/telemetry/recorder.go
//
// Asynchronous scan telemetry.
//
// Context
// -------
// Resolution must never wait on a durability write for bookkeeping, so
// RecordScan only takes a short in-process lock: increments are coalesced
// per identifier in a pending map, and a background flusher drains the map
// on a ticker and applies each identifier's delta through one atomic
// Store.Update.  Concurrent scans of the same code therefore settle to an
// exact count — the coalescing lock loses nothing, and the store applies
// the summed delta in a single mutation.
//
// Failure policy (per the error design): a flush that hits a deleted entry
// drops the delta with a counter bump; a transient store failure re-queues
// the delta for the next cycle, giving at-least-once delivery.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/metrics"
	"github.com/yanizio/qrelay/internal/registry"
)

// pending accumulates unsettled scans for one identifier.
type pending struct {
	count int64
	last  time.Time
	scans []registry.ScanRecord
}

// Recorder buffers scan telemetry and settles it into the store.
type Recorder struct {
	store    registry.Store
	log      *zap.SugaredLogger
	interval time.Duration
	retain   int // scan-log FIFO bound per entry

	mu  sync.Mutex
	buf map[string]*pending
}

// NewRecorder builds a Recorder flushing every interval and trimming each
// entry's scan log to retain records (oldest evicted first).
func NewRecorder(store registry.Store, interval time.Duration, retain int, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		store:    store,
		log:      log,
		interval: interval,
		retain:   retain,
		buf:      make(map[string]*pending),
	}
}

// RecordScan registers one successful resolution.  Fire-and-forget: the only
// cost on the resolution path is a map update under a mutex.
func (r *Recorder) RecordScan(id string, rec registry.ScanRecord) {
	r.mu.Lock()
	p, ok := r.buf[id]
	if !ok {
		p = &pending{}
		r.buf[id] = p
	}
	p.count++
	if rec.At.After(p.last) {
		p.last = rec.At
	}
	p.scans = append(p.scans, rec)
	if r.retain > 0 && len(p.scans) > r.retain {
		p.scans = p.scans[len(p.scans)-r.retain:]
	}
	r.mu.Unlock()
}

// Run drains the buffer on a ticker until ctx is done, then flushes once
// more so a graceful shutdown loses nothing.
func (r *Recorder) Run(ctx context.Context) error {
	tick := time.NewTicker(r.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			r.Flush(ctx)
		case <-ctx.Done():
			// Final settle with a fresh deadline; ctx itself is spent.
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(fctx)
			cancel()
			return nil
		}
	}
}

// Flush settles every buffered delta.  Safe to call concurrently with
// RecordScan; scans arriving during the flush land in the next cycle.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buf
	r.buf = make(map[string]*pending)
	r.mu.Unlock()

	for id, p := range batch {
		_, err := r.store.Update(ctx, id, r.apply(p))
		switch {
		case err == nil:
		case errors.Is(err, registry.ErrNotFound):
			// Entry deleted between scan and settle; telemetry dies with it.
			metrics.TelemetryDroppedTotal.Inc()
			r.log.Debugw("telemetry dropped, entry gone", "id", id, "count", p.count)
		default:
			r.requeue(id, p)
			r.log.Warnw("telemetry flush failed, re-queued", "id", id, "count", p.count, "err", err)
		}
	}
	metrics.TelemetryFlushTotal.Inc()
}

// apply folds a pending delta into an entry.
func (r *Recorder) apply(p *pending) registry.Mutator {
	return func(e *registry.Entry) error {
		e.ScanCount += p.count
		if e.LastScannedAt == nil || p.last.After(*e.LastScannedAt) {
			last := p.last
			e.LastScannedAt = &last
		}
		e.ScanLog = append(e.ScanLog, p.scans...)
		if r.retain > 0 && len(e.ScanLog) > r.retain {
			e.ScanLog = e.ScanLog[len(e.ScanLog)-r.retain:]
		}
		return nil
	}
}

// requeue folds an unsettled delta back into the live buffer.
func (r *Recorder) requeue(id string, p *pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.buf[id]
	if !ok {
		r.buf[id] = p
		return
	}
	cur.count += p.count
	if p.last.After(cur.last) {
		cur.last = p.last
	}
	cur.scans = append(p.scans, cur.scans...)
	if r.retain > 0 && len(cur.scans) > r.retain {
		cur.scans = cur.scans[len(cur.scans)-r.retain:]
	}
}
