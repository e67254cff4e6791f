// internal/supervisor/supervisor.go
//
// Process watchdog for the registry service.
//
// Context
// -------
// The worker owns the registry; the supervisor only owns the worker's
// lifecycle.  It spawns the configured command, probes /health on an
// interval, and restarts the process when it exits or stops answering.
// Restarts back off exponentially (cenkalti/backoff) up to a cap so a
// persistent fault cannot turn into a hot crash loop; a stretch of healthy
// uptime resets the backoff.  Registry durability is the store's problem —
// killing and restarting the worker never loses acknowledged writes.
//
// The supervisor exposes its own liveness handler so a platform can tell
// "supervisor alive, worker restarting" from "everything down."
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/metrics"
)

// Worker states reported by the liveness handler.
const (
	StateStarting   = "starting"
	StateRunning    = "running"
	StateRestarting = "restarting"
	StateStopped    = "stopped"
)

// Options configures the watchdog.
type Options struct {
	Command        []string      // argv of the worker, Command[0] is the binary
	HealthURL      string        // worker liveness probe target
	ProbeInterval  time.Duration // time between probes
	ProbeTimeout   time.Duration // per-probe HTTP timeout
	ProbeFailures  int           // consecutive failures before the worker is killed
	BackoffInitial time.Duration // first restart delay
	BackoffMax     time.Duration // restart delay cap
	HealthyReset   time.Duration // uptime after which the backoff resets
}

// Supervisor runs and monitors one worker process.
type Supervisor struct {
	opts   Options
	log    *zap.SugaredLogger
	client *http.Client

	mu       sync.Mutex
	state    string
	restarts int64
	lastExit string
}

// New builds a Supervisor.  Options are assumed validated by the config
// layer; Command must be non-empty.
func New(opts Options, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		opts:   opts,
		log:    log,
		client: &http.Client{Timeout: opts.ProbeTimeout},
		state:  StateStarting,
	}
}

// Run supervises until ctx is done.  Each iteration spawns the worker,
// watches it, and sleeps the current backoff before respawning.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.BackoffInitial
	bo.MaxInterval = s.opts.BackoffMax
	bo.MaxElapsedTime = 0 // never give up; the cap bounds the restart rate

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			return nil
		}

		started := time.Now()
		exitErr := s.runOnce(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}

		if time.Since(started) >= s.opts.HealthyReset {
			bo.Reset()
		}
		delay := bo.NextBackOff()

		s.mu.Lock()
		s.state = StateRestarting
		s.restarts++
		if exitErr != nil {
			s.lastExit = exitErr.Error()
		} else {
			s.lastExit = "exit status 0"
		}
		s.mu.Unlock()

		metrics.WorkerRestartsTotal.Inc()
		s.log.Warnw("worker down, restarting",
			"uptime", time.Since(started).Round(time.Second),
			"delay", delay,
			"exit", s.lastExit,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.setState(StateStopped)
			return nil
		}
	}
}

// runOnce spawns the worker and blocks until it exits, killing it when the
// probe loop declares it unresponsive or ctx is cancelled.
func (s *Supervisor) runOnce(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.opts.Command[0], s.opts.Command[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	s.setState(StateRunning)
	s.log.Infow("worker started", "pid", cmd.Process.Pid, "command", s.opts.Command)

	probeDead := make(chan struct{})
	go s.probeLoop(cctx, probeDead)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-probeDead:
		s.log.Warnw("worker unresponsive, killing", "pid", cmd.Process.Pid)
		cancel() // CommandContext kills the process
		return errors.Join(errors.New("liveness probe timeout"), <-waitErr)
	}
}

// probeLoop pings the worker's health endpoint and closes dead after the
// configured number of consecutive failures.  The first probe is delayed a
// full interval to give the worker time to bind its listener.
func (s *Supervisor) probeLoop(ctx context.Context, dead chan<- struct{}) {
	tick := time.NewTicker(s.opts.ProbeInterval)
	defer tick.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		if s.probe(ctx) {
			failures = 0
			continue
		}
		failures++
		s.log.Warnw("health probe failed", "consecutive", failures, "url", s.opts.HealthURL)
		if failures >= s.opts.ProbeFailures {
			close(dead)
			return
		}
	}
}

// probe reports whether one health check round-tripped with 200.
func (s *Supervisor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Handler returns the supervisor's own liveness endpoint.  Always 200 while
// the supervisor runs; the body distinguishes worker states.
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /supervisor/health", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body := map[string]any{
			"status":    "ok",
			"worker":    s.state,
			"restarts":  s.restarts,
			"last_exit": s.lastExit,
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}
