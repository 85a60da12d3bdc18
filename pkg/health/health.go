// Package health serves /livez and /readyz probes.
//
// Every check is polled in its own goroutine. A check flips to unhealthy only
// after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive passes, so one slow ping does not pull a
// replica out of the load balancer.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Options tune a single check. Zero values take the defaults.
type Options struct {
	Timeout          time.Duration // 5s
	FailureThreshold int           // 3
	SuccessThreshold int           // 1
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
	return o
}

type check struct {
	name string
	fn   CheckFunc
	opts Options

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Touched only by the polling goroutine.
	fails, passes int
}

func newCheck(name string, fn CheckFunc, opts Options) *check {
	c := &check{name: name, fn: fn, opts: opts.withDefaults()}
	c.healthy.Store(true)
	return c
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.passes++
	if c.passes >= c.opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Health aggregates liveness and readiness checks. It starts not ready.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	live   []*check
	readyc []*check
	cancel context.CancelFunc
}

// New returns an empty Health.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that restarts the process when failing.
func (h *Health) AddLivenessCheck(name string, fn CheckFunc, opts Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newCheck(name, fn, opts))
}

// AddReadinessCheck registers a check that takes the replica out of rotation
// when failing.
func (h *Health) AddReadinessCheck(name string, fn CheckFunc, opts Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readyc = append(h.readyc, newCheck(name, fn, opts))
}

// Start polls every check at interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	all := append(append([]*check(nil), h.live...), h.readyc...)
	h.mu.Unlock()

	for _, c := range all {
		go poll(ctx, c, interval)
	}
}

func poll(ctx context.Context, c *check, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		c.run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Stop cancels polling. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service ready after startup or drains it before shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readyc))) == 0
}

func (h *Health) snapshot(list *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*check(nil), (*list)...)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	write(w, failures(h.snapshot(&h.live)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readyc))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	write(w, failed)
}

// write renders {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func write(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
