// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-checkout/internal/common"
)

const defaultProbeTimeout = 500 * time.Millisecond

var draining atomic.Bool

// SetReady flips readiness. main clears it when shutdown begins so load
// balancers stop routing new checkouts before the server drains.
func SetReady(v bool) { draining.Store(!v) }

// Pinger is anything with a context-aware reachability check. Both order
// stores and the Redis-backed session store satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is one named readiness dependency.
type Probe struct {
	Name    string
	Pinger  Pinger
	Timeout time.Duration
}

func (p Probe) check(ctx context.Context) error {
	if p.Pinger == nil {
		return errors.New("not configured")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Pinger.Ping(ctx)
}

// Handler exposes /health/live and /health/ready.
type Handler struct {
	Probes []Probe
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live reports that the process is serving.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, readiness{Status: "ok"})
}

// Ready runs every probe concurrently. Any failing probe, or a server that
// is draining, answers 503.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, readiness{Status: "draining"})
		return
	}
	results := make([]error, len(h.Probes))
	var g errgroup.Group
	for i, p := range h.Probes {
		g.Go(func() error {
			results[i] = p.check(r.Context())
			return nil
		})
	}
	_ = g.Wait()

	body := readiness{Status: "ok", Checks: make(map[string]string, len(h.Probes))}
	code := http.StatusOK
	for i, p := range h.Probes {
		if results[i] != nil {
			body.Checks[p.Name] = results[i].Error()
			body.Status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		body.Checks[p.Name] = "ok"
	}
	common.JSON(w, code, body)
}
