package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses to call a provider.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state. The numeric value is exported as the
// provider_breaker_state gauge.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// closedWindow is how long closed-state counts accumulate before they are
// cleared, so an old run of successes cannot mask a fresh outage.
const closedWindow = time.Minute

type counts struct {
	requests int
	failures int
}

func (c counts) failureRatio() float64 {
	if c.requests == 0 {
		return 0
	}
	return float64(c.failures) / float64(c.requests)
}

// Breaker is a failure-ratio circuit breaker guarding one provider.
// While half-open only a single probe request is let through.
type Breaker struct {
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       State
	counts      counts
	windowStart time.Time
	openedAt    time.Time
	probing     bool
	target      string
	logger      zerolog.Logger
}

// NewBreaker opens once at least minRequests were observed within a window
// and the failure ratio reaches failureRatio. It stays open for openFor.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	b := &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	b.windowStart = b.now()
	return b
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Open:
		if now.Sub(b.openedAt) < b.openFor {
			return false
		}
		b.setStateLocked(ctx, HalfOpen)
	case HalfOpen:
		if b.probing {
			return false
		}
	default:
		if now.Sub(b.windowStart) >= closedWindow {
			b.counts = counts{}
			b.windowStart = now
		}
		return true
	}
	b.probing = true
	return true
}

// Report records the outcome of a call previously admitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probing = false
		if success {
			b.setStateLocked(ctx, Closed)
		} else {
			b.setStateLocked(ctx, Open)
		}
	case Closed:
		b.counts.requests++
		if !success {
			b.counts.failures++
		}
		if b.counts.requests >= b.minRequests && b.counts.failureRatio() >= b.failureRatio {
			b.setStateLocked(ctx, Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WithTarget names the provider for metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	ProviderBreakerState.WithLabelValues(b.label()).Set(float64(b.state))
	return b
}

// WithLogger sets the logger used for transition events. A logger carried
// on the request context takes precedence.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

func (b *Breaker) setStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	now := b.now()
	b.state = next
	b.counts = counts{}
	b.windowStart = now
	if next == Open {
		b.openedAt = now
	}

	label := b.label()
	ProviderBreakerState.WithLabelValues(label).Set(float64(next))
	ProviderBreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()

	logger := &b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = l
	}
	evt := logger.Warn().Str("provider", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("provider_breaker_transition")
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
