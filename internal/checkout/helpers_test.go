package checkout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
)

// fakeAdapter is a redirect-style adapter whose callback key is ?ref=.
type fakeAdapter struct {
	method   payment.Method
	amount   decimal.Decimal
	confirms atomic.Int32
	fail     *payment.Failure
	// onConfirm runs before the adapter inspects its context.
	onConfirm     func()
	confirmCtxErr error
}

func (f *fakeAdapter) Method() payment.Method { return f.method }

func (f *fakeAdapter) Initiate(_ context.Context, req payment.InitiateRequest) (payment.Initiation, error) {
	if !req.Amount.IsPositive() {
		return payment.Initiation{}, &payment.Failure{Method: f.method, Reason: payment.ReasonInvalidAmount}
	}
	return payment.Initiation{Kind: payment.KindRedirect, URL: "https://provider.test/approve?ref=R1&amount=" + req.Amount.StringFixed(2)}, nil
}

func (f *fakeAdapter) CallbackKey(cb payment.Callback) (string, bool) {
	ref := cb.Params.Get("ref")
	return ref, ref != ""
}

func (f *fakeAdapter) Confirm(ctx context.Context, cb payment.Callback) (payment.Outcome, error) {
	f.confirms.Add(1)
	if f.onConfirm != nil {
		f.onConfirm()
	}
	f.confirmCtxErr = ctx.Err()
	if cb.Cancelled {
		return payment.Outcome{}, &payment.Failure{Method: f.method, Reason: payment.ReasonCancelled}
	}
	if f.fail != nil {
		return payment.Outcome{}, f.fail
	}
	ref, ok := f.CallbackKey(cb)
	if !ok {
		return payment.Outcome{}, &payment.Failure{Method: f.method, Reason: payment.ReasonMalformedCallback}
	}
	amount := f.amount
	if amount.IsZero() {
		amount = cb.CartTotal
	}
	return payment.Outcome{Method: f.method, TransactionID: ref, Amount: amount, Raw: []byte(`{"ref":"` + ref + `"}`)}, nil
}

// flakyStore fails Create while down is set.
type flakyStore struct {
	order.Store
	down atomic.Bool
}

func (s *flakyStore) Create(ctx context.Context, o order.Order) (order.Order, error) {
	if s.down.Load() {
		return order.Order{}, errors.New("database is unreachable")
	}
	return s.Store.Create(ctx, o)
}

type captured struct {
	mu     sync.Mutex
	topics []string
}

func (c *captured) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, ev.Topic)
	return nil
}

func (c *captured) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

type fixture struct {
	svc      *Service
	sessions *session.Store
	orders   *flakyStore
	events   *captured
	router   http.Handler
}

func newFixture(t *testing.T, adapters ...payment.Adapter) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sqlite, err := order.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	f := &fixture{
		sessions: session.NewStore(client, time.Hour),
		orders:   &flakyStore{Store: sqlite},
		events:   &captured{},
	}
	bus := &events.Bus{Publishers: []events.Publisher{f.events}}
	f.svc = &Service{
		Adapters: payment.NewRegistry(adapters...),
		Sessions: f.sessions,
		Orders:   f.orders,
		Lifecycle: &Lifecycle{
			Orders:   f.orders,
			Sessions: f.sessions,
			Events:   bus,
			Currency: "USD",
			Logger:   zerolog.Nop(),
		},
		Events:  bus,
		Logger:  zerolog.Nop(),
		Timeout: 5 * time.Second,
	}
	h := &Handler{Svc: f.svc, StatusBase: "/checkout", Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(session.WithID(r.Context(), "sess-1")))
		})
	})
	h.Routes(r)
	f.router = r
	return f
}

func (f *fixture) seed(t *testing.T, method payment.Method, info billing.Info, items ...cart.Item) {
	t.Helper()
	_, err := f.sessions.Update(context.Background(), "sess-1", func(c *session.Context) error {
		for _, it := range items {
			if err := c.AddItem(it); err != nil {
				return err
			}
		}
		if !info.IsZero() {
			c.PutBilling(method.String(), info)
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) context(t *testing.T) session.Context {
	t.Helper()
	c, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	return c
}

func fullBilling() billing.Info {
	return billing.Info{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Address:   "12 St James Sq",
		Country:   "GB",
		City:      "London",
		ZipCode:   "SW1Y",
	}
}

func item(id, price string, qty int) cart.Item {
	return cart.Item{ProductID: id, Name: "Item " + id, Price: decimal.RequireFromString(price), Quantity: qty}
}
