// Package notify delivers checkout events to a merchant webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-checkout/internal/events"
)

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Webhook posts signed events to one endpoint. It is the asynq handler for
// webhook:deliver tasks.
type Webhook struct {
	URL       string
	Secret    string
	Client    *http.Client
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    zerolog.Logger

	now func() time.Time
}

type webhookBody struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	Key        string          `json:"key,omitempty"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// ProcessTask implements asynq.Handler. Endpoint rejections other than 408
// and 429 are permanent and skip the remaining retries.
func (w Webhook) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode webhook task: %v: %w", err, asynq.SkipRetry)
	}
	status, err := w.Deliver(ctx, ev)
	logEvt := w.Logger.Info()
	if err != nil {
		logEvt = w.Logger.Warn().Err(err)
	}
	logEvt.Int("status", status).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook_delivery")
	if err != nil && permanent(status) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// Deliver sends ev once. A replayed event id within ReplayTTL is reported
// as delivered without a request. Non-2xx responses are errors.
func (w Webhook) Deliver(ctx context.Context, ev events.Event) (status int, err error) {
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.Deliver", trace.WithAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	))
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := checkEndpoint(w.URL); err != nil {
		return 0, err
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = w.clock()
	}
	body, err := json.Marshal(webhookBody{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		Key:        ev.Key,
		Data:       ev.Payload,
		OccurredAt: occurred,
	})
	if err != nil {
		return 0, err
	}

	guarded := w.Replay != nil && w.ReplayTTL > 0
	key := "wh:" + ev.ID
	if guarded {
		fresh, err := w.Replay.Acquire(ctx, key, w.ReplayTTL)
		if err != nil {
			return 0, fmt.Errorf("replay guard: %w", err)
		}
		if !fresh {
			span.AddEvent("replay suppressed")
			return http.StatusOK, nil
		}
	}
	status, err = w.send(ctx, ev, body)
	if err != nil && guarded {
		_ = w.Replay.Release(context.WithoutCancel(ctx), key)
	}
	return status, err
}

func (w Webhook) send(ctx context.Context, ev events.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ts := w.clock().Unix()
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "toko-checkout-webhooks/1.0")
	h.Set("X-Event-ID", ev.ID)
	h.Set("X-Event-Topic", ev.Topic)
	h.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	h.Set("X-Signature", ComputeSignature(w.Secret, ts, ev.ID, body))

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (w Webhook) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

// checkEndpoint requires https, except for loopback hosts used in development.
func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if host := u.Hostname(); host == "localhost" || net.ParseIP(host).IsLoopback() {
			return nil
		}
		return errors.New("http webhook only allowed for localhost")
	default:
		return errors.New("webhook url must be http or https")
	}
}

// ComputeSignature returns "sha256=" followed by the hex HMAC-SHA256 of
// "<ts>.<eventID>.<body>" keyed with secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s.", ts, eventID)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
