package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Task types consumed by cmd/worker.
const (
	TaskOrderConfirmed   = "order:confirmed"
	TaskOrderWriteFailed = "order:write_failed"
	TaskWebhookDelivery  = "webhook:deliver"
	TaskQueue            = "checkout"
)

var taskTypes = map[string]string{
	TopicOrderConfirmed:   TaskOrderConfirmed,
	TopicOrderWriteFailed: TaskOrderWriteFailed,
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskNotifier turns order events into asynq tasks. Topics without a task
// type are ignored. With Webhooks set, every topic also gets a
// webhook:deliver task carrying the whole event.
type TaskNotifier struct {
	Client   taskEnqueuer
	MaxRetry int
	Webhooks bool
}

func (n TaskNotifier) Publish(ctx context.Context, ev Event) error {
	if n.Client == nil {
		return nil
	}
	var errs []error
	if typ, ok := taskTypes[ev.Topic]; ok {
		errs = append(errs, n.enqueue(ctx, asynq.NewTask(typ, ev.Payload), ev.ID))
	}
	if n.Webhooks {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode webhook task: %w", err)
		}
		errs = append(errs, n.enqueue(ctx, asynq.NewTask(TaskWebhookDelivery, body), ev.ID+":webhook"))
	}
	return errors.Join(errs...)
}

func (n TaskNotifier) enqueue(ctx context.Context, task *asynq.Task, id string) error {
	maxRetry := n.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	_, err := n.Client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(TaskQueue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30*time.Second),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return nil
}

// NewTaskMux registers the worker handlers.
func NewTaskMux(mailer Mailer, logger zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskOrderConfirmed, OrderConfirmedHandler(mailer))
	mux.HandleFunc(TaskOrderWriteFailed, WriteFailedHandler(logger))
	return mux
}

func decodeTask(t *asynq.Task) (OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return ev, fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return ev, nil
}

// OrderConfirmedHandler mails the buyer a confirmation. Events without an
// email address are acknowledged without sending.
func OrderConfirmedHandler(mailer Mailer) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		ev, err := decodeTask(t)
		if err != nil {
			return err
		}
		if ev.Email == "" {
			return nil
		}
		m, err := confirmationMail(ev)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return mailer.Send(ctx, m)
	}
}

// WriteFailedHandler raises a support alert for a captured payment that has
// no order.
func WriteFailedHandler(logger zerolog.Logger) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, t *asynq.Task) error {
		ev, err := decodeTask(t)
		if err != nil {
			return err
		}
		logger.Error().
			Str("payment_method", ev.PaymentMethod).
			Str("payment_id", ev.PaymentID).
			Str("session_id", ev.SessionID).
			Str("total", ev.Total).
			Str("email", ev.Email).
			Msg("order_write_failed_after_payment")
		return nil
	}
}
