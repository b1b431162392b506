package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	sent []Mail
	err  error
}

func (o *outbox) Send(_ context.Context, m Mail) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, m)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, f.err
}

func TestTaskNotifierMapsTopics(t *testing.T) {
	enq := &fakeEnqueuer{}
	bus := &Bus{Publishers: []Publisher{TaskNotifier{Client: enq}}}
	ctx := context.Background()

	_, err := bus.Emit(ctx, TopicOrderConfirmed, "k", OrderEvent{OrderID: "o1"})
	require.NoError(t, err)
	_, err = bus.Emit(ctx, TopicPaymentFailed, "k", OrderEvent{})
	require.NoError(t, err)
	_, err = bus.Emit(ctx, TopicOrderWriteFailed, "k", OrderEvent{})
	require.NoError(t, err)

	require.Len(t, enq.tasks, 2)
	require.Equal(t, TaskOrderConfirmed, enq.tasks[0].Type())
	require.Equal(t, TaskOrderWriteFailed, enq.tasks[1].Type())
}

func TestTaskNotifierFansOutWebhooks(t *testing.T) {
	enq := &fakeEnqueuer{}
	bus := &Bus{Publishers: []Publisher{TaskNotifier{Client: enq, Webhooks: true}}}

	ev, err := bus.Emit(context.Background(), TopicPaymentFailed, "paypal:s1", OrderEvent{Reason: "declined"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskWebhookDelivery, enq.tasks[0].Type())

	var carried Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &carried))
	require.Equal(t, ev.ID, carried.ID)
	require.Equal(t, TopicPaymentFailed, carried.Topic)
	require.JSONEq(t, string(ev.Payload), string(carried.Payload))
}

func TestTaskNotifierIgnoresDuplicateTaskID(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	err := TaskNotifier{Client: enq}.Publish(context.Background(), Event{ID: "x", Topic: TopicOrderConfirmed, Payload: []byte("{}")})
	require.NoError(t, err)

	enq.err = errors.New("redis down")
	err = TaskNotifier{Client: enq}.Publish(context.Background(), Event{ID: "y", Topic: TopicOrderConfirmed, Payload: []byte("{}")})
	require.ErrorContains(t, err, "redis down")
}

func TestOrderConfirmedHandlerSendsEmail(t *testing.T) {
	box := &outbox{}
	h := OrderConfirmedHandler(box)

	task := asynq.NewTask(TaskOrderConfirmed, []byte(`{"orderId":"o1","email":"ada@example.com","firstName":"<b>Ada</b>","total":"19.98","currency":"USD"}`))
	require.NoError(t, h(context.Background(), task))
	require.Len(t, box.sent, 1)
	m := box.sent[0]
	require.Equal(t, "ada@example.com", m.To)
	require.Equal(t, "Order o1 confirmed", m.Subject)
	require.Contains(t, m.Text, "19.98 USD")
	require.Contains(t, m.HTML, "&lt;b&gt;Ada&lt;/b&gt;")

	noEmail := asynq.NewTask(TaskOrderConfirmed, []byte(`{"orderId":"o2"}`))
	require.NoError(t, h(context.Background(), noEmail))
	require.Len(t, box.sent, 1)

	bad := asynq.NewTask(TaskOrderConfirmed, []byte(`not json`))
	require.ErrorIs(t, h(context.Background(), bad), asynq.SkipRetry)

	box.err = errors.New("smtp unavailable")
	require.ErrorContains(t, h(context.Background(), task), "smtp unavailable")
}

func TestWriteFailedHandlerLogs(t *testing.T) {
	h := WriteFailedHandler(zerolog.Nop())
	require.NoError(t, h(context.Background(), asynq.NewTask(TaskOrderWriteFailed, []byte(`{"paymentMethod":"paypal"}`))))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	require.Nil(t, NewKafkaPublisher(" , ", "orders"))
	require.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers("a:9092, b:9092,"))

	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	bus := &Bus{Publishers: []Publisher{p}}
	_, err := bus.Emit(context.Background(), TopicOrderConfirmed, "stripe:pi_1", OrderEvent{OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "stripe:pi_1", string(w.msgs[0].Key))
	require.Equal(t, TopicOrderConfirmed, string(w.msgs[0].Headers[0].Value))
	require.Contains(t, string(w.msgs[0].Value), `"orderId":"o1"`)
}
