package queue

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/brainscan-workers/internal/pipeline"
	"github.com/mahirjain10/brainscan-workers/internal/queue/models"
	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acks++; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

type fakeHandler struct {
	got    []types.DispatchMessage
	result pipeline.Result
	err    error
}

func (f *fakeHandler) Handle(_ context.Context, msg types.DispatchMessage) (pipeline.Result, error) {
	f.got = append(f.got, msg)
	return f.result, f.err
}

func delivery(t *testing.T, body any, redelivered bool) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = utils.SerializeJSON(b)
		require.NoError(t, err)
	}
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: raw, Redelivered: redelivered, DeliveryTag: 1}, ack
}

var dispatchMsg = types.DispatchMessage{
	JobID:            "j1",
	StagingPath:      "staging/j1.png",
	OriginalFilename: "scan.png",
	UserID:           "u1",
}

func TestHandleDelivery_TerminalIsAcked(t *testing.T) {
	h := &fakeHandler{result: pipeline.Result{JobID: "j1", State: types.StateCompleted, Terminal: true}}
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, h)

	d, ack := delivery(t, dispatchMsg, false)
	s.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	require.Len(t, h.got, 1)
	assert.Equal(t, dispatchMsg, h.got[0])
}

func TestHandleDelivery_EnvelopeIsUnwrapped(t *testing.T) {
	h := &fakeHandler{result: pipeline.Result{JobID: "j1", Terminal: true}}
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, h)

	d, ack := delivery(t, map[string]any{"pattern": "dispatch", "data": dispatchMsg}, false)
	s.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, ack.acks)
	require.Len(t, h.got, 1)
	assert.Equal(t, "j1", h.got[0].JobID)
	assert.Equal(t, "staging/j1.png", h.got[0].StagingPath)
}

func TestHandleDelivery_MalformedIsDropped(t *testing.T) {
	h := &fakeHandler{}
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, h)

	d, ack := delivery(t, []byte("{not json"), false)
	s.handleDelivery(context.Background(), d)

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
	assert.Empty(t, h.got)
}

func TestHandleDelivery_RedeliveredStoreFailureIsRequeued(t *testing.T) {
	h := &fakeHandler{err: errors.New("badger: Transaction Conflict. Please retry")}
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, h)

	for _, redelivered := range []bool{false, true, true} {
		d, ack := delivery(t, dispatchMsg, redelivered)
		s.handleDelivery(context.Background(), d)

		assert.Equal(t, 0, ack.acks)
		assert.Equal(t, 1, ack.nacks)
		assert.True(t, ack.requeue, "redelivered=%v", redelivered)
	}
	assert.Len(t, h.got, 3)
}

func TestProcessMessage_RequeueDecisions(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		cancelled   bool
		requeue     bool
	}{
		{"first delivery", errors.New("store unavailable"), false, false, true},
		{"redelivered store failure", errors.New("store unavailable"), true, false, true},
		{"redelivered transaction conflict", errors.New("Transaction Conflict. Please retry"), true, false, true},
		{"redelivered transient", errors.New("dial tcp: connection refused"), true, false, true},
		{"shutdown", context.Canceled, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{err: tt.err}
			s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, h)

			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancelled {
				cancel()
			} else {
				defer cancel()
			}
			body, err := utils.SerializeJSON(dispatchMsg)
			require.NoError(t, err)

			err = s.ProcessMessage(ctx, body, tt.redelivered)
			require.Error(t, err)
			var procErr models.ProcessingError
			require.ErrorAs(t, err, &procErr)
			assert.Equal(t, tt.requeue, procErr.Requeue)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSettle_PlainErrorFallsBackToTransientCheck(t *testing.T) {
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, &fakeHandler{})

	d, ack := delivery(t, []byte("{}"), false)
	s.settle(d, errors.New("read: connection reset by peer"))
	assert.True(t, ack.requeue)

	d, ack = delivery(t, []byte("{}"), false)
	s.settle(d, errors.New("invalid payload"))
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

func TestNewRabbitMqService_Defaults(t *testing.T) {
	s := NewRabbitMqService(ConsumerConfig{Queue: "dispatch"}, &fakeHandler{})
	assert.Equal(t, 1, s.config.Workers)
	assert.Equal(t, 1, s.config.Prefetch)
	assert.Positive(t, s.config.ReconnectInterval)
	assert.Positive(t, s.config.ShutdownGrace)
	assert.NoError(t, s.Close())
}

type publishCall struct {
	exchange, key string
	msg           amqp.Publishing
	hasDeadline   bool
}

type fakeChannel struct {
	calls []publishCall
	err   error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	_, ok := ctx.Deadline()
	f.calls = append(f.calls, publishCall{exchange: exchange, key: key, msg: msg, hasDeadline: ok})
	return f.err
}

func TestStatusNotifier_Publishes(t *testing.T) {
	ch := &fakeChannel{}
	n := NewStatusNotifier(NewPublisher(ch), "brainscan")

	job := &types.Job{JobID: "j1", UserID: "u1", State: types.StateCompleted, Status: types.JobStatusCompleted, ImageID: "img-1"}
	require.NoError(t, n.Notify(context.Background(), types.NewStatusEvent(job)))

	require.Len(t, ch.calls, 1)
	call := ch.calls[0]
	assert.Equal(t, "brainscan", call.exchange)
	assert.Equal(t, StatusRoutingKey, call.key)
	assert.True(t, call.hasDeadline)
	assert.Equal(t, "application/json", call.msg.ContentType)

	var event types.StatusEvent
	require.NoError(t, utils.ParseJSON(call.msg.Body, &event))
	assert.Equal(t, types.StatusPattern, event.Pattern)
	assert.Equal(t, "j1", event.Data.JobID)
	assert.Equal(t, "img-1", event.Data.ImageID)
}

func TestStatusNotifier_PublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	n := NewStatusNotifier(NewPublisher(ch), "brainscan")

	err := n.Notify(context.Background(), types.StatusEvent{Data: types.StatusData{JobID: "j1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "j1")
}

func TestPublisher_Dispatch(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch)

	require.NoError(t, p.PublishDispatch(context.Background(), "brainscan_dispatch", dispatchMsg))
	require.Len(t, ch.calls, 1)
	assert.Empty(t, ch.calls[0].exchange)
	assert.Equal(t, "brainscan_dispatch", ch.calls[0].key)
	assert.Equal(t, amqp.Persistent, ch.calls[0].msg.DeliveryMode)

	var got types.DispatchMessage
	require.NoError(t, utils.ParseJSON(ch.calls[0].msg.Body, &got))
	assert.Equal(t, dispatchMsg, got)
}

func TestPublisher_NotConnected(t *testing.T) {
	p := NewPublisher(nil)
	err := p.PublishDispatch(context.Background(), "q", dispatchMsg)
	require.ErrorIs(t, err, ErrNotConnected)
}
