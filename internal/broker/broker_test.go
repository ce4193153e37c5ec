package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/internal/processor"
	"github.com/LLL3993/Music-Microservices/pkg/infra"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTopology struct {
	exchanges map[string]string
	queues    map[string]bool
	bindings  map[string]string
}

func newFakeTopology() *fakeTopology {
	return &fakeTopology{
		exchanges: map[string]string{},
		queues:    map[string]bool{},
		bindings:  map[string]string{},
	}
}

func (f *fakeTopology) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if !durable {
		return errors.New("exchange must be durable")
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeTopology) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.queues[name] = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopology) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings[name] = exchange + "/" + key
	return nil
}

func TestDeclareTopology(t *testing.T) {
	ch := newFakeTopology()

	require.NoError(t, DeclareTopology(ch))

	assert.Equal(t, map[string]string{"music.events": "direct"}, ch.exchanges)
	assert.Equal(t, map[string]bool{"list.user.deleted": true, "list.song.deleted": true}, ch.queues)
	assert.Equal(t, map[string]string{
		"list.user.deleted": "music.events/user.deleted",
		"list.song.deleted": "music.events/meta.song.deleted",
	}, ch.bindings)
}

type fakeConfirmChannel struct {
	*fakeTopology
	confirmed  bool
	confirmErr error
}

func (f *fakeConfirmChannel) Confirm(bool) error {
	f.confirmed = f.confirmErr == nil
	return f.confirmErr
}

func TestPrepareChannel_DeclaresQueuesBeforeConfirming(t *testing.T) {
	ch := &fakeConfirmChannel{fakeTopology: newFakeTopology()}

	require.NoError(t, prepareChannel(ch))

	// every routing key has a bound queue, so no confirmed publish is dropped as unroutable
	for queue, key := range models.QueueBindings {
		assert.Equal(t, "music.events/"+key, ch.bindings[queue])
	}
	assert.True(t, ch.confirmed)
}

func TestPrepareChannel_ConfirmError(t *testing.T) {
	ch := &fakeConfirmChannel{fakeTopology: newFakeTopology(), confirmErr: errors.New("not supported")}

	err := prepareChannel(ch)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Publisher Confirms")
}

type fakeConsumeChannel struct {
	*fakeTopology
	failQueue  string
	registered []string
}

func (f *fakeConsumeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if queue == f.failQueue {
		return nil, errors.New("access refused")
	}
	f.registered = append(f.registered, queue)
	return make(chan amqp.Delivery), nil
}

func TestDeclareAndConsume(t *testing.T) {
	ch := &fakeConsumeChannel{fakeTopology: newFakeTopology()}

	deliveries, err := declareAndConsume(ch, models.QueueBindings)

	require.NoError(t, err)
	assert.Len(t, deliveries, len(models.QueueBindings))
	assert.ElementsMatch(t, []string{"list.user.deleted", "list.song.deleted"}, ch.registered)
}

func TestDeclareAndConsume_FailureReturnsNoDeliveries(t *testing.T) {
	ch := &fakeConsumeChannel{fakeTopology: newFakeTopology(), failQueue: "list.song.deleted"}

	deliveries, err := declareAndConsume(ch, models.QueueBindings)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list.song.deleted")
	assert.Nil(t, deliveries)
}

func TestBuildPublishing(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := models.OutboxEvent{
		ID:           "evt-1",
		ExchangeName: models.ExchangeMusicEvents,
		RoutingKey:   models.RoutingKeyUserDeleted,
		Payload:      []byte(`{"username":"alice"}`),
		CreatedAt:    created,
	}

	msg := buildPublishing(evt)

	assert.Equal(t, "evt-1", msg.MessageId)
	assert.Equal(t, "evt-1", msg.Headers["correlation_id"])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, evt.Payload, msg.Body)
	assert.Equal(t, created, msg.Timestamp)
}

type fakeSession struct {
	healthy    bool
	publishErr error
	published  []string
	closed     bool
}

func (s *fakeSession) Publish(_ context.Context, evt models.OutboxEvent) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, evt.ID)
	return nil
}

func (s *fakeSession) IsHealthy() bool { return s.healthy }

func (s *fakeSession) Close() error {
	s.closed = true
	s.healthy = false
	return nil
}

func TestReconnectingPublisher_FailsFastWhileBackingOff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dials := 0
	session := &fakeSession{healthy: true}
	dial := func() (Session, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return session, nil
	}

	p := NewReconnectingPublisher(dial, infra.NewBackoff(time.Second, time.Minute, 2).WithoutJitter(), discardLogger())
	p.now = func() time.Time { return now }
	evt := models.OutboxEvent{ID: "evt-1"}

	err := p.Publish(context.Background(), evt)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	// still inside the backoff window: no dial
	now = now.Add(500 * time.Millisecond)
	err = p.Publish(context.Background(), evt)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, 1, dials)

	now = now.Add(time.Second)
	require.NoError(t, p.Publish(context.Background(), evt))
	assert.Equal(t, 2, dials)
	assert.True(t, p.IsHealthy())
	assert.Equal(t, []string{"evt-1"}, session.published)
}

func TestReconnectingPublisher_DropsDeadSession(t *testing.T) {
	first := &fakeSession{healthy: true}
	second := &fakeSession{healthy: true}
	sessions := []*fakeSession{first, second}
	dial := func() (Session, error) {
		s := sessions[0]
		sessions = sessions[1:]
		return s, nil
	}
	p := NewReconnectingPublisher(dial, infra.NewBackoff(time.Second, time.Minute, 2), discardLogger())

	require.NoError(t, p.Publish(context.Background(), models.OutboxEvent{ID: "a"}))

	first.publishErr = errors.New("channel closed")
	first.healthy = false
	// the session already reports unhealthy, so the next publish redials
	require.NoError(t, p.Publish(context.Background(), models.OutboxEvent{ID: "b"}))

	assert.True(t, first.closed)
	assert.Equal(t, []string{"b"}, second.published)
	require.NoError(t, p.Close())
	assert.True(t, second.closed)
}

func TestReconnectingPublisher_ConnectWithoutPublish(t *testing.T) {
	var dials atomic.Int32
	dial := func() (Session, error) {
		dials.Add(1)
		return &fakeSession{healthy: true}, nil
	}
	p := NewReconnectingPublisher(dial, infra.NewBackoff(time.Second, time.Minute, 2), discardLogger())
	assert.False(t, p.IsHealthy())

	require.NoError(t, p.Connect())
	require.NoError(t, p.Connect())

	assert.True(t, p.IsHealthy())
	assert.Equal(t, int32(1), dials.Load())
}

func TestReconnectingPublisher_MaintainKeepsIdleLinkHealthy(t *testing.T) {
	var dials atomic.Int32
	dial := func() (Session, error) {
		dials.Add(1)
		return &fakeSession{healthy: true}, nil
	}
	p := NewReconnectingPublisher(dial, infra.NewBackoff(time.Millisecond, time.Millisecond, 2), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Maintain(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, p.IsHealthy, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), dials.Load())
}

type recordingAck struct {
	acked    int
	nacked   int
	requeued bool
}

func (a *recordingAck) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

type stubHandler struct {
	outcome processor.Outcome
	err     error
	gotKey  string
}

func (h *stubHandler) Handle(_ context.Context, routingKey string, _ []byte) (processor.Outcome, error) {
	h.gotKey = routingKey
	return h.outcome, h.err
}

func TestHandleDelivery(t *testing.T) {
	cases := []struct {
		name        string
		handler     *stubHandler
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{name: "applied", handler: &stubHandler{outcome: processor.OutcomeApplied}, wantAck: 1},
		{name: "duplicate", handler: &stubHandler{outcome: processor.OutcomeDuplicate}, wantAck: 1},
		{name: "skipped", handler: &stubHandler{outcome: processor.OutcomeSkipped}, wantAck: 1},
		{name: "fatal", handler: &stubHandler{err: processor.ErrFatal}, wantNack: 1},
		{name: "transient", handler: &stubHandler{err: errors.New("db down")}, wantNack: 1, wantRequeue: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &recordingAck{}
			c := NewRabbitMQConsumer("amqp://unused", models.QueueBindings, tc.handler, 1, time.Millisecond, discardLogger())

			c.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  1,
				RoutingKey:   models.RoutingKeySongDeleted,
				Body:         []byte(`{"eventId":"e","songName":"X"}`),
			})

			assert.Equal(t, models.RoutingKeySongDeleted, tc.handler.gotKey)
			assert.Equal(t, tc.wantAck, ack.acked)
			assert.Equal(t, tc.wantNack, ack.nacked)
			assert.Equal(t, tc.wantRequeue, ack.requeued)
		})
	}
}
