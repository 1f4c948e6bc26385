package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinflip/events"
)

type publishedMessage struct {
	subject string
	data    []byte
}

// memoryBus is an in-memory MessagePublisher and MessageSubscriber
type memoryBus struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func([]byte) error
	err       error
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[string]func([]byte) error)}
}

func (b *memoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.published = append(b.published, publishedMessage{subject: subject, data: data})
	handler := b.handlers[subject]
	b.mu.Unlock()

	if handler != nil {
		return handler(data)
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return nil
}

func (b *memoryBus) messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

func TestNATSEventPublisher_Envelope(t *testing.T) {
	bus := newMemoryBus()
	publisher := NewNATSEventPublisher(bus, NewEventSubjectMapper())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	event := events.WagerSettledEvent{
		Sequence:     4,
		RequestID:    "42",
		Token:        "USDC",
		Amount:       "5",
		PlayerWon:    true,
		PlayerChoice: "Tails",
		Outcome:      "Tails",
		Description:  "You Won. Choice: Tails, Outcome: Tails",
	}
	require.NoError(t, publisher.Publish(event))

	msgs := bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, SubjectWagerSettled, msgs[0].subject)

	var envelope EventEnvelope
	require.NoError(t, json.Unmarshal(msgs[0].data, &envelope))
	_, err := uuid.Parse(envelope.EventID)
	assert.NoError(t, err)
	assert.Equal(t, "wager_settled", envelope.EventType)
	assert.Equal(t, "coinflip", envelope.SourceService)
	assert.True(t, fixed.Equal(envelope.Timestamp))

	var payload events.WagerSettledEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, event, payload)
}

func TestNATSEventPublisher_LocalHandlers(t *testing.T) {
	bus := newMemoryBus()
	publisher := NewNATSEventPublisher(bus, NewEventSubjectMapper())

	var calls []string
	publisher.RegisterLocalHandler(events.EventTypeWagerPhaseChanged, func(ctx context.Context, event events.Event) error {
		calls = append(calls, "first")
		return errors.New("handler failed")
	})
	publisher.RegisterLocalHandler(events.EventTypeWagerPhaseChanged, func(ctx context.Context, event events.Event) error {
		calls = append(calls, "second")
		return nil
	})

	err := publisher.Publish(events.WagerPhaseChangedEvent{OldPhase: "idle", NewPhase: "approving"})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Len(t, bus.messages(), 1)
}

func TestNATSEventPublisher_NoStreamIsNotAnError(t *testing.T) {
	bus := newMemoryBus()
	bus.err = errors.New("nats: no response from stream")
	publisher := NewNATSEventPublisher(bus, NewEventSubjectMapper())

	assert.NoError(t, publisher.Publish(events.WagerPhaseChangedEvent{}))
}

func TestNATSEventPublisher_PublishFailure(t *testing.T) {
	bus := newMemoryBus()
	bus.err = errors.New("nats: connection closed")
	publisher := NewNATSEventPublisher(bus, NewEventSubjectMapper())

	err := publisher.Publish(events.WagerPhaseChangedEvent{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
}

func TestNATSEventPublisher_ForwardToBus(t *testing.T) {
	bus := newMemoryBus()
	publisher := NewNATSEventPublisher(bus, NewEventSubjectMapper())
	local := events.NewBus()
	publisher.ForwardTo(local)

	received := make(chan events.Event, 1)
	local.Subscribe(events.EventTypeTransactionFailed, func(ctx context.Context, event events.Event) {
		received <- event
	})

	event := events.TransactionFailedEvent{Stage: "approval", Error: "user rejected"}
	require.NoError(t, publisher.Publish(event))

	select {
	case got := <-received:
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded to the local bus")
	}
}

func TestNATSEventSubscriber_ReceivesPublishedEvents(t *testing.T) {
	bus := newMemoryBus()
	mapper := NewEventSubjectMapper()
	subscriber := NewNATSEventSubscriber(bus, mapper)
	publisher := NewNATSEventPublisher(bus, mapper)

	var got []events.Event
	for _, eventType := range []events.EventType{
		events.EventTypeWagerPhaseChanged,
		events.EventTypeWagerSettled,
	} {
		require.NoError(t, subscriber.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			got = append(got, event)
			return nil
		}))
	}

	phase := events.WagerPhaseChangedEvent{Sequence: 1, OldPhase: "idle", NewPhase: "approving"}
	settled := events.WagerSettledEvent{Sequence: 3, RequestID: "42", PlayerWon: false}
	require.NoError(t, publisher.Publish(phase))
	require.NoError(t, publisher.Publish(settled))

	assert.Equal(t, []events.Event{phase, settled}, got)
}

func TestNATSEventSubscriber_RejectsMalformedMessages(t *testing.T) {
	subscriber := NewNATSEventSubscriber(newMemoryBus(), NewEventSubjectMapper())
	require.NoError(t, subscriber.Subscribe(events.EventTypeWagerSettled, func(ctx context.Context, event events.Event) error {
		return nil
	}))

	assert.Error(t, subscriber.handleMessage(SubjectWagerSettled, []byte("not json")))

	unknown, err := json.Marshal(EventEnvelope{EventType: "mystery", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Error(t, subscriber.handleMessage(SubjectWagerSettled, unknown))

	valid, err := json.Marshal(EventEnvelope{EventType: "wager_settled", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Error(t, subscriber.handleMessage("coinflip.unregistered", valid))
	assert.NoError(t, subscriber.handleMessage(SubjectWagerSettled, valid))
}

// stalledBus is a MessagePublisher whose server is slow to acknowledge
type stalledBus struct {
	*memoryBus
	ack chan struct{}
}

func (b *stalledBus) Publish(ctx context.Context, subject string, data []byte) error {
	<-b.ack
	return b.memoryBus.Publish(ctx, subject, data)
}

func TestNATSEventPublisher_QueuedBehindSlowServer(t *testing.T) {
	bus := &stalledBus{memoryBus: newMemoryBus(), ack: make(chan struct{})}
	async := events.NewAsyncPublisher(NewNATSEventPublisher(bus, NewEventSubjectMapper()), 16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 3; i++ {
			assert.NoError(t, async.Publish(events.WagerPhaseChangedEvent{Sequence: i}))
		}
		assert.NoError(t, async.Publish(events.WagerSettledEvent{Sequence: 4, RequestID: "42"}))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish waited for the server")
	}
	assert.Empty(t, bus.messages())

	close(bus.ack)
	require.NoError(t, async.Close(context.Background()))

	msgs := bus.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, SubjectWagerSettled, msgs[3].subject)
	for i, msg := range msgs {
		var envelope EventEnvelope
		require.NoError(t, json.Unmarshal(msg.data, &envelope))
		var payload struct {
			Sequence uint64 `json:"sequence"`
		}
		require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
		assert.Equal(t, uint64(i+1), payload.Sequence)
	}
}
