package events

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeWagerPhaseChanged EventType = "wager_phase_changed"
	EventTypeWagerSettled      EventType = "wager_settled"
	EventTypeTransactionFailed EventType = "transaction_failed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// Publisher delivers events to interested parties
type Publisher interface {
	Publish(event Event) error
}

// WagerPhaseChangedEvent represents a wager session phase transition.
// Sequence increases by one for every event a session publishes.
type WagerPhaseChangedEvent struct {
	Sequence  uint64 `json:"sequence"`
	WagerID   string `json:"wager_id,omitempty"`
	OldPhase  string `json:"old_phase"`
	NewPhase  string `json:"new_phase"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (e WagerPhaseChangedEvent) Type() EventType {
	return EventTypeWagerPhaseChanged
}

// WagerSettledEvent represents the final outcome of a wager
type WagerSettledEvent struct {
	Sequence     uint64 `json:"sequence"`
	WagerID      string `json:"wager_id,omitempty"`
	RequestID    string `json:"request_id"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	PlayerWon    bool   `json:"player_won"`
	PlayerChoice string `json:"player_choice"`
	Outcome      string `json:"outcome"`
	Description  string `json:"description"`
}

func (e WagerSettledEvent) Type() EventType {
	return EventTypeWagerSettled
}

// TransactionFailedEvent represents a ledger write that ended a wager
type TransactionFailedEvent struct {
	Sequence uint64 `json:"sequence"`
	WagerID  string `json:"wager_id,omitempty"`
	Stage    string `json:"stage"`
	TxHash   string `json:"tx_hash,omitempty"`
	Error    string `json:"error"`
}

func (e TransactionFailedEvent) Type() EventType {
	return EventTypeTransactionFailed
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Publish emits the event in the background. It never fails.
func (b *Bus) Publish(event Event) error {
	b.Emit(context.Background(), event)
	return nil
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Handlers run asynchronously so a slow subscriber cannot stall the publisher
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// StagedPublisher holds events raised while a fact is being applied and
// releases them once the resulting state is visible. Not safe for concurrent use.
type StagedPublisher struct {
	real    Publisher
	pending []Event
}

// NewStagedPublisher wraps the publisher that receives flushed events
func NewStagedPublisher(real Publisher) *StagedPublisher {
	return &StagedPublisher{real: real}
}

// Stage queues an event until the next Flush
func (p *StagedPublisher) Stage(e Event) {
	p.pending = append(p.pending, e)
}

// Pending returns the number of queued events
func (p *StagedPublisher) Pending() int {
	return len(p.pending)
}

// Flush publishes queued events in order. A failed publish is logged and does
// not stop the remaining events.
func (p *StagedPublisher) Flush() {
	if len(p.pending) == 0 {
		return
	}
	log.WithField("pendingEventCount", len(p.pending)).Debug("Flushing staged events")

	for _, ev := range p.pending {
		if err := p.real.Publish(ev); err != nil {
			log.WithFields(log.Fields{
				"eventType": ev.Type(),
			}).WithError(err).Error("Failed to publish event")
		}
	}
	p.pending = nil
}

// Discard drops queued events
func (p *StagedPublisher) Discard() {
	p.pending = nil
}

const defaultAsyncQueueSize = 256

var (
	// ErrPublisherClosed is returned for events published after Close
	ErrPublisherClosed = errors.New("event publisher closed")

	// ErrQueueFull is returned when the outbound queue cannot take another event
	ErrQueueFull = errors.New("event queue full")
)

// AsyncPublisher hands events to a single goroutine that publishes them in
// order. Publish never waits on the underlying transport.
type AsyncPublisher struct {
	next  Publisher
	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher starts the forwarding goroutine. size <= 0 uses the default queue size.
func NewAsyncPublisher(next Publisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = defaultAsyncQueueSize
	}
	p := &AsyncPublisher{
		next:  next,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues the event. It fails instead of blocking when the queue is full.
func (p *AsyncPublisher) Publish(event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.next.Publish(event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
			}).WithError(err).Error("Failed to forward event")
		}
	}
}

// Close stops accepting events and waits for queued ones to be published, or
// for ctx to end.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		log.WithField("queued", len(p.queue)).Warn("Gave up draining event queue")
		return ctx.Err()
	}
}
