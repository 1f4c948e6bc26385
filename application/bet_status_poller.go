package application

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/interfaces"
	"coinflip/domain/services"
)

// BetStatusPoller polls the game contract for a request's status until it is
// fulfilled, then reads the outcome once. Everything it learns is posted as a
// fact; it never decides anything itself.
type BetStatusPoller struct {
	reader   interfaces.LedgerReader
	interval time.Duration
	sink     services.FactSink
}

// NewBetStatusPoller creates a poller that reports to sink
func NewBetStatusPoller(reader interfaces.LedgerReader, interval time.Duration, sink services.FactSink) *BetStatusPoller {
	return &BetStatusPoller{
		reader:   reader,
		interval: interval,
		sink:     sink,
	}
}

// PollHandle controls one running poll
type PollHandle struct {
	requestID entities.RequestID
	nudge     chan struct{}
	stop      chan struct{}
	once      sync.Once
}

// RequestID returns the request being polled
func (h *PollHandle) RequestID() entities.RequestID {
	return h.requestID
}

// Nudge makes the poller check again without waiting for the interval
func (h *PollHandle) Nudge() {
	select {
	case h.nudge <- struct{}{}:
	default:
	}
}

// Stop ends polling. It is safe to call more than once.
func (h *PollHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Start begins polling requestID in the background
func (p *BetStatusPoller) Start(ctx context.Context, requestID entities.RequestID) *PollHandle {
	h := &PollHandle{
		requestID: requestID,
		nudge:     make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	go func() {
		logger := log.WithField("request_id", requestID)
		logger.Debug("Bet status poller started")

		if !p.pollStatus(ctx, h, logger) {
			return
		}
		p.pollOutcome(ctx, h, logger)
	}()

	return h
}

// pollStatus returns true once the request is fulfilled, false if stopped first
func (p *BetStatusPoller) pollStatus(ctx context.Context, h *PollHandle, logger *log.Entry) bool {
	for {
		status, err := p.reader.GetBetStatus(ctx, h.requestID)
		if err != nil {
			logger.WithError(err).Warn("Failed to read bet status")
		} else {
			p.sink(facts.StatusFact{RequestID: h.requestID, Status: *status})
			if status.Fulfilled {
				return true
			}
		}

		if !p.wait(ctx, h) {
			return false
		}
	}
}

func (p *BetStatusPoller) pollOutcome(ctx context.Context, h *PollHandle, logger *log.Entry) {
	for {
		outcome, err := p.reader.GetGameOutcome(ctx, h.requestID)
		if err == nil {
			p.sink(facts.OutcomeFact{RequestID: h.requestID, Outcome: *outcome})
			return
		}
		logger.WithError(err).Warn("Failed to read game outcome")

		if !p.wait(ctx, h) {
			return
		}
	}
}

// wait blocks until the next poll is due. A stop always wins over a pending nudge.
func (p *BetStatusPoller) wait(ctx context.Context, h *PollHandle) bool {
	select {
	case <-ctx.Done():
		return false
	case <-h.stop:
		return false
	case <-h.nudge:
	case <-time.After(p.interval):
	}

	select {
	case <-h.stop:
		return false
	default:
		return ctx.Err() == nil
	}
}
