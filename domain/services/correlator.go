package services

import (
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
)

// Decision is what the correlator did with a fact
type Decision string

const (
	// DecisionMiss means the fact did not belong to the active request and was discarded
	DecisionMiss Decision = "miss"
	// DecisionNoted means the fact matched but changed nothing the session acts on
	DecisionNoted Decision = "noted"
	// DecisionAdopted means a new request identifier became active
	DecisionAdopted Decision = "adopted"
	// DecisionFulfillmentSignalled means a fulfillment event arrived for the active request
	DecisionFulfillmentSignalled Decision = "fulfillment_signalled"
	// DecisionFulfilled means polled status confirmed fulfillment; the outcome may now be read
	DecisionFulfilled Decision = "fulfilled"
	// DecisionSettled means the outcome was accepted. It happens at most once per request.
	DecisionSettled Decision = "settled"
)

// OutcomeCorrelator binds asynchronously arriving facts to the single active
// randomness request. It is not safe for concurrent use; the wager session
// owns it and feeds it from its fact loop.
type OutcomeCorrelator struct {
	active              entities.RequestID
	fulfillmentSignaled bool
	fulfilled           bool
	settled             bool
	outcome             *entities.GameOutcome
}

// NewOutcomeCorrelator creates a correlator with no active request
func NewOutcomeCorrelator() *OutcomeCorrelator {
	return &OutcomeCorrelator{}
}

// Active returns the active request identifier, empty when none
func (c *OutcomeCorrelator) Active() entities.RequestID {
	return c.active
}

// Fulfilled reports whether fulfillment of the active request was observed in its status
func (c *OutcomeCorrelator) Fulfilled() bool {
	return c.fulfilled
}

// Settled reports whether an outcome was accepted for the active request
func (c *OutcomeCorrelator) Settled() bool {
	return c.settled
}

// Outcome returns the accepted outcome, nil until settled
func (c *OutcomeCorrelator) Outcome() *entities.GameOutcome {
	return c.outcome
}

// Clear drops the active request
func (c *OutcomeCorrelator) Clear() {
	*c = OutcomeCorrelator{}
}

// Ingest applies one fact and reports the decision. Facts that are not
// correlated to a request are a miss.
func (c *OutcomeCorrelator) Ingest(f facts.Fact) Decision {
	switch fact := f.(type) {
	case facts.AcceptedFact:
		return c.adopt(fact.RequestID)

	case facts.FulfilledFact:
		if !c.matches(fact.RequestID) {
			return c.miss(f, fact.RequestID)
		}
		if c.settled || c.fulfillmentSignaled {
			return DecisionNoted
		}
		c.fulfillmentSignaled = true
		return DecisionFulfillmentSignalled

	case facts.StatusFact:
		if !c.matches(fact.RequestID) {
			return c.miss(f, fact.RequestID)
		}
		if !fact.Status.Fulfilled || c.fulfilled || c.settled {
			return DecisionNoted
		}
		c.fulfilled = true
		return DecisionFulfilled

	case facts.OutcomeFact:
		if !c.matches(fact.RequestID) {
			return c.miss(f, fact.RequestID)
		}
		if !c.fulfilled || c.settled {
			return DecisionNoted
		}
		outcome := fact.Outcome
		c.outcome = &outcome
		c.settled = true
		return DecisionSettled

	default:
		log.WithField("kind", f.Kind()).Debug("Correlator ignoring uncorrelated fact")
		return DecisionMiss
	}
}

func (c *OutcomeCorrelator) adopt(id entities.RequestID) Decision {
	if id.IsZero() {
		return DecisionMiss
	}
	if id == c.active {
		return DecisionNoted
	}
	if !c.active.IsZero() {
		log.WithFields(log.Fields{
			"previous": c.active,
			"current":  id,
		}).Info("Superseding active request")
	}
	*c = OutcomeCorrelator{active: id}
	return DecisionAdopted
}

func (c *OutcomeCorrelator) matches(id entities.RequestID) bool {
	return !c.active.IsZero() && id == c.active
}

func (c *OutcomeCorrelator) miss(f facts.Fact, id entities.RequestID) Decision {
	log.WithFields(log.Fields{
		"kind":       f.Kind(),
		"request_id": id,
		"active":     c.active,
	}).Debug("Discarding fact for inactive request")
	return DecisionMiss
}
