package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/interfaces"
	"coinflip/domain/services"
	"coinflip/domain/utils"
	"coinflip/events"
)

const (
	defaultInboxSize = 64
	abandonTimeout   = 30 * time.Second
	drainTimeout     = 5 * time.Second
	settledMessage   = "Game completed"
)

// SessionConfig holds the fixed parameters of a wager session
type SessionConfig struct {
	Game                 ethtypes.Address0xHex
	Token                ethtypes.Address0xHex
	PollInterval         time.Duration
	RevokeStaleAllowance bool
	InboxSize            int
	OutboundQueueSize    int
}

// Snapshot is a consistent, read-only view of the session
type Snapshot struct {
	Sequence  uint64
	Phase     entities.Phase
	Message   string
	Error     string
	Success   string
	Result    *entities.FlipResult
	RequestID entities.RequestID
	Wallet    entities.Wallet
	Token     ethtypes.Address0xHex
	Symbol    string
	Decimals  int
	Balance   *big.Int
	Treasury  *big.Int
	Loading   bool
}

// BalanceDisplay returns the player's balance rounded for display
func (s Snapshot) BalanceDisplay() string {
	return utils.FormatDisplay(s.Balance, s.Decimals)
}

// TreasuryDisplay returns the treasury balance rounded for display, empty when unknown
func (s Snapshot) TreasuryDisplay() string {
	if s.Treasury == nil {
		return ""
	}
	return utils.FormatDisplay(s.Treasury, s.Decimals)
}

type submitCommand struct {
	wallet entities.Wallet
	amount string
	choice entities.Choice
	fresh  *facts.BalanceReadFact
	reply  chan error
}

type dismissCommand struct {
	reply chan error
}

type selectTokenCommand struct {
	token ethtypes.Address0xHex
	reply chan error
}

type observeWalletCommand struct {
	wallet entities.Wallet
	reply  chan error
}

func (submitCommand) Kind() facts.Kind        { return "submit_wager" }
func (dismissCommand) Kind() facts.Kind       { return "dismiss" }
func (selectTokenCommand) Kind() facts.Kind   { return "select_token" }
func (observeWalletCommand) Kind() facts.Kind { return "observe_wallet" }

// WagerSession runs one player's wagers. A single goroutine owns all session
// state and consumes the inbox; ledger watchers, pollers, transaction waiters
// and the public methods only post facts to it.
type WagerSession struct {
	reader   interfaces.LedgerReader
	source   interfaces.EventSource
	staged   *events.StagedPublisher
	outbound *events.AsyncPublisher
	metrics  WagerMetrics
	config   SessionConfig

	inbox     chan facts.Fact
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	snapshot  atomic.Pointer[Snapshot]

	// owned by the run loop
	state        entities.WagerState
	wallet       entities.Wallet
	balances     *services.BalanceReader
	orchestrator *services.TransactionOrchestrator
	correlator   *services.OutcomeCorrelator
	poller       *BetStatusPoller
	polling      *PollHandle
	sequence     uint64
}

// NewWagerSession creates a session. source may be nil, in which case
// acceptance is learned from wager receipts only.
func NewWagerSession(
	reader interfaces.LedgerReader,
	writer interfaces.LedgerWriter,
	source interfaces.EventSource,
	publisher events.Publisher,
	metrics WagerMetrics,
	config SessionConfig,
) *WagerSession {
	if config.InboxSize <= 0 {
		config.InboxSize = defaultInboxSize
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	// events leave the loop through one forwarding goroutine, in commit order
	outbound := events.NewAsyncPublisher(publisher, config.OutboundQueueSize)
	s := &WagerSession{
		reader:     reader,
		source:     source,
		staged:     events.NewStagedPublisher(outbound),
		outbound:   outbound,
		metrics:    metrics,
		config:     config,
		inbox:      make(chan facts.Fact, config.InboxSize),
		done:       make(chan struct{}),
		state:      entities.WagerState{Phase: entities.PhaseIdle},
		correlator: services.NewOutcomeCorrelator(),
	}
	s.balances = services.NewBalanceReader(reader, config.Game, config.Token, s.post)
	s.orchestrator = services.NewTransactionOrchestrator(writer, config.Game, s.post, config.RevokeStaleAllowance)
	s.poller = NewBetStatusPoller(reader, config.PollInterval, s.post)
	s.storeSnapshot()
	return s
}

// Start launches the session loop and the contract event watcher, and
// triggers the first balance read. It must be called once before any other method.
func (s *WagerSession) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.source != nil {
		go func() {
			if err := s.source.Run(s.ctx, s.post); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Contract event watcher stopped")
			}
		}()
	}

	s.balances.Refresh(s.ctx, s.wallet.Account)
	s.storeSnapshot()

	go s.run()
}

// Close abandons the session. Ledger transactions already sent finalize on their own.
func (s *WagerSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

// Snapshot returns the latest view of the session
func (s *WagerSession) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// SubmitWager validates and starts a wager. Balances are read fresh before
// validation; if that read fails the last known values are used.
func (s *WagerSession) SubmitWager(ctx context.Context, wallet entities.Wallet, amount string, choice entities.Choice) error {
	snap := s.Snapshot()
	if !snap.Phase.AcceptsNewWager() {
		return entities.ErrWagerInFlight
	}

	cmd := submitCommand{wallet: wallet, amount: amount, choice: choice, reply: make(chan error, 1)}
	if wallet.HasAccount() {
		fresh := s.balances.Read(ctx, snap.Token, wallet.Account)
		cmd.fresh = &fresh
	}
	return s.send(ctx, cmd, cmd.reply)
}

// Dismiss acknowledges a result or error and returns the session to idle
func (s *WagerSession) Dismiss(ctx context.Context) error {
	cmd := dismissCommand{reply: make(chan error, 1)}
	return s.send(ctx, cmd, cmd.reply)
}

// SelectToken switches the token used for the next wager and re-reads balances.
// A wager already in flight keeps the token it was submitted with.
func (s *WagerSession) SelectToken(ctx context.Context, token ethtypes.Address0xHex) error {
	cmd := selectTokenCommand{token: token, reply: make(chan error, 1)}
	return s.send(ctx, cmd, cmd.reply)
}

// ObserveWallet records a wallet connection change and re-reads balances
func (s *WagerSession) ObserveWallet(ctx context.Context, wallet entities.Wallet) error {
	cmd := observeWalletCommand{wallet: wallet, reply: make(chan error, 1)}
	return s.send(ctx, cmd, cmd.reply)
}

func (s *WagerSession) send(ctx context.Context, cmd facts.Fact, reply chan error) error {
	select {
	case s.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return entities.ErrSessionClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return entities.ErrSessionClosed
	}
}

// post delivers a fact to the loop, dropping it once the session is closed
func (s *WagerSession) post(f facts.Fact) {
	select {
	case s.inbox <- f:
	case <-s.ctx.Done():
	}
}

func (s *WagerSession) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case f := <-s.inbox:
			reply, err := s.apply(f)
			s.commit()
			if reply != nil {
				reply <- err
			}
		}
	}
}

func (s *WagerSession) shutdown() {
	s.stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	s.orchestrator.Abandon(ctx)

	s.staged.Discard()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	_ = s.outbound.Close(drainCtx)
	log.Info("Wager session closed")
}

// apply handles one inbox entry. Commands return their reply channel so the
// caller is answered only after the new state is visible.
func (s *WagerSession) apply(f facts.Fact) (chan error, error) {
	log.WithField("kind", f.Kind()).Debug("Applying fact")

	switch fact := f.(type) {
	case submitCommand:
		return fact.reply, s.submit(fact)
	case dismissCommand:
		return fact.reply, s.dismiss()
	case selectTokenCommand:
		s.balances.SelectToken(fact.token)
		s.balances.Refresh(s.ctx, s.wallet.Account)
		return fact.reply, nil
	case observeWalletCommand:
		s.wallet = fact.wallet
		s.balances.Refresh(s.ctx, s.wallet.Account)
		return fact.reply, nil

	case facts.TxSubmittedFact, facts.TxConfirmedFact, facts.TxFailedFact:
		s.handleTransaction(f)
	case facts.AcceptedFact:
		s.handleAccepted(fact)
	case facts.FulfilledFact, facts.StatusFact, facts.OutcomeFact:
		s.handleCorrelated(f)
	case facts.BalanceReadFact:
		if s.balances.Apply(fact) && fact.Err != nil {
			s.metrics.RecordBalanceReadFailure(s.ctx)
		}
	default:
		log.WithField("kind", f.Kind()).Warn("Unhandled fact")
	}
	return nil, nil
}

func (s *WagerSession) submit(cmd submitCommand) error {
	if !s.state.Phase.AcceptsNewWager() {
		return entities.ErrWagerInFlight
	}
	s.wallet = cmd.wallet

	view := s.validationView(cmd.fresh)
	verr := services.ValidateWager(services.ValidationInput{
		Wallet:   cmd.wallet,
		Amount:   cmd.amount,
		Decimals: view.Decimals,
		Symbol:   view.Symbol,
		Balance:  view.Balance,
		Treasury: view.Treasury,
	})
	if verr != nil {
		log.WithFields(log.Fields{
			"kind":   verr.Kind,
			"amount": cmd.amount,
		}).Info("Wager rejected by validation")
		s.state.Error = verr.Message
		s.state.Success = ""
		return verr
	}

	units, err := utils.ParseUnits(cmd.amount, view.Decimals)
	if err != nil {
		return fmt.Errorf("failed to convert amount: %w", err)
	}
	req := entities.NewWagerRequest(view.Token, cmd.amount, units, view.Decimals, cmd.choice)

	s.clearWager()
	if err := s.orchestrator.Start(s.ctx, req); err != nil {
		return fmt.Errorf("failed to start wager: %w", err)
	}

	s.state.Request = &req
	s.transition(entities.PhaseApproving)
	s.metrics.RecordWagerSubmitted(s.ctx)
	return nil
}

// validationView prefers a fresh read of the selected token over the cached view
func (s *WagerSession) validationView(fresh *facts.BalanceReadFact) entities.TokenBalance {
	view := s.balances.Current()
	if fresh == nil || fresh.Err != nil || fresh.Balance.Token != view.Token {
		return view
	}
	merged := fresh.Balance
	if merged.Treasury == nil {
		merged.Treasury = view.Treasury
	}
	if merged.Symbol == "" {
		merged.Symbol = view.Symbol
	}
	return merged
}

func (s *WagerSession) dismiss() error {
	switch {
	case s.state.Phase.InProgress():
		return entities.ErrWagerInFlight
	case s.state.Phase == entities.PhaseIdle:
		s.state.Error = ""
		return nil
	}

	s.clearWager()
	s.orchestrator.Reset()
	s.transition(entities.PhaseIdle)
	return nil
}

// clearWager drops everything tied to the previous wager
func (s *WagerSession) clearWager() {
	s.stopPolling()
	s.correlator.Clear()
	s.state.Request = nil
	s.state.RequestID = ""
	s.state.Result = nil
	s.state.Error = ""
	s.state.Success = ""
}

func (s *WagerSession) handleTransaction(f facts.Fact) {
	update := s.orchestrator.Handle(s.ctx, f)

	if !s.state.Phase.InProgress() {
		return
	}

	if update.Err != nil {
		s.fail(update.Err)
		return
	}
	if !update.Changed {
		return
	}

	switch {
	case update.State.IsApproving():
		s.transition(entities.PhaseApproving)
	case update.State.IsSubmitting(), update.State == services.OrchestratorSubmitted:
		s.transition(entities.PhaseFlipping)
	}

	if update.Receipt != nil {
		for _, accepted := range update.Receipt.Accepted {
			if accepted.TxHash == "" {
				accepted.TxHash = update.Receipt.TxHash
			}
			s.handleAccepted(facts.AcceptedFact{WagerAccepted: accepted})
		}
		s.balances.Refresh(s.ctx, s.wallet.Account)
	}
}

func (s *WagerSession) fail(txErr *entities.TransactionError) {
	s.metrics.RecordTransactionFailed(s.ctx, string(txErr.Stage))

	wagerID := ""
	if s.state.Request != nil {
		wagerID = s.state.Request.ID.String()
	}
	s.stopPolling()
	s.state.Error = txErr.Error()
	s.state.Success = ""
	s.staged.Stage(events.TransactionFailedEvent{
		Sequence: s.nextSequence(),
		WagerID:  wagerID,
		Stage:    string(txErr.Stage),
		TxHash:   txErr.Hash,
		Error:    txErr.Error(),
	})
	s.transition(entities.PhaseError)
}

// handleAccepted adopts a request identifier, but only for the flip this
// session sent: the contract emits acceptances for every player.
func (s *WagerSession) handleAccepted(f facts.AcceptedFact) {
	wagerHash := s.orchestrator.WagerHash()
	if s.state.Phase != entities.PhaseFlipping || wagerHash == "" || !strings.EqualFold(wagerHash, f.TxHash) {
		log.WithFields(log.Fields{
			"request_id": f.RequestID,
			"tx_hash":    f.TxHash,
			"phase":      s.state.Phase,
		}).Debug("Ignoring acceptance for another transaction")
		s.metrics.RecordCorrelationMiss(s.ctx, string(f.Kind()))
		return
	}

	if s.correlator.Ingest(f) != services.DecisionAdopted {
		return
	}

	s.stopPolling()
	s.state.RequestID = f.RequestID
	s.polling = s.poller.Start(s.ctx, f.RequestID)

	log.WithFields(log.Fields{
		"request_id": f.RequestID,
		"tx_hash":    f.TxHash,
	}).Info("Wager accepted")
}

func (s *WagerSession) handleCorrelated(f facts.Fact) {
	switch s.correlator.Ingest(f) {
	case services.DecisionMiss:
		s.metrics.RecordCorrelationMiss(s.ctx, string(f.Kind()))
	case services.DecisionFulfillmentSignalled:
		if s.polling != nil {
			s.polling.Nudge()
		}
	case services.DecisionSettled:
		s.settle()
	}
}

func (s *WagerSession) settle() {
	outcome := s.correlator.Outcome()
	if outcome == nil || s.state.Phase != entities.PhaseFlipping {
		return
	}

	result := entities.NewFlipResult(s.correlator.Active(), *outcome)
	s.state.Result = result
	s.state.Success = settledMessage
	s.state.Error = ""
	s.stopPolling()
	// The outcome proves the flip was mined; a late receipt must not reopen anything
	s.orchestrator.Reset()

	s.transition(entities.PhaseSettled)

	settled := events.WagerSettledEvent{
		Sequence:     s.nextSequence(),
		RequestID:    result.RequestID.String(),
		PlayerWon:    result.Won(),
		PlayerChoice: outcome.PlayerChoice.String(),
		Outcome:      outcome.Outcome.String(),
		Description:  result.Description,
	}
	if req := s.state.Request; req != nil {
		settled.WagerID = req.ID.String()
		settled.Token = req.Token.String()
		settled.Amount = req.Amount
	}
	s.staged.Stage(settled)

	log.WithFields(log.Fields{
		"request_id": result.RequestID,
		"won":        result.Won(),
	}).Info(result.Description)

	s.metrics.RecordWagerSettled(s.ctx, result.Won())
	s.balances.Refresh(s.ctx, s.wallet.Account)
}

func (s *WagerSession) transition(next entities.Phase) {
	if s.state.Phase == next {
		return
	}
	old := s.state.Phase
	s.state.Phase = next
	if next == entities.PhaseIdle {
		s.state.Reset()
	}

	event := events.WagerPhaseChangedEvent{
		Sequence:  s.nextSequence(),
		OldPhase:  string(old),
		NewPhase:  string(next),
		RequestID: s.state.RequestID.String(),
		Message:   s.phaseMessage(),
	}
	if s.state.Request != nil {
		event.WagerID = s.state.Request.ID.String()
	}
	s.staged.Stage(event)

	log.WithFields(log.Fields{
		"from": old,
		"to":   next,
	}).Info("Wager phase changed")
}

func (s *WagerSession) phaseMessage() string {
	switch s.state.Phase {
	case entities.PhaseError:
		return s.state.Error
	case entities.PhaseSettled:
		return s.state.Success
	default:
		return s.state.Phase.ProgressMessage()
	}
}

func (s *WagerSession) nextSequence() uint64 {
	s.sequence++
	return s.sequence
}

func (s *WagerSession) stopPolling() {
	if s.polling != nil {
		s.polling.Stop()
		s.polling = nil
	}
}

// commit makes the new state visible and only then releases the events it raised
func (s *WagerSession) commit() {
	s.storeSnapshot()
	s.staged.Flush()
}

func (s *WagerSession) storeSnapshot() {
	view := s.balances.Current()
	snap := &Snapshot{
		Sequence:  s.sequence,
		Phase:     s.state.Phase,
		Message:   s.state.Phase.ProgressMessage(),
		Error:     s.state.Error,
		Success:   s.state.Success,
		Result:    s.state.Result,
		RequestID: s.state.RequestID,
		Wallet:    s.wallet,
		Token:     view.Token,
		Symbol:    view.Symbol,
		Decimals:  view.Decimals,
		Balance:   view.Balance,
		Treasury:  view.Treasury,
		Loading:   s.balances.Loading(),
	}
	s.snapshot.Store(snap)
}
