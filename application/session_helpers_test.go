package application

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/testhelpers"
	"coinflip/events"
)

const (
	testApprovalHash = "0xaa01"
	testWagerHash    = "0xff01"
	testRequestID    = entities.RequestID("42")
)

// recordingPublisher captures published events in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var phases []string
	for _, ev := range r.events {
		if pc, ok := ev.(events.WagerPhaseChangedEvent); ok {
			phases = append(phases, pc.NewPhase)
		}
	}
	return phases
}

func (r *recordingPublisher) settled() []events.WagerSettledEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var settled []events.WagerSettledEvent
	for _, ev := range r.events {
		if s, ok := ev.(events.WagerSettledEvent); ok {
			settled = append(settled, s)
		}
	}
	return settled
}

// fakeEventSource lets a test inject contract events into a running session
type fakeEventSource struct {
	mu    sync.Mutex
	sink  func(facts.Fact)
	ready chan struct{}
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{ready: make(chan struct{})}
}

func (f *fakeEventSource) Run(ctx context.Context, sink func(facts.Fact)) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEventSource) emit(t *testing.T, fact facts.Fact) {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("event source never started")
	}
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(fact)
}

// recordingMetrics counts what the session records
type recordingMetrics struct {
	mu        sync.Mutex
	submitted int
	settled   []bool
	failed    []string
	misses    []string
	balance   int
}

func (m *recordingMetrics) RecordWagerSubmitted(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *recordingMetrics) RecordWagerSettled(_ context.Context, won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, won)
}

func (m *recordingMetrics) RecordTransactionFailed(_ context.Context, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, stage)
}

func (m *recordingMetrics) RecordCorrelationMiss(_ context.Context, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses = append(m.misses, kind)
}

func (m *recordingMetrics) RecordBalanceReadFailure(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance++
}

func (m *recordingMetrics) missCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.misses)
}

type sessionFixture struct {
	reader    *testhelpers.MockLedgerReader
	writer    *testhelpers.MockLedgerWriter
	source    *fakeEventSource
	publisher *recordingPublisher
	metrics   *recordingMetrics
	session   *WagerSession
	wallet    entities.Wallet
	token     ethtypes.Address0xHex
	game      ethtypes.Address0xHex
	player    ethtypes.Address0xHex
}

func newSessionFixture(pollInterval time.Duration) *sessionFixture {
	f := &sessionFixture{
		reader:    new(testhelpers.MockLedgerReader),
		writer:    new(testhelpers.MockLedgerWriter),
		source:    newFakeEventSource(),
		publisher: &recordingPublisher{},
		metrics:   &recordingMetrics{},
		token:     testhelpers.Address(testhelpers.TestTokenAddress),
		game:      testhelpers.Address(testhelpers.TestGameAddress),
		player:    testhelpers.Address(testhelpers.TestPlayerAddress),
	}
	f.wallet = entities.ConnectedWallet(f.player)
	f.session = f.newSession(f.publisher, pollInterval)
	return f
}

func (f *sessionFixture) newSession(publisher events.Publisher, pollInterval time.Duration) *WagerSession {
	return NewWagerSession(f.reader, f.writer, f.source, publisher, f.metrics, SessionConfig{
		Game:                 f.game,
		Token:                f.token,
		PollInterval:         pollInterval,
		RevokeStaleAllowance: true,
	})
}

// slowPublisher holds every event until released, then hands it to next
type slowPublisher struct {
	next    events.Publisher
	release chan struct{}
	calls   atomic.Int32
}

func newSlowPublisher(next events.Publisher) *slowPublisher {
	return &slowPublisher{next: next, release: make(chan struct{})}
}

func (p *slowPublisher) Publish(event events.Event) error {
	p.calls.Add(1)
	<-p.release
	return p.next.Publish(event)
}

// stubBalances answers token reads for the default token
func (f *sessionFixture) stubBalances(balance, treasury int64) {
	f.reader.On("Symbol", mock.Anything, f.token).Return("STABLEAI", nil)
	f.reader.On("Decimals", mock.Anything, f.token).Return(18, nil)
	f.reader.On("BalanceOf", mock.Anything, f.token, f.player).Return(testhelpers.Tokens(balance), nil)
	f.reader.On("BalanceOf", mock.Anything, f.token, f.game).Return(testhelpers.Tokens(treasury), nil)
}

// stubTransactions makes approve and flip succeed; the flip receipt carries the acceptance
func (f *sessionFixture) stubTransactions() {
	f.writer.On("Approve", mock.Anything, f.token, f.game, mock.MatchedBy(func(a *big.Int) bool { return a.Sign() > 0 })).
		Return(testApprovalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, testApprovalHash).
		Return(&entities.Receipt{TxHash: testApprovalHash, BlockNumber: 100, Success: true}, nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, f.token, mock.Anything).Return(testWagerHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, testWagerHash).
		Return(&entities.Receipt{
			TxHash:      testWagerHash,
			BlockNumber: 101,
			Success:     true,
			Accepted:    []entities.WagerAccepted{{RequestID: testRequestID, NumWords: 1}},
		}, nil)
}

func (f *sessionFixture) stubOutcome(id entities.RequestID, won bool, choice entities.Choice) {
	outcome := choice
	if !won {
		outcome = !choice
	}
	f.reader.On("GetGameOutcome", mock.Anything, id).Return(&entities.GameOutcome{
		PlayerWon:       won,
		PlayerChoice:    choice,
		Outcome:         outcome,
		BetAmount:       testhelpers.Tokens(5),
		PotentialPayout: testhelpers.Tokens(10),
	}, nil)
}

func fulfilledStatus() *entities.BetStatus {
	return &entities.BetStatus{Exists: true, Fulfilled: true, Numbers: []*big.Int{big.NewInt(12345)}, Amount: testhelpers.Tokens(5)}
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	f.session.Start(context.Background())
	t.Cleanup(f.session.Close)
	f.waitFor(t, "initial balance read", func(s Snapshot) bool { return !s.Loading })
}

func (f *sessionFixture) waitFor(t *testing.T, what string, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.session.Snapshot()) }, 3*time.Second, 5*time.Millisecond, what)
}

func (f *sessionFixture) waitForPhase(t *testing.T, phase entities.Phase) {
	t.Helper()
	f.waitFor(t, "phase "+string(phase), func(s Snapshot) bool { return s.Phase == phase })
}

// waitForPublished waits until the published phase changes equal want
func (f *sessionFixture) waitForPublished(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, f.publisher.phases()) },
		3*time.Second, 5*time.Millisecond, "published phases %v", want)
}

// sync returns once every fact posted before it has been applied
func (f *sessionFixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.ObserveWallet(context.Background(), f.wallet))
}
