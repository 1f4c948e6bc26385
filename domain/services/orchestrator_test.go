package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/testhelpers"
)

const (
	approvalHash = "0xa1"
	wagerHash    = "0xf1"
	revokeHash   = "0xr1"
)

type orchestratorFixture struct {
	writer *testhelpers.MockLedgerWriter
	inbox  chan facts.Fact
	orch   *TransactionOrchestrator
	req    entities.WagerRequest
}

func newOrchestratorFixture(revokeStale bool) *orchestratorFixture {
	writer := new(testhelpers.MockLedgerWriter)
	inbox := make(chan facts.Fact, 32)
	req := entities.NewWagerRequest(testhelpers.Address(testhelpers.TestTokenAddress), "5", testhelpers.Tokens(5), 18, entities.Tails)
	return &orchestratorFixture{
		writer: writer,
		inbox:  inbox,
		orch: NewTransactionOrchestrator(writer, testhelpers.Address(testhelpers.TestGameAddress),
			func(f facts.Fact) { inbox <- f }, revokeStale),
		req: req,
	}
}

func positive() interface{} {
	return mock.MatchedBy(func(a *big.Int) bool { return a.Sign() > 0 })
}

func zero() interface{} {
	return mock.MatchedBy(func(a *big.Int) bool { return a.Sign() == 0 })
}

func receipt(hash string, success bool) *entities.Receipt {
	return &entities.Receipt{TxHash: hash, BlockNumber: 10, Success: success}
}

func (f *orchestratorFixture) next(t *testing.T) facts.Fact {
	t.Helper()
	select {
	case fact := <-f.inbox:
		return fact
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fact")
		return nil
	}
}

// nextStage waits for a transaction fact of the given kind and stage, queueing
// anything else for later
func (f *orchestratorFixture) nextStage(t *testing.T, kind facts.Kind, stage entities.TxStage) facts.Fact {
	t.Helper()
	var skipped []facts.Fact
	defer func() {
		for _, s := range skipped {
			f.inbox <- s
		}
	}()
	for {
		fact := f.next(t)
		if fact.Kind() == kind && stageOf(fact) == stage {
			return fact
		}
		skipped = append(skipped, fact)
	}
}

func stageOf(f facts.Fact) entities.TxStage {
	switch fact := f.(type) {
	case facts.TxSubmittedFact:
		return fact.Stage
	case facts.TxConfirmedFact:
		return fact.Stage
	case facts.TxFailedFact:
		return fact.Stage
	}
	return ""
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	game := testhelpers.Address(testhelpers.TestGameAddress)

	f.writer.On("Approve", mock.Anything, f.req.Token, game, positive()).Return(approvalHash, nil).Once()
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, entities.Tails, f.req.Token, positive()).Return(wagerHash, nil).Once()
	f.writer.On("WaitForReceipt", mock.Anything, wagerHash).Return(receipt(wagerHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	assert.Equal(t, OrchestratorApproving, f.orch.State())

	update := f.orch.Handle(ctx, f.next(t))
	assert.True(t, update.Changed)
	assert.Equal(t, OrchestratorAwaitingApprovalConfirm, update.State)
	assert.Equal(t, approvalHash, f.orch.Approval().Hash)

	update = f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorSubmitting, update.State)
	assert.True(t, f.orch.Approval().IsConfirmed())

	update = f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorAwaitingSubmitConfirm, update.State)
	assert.Equal(t, wagerHash, f.orch.WagerHash())

	update = f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorSubmitted, update.State)
	require.NotNil(t, update.Receipt)
	assert.Equal(t, wagerHash, update.Receipt.TxHash)
	assert.True(t, f.orch.Wager().IsConfirmed())

	f.writer.AssertExpectations(t)
	f.writer.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, zero())
}

func TestOrchestrator_FlipWaitsForApprovalConfirmation(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	release := make(chan struct{})

	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).
		Run(func(mock.Arguments) { <-release }).
		Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wagerHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, wagerHash).Return(receipt(wagerHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorAwaitingApprovalConfirm, f.orch.State())

	// A stray wager-stage confirmation while approving must not advance anything
	stray := facts.TxConfirmedFact{WagerID: f.req.ID, Stage: entities.TxStageWager, Receipt: *receipt(wagerHash, true)}
	update := f.orch.Handle(ctx, stray)
	assert.False(t, update.Changed)
	assert.Equal(t, OrchestratorAwaitingApprovalConfirm, f.orch.State())

	time.Sleep(20 * time.Millisecond)
	f.writer.AssertNotCalled(t, "Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	close(release)
	f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorSubmitting, f.orch.State())

	f.orch.Handle(ctx, f.next(t))
	f.orch.Handle(ctx, f.next(t))
	assert.Equal(t, OrchestratorSubmitted, f.orch.State())
	f.writer.AssertNumberOfCalls(t, "Flip", 1)
}

func TestOrchestrator_ConfirmationInterleavings(t *testing.T) {
	tests := []struct {
		name  string
		order func(submitted, confirmed facts.Fact) []facts.Fact
	}{
		{
			name:  "in order",
			order: func(s, c facts.Fact) []facts.Fact { return []facts.Fact{s, c} },
		},
		{
			name:  "confirmation before submission",
			order: func(s, c facts.Fact) []facts.Fact { return []facts.Fact{c, s} },
		},
		{
			name:  "duplicated confirmation",
			order: func(s, c facts.Fact) []facts.Fact { return []facts.Fact{s, c, c} },
		},
		{
			name:  "duplicated everything out of order",
			order: func(s, c facts.Fact) []facts.Fact { return []facts.Fact{c, c, s, s, c} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(true)
			ctx := context.Background()
			f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
			f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
			f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wagerHash, nil)
			f.writer.On("WaitForReceipt", mock.Anything, wagerHash).Return(receipt(wagerHash, true), nil)

			require.NoError(t, f.orch.Start(ctx, f.req))
			submitted := f.next(t)
			confirmed := f.next(t)
			require.Equal(t, facts.KindTxSubmitted, submitted.Kind())
			require.Equal(t, facts.KindTxConfirmed, confirmed.Kind())

			for _, fact := range tt.order(submitted, confirmed) {
				f.orch.Handle(ctx, fact)
			}
			assert.Equal(t, OrchestratorSubmitting, f.orch.State())
			assert.True(t, f.orch.Approval().IsConfirmed())

			f.orch.Handle(ctx, f.nextStage(t, facts.KindTxSubmitted, entities.TxStageWager))
			f.orch.Handle(ctx, f.nextStage(t, facts.KindTxConfirmed, entities.TxStageWager))
			assert.Equal(t, OrchestratorSubmitted, f.orch.State())
			f.writer.AssertNumberOfCalls(t, "Flip", 1)
		})
	}
}

func TestOrchestrator_ApprovalRejected(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return("", errors.New("user rejected"))

	require.NoError(t, f.orch.Start(ctx, f.req))
	update := f.orch.Handle(ctx, f.next(t))

	require.NotNil(t, update.Err)
	assert.Equal(t, entities.TxStageApproval, update.Err.Stage)
	assert.Contains(t, update.Err.Error(), "user rejected")
	assert.Equal(t, OrchestratorIdle, f.orch.State())
	assert.Nil(t, f.orch.Request())
	f.writer.AssertNotCalled(t, "Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ApprovalReverted(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, false), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))
	update := f.orch.Handle(ctx, f.next(t))

	require.NotNil(t, update.Err)
	assert.ErrorIs(t, update.Err, entities.ErrTransactionReverted)
	assert.Equal(t, approvalHash, update.Err.Hash)
	assert.Equal(t, OrchestratorIdle, f.orch.State())
	f.writer.AssertNotCalled(t, "Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_WagerRejectedRevokesAllowance(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("insufficient funds for gas"))
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, zero()).Return(revokeHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, revokeHash).Return(receipt(revokeHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))
	f.orch.Handle(ctx, f.next(t))

	revokeSubmitted := f.next(t)
	assert.Equal(t, facts.KindTxSubmitted, revokeSubmitted.Kind())
	assert.Equal(t, entities.TxStageRevoke, stageOf(revokeSubmitted))
	assert.False(t, f.orch.Handle(ctx, revokeSubmitted).Changed)

	update := f.orch.Handle(ctx, f.nextStage(t, facts.KindTxFailed, entities.TxStageWager))
	require.NotNil(t, update.Err)
	assert.Equal(t, entities.TxStageWager, update.Err.Stage)
	assert.Equal(t, OrchestratorIdle, f.orch.State())

	revokeConfirmed := f.nextStage(t, facts.KindTxConfirmed, entities.TxStageRevoke)
	assert.False(t, f.orch.Handle(ctx, revokeConfirmed).Changed)
	f.writer.AssertNumberOfCalls(t, "Approve", 2)
}

func TestOrchestrator_WagerRevertedWithoutRevocation(t *testing.T) {
	f := newOrchestratorFixture(false)
	ctx := context.Background()
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wagerHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, wagerHash).Return(receipt(wagerHash, false), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	for i := 0; i < 3; i++ {
		f.orch.Handle(ctx, f.next(t))
	}
	update := f.orch.Handle(ctx, f.next(t))

	require.NotNil(t, update.Err)
	assert.Equal(t, wagerHash, update.Err.Hash)
	assert.ErrorIs(t, update.Err, entities.ErrTransactionReverted)
	f.writer.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, zero())
}

func TestOrchestrator_IgnoresFactsForOtherWagers(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).
		Run(func(mock.Arguments) { <-release }).
		Return(receipt(approvalHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))

	other := entities.NewWagerRequest(f.req.Token, "1", testhelpers.Tokens(1), 18, entities.Heads)
	update := f.orch.Handle(ctx, facts.TxConfirmedFact{WagerID: other.ID, Stage: entities.TxStageApproval, Receipt: *receipt("0xother", true)})
	assert.False(t, update.Changed)

	update = f.orch.Handle(ctx, facts.TxFailedFact{WagerID: other.ID, Stage: entities.TxStageApproval, Err: errors.New("boom")})
	assert.False(t, update.Changed)
	assert.Nil(t, update.Err)
	assert.Equal(t, OrchestratorAwaitingApprovalConfirm, f.orch.State())
}

func TestOrchestrator_StartWhileInFlight(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).
		Run(func(mock.Arguments) { <-release }).
		Return(receipt(approvalHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	err := f.orch.Start(ctx, f.req)
	assert.ErrorIs(t, err, entities.ErrWagerInFlight)
}

func TestOrchestrator_StartRejectsEmptyAmount(t *testing.T) {
	f := newOrchestratorFixture(true)
	req := f.req
	req.Units = new(big.Int)

	assert.Error(t, f.orch.Start(context.Background(), req))
	assert.Equal(t, OrchestratorIdle, f.orch.State())
}

func TestOrchestrator_AbandonAfterApprovalRevokes(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).
		Run(func(mock.Arguments) { <-release }).
		Return(receipt(approvalHash, true), nil)
	f.writer.On("Approve", mock.Anything, f.req.Token, testhelpers.Address(testhelpers.TestGameAddress), zero()).Return(revokeHash, nil).Once()

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))

	f.orch.Abandon(ctx)

	f.writer.AssertCalled(t, "Approve", mock.Anything, f.req.Token, testhelpers.Address(testhelpers.TestGameAddress), zero())
	assert.Equal(t, OrchestratorIdle, f.orch.State())
}

func TestOrchestrator_AbandonAfterFlipDoesNotRevoke(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wagerHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, wagerHash).
		Run(func(mock.Arguments) { <-release }).
		Return(receipt(wagerHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	f.orch.Handle(ctx, f.next(t))
	f.orch.Handle(ctx, f.next(t))
	f.orch.Handle(ctx, f.next(t))
	require.Equal(t, OrchestratorAwaitingSubmitConfirm, f.orch.State())

	f.orch.Abandon(ctx)

	f.writer.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, zero())
}

func TestOrchestrator_StartAgainAfterSubmitted(t *testing.T) {
	f := newOrchestratorFixture(true)
	ctx := context.Background()
	f.writer.On("Approve", mock.Anything, mock.Anything, mock.Anything, positive()).Return(approvalHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, approvalHash).Return(receipt(approvalHash, true), nil)
	f.writer.On("Flip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wagerHash, nil)
	f.writer.On("WaitForReceipt", mock.Anything, wagerHash).Return(receipt(wagerHash, true), nil)

	require.NoError(t, f.orch.Start(ctx, f.req))
	for i := 0; i < 4; i++ {
		f.orch.Handle(ctx, f.next(t))
	}
	require.Equal(t, OrchestratorSubmitted, f.orch.State())

	second := entities.NewWagerRequest(f.req.Token, "2", testhelpers.Tokens(2), 18, entities.Heads)
	require.NoError(t, f.orch.Start(ctx, second))
	assert.Equal(t, OrchestratorApproving, f.orch.State())
	assert.Nil(t, f.orch.Wager())
	assert.Equal(t, second.ID, f.orch.Request().ID)
}
