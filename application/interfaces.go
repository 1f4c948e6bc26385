package application

import (
	"context"
)

// WagerMetrics records wager lifecycle counters
type WagerMetrics interface {
	RecordWagerSubmitted(ctx context.Context)
	RecordWagerSettled(ctx context.Context, won bool)
	RecordTransactionFailed(ctx context.Context, stage string)
	RecordCorrelationMiss(ctx context.Context, kind string)
	RecordBalanceReadFailure(ctx context.Context)
}

// NoopMetrics discards all measurements
type NoopMetrics struct{}

func (NoopMetrics) RecordWagerSubmitted(context.Context)            {}
func (NoopMetrics) RecordWagerSettled(context.Context, bool)        {}
func (NoopMetrics) RecordTransactionFailed(context.Context, string) {}
func (NoopMetrics) RecordCorrelationMiss(context.Context, string)   {}
func (NoopMetrics) RecordBalanceReadFailure(context.Context)        {}
