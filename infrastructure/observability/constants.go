package observability

// Metric name prefixes
const (
	MetricPrefix = "coinflip"
)

// Metric names
const (
	// Wager metrics
	WagersSubmittedTotal = MetricPrefix + ".wagers.submitted_total"
	WagersSettledTotal   = MetricPrefix + ".wagers.settled_total"
	WagersActive         = MetricPrefix + ".wagers.active"

	// Ledger metrics
	TransactionsFailedTotal  = MetricPrefix + ".ledger.transactions_failed_total"
	BalanceReadFailuresTotal = MetricPrefix + ".ledger.balance_read_failures_total"

	// Correlation metrics
	CorrelationMissesTotal = MetricPrefix + ".correlation.misses_total"
)

// Label keys
const (
	LabelResult = "result"
	LabelStage  = "stage"
	LabelFact   = "fact"
)

// Settlement results
const (
	ResultWon  = "won"
	ResultLost = "lost"
)
