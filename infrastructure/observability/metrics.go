package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"coinflip/config"
)

// MetricsProvider manages OpenTelemetry metrics for wager sessions. It
// implements application.WagerMetrics.
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	enabled       bool
	mu            sync.RWMutex

	// reader replaces the exporter-backed periodic reader when set
	reader sdkmetric.Reader

	// Metric instruments
	wagersSubmittedCounter     metric.Int64Counter
	wagersSettledCounter       metric.Int64Counter
	wagersActiveGauge          metric.Int64UpDownCounter
	transactionsFailedCounter  metric.Int64Counter
	balanceReadFailuresCounter metric.Int64Counter
	correlationMissesCounter   metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	reader := mp.reader
	if reader == nil {
		var exporter sdkmetric.Exporter
		switch mp.config.OTelExporterType {
		case "console":
			exporter, err = stdoutmetric.New()
			if err != nil {
				return fmt.Errorf("failed to create console exporter: %w", err)
			}
			log.Info("Using console metric exporter")

		case "otlp":
			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			exporter, err = otlpmetricgrpc.New(dialCtx,
				otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
				otlpmetricgrpc.WithInsecure(),
			)
			if err != nil {
				return fmt.Errorf("failed to create OTLP exporter: %w", err)
			}
			log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

		case "none":
			log.Info("Metrics export disabled (exporter_type='none')")
			mp.initialized = true
			return nil

		default:
			return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
		}

		reader = sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
		)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp.meterProvider)
	mp.meter = mp.meterProvider.Meter("coinflip")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	mp.enabled = true
	log.Info("Metrics provider initialized successfully")
	return nil
}

// createInstruments creates all metric instruments
func (mp *MetricsProvider) createInstruments() error {
	var err error

	mp.wagersSubmittedCounter, err = mp.meter.Int64Counter(
		WagersSubmittedTotal,
		metric.WithDescription("Total number of wagers submitted to the ledger"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create wagers submitted counter: %w", err)
	}

	mp.wagersSettledCounter, err = mp.meter.Int64Counter(
		WagersSettledTotal,
		metric.WithDescription("Total number of wagers settled, by result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create wagers settled counter: %w", err)
	}

	// UpDownCounter for gauge-like behavior
	mp.wagersActiveGauge, err = mp.meter.Int64UpDownCounter(
		WagersActive,
		metric.WithDescription("Current number of wagers in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create wagers active gauge: %w", err)
	}

	mp.transactionsFailedCounter, err = mp.meter.Int64Counter(
		TransactionsFailedTotal,
		metric.WithDescription("Total number of ledger transactions that ended a wager"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transactions failed counter: %w", err)
	}

	mp.balanceReadFailuresCounter, err = mp.meter.Int64Counter(
		BalanceReadFailuresTotal,
		metric.WithDescription("Total number of failed balance reads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create balance read failures counter: %w", err)
	}

	mp.correlationMissesCounter, err = mp.meter.Int64Counter(
		CorrelationMissesTotal,
		metric.WithDescription("Total number of facts discarded for not matching the active request"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create correlation misses counter: %w", err)
	}

	return nil
}

// Shutdown flushes and stops the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordWagerSubmitted records a wager entering the ledger pipeline
func (mp *MetricsProvider) RecordWagerSubmitted(ctx context.Context) {
	if !mp.isEnabled() {
		return
	}
	mp.wagersSubmittedCounter.Add(ctx, 1)
	mp.wagersActiveGauge.Add(ctx, 1)
}

// RecordWagerSettled records a settled wager
func (mp *MetricsProvider) RecordWagerSettled(ctx context.Context, won bool) {
	if !mp.isEnabled() {
		return
	}
	result := ResultLost
	if won {
		result = ResultWon
	}
	mp.wagersSettledCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelResult, result),
		),
	)
	mp.wagersActiveGauge.Add(ctx, -1)
}

// RecordTransactionFailed records a transaction failure that ended a wager
func (mp *MetricsProvider) RecordTransactionFailed(ctx context.Context, stage string) {
	if !mp.isEnabled() {
		return
	}
	mp.transactionsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelStage, stage),
		),
	)
	mp.wagersActiveGauge.Add(ctx, -1)
}

// RecordCorrelationMiss records a fact discarded by the correlator
func (mp *MetricsProvider) RecordCorrelationMiss(ctx context.Context, kind string) {
	if !mp.isEnabled() {
		return
	}
	mp.correlationMissesCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelFact, kind),
		),
	)
}

// RecordBalanceReadFailure records a failed balance refresh
func (mp *MetricsProvider) RecordBalanceReadFailure(ctx context.Context) {
	if !mp.isEnabled() {
		return
	}
	mp.balanceReadFailuresCounter.Add(ctx, 1)
}

// isEnabled checks if metrics are enabled and instruments exist
func (mp *MetricsProvider) isEnabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.enabled
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	if globalMetrics != nil {
		return globalMetrics.Shutdown(ctx)
	}
	return nil
}
