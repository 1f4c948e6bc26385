package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"coinflip/application"
	"coinflip/config"
	"coinflip/events"
	"coinflip/infrastructure"
	"coinflip/infrastructure/ledger"
	"coinflip/infrastructure/observability"
)

const metricsShutdownTimeout = 5 * time.Second

// shutdownMetrics is replaced in tests
var shutdownMetrics = observability.ShutdownGlobalMetrics

// app holds the wired collaborators of a wager session
type app struct {
	cfg     *config.Config
	token   config.Token
	ledger  *ledger.Client
	bus     *events.Bus
	nats    *infrastructure.NATSClient
	session *application.WagerSession
}

// dialLedger connects the ledger client and checks the chain
func dialLedger(ctx context.Context, cfg *config.Config) (*ledger.Client, error) {
	signer, err := ledger.LoadSigner(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	log.WithField("url", cfg.RPCURL).Info("Connecting to ledger node...")
	client := ledger.Dial(cfg.RPCURL, ledger.Config{
		ChainID:             cfg.ChainID,
		GameContract:        cfg.GameContract,
		GasEstimateFactor:   cfg.GasEstimateFactor,
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		EventPollInterval:   cfg.PollInterval,
	}, signer)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to ledger node: %w", err)
	}

	fields := log.Fields{"chainId": client.ChainID(), "game": cfg.GameContract.String()}
	if account := client.Account(); account != nil {
		fields["account"] = account.String()
	}
	log.WithFields(fields).Info("Ledger connection established successfully")
	return client, nil
}

// connectNATS connects to NATS and makes sure the event stream exists
func connectNATS(ctx context.Context, cfg *config.Config) (*infrastructure.NATSClient, error) {
	log.WithField("servers", cfg.NATSServers).Info("Connecting to NATS...")
	client := infrastructure.NewNATSClient(cfg.NATSServers)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	mapper := infrastructure.NewEventSubjectMapper()
	if err := client.EnsureStream(infrastructure.DomainEventStream, mapper.GetAllSubjects()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ensure event stream: %w", err)
	}
	log.Info("NATS connection established successfully")
	return client, nil
}

// startApp wires and starts a wager session for the given token symbol
func startApp(ctx context.Context, cfg *config.Config, tokenSymbol string) (*app, error) {
	token, err := cfg.ResolveToken(tokenSymbol)
	if err != nil {
		return nil, err
	}

	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
		log.WithError(err).Warn("Failed to initialize metrics, continuing without them")
	}
	var metrics application.WagerMetrics = application.NoopMetrics{}
	if mp := observability.GetMetrics(); mp != nil {
		metrics = mp
	}

	a := &app{
		cfg:    cfg,
		token:  token,
		ledger: client,
		bus:    events.NewBus(),
	}

	var publisher events.Publisher = a.bus
	if cfg.NATSEnabled {
		nc, err := connectNATS(ctx, cfg)
		if err != nil {
			// the ledger client holds no connection; only metrics need releasing
			releaseMetrics()
			return nil, err
		}
		a.nats = nc

		natsPublisher := infrastructure.NewNATSEventPublisher(nc, infrastructure.NewEventSubjectMapper())
		natsPublisher.ForwardTo(a.bus)
		publisher = natsPublisher
	}

	a.session = application.NewWagerSession(client, client, client, publisher, metrics, application.SessionConfig{
		Game:                 cfg.GameContract,
		Token:                token.Address,
		PollInterval:         cfg.PollInterval,
		RevokeStaleAllowance: cfg.RevokeStaleAllowance,
	})
	a.session.Start(ctx)

	if err := a.session.ObserveWallet(ctx, client.Wallet()); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to observe wallet: %w", err)
	}

	log.WithFields(log.Fields{
		"token":  token.Symbol,
		"nats":   cfg.NATSEnabled,
		"wallet": client.Wallet().HasAccount(),
	}).Info("Wager session started")
	return a, nil
}

// Close stops the session and releases connections
func (a *app) Close() {
	log.Info("Shutting down wager session...")
	a.session.Close()

	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			log.WithError(err).Error("Error closing NATS connection")
		}
	}

	releaseMetrics()
}

func releaseMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := shutdownMetrics(ctx); err != nil {
		log.WithError(err).Error("Error shutting down metrics")
	}
}
