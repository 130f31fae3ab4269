package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/config"
	"github.com/alanyoungcy/marketoracle/internal/consensus"
	"github.com/alanyoungcy/marketoracle/internal/crypto"
	"github.com/alanyoungcy/marketoracle/internal/dispute"
	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/pipeline"
	"github.com/alanyoungcy/marketoracle/internal/platform/chain"
	"github.com/alanyoungcy/marketoracle/internal/platform/relay"
	"github.com/alanyoungcy/marketoracle/internal/provider"
	"github.com/alanyoungcy/marketoracle/internal/submitter"
	"github.com/alanyoungcy/marketoracle/internal/watcher"
)

// Components is the resolution pipeline assembled on top of Dependencies.
type Components struct {
	Consensus *consensus.Engine
	Submitter *submitter.Submitter
	Watcher   *watcher.Watcher
	Arbiter   *dispute.Arbiter
	// Archive is nil when blob storage is disabled.
	Archive *pipeline.ArchiveJob
}

// Build assembles the pipeline: provider adapters feed the consensus engine,
// whose accepted results the watcher hands to the submitter. The dispute
// arbiter shares the submitter so finalized outcomes reach the chain the
// same way.
func Build(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Components, error) {
	adapters, err := provider.Build(ctx, providerSpecs(cfg.EnabledProviders()), deps.RateLimiter, logger)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	callers := make([]consensus.Caller, len(adapters))
	for i, ad := range adapters {
		callers[i] = ad
	}

	engine := consensus.NewEngine(consensus.Config{
		AgreementThreshold: cfg.Consensus.AgreementThreshold,
		MinQuorum:          cfg.Consensus.MinQuorum,
		ProviderTimeout:    cfg.Consensus.ProviderTimeout.Duration,
		RoundTimeout:       cfg.Consensus.RoundTimeout.Duration,
	}, callers, logger, roundRecorders(deps)...)

	strategy, err := buildStrategy(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	sub := submitter.New(submitter.Config{
		MaxAttempts: cfg.Submitter.MaxAttempts,
		BaseBackoff: cfg.Submitter.BaseBackoff.Duration,
		MaxBackoff:  cfg.Submitter.MaxBackoff.Duration,
		LockTTL:     cfg.Submitter.LockTTL.Duration,
	}, strategy, deps.Chain, logger,
		submitter.WithLocks(deps.LockManager),
		submitter.WithAudit(deps.AuditStore),
	)

	w := watcher.New(watcher.Config{
		Threshold:     cfg.Consensus.AgreementThreshold,
		MaxConcurrent: cfg.Watcher.MaxConcurrent,
	}, deps.Chain, deps.Chain, engine, sub, deps.Events, logger)

	arbiter := dispute.NewArbiter(dispute.Deps{
		Markets:   deps.Chain,
		Votes:     deps.VoteStore,
		Stakes:    deps.StakeStore,
		Slasher:   deps.StakeStore,
		Submitter: sub,
		Audit:     deps.AuditStore,
		Events:    deps.Events,
		Verify:    crypto.VerifyPersonalSign,
	}, decimal.NewFromFloat(cfg.Dispute.SlashPercent), logger)

	comps := &Components{
		Consensus: engine,
		Submitter: sub,
		Watcher:   w,
		Arbiter:   arbiter,
	}
	if deps.Archiver != nil {
		comps.Archive = pipeline.NewArchiveJob(deps.Archiver, cfg.S3.ArchiveRetentionDays, logger)
	}

	logger.InfoContext(ctx, "pipeline assembled",
		slog.Int("providers", engine.Providers()),
		slog.String("submitter", string(sub.Strategy())),
		slog.Bool("archive", comps.Archive != nil),
	)
	return comps, nil
}

// providerSpecs converts the enabled provider config into adapter specs.
func providerSpecs(cfgs []config.ProviderConfig) []provider.Spec {
	specs := make([]provider.Spec, 0, len(cfgs))
	for _, p := range cfgs {
		specs = append(specs, provider.Spec{
			ID:          p.ID,
			Kind:        p.Kind,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Models:      p.Models,
			MaxAttempts: p.MaxAttempts,
			Backoff:     p.Backoff.Duration,
			Timeout:     p.Timeout.Duration,
			RateLimit:   p.RateLimit,
		})
	}
	return specs
}

// roundRecorders returns the sinks every consensus round is written to: the
// round history table, cold storage when enabled, and the event stream.
func roundRecorders(deps *Dependencies) []consensus.RoundRecorder {
	recs := []consensus.RoundRecorder{
		consensus.RecorderFunc(deps.RoundStore.Record),
	}
	if deps.Archiver != nil {
		archiver := deps.Archiver
		recs = append(recs, consensus.RecorderFunc(func(ctx context.Context, rec domain.RoundRecord) error {
			_, err := archiver.ArchiveRound(ctx, rec)
			return err
		}))
	}
	if deps.Events != nil {
		events := deps.Events
		recs = append(recs, consensus.RecorderFunc(func(ctx context.Context, rec domain.RoundRecord) error {
			events.Emit(ctx, roundCompletedEvent(rec))
			return nil
		}))
	}
	return recs
}

func roundCompletedEvent(rec domain.RoundRecord) domain.PipelineEvent {
	return domain.PipelineEvent{
		Type:     domain.EventRoundCompleted,
		MarketID: rec.MarketID,
		Data: map[string]any{
			"round_id":        rec.RoundID,
			"accepted":        rec.Accepted,
			"outcome":         rec.Outcome.String(),
			"confidence":      rec.Confidence,
			"consensus_count": rec.ConsensusCount,
			"total_models":    rec.TotalModels,
		},
		Timestamp: rec.ComputedAt,
	}
}

// buildStrategy selects the submission path from submitter.strategy.
func buildStrategy(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (submitter.Strategy, error) {
	switch domain.SubmissionStrategy(cfg.Submitter.Strategy) {
	case domain.StrategyDirect:
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("direct submitter: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Chain.ChainID)
		if err != nil {
			return nil, fmt.Errorf("direct submitter: %w", err)
		}
		logger.Info("direct submitter ready", slog.String("resolver", signer.Address().Hex()))
		tx := chain.NewTransactor(deps.Chain.Backend(), signer, cfg.Chain.GasLimit, cfg.Chain.ReceiptPoll.Duration)
		return submitter.NewDirect(tx, deps.Chain.Contract(), cfg.Chain.ReceiptTimeout.Duration), nil
	case domain.StrategyRelay:
		api := relay.NewClient(cfg.Relay.BaseURL, cfg.Relay.APIKey)
		return submitter.NewRelay(api, cfg.Chain.ChainID, cfg.Chain.MarketContract,
			cfg.Relay.PollInterval.Duration, cfg.Relay.PollTimeout.Duration,
			deps.RelayTaskStore, logger), nil
	default:
		return nil, fmt.Errorf("submitter: unknown strategy %q", cfg.Submitter.Strategy)
	}
}
