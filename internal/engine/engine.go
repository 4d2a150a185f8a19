// Package engine runs one full eligibility pipeline pass: fetch holders for
// every requirement asset, top up statically mapped wallets, combine
// balances per identity, and classify the tier sets.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/classify"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/combine"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/config"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/holders"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/social"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAssetConcurrency = 3
	defaultTopUpBatchSize   = 10
)

// prefilterRatio mirrors the combiner's pre-filter: with combining on, the
// fetch floor drops to half the lowest threshold so sub-threshold wallets
// that may sum over the line are still fetched.
var prefilterRatio = decimal.NewFromFloat(0.5)

// Engine owns the per-run pipeline. Provider clients and their key pools
// are process-scoped; the identity resolver and its cache are created fresh
// for every run.
type Engine struct {
	fetcher  *holders.Fetcher
	balances provider.BalanceSource
	social   social.Provider

	cacheSize        int
	batchSize        int
	assetConcurrency int
	logger           *slog.Logger
}

// Options tunes run-level concurrency and resolver sizing. Zero values
// resolve to defaults.
type Options struct {
	ResolverCacheSize int
	ResolverBatchSize int
	AssetConcurrency  int
}

// New creates an engine. balances may be nil when no static address top-up
// is wanted; socialProvider may be nil when only the static mapping is in
// play.
func New(fetcher *holders.Fetcher, balances provider.BalanceSource, socialProvider social.Provider, opts Options, logger *slog.Logger) *Engine {
	if opts.AssetConcurrency <= 0 {
		opts.AssetConcurrency = defaultAssetConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fetcher:          fetcher,
		balances:         balances,
		social:           socialProvider,
		cacheSize:        opts.ResolverCacheSize,
		batchSize:        opts.ResolverBatchSize,
		assetConcurrency: opts.AssetConcurrency,
		logger:           logger.With("component", "engine"),
	}
}

// assetPlan is one unique requirement asset with the tier thresholds that
// reference it. A tier not referencing the asset carries a zero threshold.
type assetPlan struct {
	token *provider.TokenRef
	nft   *provider.NFTRef

	thresholds combine.Thresholds
}

func (p *assetPlan) key() string {
	if p.token != nil {
		return identity.CanonicalAddress(p.token.Address)
	}
	return identity.CanonicalAddress(p.nft.Address)
}

func (p *assetPlan) symbol() string {
	if p.token != nil {
		return p.token.Symbol
	}
	return p.nft.Symbol
}

// Run executes one pipeline pass. Every run gets a fresh resolver so no
// cached identity survives into the next run.
func (e *Engine) Run(ctx context.Context, project *config.ProjectConfig) (*model.EligibilityResult, error) {
	ctx, span := tracing.Tracer("engine").Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("project", project.Project),
		attribute.Bool("sum_of_balances", project.SumOfBalances),
	))
	defer span.End()

	resolver := identity.NewResolver(project.AddressHandles, e.social, e.cacheSize, e.batchSize, e.logger)
	combiner := combine.New(resolver, project.SumOfBalances, e.logger)

	plans, err := buildPlans(project)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("asset_count", len(plans)))

	combined, err := e.fetchAndCombine(ctx, project, plans, combiner)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	input := classify.Input{}
	for _, t := range project.Basic.Tokens {
		input.Basic = append(input.Basic, combined[identity.CanonicalAddress(t.Address)])
	}
	for _, n := range project.Basic.NFTs {
		input.Basic = append(input.Basic, combined[identity.CanonicalAddress(n.Address)])
	}
	for _, t := range project.Upgraded.Tokens {
		input.Upgraded = append(input.Upgraded, combined[identity.CanonicalAddress(t.Address)])
	}
	for _, n := range project.Upgraded.NFTs {
		input.Upgraded = append(input.Upgraded, combined[identity.CanonicalAddress(n.Address)])
	}

	classifyCtx, classifySpan := tracing.Tracer("engine").Start(ctx, "engine.classify")
	classifier := classify.New(resolver.ResolveBatch, e.logger)
	result, err := classifier.Classify(classifyCtx, input, classify.Config{
		PermanentAccounts:       project.PermanentAccounts,
		ExcludeBasicForUpgraded: project.ExcludeBasicForUpgraded,
	})
	if err != nil {
		classifySpan.RecordError(err)
		classifySpan.End()
		span.RecordError(err)
		return nil, err
	}
	classifySpan.SetAttributes(
		attribute.Int("basic_count", len(result.BasicHandles)),
		attribute.Int("upgraded_count", len(result.UpgradedHandles)),
	)
	classifySpan.End()
	return result, nil
}

// buildPlans dedupes requirement assets across tiers so each asset is
// fetched once even when both tiers reference it.
func buildPlans(project *config.ProjectConfig) (map[string]*assetPlan, error) {
	plans := make(map[string]*assetPlan)

	addToken := func(req config.TokenRequirement, tier string) error {
		min, err := req.MinBalanceDecimal()
		if err != nil {
			return err
		}
		key := identity.CanonicalAddress(req.Address)
		plan, ok := plans[key]
		if !ok {
			plan = &assetPlan{token: &provider.TokenRef{
				Address:  key,
				Symbol:   req.Symbol,
				Decimals: req.Decimals,
			}}
			plans[key] = plan
		}
		if plan.token == nil {
			return fmt.Errorf("asset %s listed as both token and nft", req.Symbol)
		}
		if tier == "basic" {
			plan.thresholds.Basic = min
		} else {
			plan.thresholds.Upgraded = min
		}
		return nil
	}
	addNFT := func(req config.NFTRequirement, tier string) error {
		key := identity.CanonicalAddress(req.Address)
		plan, ok := plans[key]
		if !ok {
			plan = &assetPlan{nft: &provider.NFTRef{
				Address: key,
				Symbol:  req.Symbol,
			}}
			plans[key] = plan
		}
		if plan.nft == nil {
			return fmt.Errorf("asset %s listed as both token and nft", req.Symbol)
		}
		min := decimal.NewFromInt(req.MinCount)
		if tier == "basic" {
			plan.thresholds.Basic = min
		} else {
			plan.thresholds.Upgraded = min
		}
		return nil
	}

	for _, t := range project.Basic.Tokens {
		if err := addToken(t, "basic"); err != nil {
			return nil, err
		}
	}
	for _, n := range project.Basic.NFTs {
		if err := addNFT(n, "basic"); err != nil {
			return nil, err
		}
	}
	for _, t := range project.Upgraded.Tokens {
		if err := addToken(t, "upgraded"); err != nil {
			return nil, err
		}
	}
	for _, n := range project.Upgraded.NFTs {
		if err := addNFT(n, "upgraded"); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// fetchAndCombine fetches every asset's holders concurrently, then combines
// them sequentially so resolver batching stays deterministic.
func (e *Engine) fetchAndCombine(ctx context.Context, project *config.ProjectConfig, plans map[string]*assetPlan, combiner *combine.Combiner) (map[string][]model.CombinedHolderRecord, error) {
	fetched := make(map[string][]model.HolderRecord, len(plans))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.assetConcurrency)
	for _, plan := range plans {
		plan := plan
		g.Go(func() error {
			spanCtx, span := tracing.Tracer("engine").Start(gCtx, "engine.fetch_asset", trace.WithAttributes(
				attribute.String("asset", plan.key()),
				attribute.String("symbol", plan.symbol()),
			))
			records, err := e.fetchAsset(spanCtx, project, plan)
			if err != nil {
				span.RecordError(err)
				span.End()
				return err
			}
			span.SetAttributes(attribute.Int("holder_count", len(records)))
			span.End()
			mu.Lock()
			fetched[plan.key()] = records
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combineCtx, combineSpan := tracing.Tracer("engine").Start(ctx, "engine.combine", trace.WithAttributes(
		attribute.Int("asset_count", len(plans)),
	))
	defer combineSpan.End()
	combined := make(map[string][]model.CombinedHolderRecord, len(plans))
	for key, plan := range plans {
		records, err := combiner.Combine(combineCtx, fetched[key], plan.thresholds)
		if err != nil {
			combineSpan.RecordError(err)
			return nil, err
		}
		combined[key] = records
	}
	return combined, nil
}

func (e *Engine) fetchAsset(ctx context.Context, project *config.ProjectConfig, plan *assetPlan) ([]model.HolderRecord, error) {
	if plan.nft != nil {
		return e.fetcher.FetchNFTHolders(ctx, *plan.nft)
	}

	floor := lowestNonzero(plan.thresholds)
	if project.SumOfBalances {
		floor = floor.Mul(prefilterRatio)
	}
	records, err := e.fetcher.FetchTokenHolders(ctx, *plan.token, floor)
	if err != nil {
		return nil, err
	}
	return e.topUpStatic(ctx, project, plan, records, floor)
}

// topUpStatic fetches balances for statically mapped wallets the holder
// listing missed. Listings cap their depth; a mapped wallet below the
// listing horizon would otherwise silently lose its badge.
func (e *Engine) topUpStatic(ctx context.Context, project *config.ProjectConfig, plan *assetPlan, records []model.HolderRecord, floor decimal.Decimal) ([]model.HolderRecord, error) {
	if e.balances == nil || len(project.AddressHandles) == 0 {
		return records, nil
	}

	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[identity.CanonicalAddress(r.Address)] = struct{}{}
	}
	var missing []string
	for addr := range project.AddressHandles {
		if _, ok := present[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	if len(missing) == 0 {
		return records, nil
	}

	extra := make([]model.HolderRecord, len(missing))
	for start := 0; start < len(missing); start += defaultTopUpBatchSize {
		end := start + defaultTopUpBatchSize
		if end > len(missing) {
			end = len(missing)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				rec, err := e.balances.TokenBalance(gCtx, *plan.token, missing[i])
				if err != nil {
					if fetch.IsKind(err, fetch.KindNotFound) {
						return nil
					}
					return fmt.Errorf("balance top-up %s (%s): %w", missing[i], plan.token.Symbol, err)
				}
				extra[i] = rec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	added := 0
	for _, rec := range extra {
		if rec.Address == "" {
			continue
		}
		balance, err := holders.ScaleRawBalance(rec.RawBalance, plan.token.Decimals)
		if err != nil || balance.LessThan(floor) || balance.IsZero() {
			continue
		}
		rec.Balance = balance
		records = append(records, rec)
		added++
	}
	if added > 0 {
		e.logger.Debug("static wallets added past listing horizon",
			"token", plan.token.Symbol,
			"added", added,
		)
	}
	return records, nil
}

func lowestNonzero(t combine.Thresholds) decimal.Decimal {
	switch {
	case t.Basic.IsPositive() && t.Upgraded.IsPositive():
		if t.Basic.LessThan(t.Upgraded) {
			return t.Basic
		}
		return t.Upgraded
	case t.Basic.IsPositive():
		return t.Basic
	default:
		return t.Upgraded
	}
}
