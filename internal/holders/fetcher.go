// Package holders walks provider holder listings page by page, producing
// balance-scaled HolderRecords and terminating early once no further page
// can contain a qualifying holder.
package holders

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/metrics"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize        = 100
	defaultBelowMinRun     = 3
	defaultMissingTokenRun = 5
	defaultEnumBatchSize   = 10
	defaultEnumStartToken  = 1
	defaultMaxEnumTokens   = 10000
	defaultMaxPages        = 1000
)

// Config tunes the fetcher's pagination and termination heuristics. Zero
// values resolve to the documented defaults.
type Config struct {
	PageSize        int   // holders per listing page (default: 100)
	BelowMinRun     int   // consecutive sub-threshold holders proving exhaustion (default: 3)
	MissingTokenRun int   // consecutive missing token IDs proving collection end (default: 5)
	EnumBatchSize   int   // concurrent OwnerOf lookups per batch (default: 10)
	EnumStartToken  int64 // first token ID for enumeration (default: 1)
	MaxEnumTokens   int64 // enumeration safety cap (default: 10000)
	MaxPages        int   // listing safety cap (default: 1000)
}

// Fetcher fetches token holders and NFT owners from one provider.
type Fetcher struct {
	tokens       provider.TokenHolderSource
	nfts         provider.NFTHolderSource
	providerName string
	cfg          Config
	logger       *slog.Logger
}

// New creates a holder fetcher over one provider's sources.
func New(providerName string, tokens provider.TokenHolderSource, nfts provider.NFTHolderSource, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.BelowMinRun <= 0 {
		cfg.BelowMinRun = defaultBelowMinRun
	}
	if cfg.MissingTokenRun <= 0 {
		cfg.MissingTokenRun = defaultMissingTokenRun
	}
	if cfg.EnumBatchSize <= 0 {
		cfg.EnumBatchSize = defaultEnumBatchSize
	}
	if cfg.EnumStartToken <= 0 {
		cfg.EnumStartToken = defaultEnumStartToken
	}
	if cfg.MaxEnumTokens <= 0 {
		cfg.MaxEnumTokens = defaultMaxEnumTokens
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		tokens:       tokens,
		nfts:         nfts,
		providerName: providerName,
		cfg:          cfg,
		logger:       logger.With("component", "holders", "provider", providerName),
	}
}

// FetchTokenHolders walks the descending-balance holder listing and returns
// every holder at or above floor, balance-scaled. Because the listing is
// sorted, a run of BelowMinRun consecutive sub-floor holders proves that no
// later page can contain a qualifier, so the walk stops. The run counter
// resets on every qualifying holder: a single low outlier mid-page must not
// terminate the walk.
func (f *Fetcher) FetchTokenHolders(ctx context.Context, token provider.TokenRef, floor decimal.Decimal) ([]model.HolderRecord, error) {
	var out []model.HolderRecord
	cursor := ""
	belowRun := 0

	for pageNum := 0; pageNum < f.cfg.MaxPages; pageNum++ {
		page, err := f.tokens.TokenHolders(ctx, token, cursor, f.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("token holders page %d (%s): %w", pageNum+1, token.Symbol, err)
		}
		metrics.HolderPagesFetched.WithLabelValues(f.providerName, "token").Inc()

		for _, h := range page.Holders {
			h.Balance = f.scaleOrFallback(h.RawBalance, token.Decimals, h.Address)
			if h.Balance.GreaterThanOrEqual(floor) {
				belowRun = 0
				out = append(out, h)
				continue
			}
			belowRun++
			if belowRun >= f.cfg.BelowMinRun {
				f.logger.Debug("holder listing exhausted below floor",
					"token", token.Symbol,
					"pages", pageNum+1,
					"holders", len(out),
				)
				metrics.HoldersFetched.WithLabelValues("token").Add(float64(len(out)))
				return out, nil
			}
		}

		// HasMore reflects the raw page size upstream; the filtered holder
		// count can be shorter when the provider returned malformed entries.
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	metrics.HoldersFetched.WithLabelValues("token").Add(float64(len(out)))
	return out, nil
}

// FetchNFTHolders returns per-owner token counts for a collection. When the
// provider has an owner listing it is paged through directly; otherwise the
// collection is enumerated token ID by token ID, and a run of
// MissingTokenRun consecutive missing IDs is read as the end of the
// collection.
func (f *Fetcher) FetchNFTHolders(ctx context.Context, collection provider.NFTRef) ([]model.HolderRecord, error) {
	records, err := f.fetchNFTOwnersListing(ctx, collection)
	if err == nil {
		metrics.HoldersFetched.WithLabelValues("nft").Add(float64(len(records)))
		return records, nil
	}
	if err != provider.ErrNoHolderListing {
		return nil, err
	}

	records, err = f.enumerateNFTOwners(ctx, collection)
	if err != nil {
		return nil, err
	}
	metrics.HoldersFetched.WithLabelValues("nft").Add(float64(len(records)))
	return records, nil
}

func (f *Fetcher) fetchNFTOwnersListing(ctx context.Context, collection provider.NFTRef) ([]model.HolderRecord, error) {
	counts := make(map[string]int64)
	order := make([]string, 0)
	cursor := ""

	for pageNum := 0; pageNum < f.cfg.MaxPages; pageNum++ {
		page, err := f.nfts.NFTOwners(ctx, collection, cursor, f.cfg.PageSize)
		if err != nil {
			if err == provider.ErrNoHolderListing {
				return nil, err
			}
			return nil, fmt.Errorf("nft owners page %d (%s): %w", pageNum+1, collection.Symbol, err)
		}
		metrics.HolderPagesFetched.WithLabelValues(f.providerName, "nft").Inc()

		for _, o := range page.Owners {
			count := f.scaleOrFallback(o.RawBalance, 0, o.Address)
			if _, seen := counts[o.Address]; !seen {
				order = append(order, o.Address)
			}
			counts[o.Address] += count.IntPart()
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return ownerRecords(collection, counts, order), nil
}

// enumerateNFTOwners issues OwnerOf lookups in fixed-size concurrent batches,
// in token ID order. Completion order within a batch is unconstrained;
// results are re-examined in ID order so the missing-token run counter stays
// deterministic.
func (f *Fetcher) enumerateNFTOwners(ctx context.Context, collection provider.NFTRef) ([]model.HolderRecord, error) {
	counts := make(map[string]int64)
	order := make([]string, 0)
	missingRun := 0

	for start := f.cfg.EnumStartToken; start < f.cfg.EnumStartToken+f.cfg.MaxEnumTokens; start += int64(f.cfg.EnumBatchSize) {
		batch := make([]string, f.cfg.EnumBatchSize)
		missing := make([]bool, f.cfg.EnumBatchSize)
		var mu sync.Mutex

		g, gCtx := errgroup.WithContext(ctx)
		for i := 0; i < f.cfg.EnumBatchSize; i++ {
			i := i
			tokenID := start + int64(i)
			g.Go(func() error {
				owner, err := f.nfts.OwnerOf(gCtx, collection, tokenID)
				if err != nil {
					if fetch.IsKind(err, fetch.KindNotFound) {
						mu.Lock()
						missing[i] = true
						mu.Unlock()
						return nil
					}
					return fmt.Errorf("owner of %s #%d: %w", collection.Symbol, tokenID, err)
				}
				mu.Lock()
				batch[i] = owner
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i := 0; i < f.cfg.EnumBatchSize; i++ {
			if missing[i] || batch[i] == "" {
				missingRun++
				if missingRun >= f.cfg.MissingTokenRun {
					f.logger.Debug("collection end reached by missing-token run",
						"collection", collection.Symbol,
						"last_token_id", start+int64(i),
						"owners", len(counts),
					)
					return ownerRecords(collection, counts, order), nil
				}
				continue
			}
			missingRun = 0
			if _, seen := counts[batch[i]]; !seen {
				order = append(order, batch[i])
			}
			counts[batch[i]]++
		}
	}

	f.logger.Warn("nft enumeration hit safety cap",
		"collection", collection.Symbol,
		"cap", f.cfg.MaxEnumTokens,
	)
	return ownerRecords(collection, counts, order), nil
}

func ownerRecords(collection provider.NFTRef, counts map[string]int64, order []string) []model.HolderRecord {
	records := make([]model.HolderRecord, 0, len(order))
	for _, addr := range order {
		records = append(records, model.HolderRecord{
			Address:    addr,
			Balance:    decimal.NewFromInt(counts[addr]),
			RawBalance: decimal.NewFromInt(counts[addr]).String(),
			AssetID:    collection.Address,
			Symbol:     collection.Symbol,
		})
	}
	return records
}

// scaleOrFallback converts a raw integer balance into its human-scaled
// decimal. A malformed raw string must not abort the batch: it falls back to
// plain big-integer division and logs the anomaly.
func (f *Fetcher) scaleOrFallback(raw string, decimals int, address string) decimal.Decimal {
	scaled, err := ScaleRawBalance(raw, decimals)
	if err == nil {
		return scaled
	}

	metrics.HolderScaleFallbacks.Inc()
	f.logger.Warn("malformed raw balance; using integer-division fallback",
		"address", address,
		"raw", raw,
		"error", err,
	)
	return fallbackScale(raw, decimals)
}

// ScaleRawBalance divides a raw integer balance string by 10^decimals.
func ScaleRawBalance(raw string, decimals int) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty raw balance")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse raw balance %q: %w", raw, err)
	}
	return d.Shift(int32(-decimals)), nil
}

// fallbackScale extracts the leading digit run and integer-divides it by
// 10^decimals, discarding the fractional part.
func fallbackScale(raw string, decimals int) decimal.Decimal {
	digits := leadingDigits(strings.TrimSpace(raw))
	if digits == "" {
		return decimal.Zero
	}

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return decimal.Zero
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Quo(value, divisor)
	return decimal.NewFromBigInt(value, 0)
}

func leadingDigits(v string) string {
	for i, ch := range v {
		if ch < '0' || ch > '9' {
			return v[:i]
		}
	}
	return v
}
