package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/cache"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/metrics"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/social"
	"golang.org/x/sync/errgroup"
)

// ErrResolutionAborted is returned when the social provider reports
// persistent rate limiting or credential exhaustion. The whole batch aborts:
// a partially resolved identity set would silently produce an incomplete
// eligibility set downstream.
var ErrResolutionAborted = errors.New("identity resolution aborted")

const (
	defaultCacheSize = 4096
	defaultBatchSize = 10
)

// Resolver maps wallet addresses to Arena identities. Lookup order: static
// config mapping, run cache, profile provider. A Resolver is run-scoped;
// nothing it caches survives into the next scheduler run.
type Resolver struct {
	static    map[string]model.SocialIdentity
	provider  social.Provider
	cache     *cache.LRU[string, *model.SocialIdentity]
	batchSize int
	logger    *slog.Logger
}

// NewResolver creates a run-scoped resolver. static maps addresses to
// handles as configured; provider may be nil when only the static mapping is
// in play.
func NewResolver(static map[string]string, provider social.Provider, cacheSize, batchSize int, logger *slog.Logger) *Resolver {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	canonical := make(map[string]model.SocialIdentity, len(static))
	for addr, handle := range static {
		key := CanonicalAddress(addr)
		h := CanonicalHandle(handle)
		if key == "" || h == "" {
			continue
		}
		canonical[key] = model.SocialIdentity{Handle: h}
	}

	return &Resolver{
		static:    canonical,
		provider:  provider,
		cache:     cache.NewLRU[string, *model.SocialIdentity](cacheSize),
		batchSize: batchSize,
		logger:    logger.With("component", "resolver"),
	}
}

// Resolve returns the identity for one address, or nil when the address has
// no profile. The nil answer is cached too, so known-absent profiles are not
// re-queried within the run.
func (r *Resolver) Resolve(ctx context.Context, address string) (*model.SocialIdentity, error) {
	key := CanonicalAddress(address)
	if key == "" {
		return nil, nil
	}

	if id, ok := r.static[key]; ok {
		metrics.ResolverLookupsTotal.WithLabelValues("static").Inc()
		return &id, nil
	}
	if cached, ok := r.cache.Get(key); ok {
		metrics.ResolverLookupsTotal.WithLabelValues("cache").Inc()
		return cached, nil
	}
	if r.provider == nil {
		r.cache.Put(key, nil)
		return nil, nil
	}

	id, err := r.provider.GetProfile(ctx, key)
	if err != nil {
		if fetch.IsExhaustion(err) {
			metrics.ResolverAbortsTotal.Inc()
			return nil, fmt.Errorf("%w: %s: %v", ErrResolutionAborted, key, err)
		}
		return nil, fmt.Errorf("resolve %s: %w", key, err)
	}

	metrics.ResolverLookupsTotal.WithLabelValues("provider").Inc()
	r.cache.Put(key, id)
	return id, nil
}

// ResolveBatch resolves many addresses, issuing provider lookups in
// fixed-size concurrent batches. Batches run in submission order; completion
// order within a batch is unconstrained, results are keyed by canonical
// address. Any aborted lookup aborts the whole batch.
func (r *Resolver) ResolveBatch(ctx context.Context, addresses []string) (map[string]*model.SocialIdentity, error) {
	resolved := make(map[string]*model.SocialIdentity, len(addresses))
	var mu sync.Mutex

	pending := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		key := CanonicalAddress(addr)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, key)
	}

	for start := 0; start < len(pending); start += r.batchSize {
		end := start + r.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for _, key := range pending[start:end] {
			key := key
			g.Go(func() error {
				id, err := r.Resolve(gCtx, key)
				if err != nil {
					return err
				}
				mu.Lock()
				resolved[key] = id
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	hits, misses := r.cache.Stats()
	r.logger.Debug("batch resolution complete",
		"addresses", len(pending),
		"cache_hits", hits,
		"cache_misses", misses,
	)
	return resolved, nil
}
