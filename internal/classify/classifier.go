// Package classify computes the Basic and Upgraded eligibility sets from
// per-requirement combined holder records.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
	"github.com/google/uuid"
)

// ResolveFunc resolves a batch of addresses to identities. It is called at
// most once per classification, on the union of both tiers' unresolved
// addresses, so an address qualifying in both tiers costs one lookup.
type ResolveFunc func(ctx context.Context, addresses []string) (map[string]*model.SocialIdentity, error)

// Input carries the per-requirement combined records for each tier. A tier
// with several requirements admits only identities present in every one of
// them.
type Input struct {
	Basic    [][]model.CombinedHolderRecord
	Upgraded [][]model.CombinedHolderRecord
}

// Config holds the policy knobs applied after the tier sets are built.
type Config struct {
	PermanentAccounts       []string
	ExcludeBasicForUpgraded bool
}

// Classifier derives an EligibilityResult from combined holder records. It
// holds no state across invocations.
type Classifier struct {
	resolve ResolveFunc
	logger  *slog.Logger
}

// New creates a classifier. resolve may be nil when every record already
// carries its handle.
func New(resolve ResolveFunc, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		resolve: resolve,
		logger:  logger.With("component", "classify"),
	}
}

// tierSet is one tier's qualifying identities in first-seen order, with the
// record supplying each identity's addresses and handle.
type tierSet struct {
	order   []string
	records map[string]*model.CombinedHolderRecord
}

// Classify builds both tier sets, resolves outstanding identities once, maps
// addresses to handles, and applies the exclusivity and permanent-account
// policies.
func (c *Classifier) Classify(ctx context.Context, in Input, cfg Config) (*model.EligibilityResult, error) {
	basic := intersect(in.Basic, func(r model.CombinedHolderRecord) bool { return r.MeetsBasic })
	upgraded := intersect(in.Upgraded, func(r model.CombinedHolderRecord) bool { return r.MeetsUpgraded })

	resolved, err := c.resolveOutstanding(ctx, basic, upgraded)
	if err != nil {
		return nil, err
	}

	result := &model.EligibilityResult{
		RunID:           uuid.New(),
		GeneratedAt:     time.Now().UTC(),
		BasicHandles:    make(map[string]struct{}),
		UpgradedHandles: make(map[string]struct{}),
	}
	result.BasicAddresses = collectAddresses(basic)
	result.UpgradedAddresses = collectAddresses(upgraded)
	fillHandles(result.BasicHandles, basic, resolved)
	fillHandles(result.UpgradedHandles, upgraded, resolved)

	permanent := make(map[string]struct{}, len(cfg.PermanentAccounts))
	for _, h := range cfg.PermanentAccounts {
		if canonical := identity.CanonicalHandle(h); canonical != "" {
			permanent[canonical] = struct{}{}
		}
	}

	if cfg.ExcludeBasicForUpgraded {
		for handle := range result.BasicHandles {
			if _, protected := permanent[handle]; protected {
				continue
			}
			if _, also := result.UpgradedHandles[handle]; also {
				delete(result.BasicHandles, handle)
			}
		}
	}

	for handle := range permanent {
		result.BasicHandles[handle] = struct{}{}
		result.UpgradedHandles[handle] = struct{}{}
	}

	c.logger.Info("classification complete",
		"run_id", result.RunID,
		"basic_handles", len(result.BasicHandles),
		"upgraded_handles", len(result.UpgradedHandles),
		"basic_addresses", len(result.BasicAddresses),
		"upgraded_addresses", len(result.UpgradedAddresses),
	)
	return result, nil
}

// intersect keeps the identities present in every requirement set that also
// satisfy the tier's threshold flag. Order follows the first requirement
// set; an empty requirement list yields an empty tier.
func intersect(requirements [][]model.CombinedHolderRecord, meets func(model.CombinedHolderRecord) bool) tierSet {
	out := tierSet{records: make(map[string]*model.CombinedHolderRecord)}
	if len(requirements) == 0 {
		return out
	}

	for i := range requirements[0] {
		r := requirements[0][i]
		if !meets(r) {
			continue
		}
		if _, dup := out.records[r.IdentityKey]; dup {
			continue
		}
		out.order = append(out.order, r.IdentityKey)
		out.records[r.IdentityKey] = &requirements[0][i]
	}

	for _, req := range requirements[1:] {
		qualifying := make(map[string]struct{}, len(req))
		for _, r := range req {
			if meets(r) {
				qualifying[r.IdentityKey] = struct{}{}
			}
		}
		kept := out.order[:0]
		for _, key := range out.order {
			if _, ok := qualifying[key]; ok {
				kept = append(kept, key)
				continue
			}
			delete(out.records, key)
		}
		out.order = kept
	}
	return out
}

// resolveOutstanding resolves the union of both tiers' address-keyed
// identities in one batch. Records that already carry a handle need no
// lookup.
func (c *Classifier) resolveOutstanding(ctx context.Context, sets ...tierSet) (map[string]*model.SocialIdentity, error) {
	if c.resolve == nil {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var pending []string
	for _, set := range sets {
		for _, key := range set.order {
			r := set.records[key]
			if r.Handle != "" {
				continue
			}
			for _, addr := range r.SourceAddresses {
				if _, dup := seen[addr]; dup {
					continue
				}
				seen[addr] = struct{}{}
				pending = append(pending, addr)
			}
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	resolved, err := c.resolve(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("resolve outstanding identities: %w", err)
	}
	return resolved, nil
}

// collectAddresses unions every qualifying identity's source addresses in
// first-seen order.
func collectAddresses(set tierSet) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range set.order {
		for _, addr := range set.records[key].SourceAddresses {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// fillHandles maps a tier's identities to handles. Identities with no
// resolvable handle are dropped here; their addresses stay in the address
// output.
func fillHandles(handles map[string]struct{}, set tierSet, resolved map[string]*model.SocialIdentity) {
	for _, key := range set.order {
		r := set.records[key]
		if r.Handle != "" {
			handles[r.Handle] = struct{}{}
			continue
		}
		for _, addr := range r.SourceAddresses {
			if id := resolved[addr]; id != nil && id.Handle != "" {
				handles[id.Handle] = struct{}{}
				break
			}
		}
	}
}
