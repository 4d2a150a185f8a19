package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/config"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/holders"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	tokenAddr = "0x1000000000000000000000000000000000000001"
	nftAddr   = "0x2000000000000000000000000000000000000002"

	walletAlice = "0xaaaa000000000000000000000000000000000001"
	walletBob1  = "0xbbbb000000000000000000000000000000000001"
	walletBob2  = "0xbbbb000000000000000000000000000000000002"
	walletDave  = "0xdddd000000000000000000000000000000000001"
)

// fakeProvider serves one token's holder listing, one collection's owner
// listing, and point balance lookups.
type fakeProvider struct {
	mu sync.Mutex

	tokenHolders []model.HolderRecord
	nftOwners    []model.HolderRecord
	balances     map[string]string

	balanceLookups []string
}

func (f *fakeProvider) TokenHolders(_ context.Context, _ provider.TokenRef, cursor string, _ int) (provider.TokenHolderPage, error) {
	if cursor != "" {
		return provider.TokenHolderPage{}, nil
	}
	return provider.TokenHolderPage{Holders: f.tokenHolders}, nil
}

func (f *fakeProvider) NFTOwners(_ context.Context, _ provider.NFTRef, cursor string, _ int) (provider.NFTOwnerPage, error) {
	if cursor != "" {
		return provider.NFTOwnerPage{}, nil
	}
	return provider.NFTOwnerPage{Owners: f.nftOwners}, nil
}

func (f *fakeProvider) OwnerOf(_ context.Context, _ provider.NFTRef, _ int64) (string, error) {
	return "", fetch.NotFound(errors.New("not enumerated"))
}

func (f *fakeProvider) TokenBalance(_ context.Context, token provider.TokenRef, address string) (model.HolderRecord, error) {
	f.mu.Lock()
	f.balanceLookups = append(f.balanceLookups, address)
	f.mu.Unlock()

	raw, ok := f.balances[address]
	if !ok {
		return model.HolderRecord{}, fetch.NotFound(errors.New("no balance"))
	}
	return model.HolderRecord{
		Address:    address,
		RawBalance: raw,
		AssetID:    token.Address,
		Symbol:     token.Symbol,
	}, nil
}

type fakeSocial struct {
	mu       sync.Mutex
	profiles map[string]string
	lookups  int
}

func (f *fakeSocial) GetProfile(_ context.Context, address string) (*model.SocialIdentity, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()

	handle, ok := f.profiles[address]
	if !ok {
		return nil, nil
	}
	return &model.SocialIdentity{Handle: handle}, nil
}

func holderRec(address, raw string) model.HolderRecord {
	return model.HolderRecord{Address: address, RawBalance: raw, AssetID: tokenAddr, Symbol: "ARENA"}
}

func testProject() *config.ProjectConfig {
	return &config.ProjectConfig{
		Project:                 "arena-badges",
		Scheduler:               config.SchedulerConfig{IntervalHours: 8, RetryIntervalHours: 1},
		SumOfBalances:           true,
		ExcludeBasicForUpgraded: true,
		PermanentAccounts:       []string{"@Perm"},
		AddressHandles:          map[string]string{walletDave: "dave"},
		Basic: config.TierRequirements{
			Tokens: []config.TokenRequirement{
				{Address: tokenAddr, Symbol: "ARENA", Decimals: 18, MinBalance: "60"},
			},
		},
		Upgraded: config.TierRequirements{
			Tokens: []config.TokenRequirement{
				{Address: tokenAddr, Symbol: "ARENA", Decimals: 18, MinBalance: "200"},
			},
			NFTs: []config.NFTRequirement{
				{Address: nftAddr, Symbol: "PASS", MinCount: 1},
			},
		},
	}
}

func newTestEngine(src *fakeProvider, soc *fakeSocial) *Engine {
	fetcher := holders.New("fake", src, src, holders.Config{PageSize: 100}, testLogger())
	return New(fetcher, src, soc, Options{}, testLogger())
}

func TestRunFullPipeline(t *testing.T) {
	src := &fakeProvider{
		// Descending listing: alice clears upgraded, bob's two wallets only
		// clear basic when summed, the last wallet is under the fetch floor.
		tokenHolders: []model.HolderRecord{
			holderRec(walletAlice, "250000000000000000000"),
			holderRec(walletBob1, "40000000000000000000"),
			holderRec(walletBob2, "35000000000000000000"),
			holderRec("0xcccc000000000000000000000000000000000001", "10000000000000000000"),
		},
		nftOwners: []model.HolderRecord{
			{Address: walletAlice, RawBalance: "2", AssetID: nftAddr, Symbol: "PASS"},
		},
		balances: map[string]string{
			walletDave: "100000000000000000000",
		},
	}
	soc := &fakeSocial{profiles: map[string]string{
		walletAlice: "alice",
		walletBob1:  "bob",
		walletBob2:  "bob",
	}}

	result, err := newTestEngine(src, soc).Run(context.Background(), testProject())
	require.NoError(t, err)
	require.NotNil(t, result)

	// Alice meets upgraded (250 tokens + the pass) so exclusivity moves her
	// out of basic. Dave arrives via the static top-up. Perm is permanent in
	// both tiers.
	assert.Equal(t, map[string]struct{}{
		"bob":  {},
		"dave": {},
		"perm": {},
	}, result.BasicHandles)
	assert.Equal(t, map[string]struct{}{
		"alice": {},
		"perm":  {},
	}, result.UpgradedHandles)

	assert.Contains(t, result.BasicAddresses, walletBob1)
	assert.Contains(t, result.BasicAddresses, walletBob2)
	assert.Contains(t, result.BasicAddresses, walletDave)
	assert.Contains(t, result.UpgradedAddresses, walletAlice)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", result.RunID.String())
	assert.False(t, result.GeneratedAt.IsZero())

	// The static wallet was absent from the listing, so exactly one balance
	// top-up lookup happened.
	assert.Equal(t, []string{walletDave}, src.balanceLookups)
}

func TestRunWithoutCombiningKeepsWalletsSeparate(t *testing.T) {
	src := &fakeProvider{
		tokenHolders: []model.HolderRecord{
			holderRec(walletAlice, "250000000000000000000"),
			holderRec(walletBob1, "40000000000000000000"),
			holderRec(walletBob2, "35000000000000000000"),
		},
		nftOwners: []model.HolderRecord{
			{Address: walletAlice, RawBalance: "1", AssetID: nftAddr, Symbol: "PASS"},
		},
	}
	soc := &fakeSocial{profiles: map[string]string{
		walletAlice: "alice",
		walletBob1:  "bob",
		walletBob2:  "bob",
	}}

	project := testProject()
	project.SumOfBalances = false
	project.ExcludeBasicForUpgraded = false
	project.PermanentAccounts = nil
	project.AddressHandles = nil

	result, err := newTestEngine(src, soc).Run(context.Background(), project)
	require.NoError(t, err)

	// Bob's wallets hold 40 and 35 individually; neither clears the 60
	// minimum on its own.
	assert.Equal(t, map[string]struct{}{"alice": {}}, result.BasicHandles)
	assert.Equal(t, map[string]struct{}{"alice": {}}, result.UpgradedHandles)
}

func TestRunUpgradedNeedsEveryRequirement(t *testing.T) {
	src := &fakeProvider{
		tokenHolders: []model.HolderRecord{
			holderRec(walletAlice, "250000000000000000000"),
		},
		// Nobody owns the pass, so nobody is upgraded.
		nftOwners: nil,
	}
	soc := &fakeSocial{profiles: map[string]string{walletAlice: "alice"}}

	project := testProject()
	project.PermanentAccounts = nil
	project.AddressHandles = nil

	result, err := newTestEngine(src, soc).Run(context.Background(), project)
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"alice": {}}, result.BasicHandles)
	assert.Empty(t, result.UpgradedHandles)
}

func TestRunEmitsSpansPerStage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	src := &fakeProvider{
		tokenHolders: []model.HolderRecord{
			holderRec(walletAlice, "250000000000000000000"),
		},
		nftOwners: []model.HolderRecord{
			{Address: walletAlice, RawBalance: "1", AssetID: nftAddr, Symbol: "PASS"},
		},
	}
	soc := &fakeSocial{profiles: map[string]string{walletAlice: "alice"}}

	project := testProject()
	project.PermanentAccounts = nil
	project.AddressHandles = nil

	_, err := newTestEngine(src, soc).Run(context.Background(), project)
	require.NoError(t, err)

	names := make(map[string]int)
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["engine.run"])
	// One fetch span per unique requirement asset: the token and the pass.
	assert.Equal(t, 2, names["engine.fetch_asset"])
	assert.Equal(t, 1, names["engine.combine"])
	assert.Equal(t, 1, names["engine.classify"])
}

func TestRunPropagatesFetchFailure(t *testing.T) {
	src := &failingTokenSource{}
	fetcher := holders.New("fake", src, src, holders.Config{}, testLogger())
	e := New(fetcher, nil, nil, Options{}, testLogger())

	_, err := e.Run(context.Background(), testProject())
	require.Error(t, err)
	assert.True(t, fetch.IsKind(err, fetch.KindRateLimited), "got: %v", err)
}

type failingTokenSource struct{}

func (f *failingTokenSource) TokenHolders(_ context.Context, _ provider.TokenRef, _ string, _ int) (provider.TokenHolderPage, error) {
	return provider.TokenHolderPage{}, &fetch.Error{Kind: fetch.KindRateLimited, Provider: "fake", Attempts: 3, Err: errors.New("429")}
}

func (f *failingTokenSource) NFTOwners(_ context.Context, _ provider.NFTRef, _ string, _ int) (provider.NFTOwnerPage, error) {
	return provider.NFTOwnerPage{}, nil
}

func (f *failingTokenSource) OwnerOf(_ context.Context, _ provider.NFTRef, _ int64) (string, error) {
	return "", fetch.NotFound(errors.New("empty"))
}

func TestBuildPlansMergesTiersPerAsset(t *testing.T) {
	plans, err := buildPlans(testProject())
	require.NoError(t, err)
	require.Len(t, plans, 2)

	tokenPlan := plans[tokenAddr]
	require.NotNil(t, tokenPlan)
	require.NotNil(t, tokenPlan.token)
	assert.Equal(t, "60", tokenPlan.thresholds.Basic.String())
	assert.Equal(t, "200", tokenPlan.thresholds.Upgraded.String())

	nftPlan := plans[nftAddr]
	require.NotNil(t, nftPlan)
	require.NotNil(t, nftPlan.nft)
	assert.True(t, nftPlan.thresholds.Basic.IsZero())
	assert.Equal(t, "1", nftPlan.thresholds.Upgraded.String())
}

func TestBuildPlansRejectsMixedAssetKinds(t *testing.T) {
	project := testProject()
	project.Basic.NFTs = []config.NFTRequirement{
		{Address: tokenAddr, Symbol: "ARENA", MinCount: 1},
	}

	_, err := buildPlans(project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both token and nft")
}
