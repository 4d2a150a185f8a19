// Package snowscan adapts the Snowscan explorer API (etherscan-style query
// interface for Avalanche C-Chain) to the provider contracts. Snowscan is the
// only keyed provider: requests carry an API key from a rotating pool.
package snowscan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider"
)

// Client calls the Snowscan HTTP API through a resilient fetch client.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a Snowscan adapter. fetcher carries the key pool, retry policy
// and pacing for this provider.
func New(baseURL string, fetcher *fetch.Client, logger *slog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "snowscan"),
	}
}

// TokenHolders returns one page of the descending-balance holder listing.
// The cursor is a 1-based page number; an empty cursor means the first page.
func (c *Client) TokenHolders(ctx context.Context, token provider.TokenRef, cursor string, pageSize int) (provider.TokenHolderPage, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return provider.TokenHolderPage{}, fmt.Errorf("invalid holder page cursor %q: %w", cursor, err)
		}
		page = parsed
	}

	params := url.Values{
		"module":          {"token"},
		"action":          {"tokenholderlist"},
		"contractaddress": {token.Address},
		"page":            {strconv.Itoa(page)},
		"offset":          {strconv.Itoa(pageSize)},
	}

	var entries []holderEntry
	err := c.call(ctx, params, &entries)
	if err != nil {
		if fetch.IsKind(err, fetch.KindNotFound) {
			// "No token holder found": an empty listing, not a failure.
			return provider.TokenHolderPage{}, nil
		}
		return provider.TokenHolderPage{}, err
	}

	holders := make([]model.HolderRecord, 0, len(entries))
	for _, entry := range entries {
		addr := identity.CanonicalAddress(entry.TokenHolderAddress)
		if addr == "" {
			continue
		}
		holders = append(holders, model.HolderRecord{
			Address:    addr,
			RawBalance: entry.TokenHolderQuantity,
			AssetID:    identity.CanonicalAddress(token.Address),
			Symbol:     token.Symbol,
		})
	}

	// Pagination is judged on the raw page size: skipped malformed entries
	// must not make a full provider page look like the last one.
	return provider.TokenHolderPage{
		Holders:    holders,
		NextCursor: strconv.Itoa(page + 1),
		HasMore:    len(entries) == pageSize,
	}, nil
}

// NFTOwners is unsupported: Snowscan has no collection owner listing, so the
// holder fetcher enumerates OwnerOf per token ID instead.
func (c *Client) NFTOwners(_ context.Context, _ provider.NFTRef, _ string, _ int) (provider.NFTOwnerPage, error) {
	return provider.NFTOwnerPage{}, provider.ErrNoHolderListing
}

// OwnerOf returns the owner address of one token ID. Token IDs past the end
// of the collection surface as KindNotFound.
func (c *Client) OwnerOf(ctx context.Context, collection provider.NFTRef, tokenID int64) (string, error) {
	params := url.Values{
		"module":          {"token"},
		"action":          {"tokenownerof"},
		"contractaddress": {collection.Address},
		"tokenid":         {strconv.FormatInt(tokenID, 10)},
	}

	var owner string
	if err := c.call(ctx, params, &owner); err != nil {
		return "", err
	}
	return identity.CanonicalAddress(owner), nil
}

// TokenBalance returns one wallet's raw token balance.
func (c *Client) TokenBalance(ctx context.Context, token provider.TokenRef, address string) (model.HolderRecord, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokenbalance"},
		"contractaddress": {token.Address},
		"address":         {address},
		"tag":             {"latest"},
	}

	var raw string
	if err := c.call(ctx, params, &raw); err != nil {
		return model.HolderRecord{}, err
	}
	return model.HolderRecord{
		Address:    identity.CanonicalAddress(address),
		RawBalance: raw,
		AssetID:    identity.CanonicalAddress(token.Address),
		Symbol:     token.Symbol,
	}, nil
}

// call executes one API request and decodes the etherscan-style envelope into
// result. API-level failures delivered with HTTP 200 are classified here, in
// one place, into the typed failure taxonomy.
func (c *Client) call(ctx context.Context, params url.Values, result any) error {
	build := func(key string) (*http.Request, error) {
		withKey := url.Values{}
		for k, v := range params {
			withKey[k] = v
		}
		if key != "" {
			withKey.Set("apikey", key)
		}
		return http.NewRequest(http.MethodGet, c.baseURL+"/api?"+withKey.Encode(), nil)
	}

	decode := func(body []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		if envelope.Status != "1" {
			return classifyEnvelope(envelope)
		}
		raw, err := json.Marshal(envelope.Result)
		if err != nil {
			return fmt.Errorf("re-marshal result: %w", err)
		}
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
		return nil
	}

	return c.fetcher.Do(ctx, build, decode)
}

func classifyEnvelope(envelope Envelope) error {
	detail, _ := envelope.Result.(string)
	err := fmt.Errorf("api status %q: %s %s", envelope.Status, envelope.Message, detail)

	combined := strings.ToLower(envelope.Message + " " + detail)
	switch {
	case strings.Contains(combined, "rate limit"):
		return fetch.RateLimited(err)
	case strings.Contains(combined, "invalid api key"), strings.Contains(combined, "missing api key"):
		return fetch.Unauthorized(err)
	case strings.Contains(combined, "no token holder"),
		strings.Contains(combined, "no transactions found"),
		strings.Contains(combined, "does not exist"),
		strings.Contains(combined, "not found"):
		return fetch.NotFound(err)
	default:
		return err
	}
}
