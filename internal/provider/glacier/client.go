// Package glacier adapts a Glacier-style REST indexing API (cursor-paginated
// holder listings for Avalanche) to the provider contracts. The endpoint is
// unkeyed; quota pressure arrives as HTTP 429 and is absorbed by the fetch
// client's retry policy.
package glacier

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

// Client calls the Glacier HTTP API through a resilient fetch client.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a Glacier adapter.
func New(baseURL string, fetcher *fetch.Client, logger *slog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "glacier"),
	}
}

type tokenHoldersResponse struct {
	Holders []struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	} `json:"holders"`
	NextPageToken string `json:"nextPageToken"`
}

type nftOwnersResponse struct {
	Owners []struct {
		Address    string `json:"address"`
		TokenCount int64  `json:"tokenCount"`
	} `json:"owners"`
	NextPageToken string `json:"nextPageToken"`
}

type tokenOwnerResponse struct {
	Owner string `json:"owner"`
}

type tokenBalanceResponse struct {
	Balance string `json:"balance"`
}

// TokenHolders returns one page of the descending-balance holder listing.
// The cursor is an opaque page token.
func (c *Client) TokenHolders(ctx context.Context, token provider.TokenRef, cursor string, pageSize int) (provider.TokenHolderPage, error) {
	endpoint := fmt.Sprintf("%s/tokens/%s/holders?%s", c.baseURL, url.PathEscape(token.Address), pageQuery(cursor, pageSize))

	var resp tokenHoldersResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		if fetch.IsKind(err, fetch.KindNotFound) {
			return provider.TokenHolderPage{}, nil
		}
		return provider.TokenHolderPage{}, err
	}

	holders := make([]model.HolderRecord, 0, len(resp.Holders))
	for _, h := range resp.Holders {
		addr := identity.CanonicalAddress(h.Address)
		if addr == "" {
			continue
		}
		holders = append(holders, model.HolderRecord{
			Address:    addr,
			RawBalance: h.Balance,
			AssetID:    identity.CanonicalAddress(token.Address),
			Symbol:     token.Symbol,
		})
	}

	return provider.TokenHolderPage{
		Holders:    holders,
		NextCursor: resp.NextPageToken,
		HasMore:    resp.NextPageToken != "",
	}, nil
}

// NFTOwners returns one page of the collection owner listing with per-owner
// token counts.
func (c *Client) NFTOwners(ctx context.Context, collection provider.NFTRef, cursor string, pageSize int) (provider.NFTOwnerPage, error) {
	endpoint := fmt.Sprintf("%s/collections/%s/owners?%s", c.baseURL, url.PathEscape(collection.Address), pageQuery(cursor, pageSize))

	var resp nftOwnersResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		if fetch.IsKind(err, fetch.KindNotFound) {
			return provider.NFTOwnerPage{}, nil
		}
		return provider.NFTOwnerPage{}, err
	}

	owners := make([]model.HolderRecord, 0, len(resp.Owners))
	for _, o := range resp.Owners {
		addr := identity.CanonicalAddress(o.Address)
		if addr == "" {
			continue
		}
		count := strconv.FormatInt(o.TokenCount, 10)
		owners = append(owners, model.HolderRecord{
			Address:    addr,
			RawBalance: count,
			AssetID:    identity.CanonicalAddress(collection.Address),
			Symbol:     collection.Symbol,
		})
	}

	return provider.NFTOwnerPage{
		Owners:     owners,
		NextCursor: resp.NextPageToken,
		HasMore:    resp.NextPageToken != "",
	}, nil
}

// OwnerOf returns the owner address of one token ID; a 404 from the API
// surfaces as KindNotFound.
func (c *Client) OwnerOf(ctx context.Context, collection provider.NFTRef, tokenID int64) (string, error) {
	endpoint := fmt.Sprintf("%s/collections/%s/tokens/%d/owner", c.baseURL, url.PathEscape(collection.Address), tokenID)

	var resp tokenOwnerResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return "", err
	}
	return identity.CanonicalAddress(resp.Owner), nil
}

// TokenBalance returns one wallet's raw token balance.
func (c *Client) TokenBalance(ctx context.Context, token provider.TokenRef, address string) (model.HolderRecord, error) {
	endpoint := fmt.Sprintf("%s/tokens/%s/balances/%s", c.baseURL, url.PathEscape(token.Address), url.PathEscape(address))

	var resp tokenBalanceResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return model.HolderRecord{}, err
	}
	return model.HolderRecord{
		Address:    identity.CanonicalAddress(address),
		RawBalance: resp.Balance,
		AssetID:    identity.CanonicalAddress(token.Address),
		Symbol:     token.Symbol,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	build := func(_ string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	}
	decode := func(body []byte) error {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return c.fetcher.Do(ctx, build, decode)
}

func pageQuery(cursor string, pageSize int) string {
	values := url.Values{"pageSize": {strconv.Itoa(pageSize)}}
	if cursor != "" {
		values.Set("pageToken", cursor)
	}
	return values.Encode()
}
