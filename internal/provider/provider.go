// Package provider defines the upstream data-source contracts the engine
// consumes. Each adapter normalizes its provider's pagination and response
// shapes to HolderRecord; retry, pacing and credential policy live in the
// fetch client the adapter is built on.
package provider

import (
	"context"
	"errors"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
)

// ErrNoHolderListing is returned by NFT sources that cannot enumerate owners
// via a listing endpoint; the holder fetcher then falls back to per-token-ID
// enumeration.
var ErrNoHolderListing = errors.New("provider has no holder listing endpoint")

// TokenRef identifies an ERC-20 requirement asset.
type TokenRef struct {
	Address  string
	Symbol   string
	Decimals int
}

// NFTRef identifies an ERC-721 requirement collection.
type NFTRef struct {
	Address string
	Symbol  string
}

// TokenHolderPage is one page of a descending-balance holder listing.
type TokenHolderPage struct {
	Holders    []model.HolderRecord
	NextCursor string
	HasMore    bool
}

// NFTOwnerPage is one page of a collection owner listing. Each record's
// balance is the owner's token count.
type NFTOwnerPage struct {
	Owners     []model.HolderRecord
	NextCursor string
	HasMore    bool
}

// TokenHolderSource lists holders of a token, largest balance first.
type TokenHolderSource interface {
	TokenHolders(ctx context.Context, token TokenRef, cursor string, pageSize int) (TokenHolderPage, error)
}

// NFTHolderSource enumerates owners of a collection. NFTOwners may return
// ErrNoHolderListing, in which case OwnerOf is used per token ID; OwnerOf
// reports a fetch.KindNotFound error for token IDs past the end of the
// collection.
type NFTHolderSource interface {
	NFTOwners(ctx context.Context, collection NFTRef, cursor string, pageSize int) (NFTOwnerPage, error)
	OwnerOf(ctx context.Context, collection NFTRef, tokenID int64) (string, error)
}

// BalanceSource reads a single wallet's balance of a token.
type BalanceSource interface {
	TokenBalance(ctx context.Context, token TokenRef, address string) (model.HolderRecord, error)
}
