package model

import (
	"github.com/shopspring/decimal"
)

// HolderRecord is a single wallet's holding of one asset, as reported by a
// provider. Address is lowercase-canonical before the record enters any
// set or map operation.
type HolderRecord struct {
	Address    string
	Balance    decimal.Decimal // human-scaled: raw / 10^decimals
	RawBalance string          // raw integer string as returned by the provider
	AssetID    string          // token contract or NFT collection address
	Symbol     string
}

// CombinedHolderRecord aggregates one or more HolderRecords that resolve to
// the same social identity. Records are combined per asset; the numeric
// total is the only field that changes when wallets merge, display metadata
// comes from the first-encountered record.
type CombinedHolderRecord struct {
	IdentityKey     string // handle when resolved, address otherwise
	Handle          string // empty when the identity is unresolved
	TotalBalance    decimal.Decimal
	SourceAddresses []string // insertion order preserved
	AssetID         string
	Symbol          string
	MeetsBasic      bool
	MeetsUpgraded   bool
}
