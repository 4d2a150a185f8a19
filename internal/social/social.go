// Package social defines the social-profile lookup contract used by the
// identity resolver.
package social

import (
	"context"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
)

// Provider maps a wallet address to its social identity. A nil identity with
// a nil error means the address has no profile; that absence is a cacheable
// answer, not a failure.
type Provider interface {
	GetProfile(ctx context.Context, address string) (*model.SocialIdentity, error)
}
