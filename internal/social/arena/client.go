// Package arena adapts the Arena profile API to the social.Provider
// contract.
package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
)

// Client calls the Arena profile endpoint through a resilient fetch client.
// Arena rate limits aggressively; the fetch client's extended rate-limit
// backoff applies before a lookup is reported as exhausted.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// New creates an Arena profile client.
func New(baseURL string, fetcher *fetch.Client, logger *slog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "arena"),
	}
}

type profileResponse struct {
	User struct {
		TwitterHandle  string `json:"twitterHandle"`
		TwitterPicture string `json:"twitterPicture"`
	} `json:"user"`
}

// GetProfile returns the Arena identity for an address, or nil when the
// address has no profile.
func (c *Client) GetProfile(ctx context.Context, address string) (*model.SocialIdentity, error) {
	endpoint := fmt.Sprintf("%s/user/profile/%s", c.baseURL, url.PathEscape(identity.CanonicalAddress(address)))

	var resp profileResponse
	build := func(_ string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	}
	decode := func(body []byte) error {
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("unmarshal profile: %w", err)
		}
		return nil
	}

	if err := c.fetcher.Do(ctx, build, decode); err != nil {
		if fetch.IsKind(err, fetch.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	handle := identity.CanonicalHandle(resp.User.TwitterHandle)
	if handle == "" {
		return nil, nil
	}
	return &model.SocialIdentity{
		Handle:          handle,
		ProfileImageURL: resp.User.TwitterPicture,
	}, nil
}
