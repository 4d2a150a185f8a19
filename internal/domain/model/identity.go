package model

// SocialIdentity is the Arena profile a wallet address resolves to.
type SocialIdentity struct {
	Handle          string // lowercase-canonical, empty when the profile carries no handle
	ProfileImageURL string
}
