package domain

import "time"

// Credential is an access token plus what is needed to renew it.
type Credential struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time // zero = does not expire
	Generation   uint64
}

// Expired reports whether the access token is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the token expires within skew of now.
func (c Credential) ExpiresWithin(now time.Time, skew time.Duration) bool {
	return !c.ExpiresAt.IsZero() && !now.Add(skew).Before(c.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// TokenState is the lifecycle state of a credential scope.
type TokenState string

const (
	TokenStateNone       TokenState = "no_credential"
	TokenStateValid      TokenState = "valid"
	TokenStateRefreshing TokenState = "refreshing"
	TokenStateInvalid    TokenState = "invalid"
)
