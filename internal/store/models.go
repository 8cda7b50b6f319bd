package store

import (
	"encoding/json"
	"time"
)

// ValidityMargin is subtracted from every expiry before a token is
// considered usable, so in-flight requests never carry a token that expires
// mid-call.
const ValidityMargin = 60 * time.Second

// Usable reports whether a token expiring at expiresAt is still valid at
// now. This is the only place token validity is decided.
func Usable(expiresAt, now time.Time) bool {
	return expiresAt.After(now.Add(ValidityMargin))
}

// AgencyToken is the company-level OAuth grant. Token fields hold codec
// payloads, never plaintext.
type AgencyToken struct {
	CompanyID       string    `json:"company_id"`
	AccessTokenEnc  string    `json:"-"`
	RefreshTokenEnc string    `json:"-"` // empty when no refresh token was granted
	ExpiresAt       time.Time `json:"expires_at"`
	Scopes          []string  `json:"scopes,omitempty"`
	UserType        string    `json:"user_type,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ValidAt reports whether the access token is usable at now.
func (t *AgencyToken) ValidAt(now time.Time) bool {
	return Usable(t.ExpiresAt, now)
}

// HasRefreshToken reports whether the grant can be refreshed.
func (t *AgencyToken) HasRefreshToken() bool {
	return t.RefreshTokenEnc != ""
}

// LocationToken is a short-lived token scoped to one location, minted from
// an agency token.
type LocationToken struct {
	CompanyID      string    `json:"company_id"`
	LocationID     string    `json:"location_id"`
	AccessTokenEnc string    `json:"-"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ValidAt reports whether the access token is usable at now.
func (t *LocationToken) ValidAt(now time.Time) bool {
	return Usable(t.ExpiresAt, now)
}

// LocationProfile is the last synced snapshot of a location. The raw
// payloads are kept as returned by the platform.
type LocationProfile struct {
	CompanyID         string          `json:"company_id"`
	LocationID        string          `json:"location_id"`
	Name              string          `json:"name"`
	ProfileRaw        json.RawMessage `json:"profile,omitempty"`
	SubscriptionRaw   json.RawMessage `json:"subscription,omitempty"`
	SubscriptionError string          `json:"subscription_error,omitempty"`
	SyncedAt          time.Time       `json:"synced_at"`
}
