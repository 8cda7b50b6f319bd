package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no agency token is stored for the company. The
	// caller has to run the installation flow.
	ErrNotFound = errors.New("no agency token for company")

	// ErrRefreshTokenMissing means the agency token expired and there is
	// no refresh token to renew it. The installation needs re-consent.
	ErrRefreshTokenMissing = errors.New("agency token expired and no refresh token is stored")

	// ErrMissingCompanyID means a code exchange succeeded but the platform
	// did not say which company it belongs to.
	ErrMissingCompanyID = errors.New("platform response missing company id")

	// ErrInvalidState is returned for unknown, reused or expired CSRF state.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrLocationNotFound matches *LocationNotFoundError.
	ErrLocationNotFound = errors.New("location not claimed by any company")
)

// LocationNotFoundError reports an exhausted tenant resolution. LastErr is
// the failure from the last company tried, kept for diagnostics.
type LocationNotFoundError struct {
	LocationID string
	Tried      int
	LastErr    error
}

func (e *LocationNotFoundError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("location %s not claimed by any of %d companies", e.LocationID, e.Tried)
	}
	return fmt.Sprintf("location %s not claimed by any of %d companies: last error: %v",
		e.LocationID, e.Tried, e.LastErr)
}

func (e *LocationNotFoundError) Is(target error) bool {
	return target == ErrLocationNotFound
}
