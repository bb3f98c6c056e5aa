package smartrent

import (
	"errors"

	"github.com/openrent/smartrent-go/api"
	"github.com/openrent/smartrent-go/internal/auth"
)

var (
	// ErrInvalidCredentials is a fatal authentication failure; it is
	// never retried automatically.
	ErrInvalidCredentials = auth.ErrInvalidCredentials

	// ErrTwoFactorRequired means the account needs a two-factor code;
	// supply one with WithTFACode or WithTFACodeProvider.
	ErrTwoFactorRequired = auth.ErrTwoFactorRequired

	// ErrUnauthorized is surfaced after a request failed twice with a
	// stale token (one automatic refresh-and-retry is attempted first).
	ErrUnauthorized = api.ErrUnauthorized

	// ErrInvalidValue rejects an out-of-range or unknown attribute
	// value before anything is sent to the hub.
	ErrInvalidValue = errors.New("smartrent: invalid attribute value")
)
