package api

import "errors"

var (
	// ErrUnauthorized indicates the API rejected the access token. Callers
	// refresh the token and retry exactly once before surfacing the failure.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrMalformedResponse indicates a response body that could not be
	// decoded into the expected shape.
	ErrMalformedResponse = errors.New("api: malformed response")
)
