package domain

import "errors"

// Error kinds shared by the stores, the fetch session and the providers.
// Callers match them with errors.Is.
var (
	// ErrMalformedReference: the reference is not a URL, or an embed request
	// could not be built for it.
	ErrMalformedReference = errors.New("malformed reference")

	// ErrNotFound: no record exists for the reference.
	ErrNotFound = errors.New("metadata not found")

	// ErrNetworkFailure wraps transport, timeout and HTTP status failures.
	ErrNetworkFailure = errors.New("network failure")

	// ErrDecodeFailure: the response body could not be decoded.
	ErrDecodeFailure = errors.New("decode failure")
)
