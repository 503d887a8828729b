// Package handlers defines HTTP-layer error codes used across the admin API.
//
// These symbolic constants give clients a stable, machine-readable error
// taxonomy that supplements human-readable messages. Codes are lowercase
// snake_case; generic codes mirror common HTTP status semantics.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
