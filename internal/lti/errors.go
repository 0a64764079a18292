package lti

import "errors"

// Sentinel errors returned by the security core. The HTTP layer maps these
// to status codes; callers elsewhere should test with errors.Is.
var (
	ErrPlatformNotFound = errors.New("lti: platform not found")
	ErrKeyNotFound      = errors.New("lti: key pair not found")
	ErrStateNotFound    = errors.New("lti: state not found or already consumed")
	ErrNonceAlreadyUsed = errors.New("lti: nonce already used")
	ErrInvalidToken     = errors.New("lti: invalid token")
	ErrExpiredToken     = errors.New("lti: token expired")
	ErrConflict         = errors.New("lti: platform already registered")
	ErrInvalidRecord    = errors.New("lti: required claim missing")
	ErrRecordNotFound   = errors.New("lti: identity record not found")
	ErrUpstream         = errors.New("lti: platform endpoint unavailable")
)
