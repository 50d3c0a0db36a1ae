package domain

import "errors"

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrIPBlocked       = errors.New("ip address is blocked")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrNotFound        = errors.New("not found")
	ErrInvalidIP       = errors.New("invalid ip address")
	ErrInvalidDuration = errors.New("temp block duration out of range")
	ErrUnknownScope    = errors.New("unknown rate limit scope")
)

func IsRateLimitedError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsIPBlockedError(err error) bool {
	return errors.Is(err, ErrIPBlocked)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
