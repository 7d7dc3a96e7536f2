package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrInvalidCursor  = errors.New("invalid cursor")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
)

// SourceErrorCategory classifies upstream-source failures for observability.
type SourceErrorCategory string

const (
	SourceErrTimeout     SourceErrorCategory = "timeout"
	SourceErrRateLimited SourceErrorCategory = "rate_limited"
	SourceErrHTTP4xx     SourceErrorCategory = "http_4xx"
	SourceErrHTTP5xx     SourceErrorCategory = "http_5xx"
	SourceErrNetwork     SourceErrorCategory = "network"
	SourceErrUnknown     SourceErrorCategory = "unknown"
)

// SourceError wraps an upstream fetch failure with its category and origin.
type SourceError struct {
	Source   Source
	Category SourceErrorCategory
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Category, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// CategorizeStatus maps an HTTP status code to a source error category.
func CategorizeStatus(code int) SourceErrorCategory {
	switch {
	case code == 429:
		return SourceErrRateLimited
	case code >= 400 && code < 500:
		return SourceErrHTTP4xx
	case code >= 500:
		return SourceErrHTTP5xx
	default:
		return SourceErrUnknown
	}
}
