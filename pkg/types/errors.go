package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrDecode         = errors.New("location token cannot be decoded")
	ErrInvalidRange   = errors.New("range not satisfiable")
	ErrSession        = errors.New("session unavailable")
	ErrFetch          = errors.New("chunk fetch failed")
	ErrStaleReference = errors.New("file reference expired")
	ErrRateLimited    = errors.New("rate limited")
)

// RateLimitError is returned by the remote store when it asks the caller
// to wait before the next read.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// FetchError is the terminal failure of a chunk read after its retry
// budget is spent.
type FetchError struct {
	ObjectID ObjectID
	Offset   int64
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch object %s at offset %d: %v", e.ObjectID, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}
