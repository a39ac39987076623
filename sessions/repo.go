package sessions

import "context"

// StateRepo is local key-value state that outlives the process, the way
// browser local storage outlives a page.
type StateRepo interface {
	// Get returns the value under key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent stores value only when key is missing and returns the value
	// held after the call. Concurrent callers all observe the same winner.
	SetIfAbsent(ctx context.Context, key, value string) (string, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
