package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common error types for the notifica client
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrNoSession          = errors.New("no active session")
	ErrNotAdmin           = errors.New("admin role required")
	ErrRateLimited        = errors.New("rate limited")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")

	// Data errors
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// RemoteError is a fault reported by the backend (auth, rest, storage or
// functions). Status is the HTTP status code of the reply.
type RemoteError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote error %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is lets errors.Is match a RemoteError against the sentinels it stands for.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		// PGRST116: a single-row read matched no rows.
		return e.Status == http.StatusNotFound || e.Code == "PGRST116"
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrInvalidToken:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Remote returns the RemoteError in err's chain, if any.
func Remote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
