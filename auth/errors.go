package auth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
)

var rateLimitPattern = regexp.MustCompile(`(?i)rate limit|rate_limit|too many requests`)

// mapError translates auth service replies into the package sentinels while
// keeping the RemoteError in the chain for callers that want the details.
func mapError(err error) error {
	re, ok := nerrors.Remote(err)
	if !ok {
		return err
	}
	msg := strings.ToLower(re.Message)
	switch {
	case re.Code == "invalid_credentials" || strings.Contains(msg, "invalid login credentials"):
		return fmt.Errorf("%w: %w", nerrors.ErrInvalidCredentials, re)
	case re.Code == "email_not_confirmed" || strings.Contains(msg, "email not confirmed"):
		return fmt.Errorf("%w: %w", nerrors.ErrEmailNotConfirmed, re)
	case re.Status == http.StatusTooManyRequests || rateLimitPattern.MatchString(re.Message) || rateLimitPattern.MatchString(re.Code):
		return fmt.Errorf("%w: %w", nerrors.ErrRateLimited, re)
	}
	return err
}

// IsRateLimited reports whether err is a rate-limit reply from any backend
// service, including messages relayed by edge functions.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if nerrors.Is(err, nerrors.ErrRateLimited) {
		return true
	}
	return rateLimitPattern.MatchString(err.Error())
}
