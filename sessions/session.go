package sessions

import (
	"context"
	"time"

	"github.com/jrsteele09/notifica/users"
)

// Session is the token bundle issued by the remote auth service.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"` // Unix seconds
	User         *users.User `json:"user"`
}

// Expiry is the access token expiry, or the zero time when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return exp.Before(now.Add(d))
}

// UserUpdate is a change to the signed-in account. Empty fields are left as
// they are.
type UserUpdate struct {
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Provider is the remote auth service.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// Session returns the stored session, refreshing it when needed. A nil
	// session with a nil error means nobody is signed in.
	Session(ctx context.Context) (*Session, error)
	User(ctx context.Context) (*users.User, error)
	UpdateUser(ctx context.Context, update UserUpdate) (*users.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}
