package sessions

import (
	"context"
	"strconv"
	"strings"
	"time"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// StartedAtKey holds the session-start marker: milliseconds since the
	// Unix epoch, written the first time a live session is seen.
	StartedAtKey = "notifica_session_started_at"

	DefaultMaxSessionAge = 8 * time.Hour
)

// Manager gates authenticated work behind a live remote session that is no
// older than the configured maximum age, whatever the provider's own token
// lifetime is.
type Manager struct {
	provider Provider
	state    StateRepo
	maxAge   time.Duration
	nowTime  func() time.Time
	logger   zerolog.Logger
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithMaxSessionAge overrides the 8 hour session lifetime. Non-positive
// values are ignored.
func WithMaxSessionAge(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager wires the session manager to the auth provider and local state.
func NewManager(provider Provider, state StateRepo, options ...ManagerOption) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("[NewManager] provider is required")
	}
	if state == nil {
		return nil, errors.New("[NewManager] state repo is required")
	}

	m := &Manager{
		provider: provider,
		state:    state,
		maxAge:   DefaultMaxSessionAge,
		nowTime:  time.Now,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// MaxSessionAge returns the enforced session lifetime.
func (m *Manager) MaxSessionAge() time.Duration {
	return m.maxAge
}

// GetSession returns the live session, or nil when there is none or when it
// has outlived the maximum age. An expired session is signed out remotely
// and its marker removed; expiry is not an error.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	session, err := m.provider.Session(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("op", "get_session").Msg("failed to read remote session")
		return nil, errors.Wrap(err, "[Manager.GetSession] read remote session")
	}

	if session == nil {
		m.clearMarker(ctx)
		return nil, nil
	}

	startedAt, err := m.state.SetIfAbsent(ctx, StartedAtKey, formatMillis(m.nowTime()))
	if err != nil {
		m.logger.Error().Err(err).Str("op", "get_session").Msg("failed to read session marker")
		return nil, errors.Wrap(err, "[Manager.GetSession] read session marker")
	}

	if m.expired(startedAt) {
		m.logger.Info().Str("marker", startedAt).Dur("max_age", m.maxAge).Msg("session exceeded maximum age, signing out")
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("remote sign out of expired session failed")
		}
		m.clearMarker(ctx)
		return nil, nil
	}

	return session, nil
}

func (m *Manager) expired(marker string) bool {
	ms, err := strconv.ParseInt(strings.TrimSpace(marker), 10, 64)
	if err != nil {
		return true
	}
	elapsed := m.nowTime().Sub(time.UnixMilli(ms))
	return elapsed > m.maxAge
}

func (m *Manager) clearMarker(ctx context.Context) {
	if err := m.state.Delete(ctx, StartedAtKey); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear session marker")
	}
}

// MarkSessionStart records now as the start of the session. Login screens
// call it after a successful sign in.
func (m *Manager) MarkSessionStart(ctx context.Context) error {
	if err := m.state.Set(ctx, StartedAtKey, formatMillis(m.nowTime())); err != nil {
		return errors.Wrap(err, "[Manager.MarkSessionStart] write session marker")
	}
	return nil
}

// Login exchanges credentials for a session. It does not write the session
// marker; see MarkSessionStart.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	session, err := m.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		m.logger.Error().Err(err).Str("op", "login").Str("email", email).Msg("sign in failed")
		return nil, errors.Wrap(err, "[Manager.Login]")
	}
	return session, nil
}

// Logout clears the session marker and signs out remotely. The marker is
// cleared even when the remote call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.clearMarker(ctx)
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Error().Err(err).Str("op", "logout").Msg("remote sign out failed")
		return errors.Wrap(err, "[Manager.Logout]")
	}
	return nil
}

// IsAuthenticated reports whether a live session exists.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	session, err := m.GetSession(ctx)
	return err == nil && session != nil
}

// IsAdmin reports whether the current user holds the admin role. Any
// failure, a panic in the provider included, counts as not admin.
func (m *Manager) IsAdmin(ctx context.Context) (admin bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("op", "is_admin").Msg("role check panicked")
			admin = false
		}
	}()

	user, err := m.provider.User(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("op", "is_admin").Msg("role check failed")
		return false
	}
	return user.IsAdmin()
}

// RequireSession returns the live session or ErrNoSession.
func (m *Manager) RequireSession(ctx context.Context) (*Session, error) {
	session, err := m.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nerrors.ErrNoSession
	}
	return session, nil
}

// RequireAdmin returns the current user when a live session exists and the
// user is an admin.
func (m *Manager) RequireAdmin(ctx context.Context) (*users.User, error) {
	if _, err := m.RequireSession(ctx); err != nil {
		return nil, err
	}
	user, err := m.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, nerrors.ErrNotAdmin
	}
	return user, nil
}

func (m *Manager) CurrentUser(ctx context.Context) (*users.User, error) {
	user, err := m.provider.User(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("op", "current_user").Msg("failed to read user")
		return nil, errors.Wrap(err, "[Manager.CurrentUser]")
	}
	if user == nil {
		return nil, nerrors.ErrNoSession
	}
	return user, nil
}

// UpdateProfile merges metadata into the user's user_metadata.
func (m *Manager) UpdateProfile(ctx context.Context, metadata map[string]any) (*users.User, error) {
	user, err := m.provider.UpdateUser(ctx, UserUpdate{Data: metadata})
	if err != nil {
		m.logger.Error().Err(err).Str("op", "update_profile").Msg("failed to update profile")
		return nil, errors.Wrap(err, "[Manager.UpdateProfile]")
	}
	return user, nil
}

// UpdateDisplayName stores name under every key older screens read it from.
func (m *Manager) UpdateDisplayName(ctx context.Context, name string) (*users.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "display name is required")
	}
	return m.UpdateProfile(ctx, map[string]any{
		users.MetaFullName:    name,
		users.MetaName:        name,
		users.MetaDisplayName: name,
	})
}

func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) (*users.User, error) {
	user, err := m.provider.UpdateUser(ctx, UserUpdate{Password: newPassword})
	if err != nil {
		m.logger.Error().Err(err).Str("op", "update_password").Msg("failed to update password")
		return nil, errors.Wrap(err, "[Manager.UpdatePassword]")
	}
	return user, nil
}

func (m *Manager) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	if err := m.provider.ResetPasswordForEmail(ctx, strings.TrimSpace(email), redirectURL); err != nil {
		m.logger.Error().Err(err).Str("op", "reset_password").Msg("failed to request password reset")
		return errors.Wrap(err, "[Manager.ResetPasswordForEmail]")
	}
	return nil
}

// ChangePassword proves knowledge of the current password by signing in with
// it again, then sets the new one.
func (m *Manager) ChangePassword(ctx context.Context, current, newPassword, confirmation string) error {
	if err := users.ValidateNewPassword(newPassword, confirmation); err != nil {
		return nerrors.Wrapf(nerrors.ErrValidation, "%s", err.Error())
	}
	if current == newPassword {
		return nerrors.Wrapf(nerrors.ErrValidation, "new password must differ from the current one")
	}

	user, err := m.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if user.Email == "" {
		return errors.New("[Manager.ChangePassword] current user has no email")
	}
	if _, err := m.provider.SignInWithPassword(ctx, user.Email, current); err != nil {
		if nerrors.Is(err, nerrors.ErrInvalidCredentials) {
			return nerrors.Wrapf(err, "current password is incorrect")
		}
		return errors.Wrap(err, "[Manager.ChangePassword] verify current password")
	}
	_, err = m.UpdatePassword(ctx, newPassword)
	return err
}

// CompletePasswordSetup is the first-login step for invited accounts: it
// clears primeiro_login, records the name when given and sets the password.
func (m *Manager) CompletePasswordSetup(ctx context.Context, fullName, newPassword, confirmation string) error {
	if err := users.ValidateNewPassword(newPassword, confirmation); err != nil {
		return nerrors.Wrapf(nerrors.ErrValidation, "%s", err.Error())
	}
	session, err := m.RequireSession(ctx)
	if err != nil {
		return err
	}
	if !session.User.FirstLogin() {
		return nerrors.Wrapf(nerrors.ErrValidation, "password already set for this account")
	}

	data := map[string]any{users.MetaFirstLogin: false}
	if name := strings.TrimSpace(fullName); name != "" {
		data[users.MetaFullName] = name
	}
	if _, err := m.UpdateProfile(ctx, data); err != nil {
		return err
	}
	_, err = m.UpdatePassword(ctx, newPassword)
	return err
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
