// Package usermgmt talks to the admin-only user management edge function.
// The function holds the service key; this client only ever sends the
// signed-in admin's access token.
package usermgmt

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/remote"
	"github.com/jrsteele09/notifica/sessions"
	"github.com/jrsteele09/notifica/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultFunction = "smart-service"

	// SetPasswordPage is where invite links land.
	SetPasswordPage = "/pages/definir-senha.html"

	functionsPath = "/functions/v1/"
)

var rateLimitPattern = regexp.MustCompile(`(?i)rate limit|rate_limit|too many requests`)

// SetPasswordURL is the invite redirect for the site at publicURL.
func SetPasswordURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + SetPasswordPage
}

// Client manages accounts on behalf of an admin.
type Client struct {
	caller   *remote.Caller
	sessions *sessions.Manager
	function string
	logger   zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithFunction sets the edge function name.
func WithFunction(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.function = name
		}
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a user management client. tokens supplies the admin's
// bearer token; manager gates every call behind an admin session.
func NewClient(caller *remote.Caller, tokens oauth2.TokenSource, manager *sessions.Manager, options ...ClientOption) (*Client, error) {
	if caller == nil {
		return nil, errors.New("[NewClient] caller is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewClient] token source is required")
	}
	if manager == nil {
		return nil, errors.New("[NewClient] session manager is required")
	}
	c := &Client{
		caller:   caller.WithHTTPClient(database.AuthorizedHTTPClient(tokens)),
		sessions: manager,
		function: DefaultFunction,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// List returns every account, sorted by email by the function.
func (c *Client) List(ctx context.Context) ([]users.User, error) {
	if _, err := c.sessions.RequireAdmin(ctx); err != nil {
		return nil, errors.Wrap(err, "[Client.List]")
	}
	var reply struct {
		Users []users.User `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, nil, &reply); err != nil {
		return nil, errors.Wrap(err, "[Client.List]")
	}
	if reply.Users == nil {
		reply.Users = []users.User{}
	}
	return reply.Users, nil
}

// Invite creates an operador account for email and mails it a link to
// redirectTo, where the invitee sets a password.
func (c *Client) Invite(ctx context.Context, email, redirectTo string) (*users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "invalid email %q", email)
	}
	admin, err := c.sessions.RequireAdmin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Invite]")
	}

	var reply struct {
		User users.User `json:"user"`
	}
	body := map[string]string{"email": email, "redirectTo": redirectTo}
	if err := c.call(ctx, http.MethodPost, body, &reply); err != nil {
		return nil, errors.Wrap(err, "[Client.Invite]")
	}
	c.logger.Info().Str("admin", admin.Email).Str("email", email).Msg("user invited")
	return &reply.User, nil
}

// Edit changes an account's name and role. An empty role keeps the current
// one; a nil fullName keeps the current name.
func (c *Client) Edit(ctx context.Context, userID string, fullName *string, role users.RoleType) (*users.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "user id is required")
	}
	if role != "" {
		if _, err := users.ParseRole(string(role)); err != nil {
			return nil, nerrors.Wrapf(nerrors.ErrValidation, "%s", err.Error())
		}
	}
	if _, err := c.sessions.RequireAdmin(ctx); err != nil {
		return nil, errors.Wrap(err, "[Client.Edit]")
	}

	body := map[string]any{"user_id": userID}
	if role != "" {
		body["role"] = string(role)
	}
	if fullName != nil {
		body["full_name"] = strings.TrimSpace(*fullName)
	}
	var reply struct {
		User users.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodPatch, body, &reply); err != nil {
		return nil, errors.Wrap(err, "[Client.Edit]")
	}
	return &reply.User, nil
}

// Delete removes an account and its sessions. Admins cannot delete
// themselves.
func (c *Client) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nerrors.Wrapf(nerrors.ErrValidation, "user id is required")
	}
	admin, err := c.sessions.RequireAdmin(ctx)
	if err != nil {
		return errors.Wrap(err, "[Client.Delete]")
	}
	if admin.ID == userID {
		return nerrors.Wrapf(nerrors.ErrValidation, "you cannot delete your own account")
	}
	if err := c.call(ctx, http.MethodDelete, map[string]string{"user_id": userID}, nil); err != nil {
		return errors.Wrap(err, "[Client.Delete]")
	}
	c.logger.Info().Str("admin", admin.Email).Str("user_id", userID).Msg("user deleted")
	return nil
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	_, err := c.caller.Do(ctx, remote.Request{
		Method: method,
		Path:   functionsPath + c.function,
		Body:   body,
	}, out)
	if err != nil {
		c.logger.Error().Err(err).Str("op", strings.ToLower(method)).Str("function", c.function).Msg("user management call failed")
		return mapError(err)
	}
	return nil
}

// mapError turns the function's {"error": "..."} replies into sentinels.
// Rate limits are relayed from the auth service inside the message text.
func mapError(err error) error {
	re, ok := nerrors.Remote(err)
	if !ok {
		return err
	}
	switch {
	case re.Status == http.StatusTooManyRequests || rateLimitPattern.MatchString(re.Message):
		return fmt.Errorf("%w: %w", nerrors.ErrRateLimited, re)
	case re.Status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", nerrors.ErrNoSession, re)
	case re.Status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", nerrors.ErrNotAdmin, re)
	case re.Status == http.StatusBadRequest || re.Status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", nerrors.ErrValidation, re)
	}
	return err
}
