// Package auth is the client for the backend's GoTrue-style auth service. It
// keeps the signed-in session in local state so it survives restarts, and
// hands access tokens to the data clients as an oauth2.TokenSource.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

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
	// SessionKey is where the serialised session lives in local state.
	SessionKey = "notifica_auth_session"

	basePath      = "/auth/v1"
	refreshMargin = 60 * time.Second
)

var _ sessions.Provider = (*Client)(nil)

// Client talks to /auth/v1 on behalf of one local user.
type Client struct {
	caller   *remote.Caller
	state    sessions.StateRepo
	verifier TokenVerifier
	nowTime  func() time.Time
	logger   zerolog.Logger

	// lock serialises refreshes so concurrent callers don't spend the same
	// refresh token twice.
	lock sync.Mutex
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// WithTokenVerifier checks every access token before it is stored.
func WithTokenVerifier(v TokenVerifier) ClientOption {
	return func(c *Client) {
		c.verifier = v
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns an auth client. The stored session, if any, is read
// lazily.
func NewClient(caller *remote.Caller, state sessions.StateRepo, options ...ClientOption) (*Client, error) {
	if caller == nil {
		return nil, errors.New("[NewClient] caller is required")
	}
	if state == nil {
		return nil, errors.New("[NewClient] state repo is required")
	}
	c := &Client{
		caller:  caller,
		state:   state,
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// SignInWithPassword exchanges email and password for a session and stores it.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*sessions.Session, error) {
	var s sessions.Session
	_, err := c.caller.Do(ctx, remote.Request{
		Method:   http.MethodPost,
		Path:     basePath + "/token",
		RawQuery: "grant_type=password",
		Body:     map[string]string{"email": email, "password": password},
	}, &s)
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[Client.SignInWithPassword]")
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.adopt(ctx, &s); err != nil {
		return nil, errors.Wrap(err, "[Client.SignInWithPassword]")
	}
	return &s, nil
}

// SignOut revokes the session remotely and forgets it locally. The local copy
// is dropped even when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, err := c.load(ctx)
	if err != nil {
		return errors.Wrap(err, "[Client.SignOut]")
	}
	if err := c.state.Delete(ctx, SessionKey); err != nil {
		return errors.Wrap(err, "[Client.SignOut] drop stored session")
	}
	if s == nil {
		return nil
	}

	_, err = c.caller.Do(ctx, remote.Request{
		Method:   http.MethodPost,
		Path:     basePath + "/logout",
		RawQuery: "scope=local",
		Bearer:   s.AccessToken,
	}, nil)
	if err != nil {
		// An already revoked token means we are signed out anyway.
		if re, ok := nerrors.Remote(err); ok && (re.Status == http.StatusUnauthorized || re.Status == http.StatusNotFound) {
			return nil
		}
		return errors.Wrap(mapError(err), "[Client.SignOut]")
	}
	return nil
}

// Session returns the stored session, refreshing its access token when it
// expires within a minute. A refresh rejected by the server drops the stored
// session and yields no session.
func (c *Client) Session(ctx context.Context) (*sessions.Session, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, err := c.load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.ExpiresWithin(c.nowTime(), refreshMargin) {
		return s, nil
	}

	refreshed, err := c.refresh(ctx, s.RefreshToken)
	if err != nil {
		if re, ok := nerrors.Remote(err); ok && re.Status >= 400 && re.Status < 500 {
			c.logger.Info().Err(err).Msg("refresh token rejected, dropping stored session")
			if err := c.state.Delete(ctx, SessionKey); err != nil {
				return nil, errors.Wrap(err, "[Client.Session] drop stored session")
			}
			return nil, nil
		}
		return nil, errors.Wrap(err, "[Client.Session] refresh")
	}
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	if refreshToken == "" {
		return nil, &nerrors.RemoteError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "no refresh token"}
	}
	var s sessions.Session
	_, err := c.caller.Do(ctx, remote.Request{
		Method:   http.MethodPost,
		Path:     basePath + "/token",
		RawQuery: "grant_type=refresh_token",
		Body:     map[string]string{"refresh_token": refreshToken},
	}, &s)
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// User fetches the signed-in user from the server, so role changes made by an
// admin show up without signing in again. No session means no user.
func (c *Client) User(ctx context.Context) (*users.User, error) {
	s, err := c.Session(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	var u users.User
	_, err = c.caller.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   basePath + "/user",
		Bearer: s.AccessToken,
	}, &u)
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[Client.User]")
	}
	c.storeUser(ctx, &u)
	return &u, nil
}

// UpdateUser changes the password and/or merges user metadata.
func (c *Client) UpdateUser(ctx context.Context, update sessions.UserUpdate) (*users.User, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nerrors.ErrNoSession
	}

	var u users.User
	_, err = c.caller.Do(ctx, remote.Request{
		Method: http.MethodPut,
		Path:   basePath + "/user",
		Body:   update,
		Bearer: s.AccessToken,
	}, &u)
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[Client.UpdateUser]")
	}
	c.storeUser(ctx, &u)
	return &u, nil
}

// ResetPasswordForEmail asks the server to mail a recovery link that lands on
// redirectTo.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	_, err := c.caller.Do(ctx, remote.Request{
		Method:   http.MethodPost,
		Path:     basePath + "/recover",
		RawQuery: q.Encode(),
		Body:     map[string]string{"email": email},
	}, nil)
	return errors.Wrap(mapError(err), "[Client.ResetPasswordForEmail]")
}

// SessionFromURL adopts the session carried in the fragment of an invite or
// recovery link, e.g. ".../definir-senha.html#access_token=...&refresh_token=...".
func (c *Client) SessionFromURL(ctx context.Context, rawURL string) (*sessions.Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SessionFromURL] parse link")
	}
	params, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SessionFromURL] parse fragment")
	}
	if desc := params.Get("error_description"); desc != "" || params.Get("error") != "" {
		return nil, errors.Wrap(mapError(&nerrors.RemoteError{
			Status:  http.StatusUnauthorized,
			Code:    params.Get("error_code"),
			Message: firstNonEmpty(desc, params.Get("error")),
		}), "[Client.SessionFromURL]")
	}

	s := sessions.Session{
		AccessToken:  params.Get("access_token"),
		RefreshToken: params.Get("refresh_token"),
		TokenType:    firstNonEmpty(params.Get("token_type"), "bearer"),
	}
	if s.AccessToken == "" {
		return nil, errors.Wrap(nerrors.ErrInvalidToken, "[Client.SessionFromURL] link carries no access token")
	}
	s.ExpiresIn, _ = strconv.Atoi(params.Get("expires_in"))
	s.ExpiresAt, _ = strconv.ParseInt(params.Get("expires_at"), 10, 64)

	var user users.User
	_, err = c.caller.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   basePath + "/user",
		Bearer: s.AccessToken,
	}, &user)
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[Client.SessionFromURL] fetch user")
	}
	s.User = &user

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.adopt(ctx, &s); err != nil {
		return nil, errors.Wrap(err, "[Client.SessionFromURL]")
	}
	return &s, nil
}

// Token implements oauth2.TokenSource. Without a session it yields the anon
// key, which is what the backend expects from signed-out clients. A refresh
// made here runs under context.Background(); the data clients bind each
// request's context through TokenSource instead.
func (c *Client) Token() (*oauth2.Token, error) {
	return c.TokenSource(context.Background()).Token()
}

// TokenSource returns a token source bound to ctx.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, client: c}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.client.Session(ts.ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &oauth2.Token{AccessToken: ts.client.caller.APIKey(), TokenType: "Bearer"}, nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.Expiry(),
	}, nil
}

// adopt verifies, completes and stores s. Callers hold c.lock.
func (c *Client) adopt(ctx context.Context, s *sessions.Session) error {
	if s.AccessToken == "" {
		return errors.Wrap(nerrors.ErrInvalidToken, "empty access token")
	}
	if c.verifier != nil {
		if err := c.verifier.Verify(ctx, s.AccessToken); err != nil {
			return err
		}
	}
	if s.ExpiresAt == 0 {
		if claims, err := ParseClaims(s.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
			s.ExpiresAt = claims.ExpiresAt.Unix()
		} else if s.ExpiresIn > 0 {
			s.ExpiresAt = c.nowTime().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
		}
	}
	return c.save(ctx, s)
}

func (c *Client) load(ctx context.Context) (*sessions.Session, error) {
	raw, ok, err := c.state.Get(ctx, SessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "read stored session")
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var s sessions.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.logger.Warn().Err(err).Msg("discarding unreadable stored session")
		_ = c.state.Delete(ctx, SessionKey)
		return nil, nil
	}
	return &s, nil
}

func (c *Client) save(ctx context.Context, s *sessions.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(c.state.Set(ctx, SessionKey, string(raw)), "store session")
}

func (c *Client) storeUser(ctx context.Context, u *users.User) {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, err := c.load(ctx)
	if err != nil || s == nil {
		return
	}
	s.User = u
	if err := c.save(ctx, s); err != nil {
		c.logger.Warn().Err(err).Msg("failed to store refreshed user")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
