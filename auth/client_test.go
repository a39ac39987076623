package auth_test

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/notifica/auth"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/fakebackend"
	"github.com/jrsteele09/notifica/sessions"
	"github.com/jrsteele09/notifica/sessions/repofakes"
	"github.com/jrsteele09/notifica/sessions/sqlitestate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "coordenacao@ete.example"
	testPassword = "senha-forte"
)

type authFixture struct {
	backend *fakebackend.Server
	state   *repofakes.FakeStateRepo
	client  *auth.Client
	now     time.Time
}

func setupAuthFixture(t *testing.T, options ...auth.ClientOption) *authFixture {
	t.Helper()

	f := &authFixture{
		backend: fakebackend.New(),
		state:   repofakes.NewFakeStateRepo(),
		now:     time.Now(),
	}
	t.Cleanup(f.backend.Close)
	f.backend.AddUser(testEmail, testPassword, map[string]any{"role": "admin"}, map[string]any{"full_name": "Coordenação"})

	opts := append([]auth.ClientOption{
		auth.WithNowTime(func() time.Time { return f.now }),
		auth.WithLogger(zerolog.Nop()),
	}, options...)
	c, err := auth.NewClient(f.backend.Caller(), f.state, opts...)
	require.NoError(t, err)
	f.client = c
	return f
}

func TestNewClientValidation(t *testing.T) {
	_, err := auth.NewClient(nil, repofakes.NewFakeStateRepo())
	require.Error(t, err)
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("success stores the session", func(t *testing.T) {
		f := setupAuthFixture(t)
		s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.NotEmpty(t, s.AccessToken)
		require.NotEmpty(t, s.RefreshToken)
		require.True(t, s.User.IsAdmin())
		require.Equal(t, "Coordenação", s.User.DisplayName())

		raw, ok, err := f.state.Get(ctx, auth.SessionKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, raw, s.AccessToken)

		stored, err := f.client.Session(ctx)
		require.NoError(t, err)
		require.Equal(t, s.AccessToken, stored.AccessToken)

		claims, err := auth.ParseClaims(s.AccessToken)
		require.NoError(t, err)
		require.Equal(t, s.User.ID, claims.Subject)
		require.Equal(t, s.Expiry().Unix(), claims.ExpiresAt.Unix())
	})

	t.Run("wrong password", func(t *testing.T) {
		f := setupAuthFixture(t)
		_, err := f.client.SignInWithPassword(ctx, testEmail, "nope")
		require.ErrorIs(t, err, nerrors.ErrInvalidCredentials)

		re, ok := nerrors.Remote(err)
		require.True(t, ok)
		require.Equal(t, http.StatusBadRequest, re.Status)
		require.Equal(t, "Invalid login credentials", re.Message)
	})

	t.Run("unconfirmed email", func(t *testing.T) {
		f := setupAuthFixture(t)
		f.backend.AddUnconfirmedUser("novo@ete.example", "123456")
		_, err := f.client.SignInWithPassword(ctx, "novo@ete.example", "123456")
		require.ErrorIs(t, err, nerrors.ErrEmailNotConfirmed)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := setupAuthFixture(t)
		f.backend.InjectFault(fakebackend.Fault{
			Path:   "/auth/v1/token",
			Status: http.StatusTooManyRequests,
			Body:   `{"code":429,"error_code":"over_request_rate_limit","msg":"Request rate limit reached"}`,
			Times:  1,
		})
		_, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.ErrorIs(t, err, nerrors.ErrRateLimited)
		require.True(t, auth.IsRateLimited(err))

		_, err = f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)
	})
}

func TestSessionRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("token close to expiry is refreshed", func(t *testing.T) {
		f := setupAuthFixture(t)
		s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)

		f.now = s.Expiry().Add(-30 * time.Second)
		refreshed, err := f.client.Session(ctx)
		require.NoError(t, err)
		require.NotNil(t, refreshed)
		require.NotEqual(t, s.AccessToken, refreshed.AccessToken)
		require.NotEqual(t, s.RefreshToken, refreshed.RefreshToken)
	})

	t.Run("rejected refresh drops the session", func(t *testing.T) {
		f := setupAuthFixture(t)
		s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)
		f.backend.RevokeAll()

		f.now = s.Expiry().Add(time.Minute)
		got, err := f.client.Session(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
		_, ok, err := f.state.Get(ctx, auth.SessionKey)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("server fault during refresh is an error", func(t *testing.T) {
		f := setupAuthFixture(t)
		s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)
		f.backend.InjectFault(fakebackend.Fault{Path: "/auth/v1/token", Status: http.StatusInternalServerError, Body: `{"msg":"boom"}`})

		f.now = s.Expiry().Add(-10 * time.Second)
		_, err = f.client.Session(ctx)
		require.Error(t, err)
		_, ok, _ := f.state.Get(ctx, auth.SessionKey)
		require.True(t, ok, "a transient fault keeps the stored session")
	})
}

func TestUserAndUpdates(t *testing.T) {
	ctx := context.Background()
	f := setupAuthFixture(t)

	u, err := f.client.User(ctx)
	require.NoError(t, err)
	require.Nil(t, u, "no session, no user")

	_, err = f.client.UpdateUser(ctx, sessions.UserUpdate{Password: "whatever"})
	require.ErrorIs(t, err, nerrors.ErrNoSession)

	_, err = f.client.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	u, err = f.client.UpdateUser(ctx, sessions.UserUpdate{Data: map[string]any{"nome": "Secretaria"}})
	require.NoError(t, err)
	require.Equal(t, "Secretaria", u.UserMetadata["nome"])

	_, err = f.client.UpdateUser(ctx, sessions.UserUpdate{Password: "outra-senha"})
	require.NoError(t, err)
	require.True(t, f.backend.CheckPassword(testEmail, "outra-senha"))

	u, err = f.client.User(ctx)
	require.NoError(t, err)
	require.Equal(t, "Secretaria", u.UserMetadata["nome"])

	stored, err := f.client.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "Secretaria", stored.User.UserMetadata["nome"])
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	f := setupAuthFixture(t)

	require.NoError(t, f.client.SignOut(ctx), "signing out without a session is a no-op")

	s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, f.client.SignOut(ctx))

	got, err := f.client.Session(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	// The old token no longer opens the account.
	other, err := auth.NewClient(f.backend.Caller(), repofakes.NewFakeStateRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = other.SessionFromURL(ctx, "http://localhost/#access_token="+url.QueryEscape(s.AccessToken))
	require.ErrorIs(t, err, nerrors.ErrInvalidToken)
}

func TestResetPassword(t *testing.T) {
	f := setupAuthFixture(t)
	require.NoError(t, f.client.ResetPasswordForEmail(context.Background(), testEmail, "http://localhost:8080/pages/redefinir-senha.html"))
	require.Equal(t, []string{testEmail}, f.backend.RecoveryEmails)

	var found bool
	for _, r := range f.backend.Requests() {
		if r == "POST /auth/v1/recover?redirect_to=http%3A%2F%2Flocalhost%3A8080%2Fpages%2Fredefinir-senha.html" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSessionFromURL(t *testing.T) {
	ctx := context.Background()
	f := setupAuthFixture(t)

	issuer, err := auth.NewClient(f.backend.Caller(), repofakes.NewFakeStateRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	s, err := issuer.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	frag := url.Values{}
	frag.Set("access_token", s.AccessToken)
	frag.Set("refresh_token", s.RefreshToken)
	frag.Set("expires_in", "3600")
	frag.Set("type", "recovery")

	adopted, err := f.client.SessionFromURL(ctx, "http://localhost:8080/pages/redefinir-senha.html#"+frag.Encode())
	require.NoError(t, err)
	require.Equal(t, testEmail, adopted.User.Email)
	require.NotZero(t, adopted.ExpiresAt)

	got, err := f.client.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, s.AccessToken, got.AccessToken)

	t.Run("error fragment", func(t *testing.T) {
		_, err := f.client.SessionFromURL(ctx, "http://localhost/#error=access_denied&error_code=otp_expired&error_description=Email+link+is+invalid+or+has+expired")
		require.Error(t, err)
		re, ok := nerrors.Remote(err)
		require.True(t, ok)
		require.Equal(t, "otp_expired", re.Code)
	})

	t.Run("no token", func(t *testing.T) {
		_, err := f.client.SessionFromURL(ctx, "http://localhost/pages/definir-senha.html")
		require.ErrorIs(t, err, nerrors.ErrInvalidToken)
	})
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	f := setupAuthFixture(t)

	tok, err := f.client.Token()
	require.NoError(t, err)
	require.Equal(t, fakebackend.DefaultAnonKey, tok.AccessToken)

	s, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)
	tok, err = f.client.TokenSource(ctx).Token()
	require.NoError(t, err)
	require.Equal(t, s.AccessToken, tok.AccessToken)
	require.Equal(t, "Bearer", tok.Type())
}

func TestJWKSVerifier(t *testing.T) {
	ctx := context.Background()
	backend := fakebackend.New()
	t.Cleanup(backend.Close)

	verifier := auth.NewJWKSVerifier(ctx, backend.URL+"/auth/v1/.well-known/jwks.json")
	f := setupAuthFixture(t, auth.WithTokenVerifier(verifier))

	t.Run("tokens from a foreign key set are rejected", func(t *testing.T) {
		_, err := f.client.SignInWithPassword(ctx, testEmail, testPassword)
		require.ErrorIs(t, err, nerrors.ErrInvalidToken)
		_, ok, _ := f.state.Get(ctx, auth.SessionKey)
		require.False(t, ok)
	})

	t.Run("tokens signed by the project are accepted", func(t *testing.T) {
		own := auth.NewJWKSVerifier(ctx, f.backend.URL+"/auth/v1/.well-known/jwks.json")
		c, err := auth.NewClient(f.backend.Caller(), repofakes.NewFakeStateRepo(), auth.WithTokenVerifier(own), auth.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		_, err = c.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		require.ErrorIs(t, verifier.Verify(ctx, "not.a.jwt"), nerrors.ErrInvalidToken)
	})
}

// The session manager over the real client and SQLite state: a session
// survives a restart but not the maximum age.
func TestManagerOverClient(t *testing.T) {
	ctx := context.Background()
	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	backend.AddUser(testEmail, testPassword, map[string]any{"role": "operador"}, nil)

	path := filepath.Join(t.TempDir(), "state.db")
	now := time.Now()
	clock := func() time.Time { return now }

	open := func() (*sessions.Manager, *sqlitestate.Store) {
		store, err := sqlitestate.Open(path)
		require.NoError(t, err)
		client, err := auth.NewClient(backend.Caller(), store, auth.WithNowTime(clock), auth.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		m, err := sessions.NewManager(client, store, sessions.WithNowTime(clock), sessions.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		return m, store
	}

	m, store := open()
	_, err := m.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, m.MarkSessionStart(ctx))
	require.False(t, m.IsAdmin(ctx))
	require.NoError(t, store.Close())

	m, store = open()
	defer store.Close()
	require.True(t, m.IsAuthenticated(ctx))

	now = now.Add(8*time.Hour + time.Second)
	s, err := m.GetSession(ctx)
	require.NoError(t, err)
	require.Nil(t, s)
	_, ok, err := store.Get(ctx, auth.SessionKey)
	require.NoError(t, err)
	require.False(t, ok, "expiry signs out and drops the stored session")
}
