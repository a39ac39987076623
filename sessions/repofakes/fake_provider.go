package repofakes

import (
	"context"
	"errors"
	"sync"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/sessions"
	"github.com/jrsteele09/notifica/users"
)

var _ sessions.Provider = (*FakeProvider)(nil)

// FakeProvider is an in-memory auth service with one account per email.
type FakeProvider struct {
	lock      sync.Mutex
	passwords map[string]string
	accounts  map[string]*users.User
	current   *sessions.Session

	SignOutErr  error
	UserErr     error
	PanicOnUser bool

	SignOutCalls int
	ResetEmails  []string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		passwords: make(map[string]string),
		accounts:  make(map[string]*users.User),
	}
}

// AddUser registers an account that can sign in with password.
func (p *FakeProvider) AddUser(user *users.User, password string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.accounts[user.Email] = user
	p.passwords[user.Email] = password
}

// SetSession replaces the stored session, nil signs everybody out.
func (p *FakeProvider) SetSession(s *sessions.Session) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.current = s
}

func (p *FakeProvider) Password(email string) string {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.passwords[email]
}

func (p *FakeProvider) SignInWithPassword(_ context.Context, email, password string) (*sessions.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	user, ok := p.accounts[email]
	if !ok || p.passwords[email] != password {
		return nil, nerrors.ErrInvalidCredentials
	}
	p.current = &sessions.Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		User:         user,
	}
	return p.current, nil
}

func (p *FakeProvider) SignOut(context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.SignOutCalls++
	p.current = nil
	return p.SignOutErr
}

func (p *FakeProvider) Session(context.Context) (*sessions.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.current, nil
}

func (p *FakeProvider) User(context.Context) (*users.User, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.PanicOnUser {
		panic("fake provider: user lookup exploded")
	}
	if p.UserErr != nil {
		return nil, p.UserErr
	}
	if p.current == nil {
		return nil, nil
	}
	return p.current.User, nil
}

func (p *FakeProvider) UpdateUser(_ context.Context, update sessions.UserUpdate) (*users.User, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.current == nil || p.current.User == nil {
		return nil, errors.New("fake provider: not signed in")
	}
	user := p.current.User
	if update.Password != "" {
		p.passwords[user.Email] = update.Password
	}
	if len(update.Data) > 0 {
		if user.UserMetadata == nil {
			user.UserMetadata = map[string]any{}
		}
		for k, v := range update.Data {
			user.UserMetadata[k] = v
		}
	}
	return user, nil
}

func (p *FakeProvider) ResetPasswordForEmail(_ context.Context, email, _ string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.ResetEmails = append(p.ResetEmails, email)
	return nil
}
