// Package fakebackend is an in-memory stand-in for the hosted backend: the
// auth, table, storage and edge-function APIs, served from an httptest
// server. It implements what the client packages exercise and nothing more.
package fakebackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/notifica/internal/remote"
	"github.com/jrsteele09/notifica/users"
)

const (
	DefaultAnonKey  = "anon-test-key"
	DefaultTokenTTL = time.Hour
	UserMgmtFn      = "smart-service"
)

// Fault makes matching requests fail with Status and Body. Times limits how
// many requests fail; zero means every one.
type Fault struct {
	Method string // empty matches any method
	Path   string // path prefix, e.g. "/rest/v1/alunos"
	Status int
	Body   string
	Times  int
}

// Invite is an invitation sent through the user management function, or a
// recovery link sent by the auth service.
type Invite struct {
	Email      string
	RedirectTo string
	Link       string // redirect URL carrying the session in its fragment
}

type object struct {
	data        []byte
	contentType string
	cacheCtl    string
}

type authSession struct {
	id      string
	userID  string
	refresh string
}

type account struct {
	user      users.User
	hash      []byte
	confirmed bool
}

// Server is the fake backend. Its fields are only safe to read from tests
// after the requests touching them have returned.
type Server struct {
	*httptest.Server

	AnonKey  string
	TokenTTL time.Duration

	lock      sync.Mutex
	nowTime   func() time.Time
	keys      *keyPair
	accounts  map[string]*account // by user id
	sessions  map[string]*authSession
	refreshes map[string]string // refresh token -> session id
	tables    map[string][]map[string]any
	unique    map[string][]string
	objects   map[string]object
	faults    []*Fault
	requests  []string

	RecoveryEmails []string
	Recoveries     []Invite // recovery links mailed to existing accounts
	Invites        []Invite
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithNowTime sets the clock used for token issue and expiry.
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// WithUnique declares columns of table that reject duplicate values.
func WithUnique(table string, columns ...string) Option {
	return func(s *Server) {
		s.unique[table] = append(s.unique[table], columns...)
	}
}

// New starts a fake backend. alunos.matricula and alunos.codigo_portal are
// unique, like on the real project.
func New(options ...Option) *Server {
	keys, err := generateKeyPair(uuid.NewString())
	if err != nil {
		panic(err)
	}
	s := &Server{
		AnonKey:   DefaultAnonKey,
		TokenTTL:  DefaultTokenTTL,
		nowTime:   time.Now,
		keys:      keys,
		accounts:  map[string]*account{},
		sessions:  map[string]*authSession{},
		refreshes: map[string]string{},
		tables:    map[string][]map[string]any{},
		unique:    map[string][]string{"alunos": {"matricula", "codigo_portal"}},
		objects:   map[string]object{},
	}
	for _, opt := range options {
		opt(s)
	}

	mux := http.NewServeMux()
	s.authRoutes(mux)
	s.restRoutes(mux)
	s.storageRoutes(mux)
	s.functionRoutes(mux)
	s.Server = httptest.NewServer(s.middleware(mux))
	return s
}

// SetNow replaces the server clock.
func (s *Server) SetNow(nowFunc func() time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.nowTime = nowFunc
}

// InjectFault registers a failure for matching requests.
func (s *Server) InjectFault(f Fault) {
	s.lock.Lock()
	defer s.lock.Unlock()
	cp := f
	s.faults = append(s.faults, &cp)
}

func (s *Server) ClearFaults() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults = nil
}

// Requests lists "METHOD path?query" for every request served so far.
func (s *Server) Requests() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		line := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			line += "?" + r.URL.RawQuery
		}

		s.lock.Lock()
		s.requests = append(s.requests, line)
		fault := s.matchFault(r)
		s.lock.Unlock()

		if fault != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fault.Status)
			_, _ = w.Write([]byte(fault.Body))
			return
		}

		// Key sets and public objects are open; everything else needs the
		// project key.
		public := strings.HasSuffix(r.URL.Path, "/jwks.json") || strings.HasPrefix(r.URL.Path, "/storage/v1/object/public/")
		if !public && r.Header.Get("apikey") != s.AnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matchFault is called with s.lock held.
func (s *Server) matchFault(r *http.Request) *Fault {
	for i, f := range s.faults {
		if f.Method != "" && f.Method != r.Method {
			continue
		}
		if !strings.HasPrefix(r.URL.Path, f.Path) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

// Caller returns a remote.Caller pointed at the fake.
func (s *Server) Caller() *remote.Caller {
	return remote.NewCaller(s.URL, s.AnonKey, s.Client())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
