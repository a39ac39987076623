package fakebackend

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/notifica/users"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) authRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/v1/token", s.handleToken)
	mux.HandleFunc("GET /auth/v1/user", s.handleGetUser)
	mux.HandleFunc("PUT /auth/v1/user", s.handleUpdateUser)
	mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	mux.HandleFunc("POST /auth/v1/recover", s.handleRecover)
	mux.HandleFunc("GET /auth/v1/.well-known/jwks.json", s.handleJWKS)
}

// AddUser creates a confirmed account. appMeta and userMeta may be nil.
func (s *Server) AddUser(email, password string, appMeta, userMeta map[string]any) *users.User {
	u := s.addAccount(email, password, appMeta, userMeta, true)
	return &u
}

// AddUnconfirmedUser creates an account that cannot sign in yet.
func (s *Server) AddUnconfirmedUser(email, password string) *users.User {
	u := s.addAccount(email, password, nil, nil, false)
	return &u
}

func (s *Server) addAccount(email, password string, appMeta, userMeta map[string]any, confirmed bool) users.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if appMeta == nil {
		appMeta = map[string]any{}
	}
	if userMeta == nil {
		userMeta = map[string]any{}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	a := &account{
		user: users.User{
			ID:           uuid.NewString(),
			Email:        strings.ToLower(email),
			AuthRole:     "authenticated",
			AppMetadata:  appMeta,
			UserMetadata: userMeta,
			CreatedAt:    s.nowTime().UTC(),
		},
		hash:      hash,
		confirmed: confirmed,
	}
	s.accounts[a.user.ID] = a
	return cloneUser(a.user)
}

// User returns a copy of the account with the given email.
func (s *Server) User(email string) (*users.User, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a := s.accountByEmail(email)
	if a == nil {
		return nil, false
	}
	u := cloneUser(a.user)
	return &u, true
}

// CheckPassword reports whether password opens the account with email.
func (s *Server) CheckPassword(email, password string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	a := s.accountByEmail(email)
	return a != nil && bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
}

// RevokeAll ends every session, as an admin signing users out would.
func (s *Server) RevokeAll() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sessions = map[string]*authSession{}
	s.refreshes = map[string]string{}
}

func (s *Server) accountByEmail(email string) *account {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range s.accounts {
		if a.user.Email == email {
			return a
		}
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		a := s.accountByEmail(body.Email)
		if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(body.Password)) != nil {
			writeAuthError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		if !a.confirmed {
			writeAuthError(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
			return
		}
		s.issueSession(w, a)

	case "refresh_token":
		sessionID, ok := s.refreshes[body.RefreshToken]
		sess := s.sessions[sessionID]
		if !ok || sess == nil {
			writeAuthError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refreshes, body.RefreshToken)
		delete(s.sessions, sessionID)
		a := s.accounts[sess.userID]
		if a == nil {
			writeAuthError(w, http.StatusBadRequest, "user_not_found", "User not found")
			return
		}
		s.issueSession(w, a)

	default:
		writeAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

// issueSession is called with s.lock held.
func (s *Server) issueSession(w http.ResponseWriter, a *account) {
	body, err := s.newSessionBody(a)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// newSessionBody is called with s.lock held.
func (s *Server) newSessionBody(a *account) (map[string]any, error) {
	now := s.nowTime()
	sess := &authSession{id: uuid.NewString(), userID: a.user.ID, refresh: uuid.NewString()}
	exp := now.Add(s.TokenTTL)

	access, err := s.keys.sign(jwt.MapClaims{
		"iss":           s.URL + "/auth/v1",
		"aud":           "authenticated",
		"sub":           a.user.ID,
		"email":         a.user.Email,
		"role":          "authenticated",
		"session_id":    sess.id,
		"app_metadata":  a.user.AppMetadata,
		"user_metadata": a.user.UserMetadata,
		"iat":           now.Unix(),
		"exp":           exp.Unix(),
	})
	if err != nil {
		return nil, err
	}
	s.sessions[sess.id] = sess
	s.refreshes[sess.refresh] = sess.id

	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int(s.TokenTTL.Seconds()),
		"expires_at":    exp.Unix(),
		"refresh_token": sess.refresh,
		"user":          cloneUser(a.user),
	}, nil
}

// authenticate resolves the bearer token to an account. It is called with
// s.lock held and returns nil for the anon key or any invalid token.
func (s *Server) authenticate(r *http.Request) *account {
	raw := bearer(r)
	if raw == "" || raw == s.AnonKey {
		return nil
	}
	token, err := jwt.Parse(raw, s.keys.verificationKey,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(s.nowTime),
	)
	if err != nil || !token.Valid {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	sessionID, _ := claims["session_id"].(string)
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.accounts[sess.userID]
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()

	a := s.authenticate(r)
	if a == nil {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}
	writeJSON(w, http.StatusOK, cloneUser(a.user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	a := s.authenticate(r)
	if a == nil {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}
	if body.Password != "" {
		if len(body.Password) < users.MinPasswordLength {
			writeAuthError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
			return
		}
		if bcrypt.CompareHashAndPassword(a.hash, []byte(body.Password)) == nil {
			writeAuthError(w, http.StatusUnprocessableEntity, "same_password", "New password should be different from the old password.")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
		if err != nil {
			writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
			return
		}
		a.hash = hash
	}
	for k, v := range body.Data {
		a.user.UserMetadata[k] = v
	}
	writeJSON(w, http.StatusOK, cloneUser(a.user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw := bearer(r)
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	sessionID, _ := claims["session_id"].(string)
	sess, ok := s.sessions[sessionID]
	if !ok {
		writeAuthError(w, http.StatusNotFound, "session_not_found", "Session from session_id claim in JWT does not exist")
		return
	}
	delete(s.refreshes, sess.refresh)
	delete(s.sessions, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "email is required")
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	// Unknown addresses succeed too, so the endpoint does not leak accounts.
	email := strings.ToLower(body.Email)
	s.RecoveryEmails = append(s.RecoveryEmails, email)
	if a := s.accountByEmail(email); a != nil {
		redirectTo := r.URL.Query().Get("redirect_to")
		link, err := s.sessionLink(a, redirectTo, "recovery")
		if err != nil {
			writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
			return
		}
		s.Recoveries = append(s.Recoveries, Invite{Email: email, RedirectTo: redirectTo, Link: link})
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.jwks())
}

// sessionLink builds the redirect an invite or recovery e-mail would carry.
// It is called with s.lock held.
func (s *Server) sessionLink(a *account, redirectTo, linkType string) (string, error) {
	body, err := s.newSessionBody(a)
	if err != nil {
		return "", err
	}
	frag := url.Values{}
	frag.Set("access_token", body["access_token"].(string))
	frag.Set("refresh_token", body["refresh_token"].(string))
	frag.Set("expires_in", strconv.Itoa(body["expires_in"].(int)))
	frag.Set("expires_at", strconv.FormatInt(body["expires_at"].(int64), 10))
	frag.Set("token_type", "bearer")
	frag.Set("type", linkType)
	return redirectTo + "#" + frag.Encode(), nil
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

func cloneUser(u users.User) users.User {
	cp := u
	cp.AppMetadata = cloneMap(u.AppMetadata)
	cp.UserMetadata = cloneMap(u.UserMetadata)
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
