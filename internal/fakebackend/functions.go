package fakebackend

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/notifica/users"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) functionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/functions/v1/"+UserMgmtFn, s.handleUserMgmt)
}

// handleUserMgmt emulates the admin-only user management edge function.
func (s *Server) handleUserMgmt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email      string  `json:"email"`
		RedirectTo string  `json:"redirectTo"`
		UserID     string  `json:"user_id"`
		FullName   *string `json:"full_name"`
		Role       string  `json:"role"`
	}
	if r.Method != http.MethodGet {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFnError(w, http.StatusBadRequest, "Corpo da requisição inválido")
			return
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	caller := s.authenticate(r)
	if caller == nil {
		writeFnError(w, http.StatusUnauthorized, "Não autenticado")
		return
	}
	if role, _ := caller.user.AppMetadata["role"].(string); role != string(users.RoleAdmin) {
		writeFnError(w, http.StatusForbidden, "Acesso negado: apenas administradores")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list := make([]users.User, 0, len(s.accounts))
		for _, a := range s.accounts {
			list = append(list, cloneUser(a.user))
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
		writeJSON(w, http.StatusOK, map[string]any{"users": list})

	case http.MethodPost:
		email := strings.ToLower(strings.TrimSpace(body.Email))
		if email == "" {
			writeFnError(w, http.StatusBadRequest, "E-mail é obrigatório")
			return
		}
		if s.accountByEmail(email) != nil {
			writeFnError(w, http.StatusUnprocessableEntity, "A user with this email address has already been registered")
			return
		}
		// Invited accounts get an unguessable password until they set one.
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.MinCost)
		if err != nil {
			writeFnError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a := &account{
			user: users.User{
				ID:           uuid.NewString(),
				Email:        email,
				AuthRole:     "authenticated",
				AppMetadata:  map[string]any{"role": string(users.RoleOperator)},
				UserMetadata: map[string]any{users.MetaFirstLogin: true},
				CreatedAt:    s.nowTime().UTC(),
			},
			hash:      hash,
			confirmed: true,
		}
		s.accounts[a.user.ID] = a
		link, err := s.sessionLink(a, body.RedirectTo, "invite")
		if err != nil {
			writeFnError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.Invites = append(s.Invites, Invite{Email: email, RedirectTo: body.RedirectTo, Link: link})
		writeJSON(w, http.StatusOK, map[string]any{"user": cloneUser(a.user)})

	case http.MethodPatch:
		a := s.accounts[body.UserID]
		if a == nil {
			writeFnError(w, http.StatusNotFound, "Usuário não encontrado")
			return
		}
		if body.Role != "" {
			if _, err := users.ParseRole(body.Role); err != nil {
				writeFnError(w, http.StatusBadRequest, "Papel inválido")
				return
			}
			a.user.AppMetadata["role"] = body.Role
		}
		if body.FullName != nil {
			a.user.UserMetadata[users.MetaFullName] = *body.FullName
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": cloneUser(a.user)})

	case http.MethodDelete:
		a := s.accounts[body.UserID]
		if a == nil {
			writeFnError(w, http.StatusNotFound, "Usuário não encontrado")
			return
		}
		if a.user.ID == caller.user.ID {
			writeFnError(w, http.StatusBadRequest, "Você não pode excluir a si mesmo")
			return
		}
		delete(s.accounts, a.user.ID)
		for id, sess := range s.sessions {
			if sess.userID == a.user.ID {
				delete(s.refreshes, sess.refresh)
				delete(s.sessions, id)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeFnError(w, http.StatusMethodNotAllowed, "Método não suportado")
	}
}

func writeFnError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
