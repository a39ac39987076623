package server

import (
	"encoding/json"
	"net/http"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/portal"
	"github.com/rs/zerolog"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RoutePortalLookup, ChainMiddleware(s.PortalLookupHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RoutePortalLookup, ChainMiddleware(notAllowed, s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.BaseMiddleware()...))
}

// PortalLookupHandler answers GET /api/portal/{code} with the student and
// notice history held by the code: 400 for a malformed code, 404 for an
// unknown one.
func (s *Server) PortalLookupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		res, err := s.portal.Lookup(r.Context(), r.PathValue("code"))
		switch {
		case err == nil:
			w.Header().Set("Cache-Control", "no-store")
			writeJSON(w, http.StatusOK, res)
		case nerrors.Is(err, nerrors.ErrValidation):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "portal code must be exactly 6 digits"})
		case nerrors.Is(err, portal.ErrCodeNotFound):
			writeJSON(w, http.StatusNotFound, errorBody{Error: "portal code not found"})
		default:
			logger.Error().Err(err).Msg("portal lookup failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		}
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"app":    s.config.GetAppName(),
		})
	}
}

// notAllowed sits behind CorsMiddleware, which answers preflights itself.
func notAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
