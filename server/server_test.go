package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/notifica/database"
	"github.com/jrsteele09/notifica/internal/config"
	"github.com/jrsteele09/notifica/internal/fakebackend"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/portal"
	"github.com/jrsteele09/notifica/server"
	"github.com/jrsteele09/notifica/students"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type lookupFunc func(ctx context.Context, code string) (*portal.Result, error)

func (f lookupFunc) Lookup(ctx context.Context, code string) (*portal.Result, error) {
	return f(ctx, code)
}

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("NOTIFICA_ENV", "")
	t.Setenv("NOTIFICA_ALLOWED_ORIGINS", "")
	t.Setenv("NOTIFICA_APP_NAME", "")

	path := filepath.Join(t.TempDir(), "notifica.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: prod\nallowed_origins: https://ete.example\n"), 0o600))
	c, err := config.Load(path)
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, lookup server.PortalLookup) *server.Server {
	t.Helper()
	s, err := server.New(loadConfig(t), lookup, server.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return s
}

// portalService is a lookup backed by the fake backend with one student.
func portalService(t *testing.T) *portal.Service {
	t.Helper()

	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	db, err := database.NewClient(backend.Caller(), nil, database.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	studentStore, err := students.NewStore(db, students.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	noticeStore, err := notices.NewStore(db, notices.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	service, err := portal.NewService(studentStore, noticeStore, portal.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	backend.Seed(students.Table, map[string]any{"id": "a1", "nome": "João Silva", "matricula": "2024001", "turma": "3º A", "responsavel": "Maria Silva", "telefone_responsavel": "81999999999", "codigo_portal": "482913"})
	backend.Seed(notices.Table, map[string]any{"id": "n1", "aluno_id": "a1", "data_hora": "2025-03-05T10:00:00Z", "nivel": "Grave", "descricao": "Briga", "status": "pendente", "registrado_por": "Carla"})
	return service
}

func serve(s http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	_, err := server.New(nil, lookupFunc(nil))
	require.Error(t, err)
	_, err = server.New(loadConfig(t), nil)
	require.Error(t, err)

	s := newServer(t, lookupFunc(nil))
	require.Equal(t, []string{
		"GET " + server.RoutePortalLookup,
		"OPTIONS " + server.RoutePortalLookup,
		"GET " + server.RouteHealth,
	}, s.Routes())
}

func TestPortalLookupHandler(t *testing.T) {
	s := newServer(t, portalService(t))

	testCases := []struct {
		name   string
		code   string
		status int
		error  string
	}{
		{name: "known code", code: "482913", status: http.StatusOK},
		{name: "malformed code", code: "48a913", status: http.StatusBadRequest, error: "portal code must be exactly 6 digits"},
		{name: "too short", code: "4829", status: http.StatusBadRequest, error: "portal code must be exactly 6 digits"},
		{name: "unknown code", code: "000000", status: http.StatusNotFound, error: "portal code not found"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, http.MethodGet, "/api/portal/"+tc.code, nil)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
			require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tc.error != "" {
				require.Equal(t, tc.error, body["error"])
				return
			}
			require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			require.Equal(t, "João Silva", body["aluno"].(map[string]any)["nome"])
			require.Len(t, body["notificacoes"], 1)
			require.Equal(t, map[string]any{"total": 1.0, "pendentes": 1.0, "resolvidas": 0.0}, body["estatisticas"])
		})
	}
}

func TestLookupFailures(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		s := newServer(t, lookupFunc(func(context.Context, string) (*portal.Result, error) {
			return nil, errors.New("connection refused")
		}))
		rec := serve(s, http.MethodGet, "/api/portal/123456", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	})

	t.Run("panic", func(t *testing.T) {
		s := newServer(t, lookupFunc(func(context.Context, string) (*portal.Result, error) {
			panic("boom")
		}))
		rec := serve(s, http.MethodGet, "/api/portal/123456", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	s := newServer(t, lookupFunc(func(ctx context.Context, code string) (*portal.Result, error) {
		seen = code
		return &portal.Result{Notices: []portal.NoticeView{}}, nil
	}))

	rec := serve(s, http.MethodGet, "/api/portal/123456", map[string]string{"X-Request-Id": "req-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	require.Equal(t, "123456", seen)
}

func TestCors(t *testing.T) {
	s := newServer(t, lookupFunc(func(context.Context, string) (*portal.Result, error) {
		return &portal.Result{Notices: []portal.NoticeView{}}, nil
	}))

	t.Run("allowed origin", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/portal/123456", map[string]string{"Origin": "https://ete.example"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://ete.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/portal/123456", map[string]string{"Origin": "https://evil.example"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		rec := serve(s, http.MethodOptions, "/api/portal/123456", map[string]string{"Origin": "https://ete.example"})
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		require.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

		rec = serve(s, http.MethodOptions, "/api/portal/123456", map[string]string{"Origin": "https://evil.example"})
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	})
}

func TestHealth(t *testing.T) {
	s := newServer(t, lookupFunc(nil))
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","app":"Notifica ETE"}`, rec.Body.String())
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
