package database_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jrsteele09/notifica/auth"
	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/fakebackend"
	"github.com/jrsteele09/notifica/sessions/repofakes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type dbFixture struct {
	backend *fakebackend.Server
	auth    *auth.Client
	db      *database.Client
}

func setupDBFixture(t *testing.T, signIn bool) *dbFixture {
	t.Helper()

	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	backend.AddUser("op@ete.example", "senha123", map[string]any{"role": "operador"}, nil)

	authClient, err := auth.NewClient(backend.Caller(), repofakes.NewFakeStateRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	if signIn {
		_, err := authClient.SignInWithPassword(context.Background(), "op@ete.example", "senha123")
		require.NoError(t, err)
	}

	db, err := database.NewClient(backend.Caller(), authClient, database.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return &dbFixture{backend: backend, auth: authClient, db: db}
}

func TestQueryEncode(t *testing.T) {
	turma, n := "3A", 7
	since := time.Date(2025, 3, 5, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	testCases := []struct {
		name  string
		query database.Query
		want  string
	}{
		{
			name:  "defaults",
			query: database.Query{},
			want:  "select=%2A",
		},
		{
			name: "clauses in application order",
			query: database.Query{
				Select: "id,nome",
				Where:  []database.Condition{database.Eq("turma", "3A"), database.Eq("status", "pendente")},
				Order:  &database.Order{Column: "nome"},
				Limit:  5,
			},
			want: "select=id%2Cnome&turma=eq.3A&status=eq.pendente&order=nome.asc&limit=5",
		},
		{
			name: "nil values and zero limit are left out",
			query: database.Query{
				Where: []database.Condition{database.Eq("turma", nil), database.Eq("ativo", true)},
				Order: &database.Order{Column: "data_hora", Descending: true},
			},
			want: "select=%2A&ativo=eq.true&order=data_hora.desc",
		},
		{
			name: "nil pointers are left out",
			query: database.Query{Where: []database.Condition{
				database.Eq("turma", (*string)(nil)),
				database.Eq("n", (*int)(nil)),
				database.Eq("status", "pendente"),
			}},
			want: "select=%2A&status=eq.pendente",
		},
		{
			name: "pointers are followed",
			query: database.Query{Where: []database.Condition{
				database.Eq("turma", &turma),
				database.Eq("n", &n),
				database.Eq("desde", &since),
			}},
			want: "select=%2A&turma=eq.3A&n=eq.7&desde=eq.2025-03-05T13%3A00%3A00Z",
		},
		{
			name:  "values are escaped",
			query: database.Query{Where: []database.Condition{database.Eq("nome", "Ana & Bia")}},
			want:  "select=%2A&nome=eq.Ana+%26+Bia",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.query.Encode())
		})
	}
}

type aluno struct {
	ID        string `json:"id,omitempty"`
	Nome      string `json:"nome"`
	Turma     string `json:"turma"`
	Matricula string `json:"matricula"`
}

func TestInsertSelectRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := setupDBFixture(t, true)

	rec, err := f.db.Insert(ctx, "alunos", map[string]any{"nome": "Bruno", "turma": "2B", "matricula": "002"})
	require.NoError(t, err)
	require.NotEmpty(t, rec["id"])
	require.NotEmpty(t, rec["created_at"])

	_, err = f.db.Insert(ctx, "alunos", aluno{Nome: "Ana", Turma: "2B", Matricula: "001"})
	require.NoError(t, err)
	_, err = f.db.Insert(ctx, "alunos", aluno{Nome: "Caio", Turma: "3A", Matricula: "003"})
	require.NoError(t, err)

	rows, err := f.db.Select(ctx, "alunos", database.Query{
		Where: []database.Condition{database.Eq("turma", "2B")},
		Order: &database.Order{Column: "nome"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Ana", rows[0]["nome"])
	require.Equal(t, "Bruno", rows[1]["nome"])

	one, err := f.db.Select(ctx, "alunos", database.Query{Where: []database.Condition{database.Eq("id", rec["id"])}, Single: true})
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, "Bruno", one[0]["nome"])

	typed, err := database.SelectAs[aluno](ctx, f.db, "alunos", database.Query{
		Select: "id,nome",
		Order:  &database.Order{Column: "nome", Descending: true},
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, typed, 2)
	require.Equal(t, "Caio", typed[0].Nome)
	require.Empty(t, typed[0].Turma)

	empty, err := f.db.Select(ctx, "notificacoes", database.Query{})
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestSingleWithoutMatch(t *testing.T) {
	f := setupDBFixture(t, true)
	_, err := f.db.Select(context.Background(), "alunos", database.Query{
		Where:  []database.Condition{database.Eq("matricula", "999")},
		Single: true,
	})
	require.ErrorIs(t, err, nerrors.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := setupDBFixture(t, true)

	created, err := database.InsertAs[aluno](ctx, f.db, "alunos", aluno{Nome: "Ana", Turma: "1A", Matricula: "001"})
	require.NoError(t, err)

	updated, err := database.UpdateAs[aluno](ctx, f.db, "alunos", created.ID, map[string]any{"turma": "2A"})
	require.NoError(t, err)
	require.Equal(t, "2A", updated.Turma)
	require.Equal(t, "Ana", updated.Nome)

	rec, err := f.db.Update(ctx, "alunos", "missing-id", map[string]any{"turma": "9Z"})
	require.NoError(t, err)
	require.Nil(t, rec)

	missing, err := database.UpdateAs[aluno](ctx, f.db, "alunos", "missing-id", map[string]any{"turma": "9Z"})
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	f := setupDBFixture(t, true)

	var ids []string
	for _, m := range []string{"001", "002", "003"} {
		rec, err := f.db.Insert(ctx, "alunos", map[string]any{"matricula": m})
		require.NoError(t, err)
		ids = append(ids, rec["id"].(string))
	}

	// The first deletion fails; the others still go through.
	f.backend.InjectFault(fakebackend.Fault{
		Method: http.MethodDelete,
		Path:   "/rest/v1/alunos",
		Status: http.StatusInternalServerError,
		Body:   `{"code":"XX000","message":"internal"}`,
		Times:  1,
	})

	res := f.db.DeleteMany(ctx, "alunos", ids)
	require.False(t, res.OK())
	require.Equal(t, ids[1:], res.Deleted)
	require.Len(t, res.Failed, 1)
	require.Equal(t, ids[0], res.Failed[0].ID)

	rows := f.backend.Rows("alunos")
	require.Len(t, rows, 1)
	require.Equal(t, ids[0], rows[0]["id"])
}

type ctxKey struct{}

// recordingTokens remembers the context each request bound it to.
type recordingTokens struct {
	inner *auth.Client
	seen  []context.Context
}

func (r *recordingTokens) Token() (*oauth2.Token, error) {
	return r.inner.Token()
}

func (r *recordingTokens) TokenSource(ctx context.Context) oauth2.TokenSource {
	r.seen = append(r.seen, ctx)
	return r.inner.TokenSource(ctx)
}

func TestTokensBoundToRequestContext(t *testing.T) {
	f := setupDBFixture(t, true)
	tokens := &recordingTokens{inner: f.auth}
	db, err := database.NewClient(f.backend.Caller(), tokens, database.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	_, err = db.Select(ctx, "alunos", database.Query{})
	require.NoError(t, err)
	require.Len(t, tokens.seen, 1)
	require.Equal(t, "req-1", tokens.seen[0].Value(ctxKey{}))

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = db.Select(cctx, "alunos", database.Query{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnonymousWrites(t *testing.T) {
	ctx := context.Background()
	f := setupDBFixture(t, false)

	_, err := f.db.Insert(ctx, "alunos", map[string]any{"nome": "X"})
	re, ok := nerrors.Remote(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, re.Status)
	require.Contains(t, re.Message, "row-level security")

	rows, err := f.db.Select(ctx, "alunos", database.Query{})
	require.NoError(t, err, "anonymous reads are allowed")
	require.Empty(t, rows)
}

func TestRemoteErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	f := setupDBFixture(t, true)
	f.backend.InjectFault(fakebackend.Fault{
		Path:   "/rest/v1/alunos",
		Status: http.StatusBadRequest,
		Body:   `{"code":"42703","message":"column alunos.foo does not exist","details":null,"hint":null}`,
	})

	_, err := f.db.Select(ctx, "alunos", database.Query{Where: []database.Condition{database.Eq("foo", "1")}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "[Client.Select] alunos")
	re, ok := nerrors.Remote(err)
	require.True(t, ok)
	require.Equal(t, "42703", re.Code)
}
