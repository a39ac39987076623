package reports_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jrsteele09/notifica/auth"
	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/fakebackend"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/reports"
	"github.com/jrsteele09/notifica/sessions/repofakes"
	"github.com/jrsteele09/notifica/students"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var (
	fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)
	author   = reports.Author{Name: "Carla Souza", Email: "carla@ete.example"}
)

type reportsFixture struct {
	backend *fakebackend.Server
	builder *reports.Builder
}

func setupReportsFixture(t *testing.T) *reportsFixture {
	t.Helper()

	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	backend.AddUser("op@ete.example", "senha123", map[string]any{"role": "operador"}, nil)

	authClient, err := auth.NewClient(backend.Caller(), repofakes.NewFakeStateRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = authClient.SignInWithPassword(context.Background(), "op@ete.example", "senha123")
	require.NoError(t, err)
	db, err := database.NewClient(backend.Caller(), authClient, database.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	builder, err := reports.NewBuilder(db,
		reports.WithLogger(zerolog.Nop()),
		reports.WithNowTime(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	backend.Seed(students.Table,
		map[string]any{"id": "a1", "nome": "Bia", "data_nascimento": "2008-04-01", "matricula": "002", "turma": "1A", "responsavel": "José", "telefone_responsavel": "81999990000", "codigo_portal": "111111"},
		map[string]any{"id": "a2", "nome": "Ana", "data_nascimento": "2008-03-15", "matricula": "001", "turma": "1A", "responsavel": "Maria", "telefone_responsavel": "81999990001", "codigo_portal": "222222"},
		map[string]any{"id": "a3", "nome": "Caio", "matricula": "003", "turma": "2B", "responsavel": "Rita", "telefone_responsavel": "81999990002"},
	)
	seed := func(id, student, at, level, status string) {
		backend.Seed(notices.Table, map[string]any{
			"id": id, "aluno_id": student, "data_hora": at, "nivel": level,
			"descricao": "ocorrência", "status": status, "registrado_por": "Carla",
		})
	}
	// 2025-03-02T02:00Z is still March 1st in Brasilia.
	seed("n1", "a1", "2025-03-02T02:00:00Z", "Leve", "pendente")
	seed("n2", "a1", "2025-03-05T13:00:00Z", "Grave", "resolvido")
	seed("n3", "a2", "2025-03-08T02:59:59Z", "Média", "pendente")
	seed("n4", "a3", "2025-03-09T12:00:00Z", "Grave", "ativo")
	seed("n5", "gone", "2025-03-06T12:00:00Z", "Leve", "pendente")

	return &reportsFixture{backend: backend, builder: builder}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := reports.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestParseKind(t *testing.T) {
	k, err := reports.ParseKind("Notificações")
	require.NoError(t, err)
	require.Equal(t, reports.KindNotices, k)
	require.Equal(t, "Relatório Consolidado", reports.KindConsolidated.Title())
	_, err = reports.ParseKind("turmas")
	require.ErrorIs(t, err, nerrors.ErrValidation)

	_, err = reports.ParseDay("10/03/2025")
	require.ErrorIs(t, err, nerrors.ErrValidation)
}

func TestAuthor(t *testing.T) {
	require.Equal(t, "Carla Souza (carla@ete.example)", author.String())
	require.Equal(t, "carla@ete.example", reports.Author{Email: "carla@ete.example"}.String())
	require.Equal(t, "N/A", reports.Author{}.String())
}

func TestStudentReport(t *testing.T) {
	f := setupReportsFixture(t)
	r, err := f.builder.Build(context.Background(), reports.KindStudents, reports.Filters{Class: "1A"}, author)
	require.NoError(t, err)

	require.Equal(t, []string{"Código Portal", "Nome", "Data Nascimento", "Matrícula", "Turma", "Responsável", "Telefone"}, r.Columns)
	require.Equal(t, [][]string{
		{"222222", "Ana", "15/03/2008", "001", "1A", "Maria", "81999990001"},
		{"111111", "Bia", "01/04/2008", "002", "1A", "José", "81999990000"},
	}, r.Rows)
	require.Equal(t, []reports.Stat{{Label: "Total de Alunos", Value: 2}}, r.Stats)
	require.Equal(t, fixedNow, r.GeneratedAt)

	all, err := f.builder.Build(context.Background(), reports.KindStudents, reports.Filters{}, author)
	require.NoError(t, err)
	require.Len(t, all.Rows, 3)
	require.Equal(t, []string{"N/A", "Caio", "N/A", "003", "2B", "Rita", "81999990002"}, all.Rows[2])
}

func TestNoticeReport(t *testing.T) {
	ctx := context.Background()
	f := setupReportsFixture(t)

	testCases := []struct {
		name    string
		filters reports.Filters
		dates   []string
	}{
		{
			name:  "everything, newest first",
			dates: []string{"09/03/2025 09:00", "07/03/2025 23:59", "06/03/2025 09:00", "05/03/2025 10:00", "01/03/2025 23:00"},
		},
		{
			name:    "whole days in Brasilia time",
			filters: reports.Filters{From: day(t, "2025-03-01"), To: day(t, "2025-03-07")},
			dates:   []string{"07/03/2025 23:59", "06/03/2025 09:00", "05/03/2025 10:00", "01/03/2025 23:00"},
		},
		{
			name:    "from only",
			filters: reports.Filters{From: day(t, "2025-03-06")},
			dates:   []string{"09/03/2025 09:00", "07/03/2025 23:59", "06/03/2025 09:00"},
		},
		{
			name:    "class excludes unknown students",
			filters: reports.Filters{Class: "1A"},
			dates:   []string{"07/03/2025 23:59", "05/03/2025 10:00", "01/03/2025 23:00"},
		},
		{
			name:    "level and status",
			filters: reports.Filters{Level: notices.LevelSevere, Status: notices.StatusActive},
			dates:   []string{"09/03/2025 09:00"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := f.builder.Build(ctx, reports.KindNotices, tc.filters, author)
			require.NoError(t, err)
			var dates []string
			for _, row := range r.Rows {
				dates = append(dates, row[0])
			}
			require.Equal(t, tc.dates, dates)
		})
	}

	r, err := f.builder.Build(ctx, reports.KindNotices, reports.Filters{}, author)
	require.NoError(t, err)
	require.Equal(t, []string{"09/03/2025 09:00", "Caio", "003", "2B", "Grave", "ativo", "Carla"}, r.Rows[0])
	require.Equal(t, []string{"N/A", "N/A", "N/A"}, r.Rows[2][1:4], "notice of a deleted student")
	require.Equal(t, []reports.Stat{
		{Label: "Total de Registros", Value: 5},
		{Label: "Leves", Value: 2},
		{Label: "Médias", Value: 1},
		{Label: "Graves", Value: 2},
	}, r.Stats)
}

func TestConsolidatedReport(t *testing.T) {
	f := setupReportsFixture(t)
	r, err := f.builder.Build(context.Background(), reports.KindConsolidated, reports.Filters{}, author)
	require.NoError(t, err)

	require.Len(t, r.Columns, 12)
	require.Equal(t, "Pendentes", r.Columns[11])
	require.Len(t, r.Rows, 3)
	require.Equal(t, []string{"1", "0", "1", "0", "1"}, r.Rows[0][7:], "Ana")
	require.Equal(t, []string{"2", "1", "0", "1", "1"}, r.Rows[1][7:], "Bia")
	require.Equal(t, []string{"1", "0", "0", "1", "0"}, r.Rows[2][7:], "Caio")
	require.Equal(t, []reports.Stat{
		{Label: "Total de Alunos", Value: 3},
		{Label: "Notificações Leves", Value: 1},
		{Label: "Notificações Médias", Value: 1},
		{Label: "Notificações Graves", Value: 2},
	}, r.Stats)

	filtered, err := f.builder.Build(context.Background(), reports.KindConsolidated, reports.Filters{To: day(t, "2025-03-04")}, author)
	require.NoError(t, err)
	require.Equal(t, "1", filtered.Rows[1][7], "only the March 1st notice of Bia")
	require.Equal(t, "0", filtered.Rows[0][7])
}

func TestWriteXLSX(t *testing.T) {
	f := setupReportsFixture(t)
	r, err := f.builder.Build(context.Background(), reports.KindNotices, reports.Filters{}, author)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reports.WriteXLSX(&buf, r))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()
	require.Equal(t, []string{"Relatório", "Informações"}, wb.GetSheetList())

	rows, err := wb.GetRows("Relatório")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, r.Columns, rows[0])
	require.Equal(t, r.Rows[0], rows[1])

	info, err := wb.GetRows("Informações")
	require.NoError(t, err)
	require.Equal(t, []string{"Tipo de Relatório:", "Relatório de Notificações"}, info[2])
	require.Equal(t, []string{"Data de Geração:", "10/03/2025 12:30"}, info[3])
	require.Equal(t, []string{"Gerado por:", "Carla Souza (carla@ete.example)"}, info[4])
	require.Equal(t, []string{"Total de Registros:", "5"}, info[5])

	width, err := wb.GetColWidth("Relatório", "G")
	require.NoError(t, err)
	require.Equal(t, 20.0, width)
}

func TestWritePDF(t *testing.T) {
	r := &reports.Report{
		Kind:        reports.KindStudents,
		Columns:     []string{"Código Portal", "Nome", "Responsável pelo aluno na escola"},
		GeneratedAt: fixedNow,
		GeneratedBy: author,
	}
	for i := 0; i < 120; i++ {
		r.Rows = append(r.Rows, []string{fmt.Sprintf("%06d", i), "Aluno com um nome bem comprido " + fmt.Sprint(i), ""})
	}

	var buf bytes.Buffer
	require.NoError(t, reports.WritePDF(&buf, r, reports.PDFOptions{}))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))

	require.ErrorIs(t, reports.WritePDF(&bytes.Buffer{}, &reports.Report{Kind: reports.KindStudents}, reports.PDFOptions{}), reports.ErrEmptyReport)
	require.ErrorIs(t, reports.WriteXLSX(&bytes.Buffer{}, &reports.Report{Kind: reports.KindStudents}), nerrors.ErrValidation)

	require.Equal(t, "relatorio_consolidado_2025-03-10.pdf", reports.FileName(reports.KindConsolidated, "pdf", fixedNow))
}
