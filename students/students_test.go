package students_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/notifica/auth"
	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/fakebackend"
	"github.com/jrsteele09/notifica/sessions/repofakes"
	"github.com/jrsteele09/notifica/students"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/time/rate"
)

type studentsFixture struct {
	backend *fakebackend.Server
	store   *students.Store
}

func setupStudentsFixture(t *testing.T, options ...students.StoreOption) *studentsFixture {
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

	opts := append([]students.StoreOption{students.WithLogger(zerolog.Nop()), students.WithImportRate(rate.Inf)}, options...)
	store, err := students.NewStore(db, opts...)
	require.NoError(t, err)
	return &studentsFixture{backend: backend, store: store}
}

func sample(name, enrollment, class string) students.Student {
	return students.Student{
		Name:          name,
		BirthDate:     "15-03-2008",
		Enrollment:    enrollment,
		Class:         class,
		Guardian:      "Responsável de " + name,
		GuardianPhone: "(81) 99999-0000",
	}
}

func sequence(codes ...string) students.CodeGenerator {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name    string
		edit    func(s *students.Student)
		field   string
		message string
	}{
		{"missing name", func(s *students.Student) { s.Name = "  " }, "nome", "name is required"},
		{"missing class", func(s *students.Student) { s.Class = "" }, "turma", "class is required"},
		{"first missing field wins", func(s *students.Student) { s.Guardian = ""; s.Enrollment = "" }, "matricula", "enrollment is required"},
		{"bad date", func(s *students.Student) { s.BirthDate = "2008/03/15" }, "data_nascimento", "invalid date, use DD-MM-YYYY or YYYY-MM-DD"},
		{"short phone", func(s *students.Student) { s.GuardianPhone = "9999-0000" }, "telefone_responsavel", "guardian phone must have 11 to 13 digits"},
		{"bad portal code", func(s *students.Student) { s.PortalCode = "12ab56" }, "codigo_portal", `portal code "12ab56" must be 6 digits`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := sample("Ana", "001", "1A")
			tc.edit(&st)
			err := st.Normalize()
			require.ErrorIs(t, err, nerrors.ErrValidation)
			var fe *students.FieldError
			require.True(t, errors.As(err, &fe))
			require.Equal(t, tc.field, fe.Field)
			require.Equal(t, tc.message, fe.Message)
		})
	}

	t.Run("dates are stored as ISO", func(t *testing.T) {
		for _, in := range []string{"15-03-2008", "15/03/2008", "2008-03-15"} {
			st := sample(" Ana ", "001", "1A")
			st.BirthDate = in
			require.NoError(t, st.Normalize())
			require.Equal(t, "2008-03-15", st.BirthDate)
			require.Equal(t, "Ana", st.Name)
		}
	})
}

func TestPortalCodes(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := students.RandomPortalCode()
		require.True(t, students.ValidPortalCode(code), code)
		require.NotEqual(t, '0', rune(code[0]))
	}
	require.False(t, students.ValidPortalCode("12345"))
	require.False(t, students.ValidPortalCode("1234567"))
	require.False(t, students.ValidPortalCode("１２３４５６"))
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns a portal code", func(t *testing.T) {
		f := setupStudentsFixture(t)
		created, err := f.store.Create(ctx, sample("Ana", "001", "1A"))
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		require.NotNil(t, created.CreatedAt)
		require.True(t, students.ValidPortalCode(created.PortalCode))
		require.Equal(t, "2008-03-15", created.BirthDate)
	})

	t.Run("skips codes already taken", func(t *testing.T) {
		f := setupStudentsFixture(t, students.WithCodeGenerator(sequence("111111", "111111", "222222")))
		f.backend.Seed(students.Table, map[string]any{"id": "seed", "matricula": "000", "codigo_portal": "111111"})

		created, err := f.store.Create(ctx, sample("Ana", "001", "1A"))
		require.NoError(t, err)
		require.Equal(t, "222222", created.PortalCode)
	})

	t.Run("keeps an explicit code", func(t *testing.T) {
		f := setupStudentsFixture(t)
		st := sample("Ana", "001", "1A")
		st.PortalCode = "654321"
		created, err := f.store.Create(ctx, st)
		require.NoError(t, err)
		require.Equal(t, "654321", created.PortalCode)
	})

	t.Run("invalid students are not sent", func(t *testing.T) {
		f := setupStudentsFixture(t)
		st := sample("Ana", "001", "1A")
		st.GuardianPhone = "123"
		_, err := f.store.Create(ctx, st)
		require.ErrorIs(t, err, nerrors.ErrValidation)
		require.Empty(t, f.backend.Rows(students.Table))
	})

	t.Run("duplicate enrollment is refused", func(t *testing.T) {
		f := setupStudentsFixture(t)
		_, err := f.store.Create(ctx, sample("Ana", "001", "1A"))
		require.NoError(t, err)
		_, err = f.store.Create(ctx, sample("Bia", "001", "1A"))
		re, ok := nerrors.Remote(err)
		require.True(t, ok)
		require.Equal(t, "23505", re.Code)
		require.Len(t, f.backend.Rows(students.Table), 1)
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := setupStudentsFixture(t)

	for _, st := range []students.Student{
		sample("Caio", "003", "2B"),
		sample("Ana", "001", "1A"),
		sample("Bia", "002", "2B"),
	} {
		_, err := f.store.Create(ctx, st)
		require.NoError(t, err)
	}

	all, err := f.store.List(ctx, students.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"Ana", "Bia", "Caio"}, []string{all[0].Name, all[1].Name, all[2].Name})

	classB, err := f.store.List(ctx, students.ListOptions{Class: "2B"})
	require.NoError(t, err)
	require.Len(t, classB, 2)

	classes, err := f.store.Classes(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"1A", "2B"}, classes)

	got, err := f.store.Get(ctx, all[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Ana", got.Name)

	_, err = f.store.Get(ctx, "missing")
	require.ErrorIs(t, err, nerrors.ErrNotFound)

	byCode, err := f.store.FindByPortalCode(ctx, all[1].PortalCode)
	require.NoError(t, err)
	require.Equal(t, "Bia", byCode.Name)
	require.Contains(t, f.backend.Requests(), "GET /rest/v1/alunos?select=%2A&codigo_portal=eq."+all[1].PortalCode+"&limit=1")

	byEnrollment, err := f.store.FindByEnrollment(ctx, " 003 ")
	require.NoError(t, err)
	require.Equal(t, "Caio", byEnrollment.Name)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := setupStudentsFixture(t)

	created, err := f.store.Create(ctx, sample("Ana", "001", "1A"))
	require.NoError(t, err)

	edit := *created
	edit.Class = "2A"
	edit.BirthDate = "01/02/2008"
	edit.PortalCode = ""
	updated, err := f.store.Update(ctx, created.ID, edit)
	require.NoError(t, err)
	require.Equal(t, "2A", updated.Class)
	require.Equal(t, "2008-02-01", updated.BirthDate)
	require.Equal(t, created.PortalCode, updated.PortalCode)

	_, err = f.store.Update(ctx, "missing", edit)
	require.ErrorIs(t, err, nerrors.ErrNotFound)

	other, err := f.store.Create(ctx, sample("Bia", "002", "1A"))
	require.NoError(t, err)
	third, err := f.store.Create(ctx, sample("Caio", "003", "1A"))
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, created.ID))
	res := f.store.DeleteMany(ctx, []string{other.ID, third.ID})
	require.True(t, res.OK())
	require.Len(t, res.Deleted, 2)
	require.Empty(t, f.backend.Rows(students.Table))
}

func TestReadRowsCSV(t *testing.T) {
	data := "\ufeffNome;Data de Nascimento;Matrícula;Turma;Responsável;Telefone\n" +
		"Ana;15-03-2008;001;1A;Maria;(81) 99999-0000\n" +
		";;;;;\n" +
		"Bia;2008-04-01;002;1A;José;81988880000\n"

	rows, err := students.ReadRows(strings.NewReader(data), "alunos.CSV")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, students.Row{
		"nome":                 "Ana",
		"data_nascimento":      "15-03-2008",
		"matricula":            "001",
		"turma":                "1A",
		"responsavel":          "Maria",
		"telefone_responsavel": "(81) 99999-0000",
	}, rows[0])

	_, err = students.ReadRows(strings.NewReader(data), "alunos.txt")
	require.ErrorIs(t, err, nerrors.ErrUnsupported)
}

func TestReadRowsWorkbookDates(t *testing.T) {
	wb := excelize.NewFile()
	defer wb.Close()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]any{"nome", "data_nascimento", "matricula", "turma", "responsavel", "telefone_responsavel"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]any{"Ana", time.Date(2008, 3, 15, 0, 0, 0, 0, time.UTC), "001", "1A", "Maria", "81999990000"}))
	var buf bytes.Buffer
	_, err := wb.WriteTo(&buf)
	require.NoError(t, err)

	rows, err := students.ReadRows(&buf, "alunos.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "2008-03-15", rows[0]["data_nascimento"])
}

func csvRows(t *testing.T, lines ...string) []students.Row {
	t.Helper()
	data := strings.Join(append([]string{strings.Join(students.Columns, ",")}, lines...), "\n")
	rows, err := students.ReadRows(strings.NewReader(data), "import.csv")
	require.NoError(t, err)
	return rows
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("any invalid line aborts the import", func(t *testing.T) {
		f := setupStudentsFixture(t)
		rows := csvRows(t,
			"Ana,15-03-2008,001,1A,Maria,81999990000",
			"Bia,31-02-2008,002,1A,José,81999990000",
			",15-03-2008,003,1A,Rita,81999990000",
		)
		_, err := f.store.Import(ctx, rows)
		require.ErrorIs(t, err, nerrors.ErrValidation)

		var verrs students.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		require.Len(t, verrs, 2)
		require.Equal(t, "line 3: invalid date, use DD-MM-YYYY or YYYY-MM-DD\nline 4: name is required", err.Error())
		require.Empty(t, f.backend.Rows(students.Table))
	})

	t.Run("blank rows are not counted", func(t *testing.T) {
		f := setupStudentsFixture(t)
		_, err := f.store.Import(ctx, csvRows(t,
			"Ana,15-03-2008,001,1A,Maria,81999990000",
			",,,,,",
			",15-03-2008,003,1A,Rita,81999990000",
		))
		require.ErrorIs(t, err, nerrors.ErrValidation)
		require.Equal(t, "line 3: name is required", err.Error())
	})

	t.Run("existing enrollments are skipped", func(t *testing.T) {
		f := setupStudentsFixture(t)
		_, err := f.store.Create(ctx, sample("Ana", "001", "1A"))
		require.NoError(t, err)

		res, err := f.store.Import(ctx, csvRows(t,
			"Ana,15-03-2008,001,1A,Maria,81999990000",
			"Bia,2008-04-01,002,1A,José,81999990000",
			"Bia,2008-04-01,002,1A,José,81999990000",
		))
		require.NoError(t, err)
		require.Len(t, res.Imported, 1)
		require.Equal(t, "Bia", res.Imported[0].Name)
		require.True(t, students.ValidPortalCode(res.Imported[0].PortalCode))
		require.Equal(t, []string{"001", "002"}, res.Skipped)
		require.Empty(t, res.Failed)
		require.Len(t, f.backend.Rows(students.Table), 2)
	})

	t.Run("refused rows do not stop the import", func(t *testing.T) {
		f := setupStudentsFixture(t)
		f.backend.InjectFault(fakebackend.Fault{
			Method: http.MethodPost,
			Path:   "/rest/v1/alunos",
			Status: http.StatusInternalServerError,
			Body:   `{"code":"XX000","message":"boom"}`,
			Times:  1,
		})

		res, err := f.store.Import(ctx, csvRows(t,
			"Ana,15-03-2008,001,1A,Maria,81999990000",
			"Bia,2008-04-01,002,1A,José,81999990000",
		))
		require.NoError(t, err)
		require.Len(t, res.Imported, 1)
		require.Len(t, res.Failed, 1)
		require.Equal(t, 2, res.Failed[0].Line)
		require.Equal(t, "001", res.Failed[0].Enrollment)
	})

	t.Run("empty file", func(t *testing.T) {
		f := setupStudentsFixture(t)
		_, err := f.store.Import(ctx, csvRows(t))
		require.ErrorIs(t, err, nerrors.ErrValidation)
	})

	t.Run("cancelled context stops pacing", func(t *testing.T) {
		f := setupStudentsFixture(t, students.WithImportRate(rate.Every(time.Hour)))
		cctx, cancel := context.WithCancel(ctx)

		rows := csvRows(t,
			"Ana,15-03-2008,001,1A,Maria,81999990000",
			"Bia,2008-04-01,002,1A,José,81999990000",
		)
		// The first insert uses the burst; the second would wait an hour.
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		res, err := f.store.Import(cctx, rows)
		require.Error(t, err)
		require.Len(t, res.Imported, 1)
	})
}

func TestTemplates(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "template_importacao_alunos_2025-03-10.xlsx", students.TemplateFileName(students.TemplateXLSX, now))
	require.Equal(t, "template_importacao_alunos_2025-03-10.csv", students.TemplateFileName(students.TemplateCSV, now))

	for _, tf := range []students.TemplateFormat{students.TemplateXLSX, students.TemplateCSV} {
		t.Run(string(tf), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, students.WriteTemplate(&buf, tf))

			rows, err := students.ReadRows(bytes.NewReader(buf.Bytes()), "template."+string(tf))
			require.NoError(t, err)
			list, err := students.Validate(rows)
			require.NoError(t, err)
			require.Len(t, list, 3)
			require.Equal(t, "João Silva", list[0].Name)
			require.Equal(t, "2005-03-15", list[0].BirthDate)
			require.Equal(t, "3º A", list[0].Class)
		})
	}

	t.Run("workbook layout", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, students.WriteTemplate(&buf, students.TemplateXLSX))
		wb, err := excelize.OpenReader(&buf)
		require.NoError(t, err)
		defer wb.Close()

		require.Equal(t, []string{"Alunos"}, wb.GetSheetList())
		birth, err := wb.GetCellValue("Alunos", "B2")
		require.NoError(t, err)
		require.Equal(t, "15-03-2005", birth)
		width, err := wb.GetColWidth("Alunos", "F")
		require.NoError(t, err)
		require.Equal(t, 18.0, width)
	})

	require.Error(t, students.WriteTemplate(&bytes.Buffer{}, "pdf"))
}
