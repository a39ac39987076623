package students

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// Columns are the import/template headers, in template order.
var Columns = []string{"nome", "data_nascimento", "matricula", "turma", "responsavel", "telefone_responsavel"}

// headerAliases maps slugged headers people tend to type to column names.
var headerAliases = map[string]string{
	"aluno":                   "nome",
	"nome_do_aluno":           "nome",
	"data_de_nascimento":      "data_nascimento",
	"nascimento":              "data_nascimento",
	"telefone":                "telefone_responsavel",
	"telefone_do_responsavel": "telefone_responsavel",
	"nome_do_responsavel":     "responsavel",
	"classe":                  "turma",
}

// Row is one data line of an import file keyed by column name.
type Row map[string]string

func (r Row) student() Student {
	return Student{
		Name:          r["nome"],
		BirthDate:     r["data_nascimento"],
		Enrollment:    r["matricula"],
		Class:         r["turma"],
		Guardian:      r["responsavel"],
		GuardianPhone: r["telefone_responsavel"],
	}
}

// LineError is a validation problem on one line of an import file. Line 1
// is the header, so the first data row is line 2. Blank rows are dropped on
// read and not counted: Line is the row's position among the non-blank data
// rows, plus one.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ValidationErrors lists every invalid line of an import file.
type ValidationErrors []LineError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

func (v ValidationErrors) Is(target error) bool {
	return target == nerrors.ErrValidation
}

// ImportFailure is a valid row the backend refused.
type ImportFailure struct {
	Line       int
	Enrollment string
	Err        error
}

type ImportResult struct {
	Imported []Student
	Skipped  []string // enrollments already on file
	Failed   []ImportFailure
}

// ReadRows parses an .xlsx or .csv roster. Only the first sheet of a
// workbook is read.
func ReadRows(r io.Reader, filename string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(r)
	case ".csv":
		return readCSV(r)
	default:
		return nil, nerrors.Wrapf(nerrors.ErrUnsupported, "import file %q (use .xlsx or .csv)", filename)
	}
}

func readWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "[readWorkbook] open")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("[readWorkbook] workbook has no sheets")
	}
	table, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "[readWorkbook] read sheet %s", sheets[0])
	}

	rows := tableRows(table)
	for _, row := range rows {
		// Date cells come back as serial day numbers.
		if v := row["data_nascimento"]; v != "" {
			if serial, err := strconv.ParseFloat(v, 64); err == nil {
				if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
					row["data_nascimento"] = t.Format("2006-01-02")
				}
			}
		}
	}
	return rows, nil
}

func readCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "[readCSV] read")
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	firstLine, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		cr.Comma = ';'
	}
	table, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "[readCSV] parse")
	}
	return tableRows(table), nil
}

// tableRows turns a header plus data lines into rows, dropping blank lines.
func tableRows(table [][]string) []Row {
	if len(table) == 0 {
		return nil
	}
	header := make([]string, len(table[0]))
	for i, h := range table[0] {
		header[i] = columnName(h)
	}

	var rows []Row
	for _, line := range table[1:] {
		row := Row{}
		blank := true
		for i, v := range line {
			if i >= len(header) || header[i] == "" {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				blank = false
			}
			row[header[i]] = v
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows
}

func columnName(header string) string {
	slug := strings.Join(strings.Fields(format.Slug(header)), "_")
	if alias, ok := headerAliases[slug]; ok {
		return alias
	}
	return slug
}

// Validate checks every row and reports all invalid lines at once.
func Validate(rows []Row) ([]Student, error) {
	var (
		list []Student
		errs ValidationErrors
	)
	for i, row := range rows {
		st := row.student()
		if err := st.Normalize(); err != nil {
			errs = append(errs, LineError{Line: i + 2, Err: err})
			continue
		}
		list = append(list, st)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return list, nil
}

// Import validates rows and stores the new students. Nothing is written if
// any row is invalid. Enrollments already on file (or repeated in the file)
// are skipped. Each insert is independent: a refused row is recorded in the
// result and the import carries on.
func (s *Store) Import(ctx context.Context, rows []Row) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "import file has no data rows")
	}
	list, err := Validate(rows)
	if err != nil {
		return nil, err
	}

	existing, err := s.enrollments(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Import] list enrollments")
	}

	res := &ImportResult{}
	for i, st := range list {
		if existing[st.Enrollment] {
			res.Skipped = append(res.Skipped, st.Enrollment)
			continue
		}
		if err := s.importer.Wait(ctx); err != nil {
			return res, errors.Wrap(err, "[Store.Import]")
		}
		created, err := s.Create(ctx, st)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", i+2).Str("matricula", st.Enrollment).Msg("import row refused")
			res.Failed = append(res.Failed, ImportFailure{Line: i + 2, Enrollment: st.Enrollment, Err: err})
			continue
		}
		existing[st.Enrollment] = true
		res.Imported = append(res.Imported, *created)
	}

	s.logger.Info().
		Int("imported", len(res.Imported)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("student import finished")
	return res, nil
}

// ImportFile reads an .xlsx or .csv roster and imports it.
func (s *Store) ImportFile(ctx context.Context, r io.Reader, filename string) (*ImportResult, error) {
	rows, err := ReadRows(r, filename)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, rows)
}
