package students

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/jrsteele09/notifica/internal/format"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const templateSheet = "Alunos"

// TemplateFormat selects the import template flavour.
type TemplateFormat string

const (
	TemplateXLSX TemplateFormat = "xlsx"
	TemplateCSV  TemplateFormat = "csv"
)

// Sample rows shown in the template. The workbook uses the DD-MM-YYYY
// spreadsheet convention; the CSV uses ISO dates.
var templateSamples = []struct {
	name, birth, enrollment, class, guardian, phone string
}{
	{"João Silva", "2005-03-15", "2024001", "3º A", "Maria Silva", "(81) 99999-9999"},
	{"Ana Costa", "2006-07-22", "2024002", "2º B", "José Costa", "(81) 88888-8888"},
	{"Pedro Santos", "2007-11-08", "2024003", "1º C", "Lucia Santos", "(81) 77777-7777"},
}

var templateWidths = []float64{20, 15, 12, 10, 20, 18}

// TemplateFileName is the download name, e.g.
// template_importacao_alunos_2025-03-10.xlsx.
func TemplateFileName(f TemplateFormat, now time.Time) string {
	return fmt.Sprintf("template_importacao_alunos_%s.%s", format.ISODate(now), f)
}

// WriteTemplate writes an import template with a header row and sample
// students.
func WriteTemplate(w io.Writer, f TemplateFormat) error {
	switch f {
	case TemplateXLSX:
		return writeXLSXTemplate(w)
	case TemplateCSV:
		return writeCSVTemplate(w)
	default:
		return errors.Errorf("[WriteTemplate] unknown template format %q", f)
	}
}

func writeCSVTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return errors.Wrap(err, "[writeCSVTemplate]")
	}
	for _, s := range templateSamples {
		if err := cw.Write([]string{s.name, s.birth, s.enrollment, s.class, s.guardian, s.phone}); err != nil {
			return errors.Wrap(err, "[writeCSVTemplate]")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "[writeCSVTemplate]")
}

func writeXLSXTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate] rename sheet")
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(templateSheet, "A1", &header); err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate] header")
	}
	for i, s := range templateSamples {
		birth, _ := time.Parse("2006-01-02", s.birth)
		row := []any{s.name, birth.Format("02-01-2006"), s.enrollment, s.class, s.guardian, s.phone}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "[writeXLSXTemplate]")
		}
		if err := f.SetSheetRow(templateSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "[writeXLSXTemplate] row %d", i+2)
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"1E3A8A"}, Pattern: 1},
	})
	if err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate] style")
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate]")
	}
	if err := f.SetCellStyle(templateSheet, "A1", last, style); err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate] apply style")
	}

	for i, width := range templateWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return errors.Wrap(err, "[writeXLSXTemplate]")
		}
		if err := f.SetColWidth(templateSheet, col, col, width); err != nil {
			return errors.Wrap(err, "[writeXLSXTemplate] column width")
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "[writeXLSXTemplate] write")
	}
	return nil
}
