package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const (
	dataSheet = "Relatório"
	infoSheet = "Informações"

	sheetColumnWidth = 20.0

	pdfMargin       = 10.0
	pdfHeaderChars  = 15
	pdfCellChars    = 20
	pdfRowHeight    = 5.0
	pdfHeaderHeight = 8.0
)

// ErrEmptyReport is returned when exporting a report without rows.
var ErrEmptyReport = fmt.Errorf("%w: no data to export, adjust the filters", nerrors.ErrValidation)

// FileName is the download name, e.g. relatorio_alunos_2025-03-10.xlsx.
func FileName(kind Kind, ext string, now time.Time) string {
	return fmt.Sprintf("relatorio_%s_%s.%s", kind, format.ISODate(now), ext)
}

// WriteXLSX writes the report as a workbook with the table on the Relatório
// sheet and the report details on Informações.
func WriteXLSX(w io.Writer, r *Report) error {
	if len(r.Rows) == 0 {
		return ErrEmptyReport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		return errors.Wrap(err, "[WriteXLSX] rename sheet")
	}
	if err := setRow(f, dataSheet, 1, toAny(r.Columns)); err != nil {
		return err
	}
	for i, row := range r.Rows {
		if err := setRow(f, dataSheet, i+2, toAny(row)); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(r.Columns))
	if err != nil {
		return errors.Wrap(err, "[WriteXLSX]")
	}
	if err := f.SetColWidth(dataSheet, "A", last, sheetColumnWidth); err != nil {
		return errors.Wrap(err, "[WriteXLSX] column width")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "[WriteXLSX] style")
	}
	if err := f.SetCellStyle(dataSheet, "A1", last+"1", bold); err != nil {
		return errors.Wrap(err, "[WriteXLSX] apply style")
	}

	if _, err := f.NewSheet(infoSheet); err != nil {
		return errors.Wrap(err, "[WriteXLSX] info sheet")
	}
	info := [][]any{
		{"NOTIFICA ETE - RELATÓRIO"},
		{""},
		{"Tipo de Relatório:", r.Kind.Title()},
		{"Data de Geração:", format.DateTime(r.GeneratedAt)},
		{"Gerado por:", r.GeneratedBy.String()},
		{"Total de Registros:", len(r.Rows)},
	}
	for i, row := range info {
		if err := setRow(f, infoSheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(infoSheet, "A", "B", 30); err != nil {
		return errors.Wrap(err, "[WriteXLSX] column width")
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "[WriteXLSX] write")
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "[setRow]")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "[setRow] %s!%s", sheet, cell)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// PDFOptions tune the PDF export.
type PDFOptions struct {
	// Letterhead, when set, is drawn as the background of every page.
	Letterhead     io.Reader
	LetterheadType string // "PNG" or "JPG"
}

// WritePDF writes the report as a landscape A4 table. Headers are cut to 15
// characters and cells to 20; every page carries a "Página i de n" footer.
func WritePDF(w io.Writer, r *Report, opts PDFOptions) error {
	if len(r.Rows) == 0 {
		return ErrEmptyReport
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := pdf.GetPageSize()
	pdf.SetCreationDate(r.GeneratedAt)
	pdf.SetTitle(tr(r.Kind.Title()), false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("")

	letterhead := false
	if opts.Letterhead != nil {
		pdf.RegisterImageOptionsReader("letterhead", fpdf.ImageOptions{ImageType: opts.LetterheadType}, opts.Letterhead)
		letterhead = pdf.Ok()
		if !letterhead {
			pdf.ClearError()
		}
	}
	pdf.SetHeaderFunc(func() {
		if letterhead {
			pdf.ImageOptions("letterhead", 0, 0, pageW, pageH, false, fpdf.ImageOptions{ImageType: opts.LetterheadType}, 0, "")
		}
	})

	footerAuthor := ""
	if r.GeneratedBy.Email != "" {
		footerAuthor = " | Gerado por: " + r.GeneratedBy.Email
	}
	pdf.SetFooterFunc(func() {
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(100, 116, 139)
		pdf.SetXY(0, pageH-13)
		text := fmt.Sprintf("Página %d de {nb} - Notifica ETE%s", pdf.PageNo(), footerAuthor)
		pdf.CellFormat(pageW, 5, tr(text), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	y := pdfMargin + 10
	centered := func(size float64, s string) {
		pdf.SetFont("Helvetica", "", size)
		s = tr(s)
		pdf.Text((pageW-pdf.GetStringWidth(s))/2, y, s)
	}

	pdf.SetTextColor(100, 116, 139)
	centered(14, r.Kind.Title())
	y += 8
	centered(10, "Gerado em: "+format.DateTime(r.GeneratedAt))
	y += 5
	centered(10, "Gerado por: "+r.GeneratedBy.String())
	y += 10

	pdf.SetLineWidth(0.5)
	pdf.SetDrawColor(10, 42, 89)
	pdf.Line(pdfMargin, y, pageW-pdfMargin, y)
	y += 8

	colW := (pageW - 2*pdfMargin) / float64(len(r.Columns))
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(10, 42, 89)
	pdf.Rect(pdfMargin, y, pageW-2*pdfMargin, pdfHeaderHeight, "F")
	pdf.SetTextColor(255, 255, 255)
	for i, h := range r.Columns {
		pdf.Text(pdfMargin+float64(i)*colW+2, y+5, tr(truncate(h, pdfHeaderChars)))
	}
	y += pdfHeaderHeight

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 8)
	for _, row := range r.Rows {
		if y > pageH-20 {
			pdf.AddPage()
			pdf.SetTextColor(0, 0, 0)
			pdf.SetFont("Helvetica", "", 8)
			y = pdfMargin
		}
		for i, cell := range row {
			pdf.Text(pdfMargin+float64(i)*colW+2, y+4, tr(truncate(format.OrNA(cell), pdfCellChars)))
		}
		y += pdfRowHeight
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "[WritePDF]")
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
