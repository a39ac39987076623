package notices

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
)

const (
	docMargin     = 20.0
	docLineHeight = 6.0
	letterheadImg = "letterhead"
)

var levelColors = map[Level][3]int{
	LevelSevere: {220, 38, 38},
	LevelMedium: {234, 88, 12},
	LevelLight:  {234, 179, 8},
}

// DocumentOptions tune the printed notice.
type DocumentOptions struct {
	// GeneratedAt is printed in the footer; zero means now.
	GeneratedAt time.Time
	// Letterhead, when set, is drawn as a full-page background. A letterhead
	// that cannot be decoded is left out.
	Letterhead     io.Reader
	LetterheadType string // "PNG" or "JPG"
}

// DocumentFileName is the download name, e.g.
// notificacao_2024001_2025-03-10.pdf.
func DocumentFileName(st students.Student, now time.Time) string {
	return fmt.Sprintf("notificacao_%s_%s.pdf", st.Enrollment, format.ISODate(now))
}

// RenderPDF writes the A4 notice document for n to w: student and notice
// details, the description and the signature block.
func RenderPDF(w io.Writer, st students.Student, n Notice, opts DocumentOptions) error {
	generated := opts.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := pdf.GetPageSize()
	pdf.SetCreationDate(generated)
	pdf.SetTitle(tr("Notificação disciplinar - "+st.Name), false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	if opts.Letterhead != nil {
		pdf.RegisterImageOptionsReader(letterheadImg, fpdf.ImageOptions{ImageType: opts.LetterheadType}, opts.Letterhead)
		if pdf.Ok() {
			pdf.ImageOptions(letterheadImg, 0, 0, pageW, pageH, false, fpdf.ImageOptions{ImageType: opts.LetterheadType}, 0, "")
		} else {
			pdf.ClearError()
		}
	}

	y := docMargin
	text := func(size float64, style, s string) {
		pdf.SetFont("Helvetica", style, size)
		pdf.Text(docMargin, y, tr(s))
	}
	rule := func() {
		pdf.SetLineWidth(0.5)
		pdf.Line(docMargin, y, pageW-docMargin, y)
		y += 10
	}

	text(22, "B", "NOTIFICAÇÃO DISCIPLINAR")
	y += 15
	rule()

	text(14, "B", "DADOS DO ALUNO")
	y += 8
	for _, line := range []string{
		"Nome: " + st.Name,
		"Matrícula: " + st.Enrollment,
		"Turma: " + st.Class,
		"Responsável: " + st.Guardian,
		"Telefone: " + st.GuardianPhone,
		"Código Portal: " + st.PortalCode,
	} {
		text(11, "", line)
		y += docLineHeight
	}
	y += 6
	rule()

	text(14, "B", "DADOS DA NOTIFICAÇÃO")
	y += 8
	text(11, "", "Data/Hora: "+format.DateTime(n.OccurredAt))
	y += docLineHeight
	text(11, "B", "Nível: ")
	c, ok := levelColors[n.Level]
	if !ok {
		c = levelColors[LevelLight]
	}
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(c[0], c[1], c[2])
	pdf.Text(docMargin+20, y, tr(string(n.Level)))
	pdf.SetTextColor(0, 0, 0)
	y += docLineHeight
	text(11, "", "Status: "+string(n.Status))
	y += docLineHeight
	text(11, "", "Registrado por: "+n.RegisteredBy)
	y += 12
	rule()

	text(14, "B", "DESCRIÇÃO DA OCORRÊNCIA")
	y += 8
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range pdf.SplitText(tr(n.Description), pageW-2*docMargin) {
		// Leave room for the signature block on the last page.
		if y > pageH-docMargin-15 {
			pdf.AddPage()
			y = docMargin
			pdf.SetFont("Helvetica", "", 11)
		}
		pdf.Text(docMargin, y, line)
		y += docLineHeight
	}
	y += 15
	if y > pageH-90 {
		pdf.AddPage()
		y = docMargin
	}

	text(12, "B", "ASSINATURAS")
	y += 15
	text(10, "", "Declaramos ciência da notificação disciplinar acima descrita.")
	y += 20

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetLineWidth(0.2)
	pdf.Line(docMargin, y, docMargin+70, y)
	pdf.Text(docMargin, y+5, tr("Assinatura do Aluno"))
	pdf.Line(pageW-docMargin-70, y, pageW-docMargin, y)
	pdf.Text(pageW-docMargin-70, y+5, tr("Assinatura do Notificador"))
	y += 20
	pdf.Line(docMargin, y, docMargin+70, y)
	pdf.Text(docMargin, y+5, tr("Assinatura do Responsável"))
	pdf.Text(pageW-docMargin-50, y+5, "Data: ___/___/___")

	footer := tr(fmt.Sprintf("Documento gerado em %s - Sistema Notifica ETE", format.DateTime(generated)))
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(128, 128, 128)
	pdf.Text((pageW-pdf.GetStringWidth(footer))/2, pageH-15, footer)

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "[RenderPDF]")
	}
	return nil
}
