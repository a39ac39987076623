package notices

import (
	"fmt"
	"net/url"
	"strings"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/students"
)

// PortalPage is the guardian portal path under the public URL.
const PortalPage = "/pages/portal-responsavel.html"

const whatsAppBase = "https://wa.me/"

// PortalURL joins the public origin and the portal page.
func PortalURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + PortalPage
}

// ComposeMessage writes the convocation sent to the student's guardian. The
// operator may edit it before sending.
func ComposeMessage(st students.Student, n Notice, portalURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F3EB *NOTIFICA ETE - Convocação*\n\n")
	fmt.Fprintf(&b, "Prezado(a) *%s*,\n\n", st.Guardian)
	fmt.Fprintf(&b, "Informamos que o(a) aluno(a) *%s* recebeu uma notificação disciplinar.\n\n", st.Name)
	fmt.Fprintf(&b, "\u26A0\uFE0F *Tipo de Advertência:* %s\n\n", n.Level)
	fmt.Fprintf(&b, "\U0001F4DD *Informações:*\n")
	fmt.Fprintf(&b, "- Aluno: %s\n", st.Name)
	fmt.Fprintf(&b, "- Matrícula: %s\n", st.Enrollment)
	fmt.Fprintf(&b, "- Turma: %s\n", st.Class)
	fmt.Fprintf(&b, "- \U0001F4C5 Data do Ocorrido: %s\n\n", format.Date(n.OccurredAt))
	fmt.Fprintf(&b, "\u2705 *PRESENÇA OBRIGATÓRIA DO RESPONSÁVEL*\n\n")
	fmt.Fprintf(&b, "Solicitamos sua presença na coordenação pedagógica para tratar do assunto.\n\n")
	fmt.Fprintf(&b, "\U0001F4F1 *Consulte mais detalhes no Portal:*\n%s\n\n", portalURL)
	fmt.Fprintf(&b, "\U0001F511 *Código de Acesso:* %s\n\n", st.PortalCode)
	fmt.Fprintf(&b, "Atenciosamente,\nEquipe Pedagógica - Notifica ETE")
	return b.String()
}

// WhatsAppLink builds the click-to-chat link that opens message addressed
// to phone. Only the digits of phone are used.
func WhatsAppLink(phone, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", nerrors.Wrapf(nerrors.ErrValidation, "message must not be empty")
	}
	digits := format.DigitsOnly(phone)
	if digits == "" {
		return "", nerrors.Wrapf(nerrors.ErrValidation, "phone %q has no digits", phone)
	}
	// Spaces must be %20: a '+' shows up literally in the chat.
	text := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return whatsAppBase + digits + "?text=" + text, nil
}
