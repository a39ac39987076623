// Package notices records disciplinary notices (table notificacoes) and
// produces what is sent to guardians: the WhatsApp convocation and the
// printable notice document.
package notices

import (
	"fmt"
	"strings"
	"time"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
)

const Table = "notificacoes"

// Level is the severity of a notice.
type Level string

const (
	LevelLight  Level = "Leve"
	LevelMedium Level = "Média"
	LevelSevere Level = "Grave"
)

var Levels = []Level{LevelLight, LevelMedium, LevelSevere}

// ParseLevel accepts the stored label with or without accents and in any
// case ("media", "MÉDIA").
func ParseLevel(s string) (Level, error) {
	slug := format.Slug(s)
	for _, l := range Levels {
		if format.Slug(string(l)) == slug {
			return l, nil
		}
	}
	return "", nerrors.Wrapf(nerrors.ErrValidation, "unknown level %q (use Leve, Média or Grave)", s)
}

// Slug is the accent-free lower-case form, e.g. "media".
func (l Level) Slug() string {
	return format.Slug(string(l))
}

// Status is where a notice stands in the follow-up with the guardian.
type Status string

const (
	StatusPending  Status = "pendente"
	StatusResolved Status = "resolvido"
	StatusActive   Status = "ativo"
)

var Statuses = []Status{StatusPending, StatusResolved, StatusActive}

func ParseStatus(s string) (Status, error) {
	slug := format.Slug(s)
	for _, st := range Statuses {
		if string(st) == slug {
			return st, nil
		}
	}
	return "", nerrors.Wrapf(nerrors.ErrValidation, "unknown status %q (use pendente, resolvido or ativo)", s)
}

// Open reports whether the notice still needs follow-up.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusActive
}

// Notice is one row of notificacoes.
type Notice struct {
	ID           string     `json:"id,omitempty"`
	StudentID    string     `json:"aluno_id"`
	OccurredAt   time.Time  `json:"data_hora"`
	Level        Level      `json:"nivel"`
	Description  string     `json:"descricao"`
	Status       Status     `json:"status"`
	RegisteredBy string     `json:"registrado_por"`
	PDFURL       string     `json:"pdf_url,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// Normalize trims text fields, defaults the status to pendente and checks
// that the notice can be stored.
func (n *Notice) Normalize() error {
	n.StudentID = strings.TrimSpace(n.StudentID)
	n.Description = strings.TrimSpace(n.Description)
	n.RegisteredBy = strings.TrimSpace(n.RegisteredBy)
	if n.Status == "" {
		n.Status = StatusPending
	}

	switch {
	case n.StudentID == "":
		return fieldError("student is required")
	case n.OccurredAt.IsZero():
		return fieldError("date/time is required")
	case n.Description == "":
		return fieldError("description is required")
	case n.RegisteredBy == "":
		return fieldError("registered by is required")
	}

	level, err := ParseLevel(string(n.Level))
	if err != nil {
		return err
	}
	n.Level = level
	status, err := ParseStatus(string(n.Status))
	if err != nil {
		return err
	}
	n.Status = status
	n.OccurredAt = n.OccurredAt.UTC().Truncate(time.Second)
	return nil
}

func fieldError(msg string) error {
	return fmt.Errorf("%w: %s", nerrors.ErrValidation, msg)
}

// patch is what an edit may change.
type patch struct {
	StudentID    string    `json:"aluno_id"`
	OccurredAt   time.Time `json:"data_hora"`
	Level        Level     `json:"nivel"`
	Description  string    `json:"descricao"`
	Status       Status    `json:"status"`
	RegisteredBy string    `json:"registrado_por"`
}

func (n Notice) patch() patch {
	return patch{
		StudentID:    n.StudentID,
		OccurredAt:   n.OccurredAt,
		Level:        n.Level,
		Description:  n.Description,
		Status:       n.Status,
		RegisteredBy: n.RegisteredBy,
	}
}
