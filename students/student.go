// Package students manages the school roster (table alunos): CRUD, portal
// access codes, spreadsheet import and the import template.
package students

import (
	"fmt"
	"strings"
	"time"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
)

const Table = "alunos"

// Student is one row of the roster.
type Student struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"nome"`
	BirthDate     string     `json:"data_nascimento"` // YYYY-MM-DD
	Enrollment    string     `json:"matricula"`
	Class         string     `json:"turma"`
	Guardian      string     `json:"responsavel"`
	GuardianPhone string     `json:"telefone_responsavel"`
	PortalCode    string     `json:"codigo_portal,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// FieldError names the first problem found with a student.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

func (e *FieldError) Is(target error) bool {
	return target == nerrors.ErrValidation
}

// Normalize trims every field and converts the birth date to ISO form. It
// returns the first missing or malformed field.
func (s *Student) Normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	s.BirthDate = strings.TrimSpace(s.BirthDate)
	s.Enrollment = strings.TrimSpace(s.Enrollment)
	s.Class = strings.TrimSpace(s.Class)
	s.Guardian = strings.TrimSpace(s.Guardian)
	s.GuardianPhone = strings.TrimSpace(s.GuardianPhone)
	s.PortalCode = strings.TrimSpace(s.PortalCode)

	required := []struct {
		field, value, label string
	}{
		{"nome", s.Name, "name"},
		{"data_nascimento", s.BirthDate, "birth date"},
		{"matricula", s.Enrollment, "enrollment"},
		{"turma", s.Class, "class"},
		{"responsavel", s.Guardian, "guardian"},
		{"telefone_responsavel", s.GuardianPhone, "guardian phone"},
	}
	for _, r := range required {
		if r.value == "" {
			return &FieldError{Field: r.field, Message: r.label + " is required"}
		}
	}

	iso, err := format.ParseBirthDate(s.BirthDate)
	if err != nil {
		return &FieldError{Field: "data_nascimento", Message: "invalid date, use DD-MM-YYYY or YYYY-MM-DD"}
	}
	s.BirthDate = iso

	if !format.ValidPhone(s.GuardianPhone) {
		return &FieldError{Field: "telefone_responsavel", Message: "guardian phone must have 11 to 13 digits"}
	}
	if s.PortalCode != "" && !ValidPortalCode(s.PortalCode) {
		return &FieldError{Field: "codigo_portal", Message: fmt.Sprintf("portal code %q must be 6 digits", s.PortalCode)}
	}
	return nil
}

// patch is what an edit may change; id, portal code and creation time stay.
type patch struct {
	Name          string `json:"nome"`
	BirthDate     string `json:"data_nascimento"`
	Enrollment    string `json:"matricula"`
	Class         string `json:"turma"`
	Guardian      string `json:"responsavel"`
	GuardianPhone string `json:"telefone_responsavel"`
}

func (s Student) patch() patch {
	return patch{
		Name:          s.Name,
		BirthDate:     s.BirthDate,
		Enrollment:    s.Enrollment,
		Class:         s.Class,
		Guardian:      s.Guardian,
		GuardianPhone: s.GuardianPhone,
	}
}
