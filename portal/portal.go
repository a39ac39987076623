// Package portal answers guardian lookups: given a student's 6-digit access
// code it returns the student's identification and notice history.
package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCodeNotFound means no student holds the code. It matches
// errors.Is(err, ErrNotFound) too.
var ErrCodeNotFound = fmt.Errorf("%w: portal code", nerrors.ErrNotFound)

// StudentView is what a guardian sees of the student.
type StudentView struct {
	Name       string `json:"nome"`
	Enrollment string `json:"matricula"`
	Class      string `json:"turma"`
	Guardian   string `json:"responsavel"`
}

type NoticeView struct {
	OccurredAt  time.Time      `json:"data_hora"`
	Level       notices.Level  `json:"nivel"`
	Description string         `json:"descricao"`
	Status      notices.Status `json:"status"`
	PDFURL      string         `json:"pdf_url,omitempty"`
}

type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pendentes"`
	Resolved int `json:"resolvidas"`
}

// Result is the answer to a lookup. Notices are newest first.
type Result struct {
	Student StudentView  `json:"aluno"`
	Notices []NoticeView `json:"notificacoes"`
	Stats   Stats        `json:"estatisticas"`
}

// Service performs lookups.
type Service struct {
	students *students.Store
	notices  *notices.Store
	logger   zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(studentStore *students.Store, noticeStore *notices.Store, options ...ServiceOption) (*Service, error) {
	if studentStore == nil {
		return nil, errors.New("[NewService] student store is required")
	}
	if noticeStore == nil {
		return nil, errors.New("[NewService] notice store is required")
	}
	s := &Service{students: studentStore, notices: noticeStore, logger: log.Logger}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Lookup finds the student holding code and their notices.
func (s *Service) Lookup(ctx context.Context, code string) (*Result, error) {
	code = strings.TrimSpace(code)
	if !students.ValidPortalCode(code) {
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "portal code must be exactly 6 digits")
	}

	st, err := s.students.FindByPortalCode(ctx, code)
	if nerrors.Is(err, nerrors.ErrNotFound) {
		s.logger.Info().Msg("portal lookup with unknown code")
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Lookup] student")
	}

	list, err := s.notices.List(ctx, notices.ListOptions{StudentID: st.ID})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Lookup] notices")
	}

	res := &Result{
		Student: StudentView{
			Name:       st.Name,
			Enrollment: st.Enrollment,
			Class:      st.Class,
			Guardian:   st.Guardian,
		},
		Notices: make([]NoticeView, 0, len(list)),
	}
	for _, n := range list {
		res.Notices = append(res.Notices, NoticeView{
			OccurredAt:  n.OccurredAt,
			Level:       n.Level,
			Description: n.Description,
			Status:      n.Status,
			PDFURL:      n.PDFURL,
		})
		switch n.Status {
		case notices.StatusPending:
			res.Stats.Pending++
		case notices.StatusResolved:
			res.Stats.Resolved++
		}
	}
	res.Stats.Total = len(list)
	return res, nil
}
