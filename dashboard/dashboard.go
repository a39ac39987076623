// Package dashboard computes the overview shown right after login: totals,
// students needing attention and the latest notices.
package dashboard

import (
	"context"
	"sort"

	"github.com/jrsteele09/notifica/database"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// AlertThreshold is how many open notices put a student on the alert list.
	AlertThreshold = 3
	DefaultRecent  = 5
)

type Summary struct {
	Students int
	Notices  int
	Pending  int
	Resolved int
	Light    int
	Medium   int
	Severe   int
}

// Alert is a student with AlertThreshold or more open notices.
type Alert struct {
	StudentID   string
	Student     *students.Student // nil when the student row is gone
	OpenNotices int
}

// RecentNotice is a notice with the student it concerns.
type RecentNotice struct {
	notices.Notice
	Student *students.Student
}

type Service struct {
	db     *database.Client
	logger zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(db *database.Client, options ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, errors.New("[NewService] database client is required")
	}
	s := &Service{db: db, logger: log.Logger}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Summary counts students and notices. The two tables are read in parallel.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var (
		roster []students.Student
		list   []notices.Notice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		roster, err = database.SelectAs[students.Student](gctx, s.db, students.Table, database.Query{Select: "id"})
		return err
	})
	g.Go(func() (err error) {
		list, err = database.SelectAs[notices.Notice](gctx, s.db, notices.Table, database.Query{Select: "id,nivel,status"})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "[Service.Summary]")
	}

	sum := &Summary{Students: len(roster), Notices: len(list)}
	for _, n := range list {
		switch n.Status {
		case notices.StatusPending:
			sum.Pending++
		case notices.StatusResolved:
			sum.Resolved++
		}
		switch n.Level {
		case notices.LevelLight:
			sum.Light++
		case notices.LevelMedium:
			sum.Medium++
		case notices.LevelSevere:
			sum.Severe++
		}
	}
	return sum, nil
}

// Alerts lists students with AlertThreshold or more notices still open
// (ativo or pendente), most notices first.
func (s *Service) Alerts(ctx context.Context) ([]Alert, error) {
	var (
		roster []students.Student
		list   []notices.Notice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		list, err = database.SelectAs[notices.Notice](gctx, s.db, notices.Table, database.Query{Select: "aluno_id,status"})
		return err
	})
	g.Go(func() (err error) {
		roster, err = database.SelectAs[students.Student](gctx, s.db, students.Table, database.Query{
			Select: "id,nome,matricula,turma,responsavel,telefone_responsavel",
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "[Service.Alerts]")
	}

	counts := map[string]int{}
	for _, n := range list {
		if n.StudentID != "" && n.Status.Open() {
			counts[n.StudentID]++
		}
	}
	byID := indexStudents(roster)

	alerts := []Alert{}
	for id, c := range counts {
		if c < AlertThreshold {
			continue
		}
		alerts = append(alerts, Alert{StudentID: id, Student: byID[id], OpenNotices: c})
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].OpenNotices != alerts[j].OpenNotices {
			return alerts[i].OpenNotices > alerts[j].OpenNotices
		}
		return alerts[i].StudentID < alerts[j].StudentID
	})
	return alerts, nil
}

// Recent returns the latest n notices (DefaultRecent when n <= 0) joined
// with their students.
func (s *Service) Recent(ctx context.Context, n int) ([]RecentNotice, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	list, err := database.SelectAs[notices.Notice](ctx, s.db, notices.Table, database.Query{
		Select: "id,aluno_id,data_hora,nivel,descricao,status",
		Order:  &database.Order{Column: "data_hora", Descending: true},
		Limit:  n,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Recent] notices")
	}
	out := make([]RecentNotice, 0, len(list))
	if len(list) == 0 {
		return out, nil
	}

	roster, err := database.SelectAs[students.Student](ctx, s.db, students.Table, database.Query{Select: "id,nome,matricula,turma"})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Recent] students")
	}
	byID := indexStudents(roster)
	for _, item := range list {
		out = append(out, RecentNotice{Notice: item, Student: byID[item.StudentID]})
	}
	return out, nil
}

func indexStudents(roster []students.Student) map[string]*students.Student {
	byID := make(map[string]*students.Student, len(roster))
	for i := range roster {
		byID[roster[i].ID] = &roster[i]
	}
	return byID
}
