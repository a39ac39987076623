// Package reports builds the tabular reports (roster, notices and the
// consolidated per-student view) and exports them as spreadsheets or PDFs.
package reports

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindStudents     Kind = "alunos"
	KindNotices      Kind = "notificacoes"
	KindConsolidated Kind = "consolidado"
)

var Kinds = []Kind{KindStudents, KindNotices, KindConsolidated}

func ParseKind(s string) (Kind, error) {
	slug := format.Slug(s)
	for _, k := range Kinds {
		if string(k) == slug {
			return k, nil
		}
	}
	return "", nerrors.Wrapf(nerrors.ErrValidation, "unknown report %q (use alunos, notificacoes or consolidado)", s)
}

// Title is the heading printed on exports.
func (k Kind) Title() string {
	switch k {
	case KindStudents:
		return "Relatório de Alunos"
	case KindNotices:
		return "Relatório de Notificações"
	case KindConsolidated:
		return "Relatório Consolidado"
	}
	return "Relatório"
}

var (
	studentColumns      = []string{"Código Portal", "Nome", "Data Nascimento", "Matrícula", "Turma", "Responsável", "Telefone"}
	noticeColumns       = []string{"Data/Hora", "Aluno", "Matrícula", "Turma", "Nível", "Status", "Registrado Por"}
	consolidatedColumns = append(append([]string{}, studentColumns...),
		"Total Notificações", "Notificações Leves", "Notificações Médias", "Notificações Graves", "Pendentes")
)

// Filters narrow a report. From and To are calendar days in Brasilia time
// and both ends are inclusive. Only Class applies to the student report.
type Filters struct {
	From   time.Time
	To     time.Time
	Class  string
	Level  notices.Level
	Status notices.Status
}

// ParseDay reads a YYYY-MM-DD filter day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), format.Location())
	if err != nil {
		return time.Time{}, nerrors.Wrapf(nerrors.ErrValidation, "invalid day %q, use YYYY-MM-DD", s)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, format.Location())
}

func (f Filters) accepts(n notices.Notice, st *students.Student) bool {
	if !f.From.IsZero() && n.OccurredAt.Before(startOfDay(f.From)) {
		return false
	}
	if !f.To.IsZero() && !n.OccurredAt.Before(startOfDay(f.To).AddDate(0, 0, 1)) {
		return false
	}
	if f.Class != "" && (st == nil || st.Class != f.Class) {
		return false
	}
	return true
}

// Author is who generated a report.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	switch {
	case a.Name != "" && a.Email != "":
		return a.Name + " (" + a.Email + ")"
	case a.Email != "":
		return a.Email
	case a.Name != "":
		return a.Name
	}
	return format.NotAvailable
}

type Stat struct {
	Label string
	Value int
}

// Report is a rendered table: every cell is display text.
type Report struct {
	Kind        Kind
	Columns     []string
	Rows        [][]string
	Stats       []Stat
	GeneratedAt time.Time
	GeneratedBy Author
}

// Builder reads the tables and assembles reports.
type Builder struct {
	db      *database.Client
	nowTime func() time.Time
	logger  zerolog.Logger
}

// BuilderOption defines a function type to modify the Builder instance.
type BuilderOption func(*Builder)

// WithNowTime sets a custom time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

func NewBuilder(db *database.Client, options ...BuilderOption) (*Builder, error) {
	if db == nil {
		return nil, errors.New("[NewBuilder] database client is required")
	}
	b := &Builder{db: db, nowTime: time.Now, logger: log.Logger}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Build produces the report of kind restricted by f.
func (b *Builder) Build(ctx context.Context, kind Kind, f Filters, author Author) (*Report, error) {
	r := &Report{Kind: kind, GeneratedAt: b.nowTime(), GeneratedBy: author}

	switch kind {
	case KindStudents:
		roster, err := b.roster(ctx, f.Class)
		if err != nil {
			return nil, err
		}
		r.Columns = studentColumns
		for _, st := range roster {
			r.Rows = append(r.Rows, studentCells(st))
		}
		r.Stats = []Stat{{"Total de Alunos", len(roster)}}

	case KindNotices:
		joined, err := b.notices(ctx, f)
		if err != nil {
			return nil, err
		}
		r.Columns = noticeColumns
		levels := map[notices.Level]int{}
		for _, j := range joined {
			r.Rows = append(r.Rows, noticeCells(j))
			levels[j.notice.Level]++
		}
		r.Stats = []Stat{
			{"Total de Registros", len(joined)},
			{"Leves", levels[notices.LevelLight]},
			{"Médias", levels[notices.LevelMedium]},
			{"Graves", levels[notices.LevelSevere]},
		}

	case KindConsolidated:
		roster, err := b.roster(ctx, f.Class)
		if err != nil {
			return nil, err
		}
		joined, err := b.notices(ctx, f)
		if err != nil {
			return nil, err
		}
		type tally struct{ total, light, medium, severe, pending int }
		per := map[string]*tally{}
		for _, j := range joined {
			t := per[j.notice.StudentID]
			if t == nil {
				t = &tally{}
				per[j.notice.StudentID] = t
			}
			t.total++
			switch j.notice.Level {
			case notices.LevelLight:
				t.light++
			case notices.LevelMedium:
				t.medium++
			case notices.LevelSevere:
				t.severe++
			}
			if j.notice.Status == notices.StatusPending {
				t.pending++
			}
		}

		r.Columns = consolidatedColumns
		var light, medium, severe int
		for _, st := range roster {
			t := per[st.ID]
			if t == nil {
				t = &tally{}
			}
			light += t.light
			medium += t.medium
			severe += t.severe
			r.Rows = append(r.Rows, append(studentCells(st),
				strconv.Itoa(t.total), strconv.Itoa(t.light), strconv.Itoa(t.medium),
				strconv.Itoa(t.severe), strconv.Itoa(t.pending)))
		}
		r.Stats = []Stat{
			{"Total de Alunos", len(roster)},
			{"Notificações Leves", light},
			{"Notificações Médias", medium},
			{"Notificações Graves", severe},
		}

	default:
		return nil, nerrors.Wrapf(nerrors.ErrValidation, "unknown report %q", kind)
	}

	b.logger.Info().Str("kind", string(kind)).Int("rows", len(r.Rows)).Msg("report built")
	return r, nil
}

func (b *Builder) roster(ctx context.Context, class string) ([]students.Student, error) {
	q := database.Query{Order: &database.Order{Column: "nome"}}
	if class != "" {
		q.Where = []database.Condition{database.Eq("turma", class)}
	}
	roster, err := database.SelectAs[students.Student](ctx, b.db, students.Table, q)
	if err != nil {
		return nil, errors.Wrap(err, "[Builder.roster]")
	}
	return roster, nil
}

type joinedNotice struct {
	notice  notices.Notice
	student *students.Student
}

// notices reads notices newest first with their students. Level and status
// are filtered by the server; dates and class are applied here.
func (b *Builder) notices(ctx context.Context, f Filters) ([]joinedNotice, error) {
	q := database.Query{Order: &database.Order{Column: "data_hora", Descending: true}}
	if f.Level != "" {
		q.Where = append(q.Where, database.Eq("nivel", string(f.Level)))
	}
	if f.Status != "" {
		q.Where = append(q.Where, database.Eq("status", string(f.Status)))
	}
	list, err := database.SelectAs[notices.Notice](ctx, b.db, notices.Table, q)
	if err != nil {
		return nil, errors.Wrap(err, "[Builder.notices]")
	}
	roster, err := database.SelectAs[students.Student](ctx, b.db, students.Table, database.Query{})
	if err != nil {
		return nil, errors.Wrap(err, "[Builder.notices] students")
	}
	byID := make(map[string]*students.Student, len(roster))
	for i := range roster {
		byID[roster[i].ID] = &roster[i]
	}

	var out []joinedNotice
	for _, n := range list {
		st := byID[n.StudentID]
		if f.accepts(n, st) {
			out = append(out, joinedNotice{notice: n, student: st})
		}
	}
	return out, nil
}

func studentCells(st students.Student) []string {
	birth := format.NotAvailable
	if st.BirthDate != "" {
		if t, err := time.Parse("2006-01-02", st.BirthDate); err == nil {
			birth = t.Format("02/01/2006")
		} else {
			birth = st.BirthDate
		}
	}
	return []string{
		format.OrNA(st.PortalCode),
		format.OrNA(st.Name),
		birth,
		format.OrNA(st.Enrollment),
		format.OrNA(st.Class),
		format.OrNA(st.Guardian),
		format.OrNA(st.GuardianPhone),
	}
}

func noticeCells(j joinedNotice) []string {
	st := j.student
	if st == nil {
		st = &students.Student{}
	}
	return []string{
		format.DateTime(j.notice.OccurredAt),
		format.OrNA(st.Name),
		format.OrNA(st.Enrollment),
		format.OrNA(st.Class),
		format.OrNA(string(j.notice.Level)),
		format.OrNA(string(j.notice.Status)),
		format.OrNA(j.notice.RegisteredBy),
	}
}
