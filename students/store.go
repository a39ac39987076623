package students

import (
	"context"
	"sort"
	"strings"

	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	maxCodeAttempts   = 10
	defaultImportRate = rate.Limit(10) // inserts per second
)

// Store reads and writes the roster.
type Store struct {
	db       *database.Client
	newCode  CodeGenerator
	importer *rate.Limiter
	logger   zerolog.Logger
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithCodeGenerator replaces the random portal code source (primarily for
// testing).
func WithCodeGenerator(gen CodeGenerator) StoreOption {
	return func(s *Store) {
		s.newCode = gen
	}
}

// WithImportRate paces inserts during an import. rate.Inf disables pacing.
func WithImportRate(limit rate.Limit) StoreOption {
	return func(s *Store) {
		s.importer = rate.NewLimiter(limit, 1)
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(db *database.Client, options ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("[NewStore] database client is required")
	}
	s := &Store{
		db:       db,
		newCode:  RandomPortalCode,
		importer: rate.NewLimiter(defaultImportRate, 1),
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// ListOptions narrows a roster listing. Empty fields match everything.
type ListOptions struct {
	Class string
}

// List returns students ordered by name.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Student, error) {
	q := database.Query{Order: &database.Order{Column: "nome"}}
	if opts.Class != "" {
		q.Where = append(q.Where, database.Eq("turma", opts.Class))
	}
	list, err := database.SelectAs[Student](ctx, s.db, Table, q)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.List]")
	}
	return list, nil
}

// Get returns the student with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Student, error) {
	return s.findOne(ctx, "id", id)
}

// FindByPortalCode returns the student holding code, or ErrNotFound. The
// lookup is filtered by the server; the roster is never downloaded.
func (s *Store) FindByPortalCode(ctx context.Context, code string) (*Student, error) {
	return s.findOne(ctx, "codigo_portal", code)
}

// FindByEnrollment returns the student with the given matricula, or
// ErrNotFound.
func (s *Store) FindByEnrollment(ctx context.Context, enrollment string) (*Student, error) {
	return s.findOne(ctx, "matricula", strings.TrimSpace(enrollment))
}

func (s *Store) findOne(ctx context.Context, column, value string) (*Student, error) {
	list, err := database.SelectAs[Student](ctx, s.db, Table, database.Query{
		Where: []database.Condition{database.Eq(column, value)},
		Limit: 1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Store.findOne] %s", column)
	}
	if len(list) == 0 {
		return nil, nerrors.Wrapf(nerrors.ErrNotFound, "student with %s %q", column, value)
	}
	return &list[0], nil
}

// Create validates st, assigns a portal code when it has none and stores it.
func (s *Store) Create(ctx context.Context, st Student) (*Student, error) {
	if err := st.Normalize(); err != nil {
		return nil, err
	}
	st.ID = ""
	st.CreatedAt = nil

	explicitCode := st.PortalCode != ""
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if !explicitCode {
			code, err := s.freeCode(ctx)
			if err != nil {
				return nil, err
			}
			st.PortalCode = code
		}

		created, err := database.InsertAs[Student](ctx, s.db, Table, st)
		if err == nil {
			if created == nil {
				return nil, errors.New("[Store.Create] insert returned no row")
			}
			return created, nil
		}
		// Two writers can draw the same free code; the unique index catches it.
		if !explicitCode && isUniqueViolation(err, "codigo_portal") {
			s.logger.Warn().Str("code", st.PortalCode).Msg("portal code taken concurrently, drawing another")
			continue
		}
		return nil, errors.Wrap(err, "[Store.Create]")
	}
	return nil, errors.New("[Store.Create] could not find a free portal code")
}

func (s *Store) freeCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode()
		_, err := s.FindByPortalCode(ctx, code)
		if nerrors.Is(err, nerrors.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", errors.Wrap(err, "[Store.freeCode]")
		}
	}
	return "", errors.New("[Store.freeCode] could not find a free portal code")
}

// Update replaces the editable fields of the student with id. Portal code
// and creation time are kept.
func (s *Store) Update(ctx context.Context, id string, st Student) (*Student, error) {
	if err := st.Normalize(); err != nil {
		return nil, err
	}
	updated, err := database.UpdateAs[Student](ctx, s.db, Table, id, st.patch())
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Update]")
	}
	if updated == nil {
		return nil, nerrors.Wrapf(nerrors.ErrNotFound, "student %s", id)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.db.Delete(ctx, Table, id), "[Store.Delete]")
}

// DeleteMany deletes each student independently and reports what failed.
func (s *Store) DeleteMany(ctx context.Context, ids []string) database.BulkResult {
	res := s.db.DeleteMany(ctx, Table, ids)
	if !res.OK() {
		s.logger.Warn().Int("deleted", len(res.Deleted)).Int("failed", len(res.Failed)).Msg("bulk student delete partially failed")
	}
	return res
}

// Classes returns the distinct, sorted class names in use.
func (s *Store) Classes(ctx context.Context) ([]string, error) {
	rows, err := s.db.Select(ctx, Table, database.Query{Select: "turma"})
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Classes]")
	}
	seen := map[string]bool{}
	var classes []string
	for _, r := range rows {
		c, _ := r["turma"].(string)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes, nil
}

func (s *Store) enrollments(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.Select(ctx, Table, database.Query{Select: "matricula"})
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		if m, ok := r["matricula"].(string); ok {
			set[strings.TrimSpace(m)] = true
		}
	}
	return set, nil
}

func isUniqueViolation(err error, column string) bool {
	re, ok := nerrors.Remote(err)
	if !ok || re.Code != "23505" {
		return false
	}
	return strings.Contains(re.Message, column) || strings.Contains(re.Details, column)
}
