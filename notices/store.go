package notices

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jrsteele09/notifica/database"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDocumentsBucket holds generated notice PDFs.
const DefaultDocumentsBucket = "documentos"

// Store reads and writes notices.
type Store struct {
	db      *database.Client
	files   *storage.Client
	bucket  string
	nowTime func() time.Time
	logger  zerolog.Logger
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithStorage enables AttachDocument, storing files in bucket.
func WithStorage(files *storage.Client, bucket string) StoreOption {
	return func(s *Store) {
		s.files = files
		if bucket != "" {
			s.bucket = bucket
		}
	}
}

// WithNowTime sets a custom time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
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
		db:      db,
		bucket:  DefaultDocumentsBucket,
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// ListOptions narrows a listing. Zero fields match everything.
type ListOptions struct {
	StudentID string
	Level     Level
	Status    Status
	Limit     int
}

// List returns notices newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Notice, error) {
	q := database.Query{
		Order: &database.Order{Column: "data_hora", Descending: true},
		Limit: opts.Limit,
	}
	if opts.StudentID != "" {
		q.Where = append(q.Where, database.Eq("aluno_id", opts.StudentID))
	}
	if opts.Level != "" {
		q.Where = append(q.Where, database.Eq("nivel", string(opts.Level)))
	}
	if opts.Status != "" {
		q.Where = append(q.Where, database.Eq("status", string(opts.Status)))
	}
	list, err := database.SelectAs[Notice](ctx, s.db, Table, q)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.List]")
	}
	return list, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Notice, error) {
	list, err := database.SelectAs[Notice](ctx, s.db, Table, database.Query{
		Where: []database.Condition{database.Eq("id", id)},
		Limit: 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Get]")
	}
	if len(list) == 0 {
		return nil, nerrors.Wrapf(nerrors.ErrNotFound, "notice %s", id)
	}
	return &list[0], nil
}

func (s *Store) Create(ctx context.Context, n Notice) (*Notice, error) {
	if err := n.Normalize(); err != nil {
		return nil, err
	}
	n.ID = ""
	n.CreatedAt = nil
	n.PDFURL = ""

	created, err := database.InsertAs[Notice](ctx, s.db, Table, n)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Create]")
	}
	if created == nil {
		return nil, errors.New("[Store.Create] insert returned no row")
	}
	s.logger.Info().Str("id", created.ID).Str("aluno_id", created.StudentID).Str("nivel", string(created.Level)).Msg("notice registered")
	return created, nil
}

// Update replaces the editable fields of the notice with id.
func (s *Store) Update(ctx context.Context, id string, n Notice) (*Notice, error) {
	if err := n.Normalize(); err != nil {
		return nil, err
	}
	return s.patch(ctx, id, n.patch())
}

// SetStatus moves the notice with id to status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (*Notice, error) {
	st, err := ParseStatus(string(status))
	if err != nil {
		return nil, err
	}
	return s.patch(ctx, id, map[string]any{"status": st})
}

func (s *Store) patch(ctx context.Context, id string, p any) (*Notice, error) {
	updated, err := database.UpdateAs[Notice](ctx, s.db, Table, id, p)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Update]")
	}
	if updated == nil {
		return nil, nerrors.Wrapf(nerrors.ErrNotFound, "notice %s", id)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.db.Delete(ctx, Table, id), "[Store.Delete]")
}

// AttachDocument uploads a generated PDF for the notice with id and records
// its public link in pdf_url. Each upload gets a new path; stored files are
// never overwritten.
func (s *Store) AttachDocument(ctx context.Context, id string, pdf io.Reader, filename string) (*Notice, error) {
	if s.files == nil {
		return nil, nerrors.Wrapf(nerrors.ErrUnsupported, "[Store.AttachDocument] no file storage configured")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%d_%s", id, s.nowTime().UnixMilli(), filename)
	if _, err := s.files.Upload(ctx, s.bucket, path, pdf, "application/pdf"); err != nil {
		return nil, errors.Wrap(err, "[Store.AttachDocument]")
	}
	link := s.files.PublicURL(s.bucket, path)

	updated, err := s.patch(ctx, id, map[string]any{"pdf_url": link})
	if err != nil {
		// Without the link the object is unreachable from the app.
		if rmErr := s.files.Remove(ctx, s.bucket, []string{path}); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("path", path).Msg("orphaned notice document")
		}
		return nil, err
	}
	return updated, nil
}

// RemoveDocument deletes the stored PDF of the notice with id and clears
// pdf_url. A notice without a document is left as it is.
func (s *Store) RemoveDocument(ctx context.Context, id string) (*Notice, error) {
	if s.files == nil {
		return nil, nerrors.Wrapf(nerrors.ErrUnsupported, "[Store.RemoveDocument] no file storage configured")
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.PDFURL == "" {
		return n, nil
	}
	if path := s.files.PathFromPublicURL(s.bucket, n.PDFURL); path != "" {
		if err := s.files.Remove(ctx, s.bucket, []string{path}); err != nil {
			return nil, errors.Wrap(err, "[Store.RemoveDocument]")
		}
	}
	return s.patch(ctx, id, map[string]any{"pdf_url": nil})
}
