package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/notifica/auth"
	"github.com/jrsteele09/notifica/dashboard"
	"github.com/jrsteele09/notifica/database"
	"github.com/jrsteele09/notifica/internal/config"
	"github.com/jrsteele09/notifica/internal/logging"
	"github.com/jrsteele09/notifica/internal/remote"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/portal"
	"github.com/jrsteele09/notifica/reports"
	"github.com/jrsteele09/notifica/sessions"
	"github.com/jrsteele09/notifica/sessions/sqlitestate"
	"github.com/jrsteele09/notifica/storage"
	"github.com/jrsteele09/notifica/students"
	"github.com/jrsteele09/notifica/usermgmt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// App is everything a command may need, wired to one backend project.
type App struct {
	Config config.Config
	Logger zerolog.Logger

	Auth     *auth.Client
	Sessions *sessions.Manager

	Students  *students.Store
	Notices   *notices.Store
	Dashboard *dashboard.Service
	Reports   *reports.Builder
	Users     *usermgmt.Client

	// Portal reads with the anon key only, like a guardian's browser.
	Portal *portal.Service

	nowTime func() time.Time
	closers []func() error
}

// AppFactory builds the App for the command being run.
type AppFactory func(cmd *cobra.Command) (*App, error)

// AppOption defines a function type to modify the App instance.
type AppOption func(*appSettings)

type appSettings struct {
	logger       zerolog.Logger
	nowTime      func() time.Time
	authOptions  []auth.ClientOption
	studentsOpts []students.StoreOption
}

func WithLogger(logger zerolog.Logger) AppOption {
	return func(s *appSettings) {
		s.logger = logger
	}
}

// WithNowTime sets the clock used for sessions, reports and file names
// (primarily for testing).
func WithNowTime(nowFunc func() time.Time) AppOption {
	return func(s *appSettings) {
		s.nowTime = nowFunc
	}
}

// WithStudentOptions passes options to the roster store.
func WithStudentOptions(options ...students.StoreOption) AppOption {
	return func(s *appSettings) {
		s.studentsOpts = append(s.studentsOpts, options...)
	}
}

// NewApp wires the clients and stores over caller, keeping local state in
// state.
func NewApp(cfg config.Config, caller *remote.Caller, state sessions.StateRepo, options ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, errors.New("[NewApp] config is required")
	}
	if caller == nil {
		return nil, errors.New("[NewApp] caller is required")
	}
	if state == nil {
		return nil, errors.New("[NewApp] state repo is required")
	}

	settings := &appSettings{logger: zerolog.Nop(), nowTime: time.Now}
	for _, opt := range options {
		opt(settings)
	}
	logger := settings.logger

	authOptions := append([]auth.ClientOption{
		auth.WithLogger(logger),
		auth.WithNowTime(settings.nowTime),
	}, settings.authOptions...)
	authClient, err := auth.NewClient(caller, state, authOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	manager, err := sessions.NewManager(authClient, state,
		sessions.WithLogger(logger),
		sessions.WithNowTime(settings.nowTime),
		sessions.WithMaxSessionAge(cfg.GetMaxSessionAge()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}

	db, err := database.NewClient(caller, authClient, database.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	files, err := storage.NewClient(caller, authClient, storage.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Auth:     authClient,
		Sessions: manager,
		nowTime:  settings.nowTime,
	}

	if app.Students, err = students.NewStore(db, append([]students.StoreOption{students.WithLogger(logger)}, settings.studentsOpts...)...); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	if app.Notices, err = notices.NewStore(db,
		notices.WithStorage(files, cfg.GetDocumentsBucket()),
		notices.WithNowTime(settings.nowTime),
		notices.WithLogger(logger),
	); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	if app.Dashboard, err = dashboard.NewService(db, dashboard.WithLogger(logger)); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	if app.Reports, err = reports.NewBuilder(db, reports.WithNowTime(settings.nowTime), reports.WithLogger(logger)); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	if app.Users, err = usermgmt.NewClient(caller, authClient, manager,
		usermgmt.WithFunction(cfg.GetUserManagementFunction()),
		usermgmt.WithLogger(logger),
	); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}

	anon, err := database.NewClient(caller, nil, database.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	anonStudents, err := students.NewStore(anon, students.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	anonNotices, err := notices.NewStore(anon, notices.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	if app.Portal, err = portal.NewService(anonStudents, anonNotices, portal.WithLogger(logger)); err != nil {
		return nil, errors.Wrap(err, "[NewApp]")
	}
	return app, nil
}

// Now is the app clock.
func (a *App) Now() time.Time {
	return a.nowTime()
}

// Close releases what the app opened (the local state file).
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// DefaultAppFactory reads the configuration, sets up logging on stderr and
// opens the SQLite state file.
func DefaultAppFactory(cmd *cobra.Command) (*App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if cfg.GetBackendURL() == "" || cfg.GetAnonKey() == "" {
		return nil, exitError(exitFailure, "NOTIFICA_BACKEND_URL and NOTIFICA_ANON_KEY must be set")
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := cfg.GetLogLevel()
	if !verbose && cmd.Name() != "serve" {
		level = "warn"
	}
	logger := logging.New(cfg.GetEnv(), level, cmd.ErrOrStderr())

	path := cfg.GetStateFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[DefaultAppFactory] state directory")
	}
	state, err := sqlitestate.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "[DefaultAppFactory]")
	}

	options := []AppOption{WithLogger(logger)}
	if cfg.GetVerifyTokens() {
		verifier := auth.NewJWKSVerifier(context.Background(), cfg.GetJWKSURL())
		options = append(options, func(s *appSettings) {
			s.authOptions = append(s.authOptions, auth.WithTokenVerifier(verifier))
		})
	}

	app, err := NewApp(cfg, remote.NewCaller(cfg.GetBackendURL(), cfg.GetAnonKey(), nil), state, options...)
	if err != nil {
		_ = state.Close()
		return nil, err
	}
	app.closers = append(app.closers, state.Close)
	return app, nil
}
