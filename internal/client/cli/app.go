package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/ddictl/internal/client/services"
	"github.com/dmitrijs2005/ddictl/internal/client/session"
	"github.com/dmitrijs2005/ddictl/internal/client/tus"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"github.com/spf13/viper"
)

// Uploader is the part of services.Coordinator the commands use.
type Uploader interface {
	Upload(ctx context.Context, req services.UploadRequest) (*models.UploadSession, error)
	Resume(ctx context.Context, id string, opts services.ResumeOptions) (*models.UploadSession, error)
	Sessions(ctx context.Context, f models.UploadFilter) ([]*models.UploadSession, error)
	Discard(ctx context.Context, id string) error
}

// Deps are the services a command runs against.
type Deps struct {
	Registry services.Registry
	Tracker  services.Tracker
	Uploads  Uploader
	Close    func() error
}

// Connector builds Deps from the loaded configuration. It is replaced in
// tests.
type Connector func(ctx context.Context, a *App) (*Deps, error)

type App struct {
	v       *viper.Viper
	cfg     *config.Config
	log     logging.Logger
	in      *bufio.Reader
	out     io.Writer
	errOut  io.Writer
	connect Connector
	deps    *Deps

	// login is the password grant used by the login command.
	login func(ctx context.Context, a *App, username, password string) (models.Credential, error)
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		v:       viper.New(),
		log:     logging.Nop(),
		in:      bufio.NewReader(in),
		out:     out,
		errOut:  errOut,
		connect: Connect,
		login:   passwordLogin,
	}
}

// services returns the lazily connected dependencies.
func (a *App) services(ctx context.Context) (*Deps, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	d, err := a.connect(ctx, a)
	if err != nil {
		return nil, err
	}
	a.deps = d
	return d, nil
}

func (a *App) close() error {
	if a.deps == nil || a.deps.Close == nil {
		return nil
	}
	err := a.deps.Close()
	a.deps = nil
	return err
}

// credentials returns the configured username and password, prompting for
// whatever is missing.
func (a *App) credentials() (string, string, error) {
	username, password := a.cfg.Username, a.cfg.Password
	if username == "" {
		u, err := GetSimpleText(a.in, "Username", a.errOut)
		if err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
		username = u
	}
	if username == "" {
		return "", "", fmt.Errorf("%w: username is required", common.ErrValidation)
	}
	if password == "" {
		p, err := GetPassword(a.errOut)
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = p
	}
	return username, password, nil
}

func (a *App) provider() *session.OAuthProvider {
	return session.NewOAuthProvider(a.cfg.TokenURL(), a.cfg.ClientID, a.cfg.ClientSecret,
		&http.Client{Timeout: a.cfg.RequestTimeout})
}

func passwordLogin(ctx context.Context, a *App, username, password string) (models.Credential, error) {
	s := session.New(a.provider(), session.WithMargin(a.cfg.TokenMargin), session.WithLogger(a.log))
	if err := s.Login(ctx, username, password); err != nil {
		return models.Credential{}, err
	}
	return s.Current(), nil
}

// Connect is the production Connector: it logs in, opens the checkpoint
// database in the state directory and builds the services on one shared
// session.
func Connect(ctx context.Context, a *App) (*Deps, error) {
	cfg := a.cfg
	username, password, err := a.credentials()
	if err != nil {
		return nil, err
	}

	sess := session.New(a.provider(),
		session.WithMargin(cfg.TokenMargin),
		session.WithLogger(a.log),
		session.WithPassword(username, password),
	)
	if err := sess.Login(ctx, username, password); err != nil {
		return nil, err
	}

	transport := client.New(cfg.APIBase(), sess,
		client.WithLogger(a.log),
		client.WithTimeout(cfg.RequestTimeout),
	)

	proto, err := tus.New(sess, &http.Client{}, cfg.UploadEndpoint(), a.log)
	if err != nil {
		return nil, err
	}

	db, err := client.OpenState(ctx, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state in %s: %w", cfg.StateDir, err)
	}

	registry := services.NewRegistry(transport, cfg.Zone, a.log)
	coord := services.NewCoordinator(
		registry,
		proto,
		uploads.NewSQLiteRepository(db),
		services.DefaultSourceOpener(cfg.S3),
		services.CoordinatorConfig{
			ChunkSize:      cfg.ChunkSize,
			ChunkTimeout:   cfg.ChunkTimeout,
			MaxRetries:     uint64(cfg.MaxRetries),
			RetryBaseDelay: cfg.RetryBaseDelay,
			Username:       username,
		},
		a.log,
	)

	return &Deps{
		Registry: registry,
		Tracker:  services.NewTracker(transport, a.log),
		Uploads:  coord,
		Close:    func() error { return closeDB(db) },
	}, nil
}

func closeDB(db *sql.DB) error {
	if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
