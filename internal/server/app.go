// Package server initializes and runs the sync engine server: database and
// migrations, blob storage, the diff engine, background maintenance loops
// and the HTTP endpoint, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/filex"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/config"
	"github.com/mprihoda/geosync/internal/server/httpapi"
	"github.com/mprihoda/geosync/internal/server/repositories/repomanager"
	"github.com/mprihoda/geosync/internal/server/services"
	"github.com/mprihoda/geosync/internal/server/trash"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	server    *httpapi.Server
	sweeper   *trash.Sweeper
	optimizer *services.Optimizer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	storageRoot, trashRoot, err := resolveRoots(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	store, err := blob.NewStore(storageRoot, trashRoot)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	engine := diff.NewExecEngine(cfg.GeodiffBin, logger)

	var archiver trash.Archiver
	if cfg.ArchiveEnabled {
		archiver, err = trash.NewS3Archiver(ctx, trash.S3Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("archive init error: %w", err)
		}
	}
	sweeper := trash.NewSweeper(trashRoot, cfg.TrashRetention, cfg.TrashSweepInterval, archiver, logger)

	files := services.NewFileService(db, rm, store, engine, logger)
	optimizer := services.NewOptimizer(db, rm, store, files, cfg, logger)
	push := services.NewPushService(db, rm, store, engine, files, optimizer,
		services.AllowAuthenticated{}, services.UnlimitedQuota{}, nil, cfg, logger)
	projects := services.NewProjectService(db, rm, store, files, services.AllowAuthenticated{}, nil, logger)

	handler := httpapi.NewHandler(push, projects, logger)
	server := httpapi.NewServer(cfg, handler, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		server:    server,
		sweeper:   sweeper,
		optimizer: optimizer,
	}, nil
}

// resolveRoots anchors the default relative storage and trash roots under
// the working directory, creating them on first start.
func resolveRoots(cfg *config.Config) (string, string, error) {
	storageRoot := cfg.StorageRoot
	if !filepath.IsAbs(storageRoot) {
		var err error
		if storageRoot, err = filex.EnsureSubDir(storageRoot); err != nil {
			return "", "", err
		}
	}
	trashRoot := cfg.TrashRoot
	if !filepath.IsAbs(trashRoot) {
		var err error
		if trashRoot, err = filex.EnsureSubDir(trashRoot); err != nil {
			return "", "", err
		}
	}
	return storageRoot, trashRoot, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	return logging.NewJSON(w)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server error", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.optimizer.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "server stopped")
}
