package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faces-api/internal/config"
	"github.com/example/faces-api/internal/facepp"
	"github.com/example/faces-api/internal/handlers"
	"github.com/example/faces-api/internal/logging"
	"github.com/example/faces-api/internal/repository"
	"github.com/example/faces-api/internal/storage"
	"github.com/example/faces-api/internal/usecase"
)

// Version is the application version.
const Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "faces-api",
		Short:         "Face detection records backed by the Face++ API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.logged(a.serve(cmd.Context()))
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the faces table and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.logged(a.migrate(cmd.Context()))
		},
	}

	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE
	return root
}

func (a *app) logged(err error) error {
	if err != nil {
		a.logger.Error("command failed", zap.Error(err))
	}
	return err
}

func (a *app) openDatabase(ctx context.Context) (*gorm.DB, *repository.FaceRepository, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.OpenDatabase(dbCtx, a.cfg.Database.Driver, a.cfg.Database.DSN, a.logger)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewFaceRepository(db, a.logger)
	if err := repo.AutoMigrate(dbCtx); err != nil {
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, repo, nil
}

func (a *app) migrate(ctx context.Context) error {
	db, _, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	a.logger.Info("migration complete")
	return nil
}

func (a *app) serve(ctx context.Context) error {
	db, repo, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store, err := initStorage(a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	cache, closeCache, err := initCache(ctx, a.cfg.Redis.Addr, a.logger)
	if err != nil {
		return err
	}
	defer closeCache()

	client := facepp.NewClient(facepp.Options{
		BaseURL:   a.cfg.FacePP.BaseURL,
		APIKey:    a.cfg.FacePP.APIKey,
		APISecret: a.cfg.FacePP.APISecret,
		Timeout:   a.cfg.FacePP.Timeout,
	}, a.logger)

	uc := usecase.NewFaceUseCase(repo, store, client, cache, a.cfg.Redis.TTL, a.logger)
	router := handlers.NewRouter(uc, a.logger, handlers.Options{
		MediaURL:       a.cfg.Storage.MediaURL,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
	}, a.cfg.CORSOrigins)

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("faces API listening", zap.String("addr", a.cfg.HTTPAddr))
	return serveHTTPServer(server, a.cfg.ShutdownTimeout, a.logger)
}

func initStorage(cfg config.Storage) (storage.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		return storage.NewS3Storage(storage.S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return storage.NewDiskStorage(cfg.MediaRoot)
	}
}

func initCache(ctx context.Context, addr string, logger *zap.Logger) (usecase.Cache, func(), error) {
	if addr == "" {
		logger.Info("redis not configured, record cache disabled")
		return usecase.NopCache{}, func() {}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return usecase.NewRedisCache(client), func() { _ = client.Close() }, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
