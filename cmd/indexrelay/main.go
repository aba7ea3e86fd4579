package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay"
	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/httpapi"
	"github.com/patrice-hue/indexrelay/internal/config"
	"github.com/patrice-hue/indexrelay/keyfile"
	"github.com/patrice-hue/indexrelay/settings"
	"github.com/patrice-hue/indexrelay/vault"
)

func main() {
	uninstall := flag.Bool("uninstall", false, "clear the queue, remove the key file and exit")
	flag.Parse()

	// Setup log
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	env, err := config.Process()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := openStore(env, logger)
	if err != nil {
		logger.Fatal("failed to open queue store", zap.Error(err))
	}
	defer store.Close()

	if *uninstall {
		runUninstall(store, env, logger)
		return
	}

	// Install path: make sure a site key exists and its verification file is
	// in place before anything is submitted.
	apiKey := env.APIKey
	if apiKey == "" {
		apiKey = keyfile.GenerateKey()
		logger.Info("generated indexnow site key", zap.String("key", apiKey))
	}

	keyPath, err := keyfile.Write(env.SiteRoot, apiKey)
	if err != nil {
		logger.Fatal("failed to write key verification file", zap.Error(err))
	}
	logger.Info("key verification file ready", zap.String("path", keyPath))

	cfg := env.Settings()
	cfg.APIKey = apiKey
	settingsSrc := settings.Static(cfg)

	v := vault.New(env.Secret)

	bulk, err := engine.NewIndexNow(env.SiteURL, logger)
	if err != nil {
		logger.Fatal("failed to build indexnow client", zap.Error(err))
	}
	indexing := engine.NewGoogleIndexing(logger)

	dispatcher := &indexrelay.Dispatcher{
		Store:    store,
		Bulk:     bulk,
		Indexing: indexing,
		Settings: settingsSrc,
		Vault:    v,
		Logger:   logger,
	}

	submitter := &indexrelay.Submitter{
		Store:    store,
		Bulk:     bulk,
		Indexing: indexing,
		Settings: settingsSrc,
		Vault:    v,
		Logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := &indexrelay.Worker{
		Dispatcher: dispatcher,
		Interval:   env.DispatchInterval,
		Logger:     logger,
	}
	if err := worker.Start(ctx); err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}

	api := &httpapi.Handler{
		Store:     store,
		Submitter: submitter,
		APIKey:    apiKey,
		Logger:    logger,
	}

	server := &http.Server{
		Addr:    env.HTTPAddr,
		Handler: api.Routes(),
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", env.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cancel()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}

func openStore(env config.ENV, logger *zap.Logger) (datastore.Store, error) {
	switch env.DBDriver {
	case "postgres":
		db, err := sql.Open("postgres", env.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return datastore.NewPostgres(db, env.QueueTable, logger)
	case "mysql":
		db, err := sql.Open("mysql", env.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return datastore.NewMySQL(db, env.QueueTable, logger)
	case "sqlite":
		return datastore.OpenSQLite(env.DatabaseURL, env.QueueTable, logger)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", env.DBDriver)
	}
}

func runUninstall(store datastore.Store, env config.ENV, logger *zap.Logger) {
	if err := store.ClearAll(context.Background()); err != nil {
		logger.Error("failed to clear queue", zap.Error(err))
	}

	if env.APIKey != "" {
		if err := keyfile.Remove(env.SiteRoot, env.APIKey); err != nil {
			logger.Error("failed to remove key verification file", zap.Error(err))
		}
	}

	logger.Info("uninstall complete")
}
