package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mudassirishfaq94/chat-app/auth"
	"github.com/mudassirishfaq94/chat-app/blob"
	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/directory"
	"github.com/mudassirishfaq94/chat-app/filter"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/lifecycle"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/presence"
	"github.com/mudassirishfaq94/chat-app/receipts"
	"github.com/mudassirishfaq94/chat-app/session"
	"github.com/mudassirishfaq94/chat-app/ws"
	"github.com/spf13/pflag"
)

const nameCacheSize = 1024

var configPath = pflag.StringP("config", "c", "", "path to config file or directory")

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read configuration: %s\n", err)
		os.Exit(1)
	}
	globals.SetLogLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		globals.AppLogger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func buildAuth(cfg config.AuthConfig) (auth.Provider, error) {
	var providers []auth.Provider
	if cfg.TokenSecret != "" {
		tokens, err := auth.NewTokenProvider(cfg.TokenSecret)
		if err != nil {
			return nil, err
		}
		providers = append(providers, tokens)
	}
	if len(cfg.OIDCConfigs) > 0 {
		providers = append(providers, auth.NewOIDCProvider(cfg.OIDCConfigs))
	}
	if cfg.AllowGuests {
		providers = append(providers, auth.GuestProvider{})
	}
	if len(providers) == 0 {
		return nil, errors.New("no authentication configured: set auth.token_secret, auth.oidc or auth.allow_guests")
	}
	return auth.NewChain(cfg.AdminUsers, providers...), nil
}

func run(cfg *config.Config) error {
	logger := globals.AppLogger

	if cfg.PersistenceConfig.LockPath != "" {
		lock := flock.New(cfg.PersistenceConfig.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			return fmt.Errorf("%s is locked by another instance", cfg.PersistenceConfig.LockPath)
		}
		defer lock.Unlock()
	}

	persister, err := persistence.NewGormPersister(cfg.PersistenceConfig)
	if err != nil {
		return err
	}
	defer persister.Close()

	blobs, err := blob.Open(cfg.BlobConfig.Path, cfg.BlobConfig.MaxSize)
	if err != nil {
		return err
	}
	defer blobs.Close()

	policy, err := filter.Compile(cfg.MessageConfig.Filter)
	if err != nil {
		return fmt.Errorf("invalid message filter: %w", err)
	}
	authenticator, err := buildAuth(cfg.AuthConfig)
	if err != nil {
		return err
	}

	dir, err := directory.New(persister, nameCacheSize)
	if err != nil {
		return err
	}
	registry := presence.NewRegistry()
	engine := lifecycle.NewEngine(persister, dir, registry, lifecycle.Options{
		EditWindow:    cfg.MessageConfig.EditWindow,
		MaxTextLength: cfg.MessageConfig.MaxTextLength,
		Policy:        policy,
	})
	tracker := receipts.NewTracker(persister, registry, nil)
	manager := session.NewManager(persister, dir, registry, engine, tracker, session.Options{HistorySize: cfg.HistoryConfig.Size})

	if cfg.MetricsConfig.StatsSchedule != "" {
		stats, err := ws.StartStats(registry, cfg.MetricsConfig.StatsSchedule)
		if err != nil {
			return fmt.Errorf("invalid stats schedule: %w", err)
		}
		defer stats.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ws.NewServer(cfg, authenticator, manager, blobs).NewRouter(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
