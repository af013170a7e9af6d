package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"gwi.com/apex-chat/internal/api"
	"gwi.com/apex-chat/internal/auth"
	"gwi.com/apex-chat/internal/config"
	"gwi.com/apex-chat/internal/core"
	"gwi.com/apex-chat/internal/store"
)

// chatStore is the store handle shared by the thread and user services.
type chatStore interface {
	core.ThreadStore
	core.UserStore
	Close() error
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var fbApp *firebase.App
	if cfg.UsesFirebase() {
		fbApp, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
		if err != nil {
			return fmt.Errorf("failed to create firebase app: %w", err)
		}
	}

	dbStore, err := openStore(ctx, cfg, fbApp)
	if err != nil {
		return err
	}
	defer dbStore.Close()

	verifier, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	generator, err := core.NewGenerationProxy(ctx, core.GenerationConfig{
		APIKey:            cfg.GeminiAPIKey,
		Model:             cfg.GeminiModel,
		Timeout:           cfg.GenerationTimeout,
		RequestsPerSecond: cfg.GenerationRPS,
	})
	if err != nil {
		return err
	}
	defer generator.Close()

	chatService := core.NewChatService(dbStore, generator)
	userService := core.NewUserService(dbStore)
	apiHandler := api.NewAPIHandler(chatService, userService, verifier)
	router := api.NewRouter(apiHandler, log.Logger, cfg.CORSOrigins, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Str("auth", cfg.AuthMode).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exiting gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, fbApp *firebase.App) (chatStore, error) {
	switch cfg.StoreDriver {
	case config.StoreFirestore:
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		return store.NewFirestoreStore(client), nil
	default:
		return openSQLite(ctx, cfg.DatabaseURL)
	}
}

func openSQLite(ctx context.Context, dsn string) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newVerifier(ctx context.Context, cfg *config.Config, fbApp *firebase.App) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthJWT:
		return auth.NewJWTVerifier(cfg.JWTSecret), nil
	case config.AuthFirebase:
		client, err := fbApp.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
		}
		return auth.NewFirebaseVerifier(client), nil
	}
	return nil, nil
}
