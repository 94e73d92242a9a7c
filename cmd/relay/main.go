package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/relay"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := relay.LoadConfig()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var store relay.Store
	if cfg.DatabaseURL != "" {
		pg, err := relay.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx, cfg.Users); err != nil {
			pg.Close()
			return err
		}
		log.Info().Msg("using postgres store")
		store = pg
	} else {
		log.Info().Int("users", len(cfg.Users)).Msg("using in-memory store")
		store = relay.NewMemoryStore(cfg.Users)
	}
	defer store.Close()

	if len(cfg.JWTSecret) == 0 {
		log.Warn().Msg("JWT_SECRET not set, tokens are not checked")
	}

	srv := relay.NewServer(cfg, store, log.Logger)
	return srv.Run(ctx)
}
