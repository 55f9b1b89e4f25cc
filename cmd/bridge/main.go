package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/HYyydu/AiTelephone-sub000/pkg/connection"
	"github.com/HYyydu/AiTelephone-sub000/pkg/server"
	"github.com/HYyydu/AiTelephone-sub000/pkg/store"
)

// Config is assembled from the environment (a local .env is honored).
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `validate:"required"`

	// StreamURL is the public WebSocket URL the TwiML points media streams at.
	StreamURL string `validate:"required,url"`

	// OpenAIAPIKey authenticates the realtime speech sessions.
	OpenAIAPIKey string `validate:"required"`

	// DatabaseURL selects the Postgres call store when set; without it an
	// in-memory store is used (development only).
	DatabaseURL string `validate:"omitempty"`

	// Voice overrides the per-call voice when set.
	Voice string `validate:"omitempty,max=50"`

	// DevCallSID seeds the in-memory store with one call record so a local
	// setup can take a test call without a database.
	DevCallSID  string `validate:"omitempty"`
	DevCallGoal string `validate:"omitempty,max=2000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func loadConfig() (Config, error) {
	godotenv.Load()

	cfg := Config{
		Addr:         envOr("BRIDGE_ADDR", ":8080"),
		StreamURL:    os.Getenv("BRIDGE_STREAM_URL"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		Voice:        os.Getenv("BRIDGE_VOICE"),
		DevCallSID:   os.Getenv("DEV_CALL_SID"),
		DevCallGoal:  os.Getenv("DEV_CALL_GOAL"),
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("[Main] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var calls store.CallStore
	var sink store.TranscriptSink

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[Main] postgres: %v", err)
		}
		defer pg.Close()
		calls, sink = pg, pg
		log.Printf("[Main] using Postgres call store")
	} else {
		mem := store.NewMemoryStore()
		if cfg.DevCallSID != "" {
			mem.PutCall(store.CallRecord{
				CallID:    cfg.DevCallSID,
				Goal:      cfg.DevCallGoal,
				Voice:     cfg.Voice,
				CreatedAt: time.Now(),
			})
			log.Printf("[Main] seeded dev call record %s", cfg.DevCallSID)
		}
		calls, sink = mem, mem
		log.Printf("[Main] using in-memory call store (set DATABASE_URL for persistence)")
	}

	srv := server.NewBridgeServer(server.ServerConfig{
		Address:   cfg.Addr,
		StreamURL: cfg.StreamURL,
		Speech: connection.SpeechConfig{
			APIKey: cfg.OpenAIAPIKey,
			Voice:  cfg.Voice,
		},
	}, calls, sink)

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("[Main] start: %v", err)
	}

	<-ctx.Done()
	log.Printf("[Main] shutting down")
	if err := srv.Stop(); err != nil {
		log.Printf("[Main] stop: %v", err)
	}
}
