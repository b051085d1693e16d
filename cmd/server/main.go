package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/IreinStark/marketgo/internal/config"
	"github.com/IreinStark/marketgo/internal/httpserver"
	"github.com/IreinStark/marketgo/internal/relay"
	"github.com/IreinStark/marketgo/internal/security"
	"github.com/IreinStark/marketgo/internal/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize the conversation store
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)

	// Fan-out adapter: in-process by default, Redis pub/sub when configured.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fanout relay.Fanout = relay.NoopFanout{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		fanout = relay.NewRedisFanout(rdb, "relay:broadcast")
		log.Printf("relay fan-out enabled via redis at %s", cfg.RedisAddr)
	}
	defer fanout.Close()

	// Initialize the relay
	partRepo := sqlite.NewParticipantRepo(db)
	rl := relay.New(tokenSvc, partRepo, cfg.PresenceGrace, fanout)
	if err := rl.Start(ctx); err != nil {
		log.Fatalf("failed to start relay fan-out: %v", err)
	}

	router := httpserver.NewRouter(cfg, db, rl, tokenSvc)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Starting %s on %s\n", cfg.AppName, cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
