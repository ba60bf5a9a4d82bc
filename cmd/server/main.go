package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wingscafe/backend/internal/config"
	"wingscafe/backend/internal/httpapi"
	"wingscafe/backend/internal/imaging"
	"wingscafe/backend/internal/kv"
	kvpostgres "wingscafe/backend/internal/kv/postgres"
	"wingscafe/backend/internal/service"
	"wingscafe/backend/internal/store/memory"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: could not read .env: %v", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backing, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage backend %s unavailable: %v; refusing to start with in-memory fallback", cfg.StorageBackend, err)
	}
	log.Printf("storage: %s", cfg.StorageBackend)

	repo, err := memory.Load(ctx, backing, memory.Options{Backend: cfg.StorageBackend, Seed: cfg.SeedDemo})
	if err != nil {
		_ = backing.Close()
		log.Fatalf("load state: %v", err)
	}

	svc := service.New(repo, imaging.NewEncoder(cfg.MaxImageBytes))
	api := httpapi.New(svc, cfg.AllowedOrigin, cfg.MaxImageBytes)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Wings Cafe backend listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	if err := backing.Close(); err != nil {
		log.Printf("close error: %v", err)
	}

	log.Println("server stopped")
}

// openBackend connects the kv store named by cfg.StorageBackend.
func openBackend(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendFile:
		fs, err := kv.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.BackendRedis:
		rs := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil
	case config.BackendPostgres:
		pg, err := kvpostgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
