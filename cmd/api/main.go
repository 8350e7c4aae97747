package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filings/api/internal/app"
	"filings/api/internal/attach"
	"filings/api/internal/config"
	"filings/api/internal/draft"
	"filings/api/internal/formsession"
	"filings/api/internal/history"
	"filings/api/internal/objstore"
	"filings/api/internal/search"
	"filings/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		log.Fatalf("failed to create snapshots dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	cache, err := draft.NewCache(cfg.RedisURL, cacheVersion(cfg.CacheVersion), cfg.CacheTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer cache.Close()

	storage, err := objstore.NewMinioStorage(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("object storage init failed: %v", err)
	}

	historyService := history.New(cfg.SnapshotsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG()

	service := app.New(dataStore, cache, storage, historyService, searchService, app.Config{
		Session: formsession.Config{
			DebounceInterval: cfg.DebounceInterval,
			SaveTimeout:      cfg.SaveTimeout,
		},
		Attach: attach.Config{
			MaxFileSize:   cfg.MaxFileSize,
			AllowedTypes:  cfg.AllowedMIMETypes,
			RemoveTimeout: cfg.RemoveTimeout,
		},
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Filings API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// cacheVersion parses the configured cache schema version; non-numeric values
// fall back to 1 so stale envelopes are still rejected predictably.
func cacheVersion(raw string) int {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	n := 0
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 1
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 1
	}
	return n
}
