package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tillpoint/internal/cache"
	"tillpoint/internal/config"
	"tillpoint/internal/httpapi"
	"tillpoint/internal/service"
	"tillpoint/internal/store"
	"tillpoint/internal/store/memory"
	"tillpoint/internal/store/postgres"
	"tillpoint/internal/tax"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[server] skipping .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[server] config: %v", err)
	}
	validateSecurityConfig(cfg)

	rateA, rateB, err := cfg.TaxRates()
	if err != nil {
		log.Fatalf("[server] tax rates: %v", err)
	}
	calc := tax.NewCalculator(rateA, rateB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, calc)
		if err != nil {
			log.Fatalf("[server] postgres: %v", err)
		}
		defer pg.Close()
		repo = pg
		log.Println("[server] using postgres store")
	} else {
		repo = memory.NewSeeded(calc)
		log.Println("[server] DATABASE_URL not set; using seeded in-memory store")
	}

	var reports cache.ReportCache = cache.NoopReportCache{}
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("[server] redis unreachable, report caching disabled: %v", err)
		} else {
			defer rc.Close()
			reports = rc
			log.Println("[server] report caching via redis")
		}
	}

	svc := service.New(repo, calc, reports, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] listen: %v", err)
		}
	case <-ctx.Done():
		log.Println("[server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}
}

// validateSecurityConfig warns loudly about weak settings instead of refusing
// to start, so dev mode stays usable.
func validateSecurityConfig(cfg config.Config) {
	if cfg.AuthSecret == "" {
		log.Println("[server] WARNING: AUTH_SECRET not set; tokens use an insecure dev secret")
	} else if len(cfg.AuthSecret) < 32 {
		log.Println("[server] WARNING: AUTH_SECRET shorter than 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		log.Println("[server] WARNING: ALLOWED_ORIGIN is a wildcard")
	}
}
