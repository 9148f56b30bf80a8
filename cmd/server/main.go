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

	"storefront/server/internal/api"
	"storefront/server/internal/broker"
	"storefront/server/internal/catalog"
	"storefront/server/internal/config"
	"storefront/server/internal/middleware"
	"storefront/server/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize observability (Loki)
	observability.Init(cfg.Observability())
	log.Printf("Instance: %s (region: %s)", cfg.InstanceID, cfg.InstanceRegion)

	// One broker per process; every Google API client shares its token cache
	tokens, err := broker.NewTokenBroker(cfg.Identity(),
		broker.WithTokenURL(cfg.TokenURL),
		broker.WithExchangeTimeout(cfg.ExchangeTimeout),
	)
	if err != nil {
		log.Fatalf("Failed to initialize token broker: %v", err)
	}

	// Background context: the token source outlives any single request
	store, err := catalog.NewSheetStore(context.Background(), cfg.SpreadsheetID, tokens)
	if err != nil {
		log.Fatalf("Failed to create sheet store: %v", err)
	}
	products := catalog.NewCachedProducts(store, cfg.ProductCacheTTL)

	rateLimiter := middleware.NewRateLimiter(cfg.OrderRateLimit, cfg.TrustedProxyHops)
	defer rateLimiter.Stop()

	// Create router (Go 1.22+ method-aware patterns)
	mux := http.NewServeMux()
	api.NewHandler(products, store, cfg.InstanceID, cfg.InstanceRegion).Register(mux, rateLimiter)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           middleware.Stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting storefront server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down gracefully...", sig)

	// Give in-flight requests up to 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Printf("Server stopped")
}
