package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deck-updater/pkg/admin"
	"deck-updater/pkg/app"
	"deck-updater/pkg/config"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (optional)")
	addr := flag.String("addr", "", "Listen address (overrides ADMIN_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.AdminAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer components.Close(context.Background())

	handler := admin.NewServer(ctx, components.Scheduler, components.Mongo)
	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down admin server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown: %v", err)
		}
	}()

	log.Printf("Admin server listening on %s", cfg.AdminAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Admin server failed: %v", err)
	}

	// A background run finishes its in-flight page before exiting.
	handler.Wait()
}
