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

	"github.com/hopelink/hopelink/internal/config"
	"github.com/hopelink/hopelink/internal/database"
	"github.com/hopelink/hopelink/internal/logging"
	"github.com/hopelink/hopelink/internal/maintenance"
	"github.com/hopelink/hopelink/internal/server"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.StartBackground(ctx); err != nil {
		log.Fatalf("failed to start background workers: %v", err)
	}
	defer srv.StopBackground()

	cleanup := maintenance.NewRunner(maintenance.Config{
		DedupRetention:     2 * cfg.WatchDedupWindow,
		WatchInactiveAfter: cfg.WatchInactiveAfter,
	}, srv.ScheduleStore(), srv.WatchStore(), srv.ReminderStore(), srv.Supervisor(), srv.RateLimiter(), logger)
	if err := cleanup.Start(); err != nil {
		log.Fatalf("failed to start maintenance jobs: %v", err)
	}
	defer cleanup.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("HopeLink running at http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
