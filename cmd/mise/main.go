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

	"github.com/rowanvale/mise/internal/billing"
	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/email"
	"github.com/rowanvale/mise/internal/logging"
	"github.com/rowanvale/mise/internal/reconcile"
	"github.com/rowanvale/mise/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("MISE_LOG_LEVEL"))

	port := os.Getenv("MISE_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("MISE_DB_PATH")
	if dbPath == "" {
		dbPath = "mise.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	issuer := os.Getenv("MISE_ISSUER")
	if issuer == "" {
		issuer = "Mise"
	}

	fromEmail := os.Getenv("MISE_EMAIL_FROM")
	if fromEmail == "" {
		fromEmail = "noreply@mise.app"
	}
	mailer := email.NewClient(os.Getenv("MISE_POSTMARK_TOKEN"), fromEmail)
	if !mailer.Configured() {
		logger.Warn("postmark token not set, outgoing mail disabled")
	}

	cfg := server.Config{
		Issuer: issuer,
		Mailer: mailer,
		Billing: billing.Config{
			SecretKey: os.Getenv("MISE_STRIPE_KEY"),
		},
	}

	srv := server.New(db, cfg, logger)

	scheduler := reconcile.NewScheduler(
		srv.ReconcileJob(),
		srv.UserSessionStore(),
		srv.AdminSessionStore(),
		srv.EmailCodeStore(),
		srv.ChallengeStore(),
		srv.RateLimitStore(),
		srv.ThrottleLimiter(),
		logger.With("component", "scheduler"),
	)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Mise running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
