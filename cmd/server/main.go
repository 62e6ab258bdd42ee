/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional), parse command-line flags
  2. Open the SQLite store (auto-migrates)
  3. Seed the default reward catalog when requested
  4. Wire engines and HTTP handler
  5. Start the expiration sweeper
  6. Serve with graceful shutdown

CONFIGURATION:
  Flags override environment; environment comes from the process or .env.
    -port / PORT                  HTTP port (default 8080)
    -db / DATABASE_PATH           SQLite path, ":memory:" for ephemeral
    -link-base / REFERRAL_LINK_BASE  Base URL for referral links
    -seed                         Upsert the default reward catalog
    -sweep-interval               Expiration sweep cadence (default 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain requests (30s
  timeout), stop the sweeper, close the database.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/clubpoints/loyalty-engine/api"
	"github.com/clubpoints/loyalty-engine/loyalty"
	"github.com/clubpoints/loyalty-engine/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// .env is optional; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded .env")
	}

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "loyalty.db"), "SQLite database path")
	linkBase := flag.String("link-base", envStr("REFERRAL_LINK_BASE", "https://club.example.com"), "base URL for referral links")
	seed := flag.Bool("seed", false, "seed the default reward catalog")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "expiration sweep interval")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	ctx := context.Background()

	if *seed {
		for _, reward := range loyalty.DefaultCatalog() {
			if err := store.SaveReward(ctx, reward); err != nil {
				log.WithError(err).WithField("reward", reward.ID).Fatal("failed to seed catalog")
			}
		}
		log.WithField("rewards", len(loyalty.DefaultCatalog())).Info("seeded reward catalog")
	}

	earning := loyalty.NewEarningEngine(store)
	referrals := loyalty.NewReferralSettlement(store, earning, *linkBase)
	membership := loyalty.NewMembershipService(store, earning, referrals, log)

	handler := api.NewHandler(store, membership, referrals)
	router := api.NewRouter(handler)

	sweeper := api.NewSweeper(store, log)
	sweeper.Interval = *sweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}

	log.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
