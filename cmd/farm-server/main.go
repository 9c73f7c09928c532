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

	"github.com/h4ppyfarm/farm/internal/api"
	"github.com/h4ppyfarm/farm/internal/config"
	"github.com/h4ppyfarm/farm/internal/hfi"
	"github.com/h4ppyfarm/farm/internal/store"
	"github.com/h4ppyfarm/farm/internal/submitter"
	"github.com/h4ppyfarm/farm/internal/worker"
)

func main() {
	// Local development convenience; FARM_* vars from the real
	// environment always win.
	godotenv.Load()

	cfg, err := config.Load("farm.yml")
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	st, err := store.Open(cfg.Database, cfg.LifetimeSeconds())
	if err != nil {
		log.Fatalf("Could not open database: %v", err)
	}
	defer st.Close()

	sub, err := submitter.New(cfg)
	if err != nil {
		log.Fatalf("Could not create submitter: %v", err)
	}

	w := worker.New(st, sub,
		time.Duration(cfg.SubmitPeriod)*time.Second,
		cfg.LifetimeSeconds(),
		cfg.BatchLimit)
	w.Start()

	srv, err := api.NewServer(cfg, st, hfi.NewManager(cfg.HfiSource, cfg.HfiCache))
	if err != nil {
		log.Fatalf("Could not create API server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("H4PPY Farm listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}

	// Drain the in-flight submission cycle before closing the store.
	w.Stop()
	log.Println("Server stopped")
}
