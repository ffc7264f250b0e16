package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/assetgrid-dev/assetgrid-core/internal/api"
	"github.com/assetgrid-dev/assetgrid-core/internal/config"
	"github.com/assetgrid-dev/assetgrid-core/internal/gateway"
	"github.com/assetgrid-dev/assetgrid-core/internal/store"
	"github.com/assetgrid-dev/assetgrid-core/internal/tlscert"
)

func main() {
	configPath := flag.String("config", os.Getenv("ASSETGRID_CONFIG"), "path to config file (optional)")
	flag.Parse()

	logger := log.New(os.Stderr, "[assetgridd] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting AssetGrid Daemon...")

	s, err := store.Open(cfg.Store.Path, cfg.Locks.Lease())
	if err != nil {
		logger.Fatalf("Failed to open store at %s: %v", cfg.Store.Path, err)
	}
	defer s.Close()
	fmt.Printf("Store open at %s.\n", cfg.Store.Path)

	// Locks live in SQLite next to the data unless a Redis address is
	// configured. Redis leases expire by TTL, so the reaper only runs for
	// the SQLite backend.
	var locks store.LockStore = s
	var reaper *store.Reaper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer rdb.Close()
		locks = store.NewRedisLockStore(rdb, s, cfg.Locks.Lease())
		fmt.Printf("Lock backend: redis (%s).\n", cfg.Redis.Addr)
	} else {
		reaper = store.NewReaper(s, cfg.Locks.ReaperInterval(), logger)
		reaper.Start()
		defer reaper.Stop()
		fmt.Println("Lock backend: sqlite.")
	}

	h := &api.Handler{
		Gateway: gateway.New(s, locks, logger),
		Reader:  s,
		Locks:   locks,
		Logger:  logger,
	}
	router := api.NewRouter(h, cfg.Auth.Tokens)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}
	if cfg.Server.TLSSelfSigned {
		cert, err := tlscert.SelfSigned()
		if err != nil {
			logger.Fatalf("Failed to generate TLS certificate: %v", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		fmt.Println("TLS enabled with a self-signed certificate.")
	}

	go func() {
		fmt.Printf("API listening on %s\n", cfg.Server.Listen)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutdown signal received. Draining requests...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("Shutdown did not finish cleanly: %v", err)
	}
	fmt.Println("Exiting.")
}
