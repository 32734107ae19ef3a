package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/perfsentry/core/internal/alertqueue"
	"github.com/perfsentry/core/internal/archive"
	"github.com/perfsentry/core/internal/config"
	"github.com/perfsentry/core/internal/ingestion"
	httpserver "github.com/perfsentry/core/internal/ingestion/httpserver"
	"github.com/perfsentry/core/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.NewPGStore(db)

	var queue ingestion.AlertQueue
	if len(cfg.KafkaBrokers) > 0 {
		kq, err := alertqueue.New(alertqueue.Config{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			MaxAttempts: cfg.KafkaMaxRetries,
		})
		if err != nil {
			log.Fatalf("init alert queue: %v", err)
		}
		defer kq.Close()
		queue = kq
	}

	var archiver ingestion.Archiver
	if cfg.ArchiveEnabled {
		ctx := context.Background()
		a, err := archive.New(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("init archiver: %v", err)
		}
		archiver = a
	}

	service := ingestion.New(st, queue, archiver, ingestion.ServiceConfig{
		MultidataIngestionEnabled: cfg.MultidataIngestionEnabled,
	})
	server := httpserver.New(service, st)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("[perfsentry] listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[perfsentry] graceful shutdown failed: %v", err)
	}
}
