package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mangamirror/internal/api"
	"mangamirror/internal/auth"
	"mangamirror/internal/backoff"
	"mangamirror/internal/engine"
	"mangamirror/internal/events"
	"mangamirror/internal/guard"
	"mangamirror/internal/metrics"
	"mangamirror/internal/orchestrator"
	"mangamirror/internal/replica"
	"mangamirror/internal/source"
	"mangamirror/internal/store"
	"mangamirror/pkg/config"
	"mangamirror/pkg/database"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Sources) == 0 {
		log.Fatal("no sources configured")
	}

	db := database.MustOpen(database.Config{Path: cfg.Store.Path})
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	st := store.New(db)
	collector := metrics.NewCollector()
	dedup := guard.New()
	hub := events.NewHub()
	publisher := events.NewPublisher(hub)

	// Replica: Mongo when a URI is configured, otherwise a discard sink.
	rootCtx := context.Background()
	var flusher replica.Flusher = replica.Discard{}
	if cfg.Replica.URI != "" {
		mongoFlusher, err := replica.NewMongo(rootCtx, cfg.Replica.URI, cfg.Replica.Database)
		if err != nil {
			log.Fatalf("replica connect failed: %v", err)
		}
		flusher = mongoFlusher
		log.Printf("[syncd] replicating to %s/%s", cfg.Replica.URI, cfg.Replica.Database)
	}
	sched := replica.NewScheduler(st, flusher, collector, cfg.Replica.FlushCount, cfg.FlushInterval())
	sched.OnFlush = publisher.ReplicaFlushed

	retryPolicy := backoff.Policy{
		Attempts:  uint(cfg.Retry.MaxAttempts),
		BaseDelay: time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		Jitter:    time.Duration(cfg.Retry.JitterMS) * time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, source.ErrNotFound) },
	}

	fetcher := engine.NewHTTPFetcher()
	blobs := engine.NewDirBlobStore(cfg.Store.BlobDir)

	orch := orchestrator.New(dedup, collector, sched, publisher, cfg.CycleInterval())
	for name, srcCfg := range cfg.Sources {
		adapter, err := buildAdapter(name, srcCfg)
		if err != nil {
			log.Fatalf("source %s: %v", name, err)
		}
		eng := engine.New(adapter, st, fetcher, blobs, collector, retryPolicy, srcCfg.PageWorkers)
		orch.AddSource(srcCfg, adapter, eng)
		log.Printf("[syncd] source %s: %d workers, %d page workers", name, srcCfg.Workers, srcCfg.PageWorkers)
	}

	tokenSvc := auth.TokenService{
		Secret:   []byte(cfg.API.JWTSecret),
		Issuer:   cfg.API.JWTIssuer,
		Duration: time.Duration(cfg.API.JWTTTLHours) * time.Hour,
	}
	authHandler := auth.NewHandler(tokenSvc, cfg.API.AdminPasswordHash)

	router := api.NewRouter(&api.Handler{
		DB:      db,
		Store:   st,
		Guard:   dedup,
		Metrics: collector,
		Orch:    orch,
		Replica: sched,
		Hub:     hub,
		Tokens:  tokenSvc,
		AuthH:   authHandler,
	})
	httpSrv := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: router,
	}

	runCtx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("[syncd] operator API listening on %s", cfg.API.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[syncd] shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("[syncd] server error: %v", err)
	}

	// Drain workers first so the final flush sees their writes.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[syncd] http shutdown error: %v", err)
	}
	wg.Wait()

	if err := sched.FlushNow(shutdownCtx); err != nil {
		log.Printf("[syncd] final flush failed: %v", err)
	}
	if err := flusher.Close(shutdownCtx); err != nil {
		log.Printf("[syncd] replica close error: %v", err)
	}
	log.Println("[syncd] stopped")
}

func buildAdapter(name string, cfg config.SourceConfig) (source.Adapter, error) {
	rateBackoff := time.Duration(cfg.RateBackoffSec) * time.Second
	switch name {
	case "mangadex":
		return source.NewMangaDex(cfg.ItemsPerPage, rateBackoff), nil
	case "nato":
		return source.NewNatoManga(cfg.BaseURL, rateBackoff), nil
	case "asura":
		return source.NewAsura(cfg.BaseURL, rateBackoff), nil
	case "mirror":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("mirror source needs base_url")
		}
		m := source.NewMirror(cfg.BaseURL)
		m.Backoff = rateBackoff
		return m, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", name)
}
