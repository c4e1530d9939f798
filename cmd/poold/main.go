// Package main is the entrypoint for the tenant pool daemon.
// It loads configuration, boots the pool core on its own goroutine,
// services connector callbacks against the configured SQL Server
// backends, and exposes health checks and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joao-brasil/tenant-pool/internal/backend"
	"github.com/joao-brasil/tenant-pool/internal/bridge"
	"github.com/joao-brasil/tenant-pool/internal/config"
	"github.com/joao-brasil/tenant-pool/internal/health"
	"github.com/joao-brasil/tenant-pool/internal/pool"
	"github.com/joao-brasil/tenant-pool/internal/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolConfigPath     = flag.String("config", "configs/pool.yaml", "Path to pool configuration file")
	backendsConfigPath = flag.String("backends", "configs/backends.yaml", "Path to backends configuration file")
	warmup             = flag.Bool("warmup", true, "Acquire and release one connection per backend at startup")
)

// tracker entrega respostas Acquired/Pruned/Failed para quem pediu.
type tracker struct {
	mu      sync.Mutex
	pending map[uint64]chan bridge.Event
}

func newTracker() *tracker {
	return &tracker{pending: make(map[uint64]chan bridge.Event)}
}

func (t *tracker) expect(id uint64) <-chan bridge.Event {
	ch := make(chan bridge.Event, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	return ch
}

func (t *tracker) deliver(ev bridge.Event) {
	t.mu.Lock()
	ch := t.pending[ev.RequestID]
	delete(t.pending, ev.RequestID)
	t.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting Tenant Pool daemon")

	// ─── Load Configuration ───────────────────────────────────────────
	cfg, err := config.Load(*poolConfigPath, *backendsConfigPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}
	log.Printf("[main] Configuration loaded: %d backends, max_capacity=%d",
		len(cfg.Backends), cfg.Pool.MaxCapacity)

	for _, b := range cfg.Backends {
		log.Printf("[main]   Backend %s → %s (database=%s)", b.Name, b.Addr(), b.Database)
	}

	// ─── Metrics HTTP server (Prometheus scrape endpoint) ────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Pool.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", cfg.Pool.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// ─── Initialize Health Checker ───────────────────────────────────
	checker := health.NewChecker(cfg)
	healthServer := checker.ServeHTTP(context.Background())
	log.Printf("[main] Health check server listening on :%d/health", cfg.Pool.HealthCheckPort)

	log.Println("[main] Running initial health check...")
	report := checker.Check(context.Background())
	for _, comp := range report.Components {
		log.Printf("[main]   %s: %s (%s, latency: %s)", comp.Name, comp.Status, comp.Message, comp.Latency)
	}
	log.Printf("[main] Overall health: %s", report.Status)

	// ─── Initialize Metrics Relay ────────────────────────────────────
	rel, err := relay.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[main] Failed to initialize metrics relay: %v", err)
	}
	defer rel.Close()

	// ─── Boot Pool Core ──────────────────────────────────────────────
	poolCfg := pool.DefaultConfig(cfg.Pool.MaxCapacity)
	poolCfg.MinIdleTime = cfg.Pool.MinIdleTimeBeforeGC
	poolCfg.StatsInterval = cfg.Pool.StatsInterval
	poolCfg.ConnectTimeout = cfg.Pool.ConnectTimeout
	poolCfg.AcquireTimeout = cfg.Pool.AcquireTimeout

	br, err := bridge.New(poolCfg)
	if err != nil {
		log.Fatalf("[main] Failed to boot pool core: %v", err)
	}
	log.Printf("[main] Pool core running (max_capacity=%d, min_idle_time=%s, stats_interval=%s)",
		poolCfg.MaxCapacity, poolCfg.MinIdleTime, poolCfg.StatsInterval)

	// ─── Host-side Connector Executor ────────────────────────────────
	track := newTracker()
	exec := backend.NewExecutor(br, cfg)
	exec.OnEvent = func(ev bridge.Event) {
		switch ev.Code {
		case bridge.EventMetrics:
			rel.Publish(context.Background(), ev.Blob)
		case bridge.EventAcquired, bridge.EventPruned, bridge.EventFailed:
			track.deliver(ev)
		}
	}

	execDone := make(chan struct{})
	go func() {
		exec.Run(context.Background())
		close(execDone)
	}()

	// ─── Warmup ──────────────────────────────────────────────────────
	if *warmup {
		warmupBackends(br, track, cfg)
	}

	// ─── Graceful Shutdown ───────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] Tenant pool is ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	br.Close()
	select {
	case <-execDone:
	case <-shutdownCtx.Done():
		log.Println("[main] Timed out waiting for executor drain")
	}

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}
	if err := checker.Close(); err != nil {
		log.Printf("[main] Health checker close error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}

// warmupBackends adquire e devolve uma conexão por backend para validar
// o caminho completo core→executor→SQL Server na subida.
func warmupBackends(br *bridge.Bridge, track *tracker, cfg *config.Config) {
	log.Println("[main] Warming up one connection per backend...")

	var id uint64
	for _, be := range cfg.Backends {
		id++
		reply := track.expect(id)
		if err := br.AcquireWithin(id, be.Name, 30*time.Second); err != nil {
			log.Printf("[main]   %s: acquire submit failed: %v", be.Name, err)
			continue
		}

		ev := <-reply
		if ev.Code != bridge.EventAcquired {
			log.Printf("[main]   %s: warmup failed: %v", be.Name, ev.Err)
			continue
		}

		log.Printf("[main]   %s: warmed (conn %d)", be.Name, ev.Handle)
		if err := br.Release(id); err != nil {
			log.Printf("[main]   %s: release failed: %v", be.Name, err)
		}
	}
}
