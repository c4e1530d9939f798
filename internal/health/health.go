// Package health fornece health checks para a infraestrutura do host:
// os backends SQL Server configurados e, quando o relay está habilitado,
// o Redis.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/joao-brasil/tenant-pool/internal/config"
	"github.com/joao-brasil/tenant-pool/pkg/tenant"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/redis/go-redis/v9"
)

// Status representa o status de saúde de um componente.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth representa a saúde de um único componente.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report é o relatório geral de saúde.
type Report struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// Checker realiza health checks contra os componentes configurados.
type Checker struct {
	cfg         *config.Config
	redisClient *redis.Client
}

// NewChecker cria um novo health checker. O cliente Redis só existe
// quando o relay está habilitado.
func NewChecker(cfg *config.Config) *Checker {
	c := &Checker{cfg: cfg}
	if cfg.Relay.Enabled {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Relay.Addr,
			Password:     cfg.Relay.Password,
			DB:           cfg.Relay.DB,
			DialTimeout:  cfg.Relay.DialTimeout,
			ReadTimeout:  cfg.Relay.ReadTimeout,
			WriteTimeout: cfg.Relay.WriteTimeout,
		})
	}
	return c
}

// Close limpa os recursos.
func (c *Checker) Close() error {
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// Check realiza health checks em todos os componentes e retorna um relatório.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components []ComponentHealth
	)

	if c.redisClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := c.checkRedis(ctx)
			mu.Lock()
			components = append(components, ch)
			mu.Unlock()
		}()
	}

	for i := range c.cfg.Backends {
		b := &c.cfg.Backends[i]
		wg.Add(1)
		go func(be *tenant.Backend) {
			defer wg.Done()
			ch := c.checkSQLServer(ctx, be)
			mu.Lock()
			components = append(components, ch)
			mu.Unlock()
		}(b)
	}

	wg.Wait()

	report.Components = components

	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}

	return report
}

// checkRedis verifica a conectividade com o Redis do relay.
func (c *Checker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := c.redisClient.Ping(ctx)
	latency := time.Since(start)

	if result.Err() != nil {
		return ComponentHealth{
			Name:    "redis",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("PING failed: %v", result.Err()),
			Latency: latency.String(),
		}
	}

	return ComponentHealth{
		Name:    "redis",
		Status:  StatusHealthy,
		Message: "PONG",
		Latency: latency.String(),
	}
}

// checkSQLServer verifica a conectividade com um backend SQL Server.
func (c *Checker) checkSQLServer(ctx context.Context, b *tenant.Backend) ComponentHealth {
	start := time.Now()
	name := fmt.Sprintf("sqlserver-%s", b.Name)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sql.Open("sqlserver", b.DSN())
	if err != nil {
		return ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("failed to create connection: %v", err),
			Latency: time.Since(start).String(),
		}
	}
	defer db.Close()

	var result int
	err = db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("SELECT 1 failed: %v", err),
			Latency: latency.String(),
		}
	}

	return ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Message: "connected",
		Latency: latency.String(),
	}
}

// ServeHTTP inicia o servidor HTTP de health check.
func (c *Checker) ServeHTTP(ctx context.Context) *http.Server {
	mux := http.NewServeMux()

	report := func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if rep.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(rep)
	}

	mux.HandleFunc("/health", report)
	mux.HandleFunc("/health/ready", report)

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", c.cfg.Pool.HealthCheckPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[health] HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[health] HTTP server error: %v", err)
		}
	}()

	return server
}
