// Package relay encaminha snapshots de métricas do pool para um canal
// Pub/Sub do Redis, de onde dashboards e outras instâncias podem
// consumi-los. O relay é opcional (flag enabled). Quando habilitado,
// New exige um PING bem-sucedido e retorna erro se o Redis não
// responder. Depois disso, com o Redis indisponível, os snapshots
// continuam saindo pelo bridge e o relay apenas contabiliza a falha.
package relay

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/joao-brasil/tenant-pool/internal/config"
	"github.com/joao-brasil/tenant-pool/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Relay publica blobs de métricas em um canal Redis.
type Relay struct {
	client  redis.UniversalClient
	channel string
	enabled bool

	// degraded marca que o último publish falhou, para logar a
	// recuperação uma única vez.
	degraded atomic.Bool
}

// New cria o relay. Com Enabled=false retorna um relay inerte.
func New(ctx context.Context, cfg *config.Config) (*Relay, error) {
	if !cfg.Relay.Enabled {
		return &Relay{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Relay.Addr,
		Password:     cfg.Relay.Password,
		DB:           cfg.Relay.DB,
		DialTimeout:  cfg.Relay.DialTimeout,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Relay.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Printf("[relay] Redis connected: %s, channel=%s", cfg.Relay.Addr, cfg.Relay.Channel)
	return &Relay{client: client, channel: cfg.Relay.Channel, enabled: true}, nil
}

// Publish envia um snapshot serializado para o canal. Falhas são
// registradas e contabilizadas, nunca propagadas: o relay é melhor
// esforço por contrato.
func (r *Relay) Publish(ctx context.Context, blob []byte) {
	if !r.enabled {
		return
	}

	if err := r.client.Publish(ctx, r.channel, blob).Err(); err != nil {
		metrics.RelayOperations.WithLabelValues("publish", "error").Inc()
		if r.degraded.CompareAndSwap(false, true) {
			log.Printf("[relay] publish failed, relay degraded: %v", err)
		}
		return
	}

	metrics.RelayOperations.WithLabelValues("publish", "ok").Inc()
	if r.degraded.CompareAndSwap(true, false) {
		log.Printf("[relay] publish recovered")
	}
}

// Close encerra a conexão Redis do relay.
func (r *Relay) Close() error {
	if !r.enabled {
		return nil
	}
	return r.client.Close()
}
