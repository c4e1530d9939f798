// Package backend executa as operações de connector do lado do host
// contra instâncias SQL Server reais. Cada conexão pooled mapeia 1:1
// para um *sql.DB com MaxOpenConns=1, de modo que um handle do pool
// corresponde a exatamente uma conexão física.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/joao-brasil/tenant-pool/internal/bridge"
	"github.com/joao-brasil/tenant-pool/internal/config"
	"github.com/joao-brasil/tenant-pool/internal/pool"
	_ "github.com/microsoft/go-mssqldb"
)

// Executor consome os eventos PerformX do bridge e responde com
// Completed/FailedAsync. Eventos que não são de connector (Acquired,
// Pruned, Failed, Metrics) são repassados ao handler do host.
type Executor struct {
	bridge *bridge.Bridge
	cfg    *config.Config

	// OnEvent recebe os eventos não-connector. Opcional.
	OnEvent func(ev bridge.Event)

	mu  sync.Mutex
	dbs map[pool.ConnHandle]*sql.DB
}

// NewExecutor cria o executor para o bridge e a configuração fornecidos.
func NewExecutor(b *bridge.Bridge, cfg *config.Config) *Executor {
	return &Executor{
		bridge: b,
		cfg:    cfg,
		dbs:    make(map[pool.ConnHandle]*sql.DB),
	}
}

// Run consome eventos até o canal do bridge fechar. As operações de
// connector rodam em goroutines próprias para não bloquear o consumo.
func (e *Executor) Run(ctx context.Context) {
	for ev := range e.bridge.Events() {
		switch ev.Code {
		case bridge.EventPerformConnect:
			go e.connect(ctx, ev.Handle, ev.DB)
		case bridge.EventPerformDisconnect:
			go e.disconnect(ev.Handle)
		case bridge.EventPerformReconnect:
			go e.reconnect(ctx, ev.Handle, ev.DB)
		default:
			if e.OnEvent != nil {
				e.OnEvent(ev)
			}
		}
	}
	e.closeAll()
}

// connect abre uma conexão física nova para o database e confirma o handle.
func (e *Executor) connect(ctx context.Context, h pool.ConnHandle, db string) {
	conn, err := e.open(ctx, db)
	if err != nil {
		log.Printf("[backend] connect %d (%s) failed: %v", h, db, err)
		e.bridge.FailedAsync(h)
		return
	}

	e.mu.Lock()
	e.dbs[h] = conn
	e.mu.Unlock()

	e.bridge.Completed(h)
}

// disconnect fecha a conexão física do handle.
func (e *Executor) disconnect(h pool.ConnHandle) {
	e.mu.Lock()
	conn := e.dbs[h]
	delete(e.dbs, h)
	e.mu.Unlock()

	if conn == nil {
		// O pool pode pedir disconnect de um connect que nunca completou.
		e.bridge.Completed(h)
		return
	}
	if err := conn.Close(); err != nil {
		log.Printf("[backend] disconnect %d failed: %v", h, err)
		e.bridge.FailedAsync(h)
		return
	}
	e.bridge.Completed(h)
}

// reconnect revincula o handle a outro database. Para SQL Server isso é
// um ciclo fechar+abrir; a dica de rebind do pool continua valendo
// porque evita uma rodada extra de disconnect/connect no protocolo.
func (e *Executor) reconnect(ctx context.Context, h pool.ConnHandle, db string) {
	e.mu.Lock()
	old := e.dbs[h]
	delete(e.dbs, h)
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}

	conn, err := e.open(ctx, db)
	if err != nil {
		log.Printf("[backend] reconnect %d (%s) failed: %v", h, db, err)
		e.bridge.FailedAsync(h)
		return
	}

	e.mu.Lock()
	e.dbs[h] = conn
	e.mu.Unlock()

	e.bridge.Completed(h)
}

// open abre e valida uma conexão física para o database nomeado.
func (e *Executor) open(ctx context.Context, db string) (*sql.DB, error) {
	be, ok := e.cfg.BackendByName(db)
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", db)
	}

	conn, err := sql.Open("sqlserver", be.DSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// sql.DB como conexão única: o pool de cima é quem gerencia.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, be.ConnectionTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return conn, nil
}

// closeAll fecha toda conexão física remanescente após o shutdown do pool.
func (e *Executor) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, conn := range e.dbs {
		conn.Close()
		delete(e.dbs, h)
	}
}
