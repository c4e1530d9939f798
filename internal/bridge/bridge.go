// Package bridge implementa o canal bidirecional entre a thread do host
// e a goroutine do pool. Host→core é um envio síncrono com buffer
// limitado; core→host é o único caminho pelo qual Acquired, Pruned,
// Failed, PerformConnect/Disconnect/Reconnect e Metrics chegam ao host.
//
// O bridge também é o Connector canônico do pool: cada operação vira um
// evento PerformX que o host responde com Completed ou FailedAsync.
package bridge

import (
	"time"

	"github.com/joao-brasil/tenant-pool/internal/pool"
)

// EventCode identifica um evento core→host. Estável no wire entre releases.
type EventCode int

const (
	EventAcquired          EventCode = 0
	EventPerformConnect    EventCode = 1
	EventPerformDisconnect EventCode = 2
	EventPerformReconnect  EventCode = 3
	EventPruned            EventCode = 4
	EventFailed            EventCode = 5
	EventMetrics           EventCode = 6
)

func (c EventCode) String() string {
	switch c {
	case EventAcquired:
		return "acquired"
	case EventPerformConnect:
		return "perform_connect"
	case EventPerformDisconnect:
		return "perform_disconnect"
	case EventPerformReconnect:
		return "perform_reconnect"
	case EventPruned:
		return "pruned"
	case EventFailed:
		return "failed"
	case EventMetrics:
		return "metrics"
	default:
		return "unknown"
	}
}

// Códigos de variante de métrica compartilhados com o host, um por estado
// de conexão. Estáveis no wire entre releases; o formato segue o contrato
// METRIC_<ESTADO> do protocolo do host.
const (
	METRIC_CONNECTING    = uint32(pool.StateConnecting)
	METRIC_IDLE          = uint32(pool.StateIdle)
	METRIC_ACTIVE        = uint32(pool.StateActive)
	METRIC_RECONNECTING  = uint32(pool.StateReconnecting)
	METRIC_DISCONNECTING = uint32(pool.StateDisconnecting)
	METRIC_CLOSED        = uint32(pool.StateClosed)
	METRIC_FAILED        = uint32(pool.StateFailed)
)

// Event é uma mensagem core→host.
type Event struct {
	Code      EventCode
	RequestID uint64
	Handle    pool.ConnHandle
	DB        string

	// Err é preenchido para EventFailed.
	Err *pool.Error

	// Blob é preenchido para EventMetrics (snapshot serializado, opaco).
	Blob []byte
}

// eventBuffer dimensiona o canal core→host. O driver bloqueia se o host
// parar de consumir; o buffer absorve rajadas de eventos por tick.
const eventBuffer = 4096

// Bridge conecta um host ao core do pool.
type Bridge struct {
	pool   *pool.Pool
	events chan Event
}

// New cria o pool e inicia a goroutine do driver. O chamador deve
// consumir Events() até o canal fechar.
func New(cfg pool.Config) (*Bridge, error) {
	b := &Bridge{events: make(chan Event, eventBuffer)}
	p, err := pool.New(cfg, b, b)
	if err != nil {
		return nil, err
	}
	b.pool = p

	go func() {
		p.Run()
		close(b.events)
	}()

	return b, nil
}

// Events retorna o canal core→host. Fechado quando o pool encerra.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Close inicia o encerramento do pool. Waiters pendentes recebem Failed
// com erro de shutdown e as conexões vivas recebem PerformDisconnect em
// melhor esforço antes do canal de eventos fechar.
func (b *Bridge) Close() {
	b.pool.Close()
}

// Done é fechado quando o driver do pool termina.
func (b *Bridge) Done() <-chan struct{} {
	return b.pool.Done()
}

// ── Comandos host→core ──────────────────────────────────────────────────

// Acquire pede uma conexão para o database, identificada pelo request id
// do host. A resposta chega como Acquired ou Failed.
func (b *Bridge) Acquire(id uint64, db string) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdAcquire, RequestID: id, DB: db})
}

// AcquireWithin é Acquire com deadline explícito em vez do default da
// configuração.
func (b *Bridge) AcquireWithin(id uint64, db string, timeout time.Duration) error {
	return b.pool.Submit(pool.Command{
		Kind:      pool.CmdAcquire,
		RequestID: id,
		DB:        db,
		Deadline:  time.Now().Add(timeout),
	})
}

// Release devolve a conexão do request ao pool.
func (b *Bridge) Release(id uint64) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdRelease, RequestID: id})
}

// Discard devolve e envenena a conexão do request.
func (b *Bridge) Discard(id uint64) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdDiscard, RequestID: id})
}

// Prune drena as conexões idle do database. A resposta chega como Pruned.
func (b *Bridge) Prune(id uint64, db string) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdPrune, RequestID: id, DB: db})
}

// Completed confirma uma operação PerformX emitida pelo core.
func (b *Bridge) Completed(handle pool.ConnHandle) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdCompleted, Handle: handle})
}

// FailedAsync reporta a falha de uma operação PerformX emitida pelo core.
func (b *Bridge) FailedAsync(handle pool.ConnHandle) error {
	return b.pool.Submit(pool.Command{Kind: pool.CmdFailed, Handle: handle})
}

// ── pool.Connector ──────────────────────────────────────────────────────
//
// Chamado apenas pela goroutine do driver.

func (b *Bridge) Connect(handle pool.ConnHandle, db string) {
	b.events <- Event{Code: EventPerformConnect, Handle: handle, DB: db}
}

func (b *Bridge) Disconnect(handle pool.ConnHandle) {
	b.events <- Event{Code: EventPerformDisconnect, Handle: handle}
}

func (b *Bridge) Reconnect(handle pool.ConnHandle, db string) {
	b.events <- Event{Code: EventPerformReconnect, Handle: handle, DB: db}
}

// ── pool.EventSink ──────────────────────────────────────────────────────
//
// Chamado apenas pela goroutine do driver.

func (b *Bridge) Acquired(requestID uint64, handle pool.ConnHandle) {
	b.events <- Event{Code: EventAcquired, RequestID: requestID, Handle: handle}
}

func (b *Bridge) Pruned(requestID uint64) {
	b.events <- Event{Code: EventPruned, RequestID: requestID}
}

func (b *Bridge) Failed(requestID uint64, handle pool.ConnHandle, err *pool.Error) {
	b.events <- Event{Code: EventFailed, RequestID: requestID, Handle: handle, Err: err}
}

func (b *Bridge) Metrics(blob []byte) {
	b.events <- Event{Code: EventMetrics, Blob: blob}
}
