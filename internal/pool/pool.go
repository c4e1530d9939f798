package pool

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/tenant-pool/internal/metrics"
)

// Config contém os parâmetros do pool. Imutável após a construção.
type Config struct {
	// MaxCapacity é o teto global de conexões. Obrigatório, ≥ 1.
	MaxCapacity int

	// MinIdleTime é o tempo mínimo parada antes de uma conexão idle
	// ser coletada pelo GC.
	MinIdleTime time.Duration

	// StatsInterval é a cadência de amostragem de métricas e demanda.
	StatsInterval time.Duration

	// ConnectTimeout limita quanto tempo uma operação de connector pode
	// ficar pendente. Connect ou reconnect vencidos marcam a conexão como
	// failed; um disconnect vencido fecha a conexão mesmo assim.
	ConnectTimeout time.Duration

	// AcquireTimeout é o deadline default de um acquire sem deadline próprio.
	// Zero desabilita o default.
	AcquireTimeout time.Duration

	// TickInterval é o período do driver.
	TickInterval time.Duration

	// IdleBlockTTL é quanto tempo um block vazio e sem waiters sobrevive.
	IdleBlockTTL time.Duration

	// CommandBuffer é a capacidade do canal host→core. Envio com o
	// buffer cheio falha com erro de shutdown.
	CommandBuffer int
}

// DefaultConfig retorna a configuração sugerida para um dado teto global.
func DefaultConfig(maxCapacity int) Config {
	return Config{
		MaxCapacity:    maxCapacity,
		MinIdleTime:    10 * time.Second,
		StatsInterval:  time.Second,
		ConnectTimeout: 10 * time.Second,
		AcquireTimeout: 30 * time.Second,
		TickInterval:   10 * time.Millisecond,
		IdleBlockTTL:   60 * time.Second,
		CommandBuffer:  1024,
	}
}

func (c *Config) validate() error {
	if c.MaxCapacity < 1 {
		return fmt.Errorf("max_capacity must be >= 1, got %d", c.MaxCapacity)
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.MaxCapacity)
	if c.MinIdleTime == 0 {
		c.MinIdleTime = def.MinIdleTime
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.IdleBlockTTL == 0 {
		c.IdleBlockTTL = def.IdleBlockTTL
	}
	if c.CommandBuffer == 0 {
		c.CommandBuffer = def.CommandBuffer
	}
}

// ── Comandos ────────────────────────────────────────────────────────────

// CommandKind identifica o comando enviado pelo host.
type CommandKind int

const (
	// CmdAcquire pede uma conexão para um database.
	CmdAcquire CommandKind = iota
	// CmdRelease devolve a conexão do request ao pool.
	CmdRelease
	// CmdDiscard devolve e envenena a conexão do request.
	CmdDiscard
	// CmdPrune drena as conexões idle de um database.
	CmdPrune
	// CmdCompleted confirma uma operação de connector.
	CmdCompleted
	// CmdFailed reporta falha de uma operação de connector.
	CmdFailed
)

// Command é uma requisição do host para o core.
type Command struct {
	Kind      CommandKind
	RequestID uint64
	DB        string
	Handle    ConnHandle

	// Deadline é opcional e só se aplica a CmdAcquire. Zero usa o
	// AcquireTimeout da configuração.
	Deadline time.Time
}

// ── Pool ────────────────────────────────────────────────────────────────

// Pool é o coordenador multi-tenant. Todo o estado mutável pertence à
// goroutine de Run; o host interage apenas via Submit e o EventSink.
type Pool struct {
	cfg       Config
	connector Connector
	events    EventSink

	cmds     chan Command
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// ── estado exclusivo do loop do driver ──
	blocks     map[string]*block
	conns      map[ConnHandle]*conn
	owned      map[uint64]*conn               // requestID → conexão ativa
	prunes     map[uint64]map[ConnHandle]bool // requestID → disconnects pendentes do drain
	total      int                            // conexões em estados que contam contra o teto
	nextHandle ConnHandle

	counters struct {
		reconnects  uint64
		disconnects uint64
		failures    uint64
		closed      uint64
	}

	lastStats  time.Time
	lastDemand time.Time

	internalFailure bool
}

// New cria o pool. O connector e o sink são fornecidos pelo host bridge.
func New(cfg Config, connector Connector, events EventSink) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pool config: %w", err)
	}
	cfg.applyDefaults()

	metrics.ConnectionsMax.Set(float64(cfg.MaxCapacity))

	return &Pool{
		cfg:       cfg,
		connector: connector,
		events:    events,
		cmds:      make(chan Command, cfg.CommandBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		blocks:    make(map[string]*block),
		conns:     make(map[ConnHandle]*conn),
		owned:     make(map[uint64]*conn),
		prunes:    make(map[uint64]map[ConnHandle]bool),
	}, nil
}

// Submit enfileira um comando do host. Nunca bloqueia: com o pool
// encerrado ou o buffer cheio, retorna o erro de shutdown.
func (p *Pool) Submit(cmd Command) error {
	select {
	case <-p.stop:
		return ErrShutdown
	default:
	}
	select {
	case p.cmds <- cmd:
		return nil
	default:
		return ErrShutdown
	}
}

// Close inicia o encerramento do pool. Idempotente.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done é fechado quando o loop do driver termina.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Run executa o driver até o encerramento. Deve rodar em exatamente
// uma goroutine; ela é a única dona do estado do pool.
func (p *Pool) Run() {
	defer close(p.done)

	now := time.Now()
	p.lastStats = now
	p.lastDemand = now

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.shutdown()
			return
		case cmd := <-p.cmds:
			p.dispatch(cmd, time.Now())
			p.drainCommands()
			p.pass(time.Now())
		case tick := <-ticker.C:
			p.pass(tick)
		}
		if p.internalFailure {
			p.shutdown()
			return
		}
	}
}

// drainCommands consome sem bloquear os comandos já enfileirados, para
// que uma rajada inteira seja vista por uma única passada do alocador.
func (p *Pool) drainCommands() {
	for {
		select {
		case cmd := <-p.cmds:
			p.dispatch(cmd, time.Now())
		default:
			return
		}
	}
}

// ── Dispatcher ──────────────────────────────────────────────────────────

func (p *Pool) dispatch(cmd Command, now time.Time) {
	switch cmd.Kind {
	case CmdAcquire:
		p.dispatchAcquire(cmd, now)
	case CmdRelease:
		p.dispatchRelease(cmd, now)
	case CmdDiscard:
		p.dispatchDiscard(cmd, now)
	case CmdPrune:
		p.dispatchPrune(cmd, now)
	case CmdCompleted:
		p.completeOp(cmd.Handle, now)
	case CmdFailed:
		p.failOp(cmd.Handle, now)
	default:
		p.internalError(fmt.Sprintf("unknown command kind %d", cmd.Kind))
	}
}

func (p *Pool) dispatchAcquire(cmd Command, now time.Time) {
	b := p.ensureBlock(cmd.DB, now)
	b.recordAcquire(now)

	deadline := cmd.Deadline
	if deadline.IsZero() && p.cfg.AcquireTimeout > 0 {
		deadline = now.Add(p.cfg.AcquireTimeout)
	}
	w := &waiter{requestID: cmd.RequestID, arrivedAt: now, deadline: deadline}

	// Caminho rápido: idle disponível, entrega imediata.
	if c := b.popIdle(); c != nil {
		p.grant(b, w, c, now)
		return
	}
	b.enqueueWaiter(w)
}

func (p *Pool) dispatchRelease(cmd Command, now time.Time) {
	c, ok := p.owned[cmd.RequestID]
	if !ok {
		p.internalError(fmt.Sprintf("release for unowned request %d", cmd.RequestID))
		return
	}
	delete(p.owned, cmd.RequestID)

	b := p.blocks[c.db]
	b.recordHold(now.Sub(c.acquiredAt))
	c.lastUsedAt = now

	if c.poisoned {
		p.beginDisconnect(c, now)
		return
	}

	// Entrega atômica ao próximo waiter: o alocador nunca observa um
	// estado "idle e readquirida" intermediário.
	if w := p.popValidWaiter(b, now); w != nil {
		p.grantGranted(b, w, c, now)
		return
	}

	p.setState(c, StateIdle)
	b.pushIdle(c)
}

func (p *Pool) dispatchDiscard(cmd Command, now time.Time) {
	c, ok := p.owned[cmd.RequestID]
	if !ok {
		p.internalError(fmt.Sprintf("discard for unowned request %d", cmd.RequestID))
		return
	}
	delete(p.owned, cmd.RequestID)

	b := p.blocks[c.db]
	b.recordHold(now.Sub(c.acquiredAt))
	c.poisoned = true
	metrics.ConnectionErrors.WithLabelValues(c.db, "discarded").Inc()
	p.beginDisconnect(c, now)
}

func (p *Pool) dispatchPrune(cmd Command, now time.Time) {
	b := p.blocks[cmd.DB]
	if b == nil || b.stateCount[StateIdle] == 0 {
		p.events.Pruned(cmd.RequestID)
		return
	}

	pending := make(map[ConnHandle]bool)
	idle := make([]*conn, len(b.idle))
	copy(idle, b.idle)
	for _, c := range idle {
		p.beginDisconnect(c, now)
		pending[c.handle] = true
	}
	p.prunes[cmd.RequestID] = pending
}

// ── Conclusões do connector ─────────────────────────────────────────────

// completeOp processa um CompletedAsync. Conclusões para handles que o
// pool não conhece mais são descartadas em silêncio.
func (p *Pool) completeOp(h ConnHandle, now time.Time) {
	c, ok := p.conns[h]
	if !ok {
		return
	}

	switch c.state {
	case StateConnecting:
		p.setState(c, StateIdle)
		c.lastUsedAt = now
		p.serveOrPark(c, now)

	case StateReconnecting:
		p.counters.reconnects++
		p.setState(c, StateIdle)
		c.lastUsedAt = now
		p.serveOrPark(c, now)

	case StateDisconnecting:
		p.finishClose(c)

	default:
		p.internalError(fmt.Sprintf("completion for conn %d in state %s", h, c.state))
	}
}

// failOp processa um FailedAsync. Erros do connector são terminais para
// a conexão afetada.
func (p *Pool) failOp(h ConnHandle, now time.Time) {
	c, ok := p.conns[h]
	if !ok {
		return
	}

	p.counters.failures++
	metrics.ConnectionErrors.WithLabelValues(c.db, "connector_failure").Inc()

	switch c.state {
	case StateConnecting:
		// failed → disconnecting: o host recebe PerformDisconnect para
		// liberar o que tiver sobrado do connect que falhou.
		p.setState(c, StateFailed)
		p.beginDisconnect(c, now)
		p.chargeWaiter(c, now)

	case StateReconnecting:
		p.setState(c, StateFailed)
		p.beginDisconnect(c, now)
		p.chargeWaiter(c, now)

	case StateDisconnecting:
		// Falha ao desconectar: considera fechada mesmo assim.
		p.finishClose(c)

	default:
		p.internalError(fmt.Sprintf("failure for conn %d in state %s", h, c.state))
	}
}

// chargeWaiter aplica a política de retry: a primeira falha de connect
// é absorvida e o alocador tenta de novo; a segunda derruba o waiter
// com AcquireFailed.
func (p *Pool) chargeWaiter(c *conn, now time.Time) {
	b := p.blocks[c.db]
	if b == nil {
		return
	}
	w := b.headWaiter()
	if w == nil {
		return
	}
	if !w.retried {
		w.retried = true
		return
	}
	b.popWaiter()
	metrics.AcquiresTotal.WithLabelValues(c.db, "failed").Inc()
	p.events.Failed(w.requestID, c.handle, &Error{
		Kind:   ErrorConnectorFailure,
		DB:     c.db,
		Handle: c.handle,
	})
}

// ── Passada do driver ───────────────────────────────────────────────────

// pass é uma iteração do driver: expira deadlines, aplica transições
// pendentes, roda o alocador, remove blocks mortos e emite métricas.
func (p *Pool) pass(now time.Time) {
	p.expireWaiters(now)
	p.expireOps(now)
	p.sampleDemand(now)

	for _, a := range p.allocate(now) {
		p.execute(a, now)
	}

	p.gcBlocks(now)
	p.emitStats(now)
}

func (p *Pool) expireWaiters(now time.Time) {
	for db, b := range p.blocks {
		for _, w := range b.expireWaiters(now) {
			metrics.AcquiresTotal.WithLabelValues(db, "timeout").Inc()
			p.events.Failed(w.requestID, 0, &Error{
				Kind:     ErrorAcquireTimeout,
				DB:       db,
				WaitTime: now.Sub(w.arrivedAt),
			})
		}
	}
}

// expireOps marca como failed conexões cuja operação de connector ficou
// pendente além do timeout por operação.
func (p *Pool) expireOps(now time.Time) {
	for _, c := range p.conns {
		switch c.state {
		case StateConnecting, StateReconnecting, StateDisconnecting:
			if now.Sub(c.opStartedAt) <= p.cfg.ConnectTimeout {
				continue
			}
		default:
			continue
		}

		p.counters.failures++
		metrics.ConnectionErrors.WithLabelValues(c.db, "op_timeout").Inc()
		switch c.state {
		case StateConnecting:
			p.setState(c, StateFailed)
			p.removeConn(c)
			p.chargeWaiter(c, now)
		case StateReconnecting:
			p.setState(c, StateFailed)
			p.beginDisconnect(c, now)
			p.chargeWaiter(c, now)
		case StateDisconnecting:
			p.finishClose(c)
		}
	}
}

func (p *Pool) sampleDemand(now time.Time) {
	if now.Sub(p.lastDemand) < p.cfg.StatsInterval {
		return
	}
	p.lastDemand = now
	for _, b := range p.blocks {
		b.sampleDemand()
	}
}

func (p *Pool) execute(a action, now time.Time) {
	switch a.kind {
	case actionGrow:
		for i := 0; i < a.n; i++ {
			p.startConnect(a.db, now)
		}
	case actionShrink:
		p.beginDisconnect(a.conn, now)
	case actionRebind:
		p.rebind(a.conn, a.db, now)
	}
}

// startConnect cunha um handle novo e emite o connect.
func (p *Pool) startConnect(db string, now time.Time) {
	p.nextHandle++
	h := p.nextHandle

	c := newConn(h, db, now)
	p.conns[h] = c
	b := p.blocks[db]
	b.attach(c)
	p.total++
	metrics.TransitionsTotal.WithLabelValues(db, StateConnecting.String()).Inc()

	p.connector.Connect(h, db)
}

// rebind move uma conexão idle do seu block atual para o block de destino
// e emite o reconnect.
func (p *Pool) rebind(c *conn, destDB string, now time.Time) {
	from := p.blocks[c.db]
	dest := p.blocks[destDB]
	if from == nil || dest == nil || c.state != StateIdle {
		p.internalError(fmt.Sprintf("rebind of conn %d in state %s", c.handle, c.state))
		return
	}

	from.detach(c)
	c.state = StateReconnecting
	c.db = destDB
	c.opStartedAt = now
	dest.attach(c)

	metrics.RebindsTotal.WithLabelValues(destDB).Inc()
	metrics.TransitionsTotal.WithLabelValues(destDB, StateReconnecting.String()).Inc()
	p.connector.Reconnect(c.handle, destDB)
}

// beginDisconnect transiciona a conexão para disconnecting e emite o
// disconnect. A conexão sai da contagem viva aqui; a conclusão apenas
// remove o registro.
func (p *Pool) beginDisconnect(c *conn, now time.Time) {
	b := p.blocks[c.db]
	if b != nil {
		b.removeIdle(c)
	}
	p.setState(c, StateDisconnecting)
	c.opStartedAt = now
	p.counters.disconnects++
	p.connector.Disconnect(c.handle)
}

// finishClose remove a conexão do pool após a conclusão do disconnect.
func (p *Pool) finishClose(c *conn) {
	p.setState(c, StateClosed)
	p.removeConn(c)
	p.counters.closed++
	p.resolvePrunes(c.handle)
}

func (p *Pool) removeConn(c *conn) {
	if b := p.blocks[c.db]; b != nil {
		b.detach(c)
	}
	delete(p.conns, c.handle)
}

// resolvePrunes dá baixa no disconnect de um drain pendente e responde
// Pruned quando o último terminar.
func (p *Pool) resolvePrunes(h ConnHandle) {
	for id, pending := range p.prunes {
		if !pending[h] {
			continue
		}
		delete(pending, h)
		if len(pending) == 0 {
			delete(p.prunes, id)
			p.events.Pruned(id)
		}
	}
}

// gcBlocks remove blocks vazios e sem waiters além do TTL.
func (p *Pool) gcBlocks(now time.Time) {
	for db, b := range p.blocks {
		if !b.empty() {
			b.emptySince = time.Time{}
			continue
		}
		if b.emptySince.IsZero() {
			b.emptySince = now
			continue
		}
		if now.Sub(b.emptySince) > p.cfg.IdleBlockTTL {
			delete(p.blocks, db)
		}
	}
}

func (p *Pool) emitStats(now time.Time) {
	if now.Sub(p.lastStats) < p.cfg.StatsInterval {
		return
	}
	p.lastStats = now

	s := p.snapshot()
	for db, b := range p.blocks {
		for st := StateConnecting; st < numConnStates; st++ {
			metrics.ConnectionsByState.WithLabelValues(db, st.String()).Set(float64(b.stateCount[st]))
		}
		metrics.WaitersQueued.WithLabelValues(db).Set(float64(len(b.waiters)))
		metrics.BlockTarget.WithLabelValues(db).Set(float64(b.target))
	}

	blob, err := json.Marshal(s)
	if err != nil {
		p.internalError(fmt.Sprintf("snapshot marshal: %v", err))
		return
	}
	metrics.SnapshotsTotal.Inc()
	p.events.Metrics(blob)
}

// ── Entrega de conexões ─────────────────────────────────────────────────

// serveOrPark entrega uma conexão recém-idle ao waiter mais antigo do
// seu block, ou a estaciona no conjunto idle.
func (p *Pool) serveOrPark(c *conn, now time.Time) {
	b := p.blocks[c.db]
	if b == nil {
		p.internalError(fmt.Sprintf("conn %d bound to unknown database %q", c.handle, c.db))
		return
	}
	if w := p.popValidWaiter(b, now); w != nil {
		p.setState(c, StateActive)
		p.grantGranted(b, w, c, now)
		return
	}
	b.pushIdle(c)
}

// popValidWaiter remove o waiter mais antigo ainda dentro do deadline,
// expirando os vencidos no caminho.
func (p *Pool) popValidWaiter(b *block, now time.Time) *waiter {
	for {
		w := b.popWaiter()
		if w == nil {
			return nil
		}
		if !w.expired(now) {
			return w
		}
		metrics.AcquiresTotal.WithLabelValues(b.db, "timeout").Inc()
		p.events.Failed(w.requestID, 0, &Error{
			Kind:     ErrorAcquireTimeout,
			DB:       b.db,
			WaitTime: now.Sub(w.arrivedAt),
		})
	}
}

// grant entrega uma conexão idle (já removida do conjunto idle) a um waiter.
func (p *Pool) grant(b *block, w *waiter, c *conn, now time.Time) {
	p.setState(c, StateActive)
	p.grantGranted(b, w, c, now)
}

// grantGranted finaliza a entrega de uma conexão já em estado active.
func (p *Pool) grantGranted(b *block, w *waiter, c *conn, now time.Time) {
	c.lastUsedAt = now
	c.acquiredAt = now
	p.owned[w.requestID] = c

	metrics.AcquiresTotal.WithLabelValues(b.db, "acquired").Inc()
	metrics.AcquireWaitDuration.WithLabelValues(b.db).Observe(now.Sub(w.arrivedAt).Seconds())
	p.events.Acquired(w.requestID, c.handle)
}

// ── Infraestrutura ──────────────────────────────────────────────────────

// ensureBlock cria o block de um database na primeira vez que ele aparece.
func (p *Pool) ensureBlock(db string, now time.Time) *block {
	b, ok := p.blocks[db]
	if !ok {
		b = newBlock(db, now)
		p.blocks[db] = b
	}
	return b
}

// setState move a conexão entre partições de estado do seu block atual
// e mantém a contagem global. Não usar quando a conexão troca de block.
func (p *Pool) setState(c *conn, to ConnState) {
	if c.state == to {
		return
	}
	b := p.blocks[c.db]
	if b == nil {
		p.internalError(fmt.Sprintf("conn %d in unknown block %q", c.handle, c.db))
		return
	}
	b.stateCount[c.state]--
	b.stateCount[to]++

	if liveState(c.state) && !liveState(to) {
		p.total--
	} else if !liveState(c.state) && liveState(to) {
		p.total++
	}

	c.state = to
	metrics.TransitionsTotal.WithLabelValues(c.db, to.String()).Inc()
}

// internalError reporta uma violação de invariante e dispara o shutdown.
func (p *Pool) internalError(detail string) {
	log.Printf("[pool] INTERNAL ERROR: %s", detail)
	p.events.Failed(0, 0, &Error{Kind: ErrorInternal, Detail: detail})
	p.internalFailure = true
}

// shutdown cancela waiters, desconecta tudo em melhor esforço e encerra.
func (p *Pool) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })

	for db, b := range p.blocks {
		for _, w := range b.waiters {
			metrics.AcquiresTotal.WithLabelValues(db, "shutdown").Inc()
			p.events.Failed(w.requestID, 0, &Error{Kind: ErrorShutdown, DB: db})
		}
		b.waiters = nil
	}
	p.owned = make(map[uint64]*conn)

	// Melhor esforço: o disconnect é emitido mas a conclusão não é aguardada.
	for _, c := range p.conns {
		switch c.state {
		case StateConnecting, StateIdle, StateActive, StateReconnecting:
			p.beginDisconnect(c, time.Now())
		}
	}

	log.Printf("[pool] shut down: %d connections told to disconnect", len(p.conns))
}
