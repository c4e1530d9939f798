package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Os testes do alocador dirigem dispatch e pass diretamente, sem a
// goroutine do driver, com relógios fixos: cada passada é determinística.

func syncPool(t *testing.T, capacity int) (*Pool, *fakeConnector, *fakeSink) {
	t.Helper()
	conn := &fakeConnector{}
	sink := &fakeSink{}
	p, err := New(testConfig(capacity), conn, sink)
	require.NoError(t, err)
	p.lastStats = time.Now()
	p.lastDemand = p.lastStats
	return p, conn, sink
}

func syncAcquire(p *Pool, id uint64, db string, now time.Time) {
	p.dispatch(Command{Kind: CmdAcquire, RequestID: id, DB: db}, now)
}

func syncComplete(p *Pool, h ConnHandle, now time.Time) {
	p.dispatch(Command{Kind: CmdCompleted, Handle: h}, now)
}

func syncRelease(p *Pool, id uint64, now time.Time) {
	p.dispatch(Command{Kind: CmdRelease, RequestID: id}, now)
}

func connectsByDB(conn *fakeConnector) map[string]int {
	out := make(map[string]int)
	for _, c := range conn.callsFor("connect") {
		out[c.db]++
	}
	return out
}

// Demanda 6:2 dentro de um teto de 10 rende targets 6 e 2.
func TestAllocatorProportionalTargets(t *testing.T) {
	p, conn, _ := syncPool(t, 10)
	t0 := time.Now()

	for id := uint64(1); id <= 6; id++ {
		syncAcquire(p, id, "a", t0)
	}
	for id := uint64(7); id <= 8; id++ {
		syncAcquire(p, id, "b", t0.Add(time.Millisecond))
	}

	p.pass(t0.Add(2 * time.Millisecond))

	byDB := connectsByDB(conn)
	assert.Equal(t, 6, byDB["a"])
	assert.Equal(t, 2, byDB["b"])
	assert.Equal(t, 6, p.blocks["a"].target)
	assert.Equal(t, 2, p.blocks["b"].target)
}

// Com demanda 3:3 e teto 5, o maior resto vai para o head waiter mais antigo.
func TestAllocatorLargestRemainderTieBreak(t *testing.T) {
	p, conn, _ := syncPool(t, 5)
	t0 := time.Now()

	for id := uint64(1); id <= 3; id++ {
		syncAcquire(p, id, "a", t0)
	}
	for id := uint64(4); id <= 6; id++ {
		syncAcquire(p, id, "b", t0.Add(time.Millisecond))
	}

	p.pass(t0.Add(2 * time.Millisecond))

	byDB := connectsByDB(conn)
	assert.Equal(t, 3, byDB["a"], "older head waiter wins the remainder slot")
	assert.Equal(t, 2, byDB["b"])
	assert.Equal(t, 5, byDB["a"]+byDB["b"], "sum of targets must not exceed capacity")
}

// O máximo móvel de 30s segura conexões idle; passada a janela, o
// target cai e o excesso é desconectado.
func TestAllocatorHysteresis(t *testing.T) {
	p, conn, _ := syncPool(t, 4)
	t0 := time.Now()

	for id := uint64(1); id <= 3; id++ {
		syncAcquire(p, id, "a", t0)
	}
	p.pass(t0)
	require.Equal(t, 3, conn.count("connect"))
	for _, c := range conn.callsFor("connect") {
		syncComplete(p, c.handle, t0)
	}
	for id := uint64(1); id <= 3; id++ {
		syncRelease(p, id, t0.Add(time.Millisecond))
	}

	// Dentro da janela: o pico de demanda 3 segura as três idle.
	p.pass(t0.Add(time.Second))
	assert.Equal(t, 0, conn.count("disconnect"))
	assert.Equal(t, 3, p.blocks["a"].target)

	// Fora da janela: sem demanda e sem pico, o target cai a zero.
	p.pass(t0.Add(40 * time.Second))
	assert.Equal(t, 3, conn.count("disconnect"))
}

// Block faminto recebe o idle menos demandado de outro block por rebind;
// o excedente restante é desconectado.
func TestAllocatorStarvedBlockReceivesRebind(t *testing.T) {
	p, conn, sink := syncPool(t, 2)
	t0 := time.Now()

	syncAcquire(p, 1, "a", t0)
	syncAcquire(p, 2, "a", t0)
	p.pass(t0)
	require.Equal(t, 2, conn.count("connect"))
	for _, c := range conn.callsFor("connect") {
		syncComplete(p, c.handle, t0)
	}
	syncRelease(p, 1, t0.Add(time.Millisecond))
	syncRelease(p, 2, t0.Add(2*time.Millisecond))

	syncAcquire(p, 3, "b", t0.Add(3*time.Millisecond))
	p.pass(t0.Add(4 * time.Millisecond))

	rebinds := conn.callsFor("reconnect")
	require.Len(t, rebinds, 1)
	assert.Equal(t, "b", rebinds[0].db)

	// A LRU (primeira liberada) é a escolhida para o rebind.
	lru, _ := sink.acquiredFor(1)
	assert.Equal(t, lru, rebinds[0].handle)

	syncComplete(p, rebinds[0].handle, t0.Add(5*time.Millisecond))
	h, ok := sink.acquiredFor(3)
	require.True(t, ok)
	assert.Equal(t, rebinds[0].handle, h)
}

// O GC de idle nunca derruba a última conexão de um block com
// atividade recente.
func TestIdleGCKeepsLastRecentlyActive(t *testing.T) {
	cfg := testConfig(4)
	cfg.MinIdleTime = 100 * time.Millisecond
	conn := &fakeConnector{}
	sink := &fakeSink{}
	p, err := New(cfg, conn, sink)
	require.NoError(t, err)
	p.lastStats = time.Now()
	p.lastDemand = p.lastStats

	t0 := time.Now()
	b := p.ensureBlock("a", t0)

	// Uma idle parada além do TTL, mas com acquire recente no block.
	c := newConn(1, "a", t0.Add(-time.Second))
	c.state = StateIdle
	c.lastUsedAt = t0.Add(-time.Second)
	p.conns[c.handle] = c
	b.attach(c)
	b.pushIdle(c)
	p.total++
	b.lastAcquireAt = t0.Add(-10 * time.Millisecond)
	b.recordWant(t0.Add(-10*time.Millisecond), 1)

	p.pass(t0)
	assert.Equal(t, 0, conn.count("disconnect"), "last conn of an active block survives GC")

	// Sem atividade recente, a mesma conexão é coletada.
	p.pass(t0.Add(200 * time.Millisecond))
	assert.Equal(t, 1, conn.count("disconnect"))
}

// Blocks vazios além do TTL são removidos pelo driver.
func TestEmptyBlockRemoved(t *testing.T) {
	cfg := testConfig(2)
	cfg.IdleBlockTTL = 50 * time.Millisecond
	conn := &fakeConnector{}
	sink := &fakeSink{}
	p, err := New(cfg, conn, sink)
	require.NoError(t, err)
	p.lastStats = time.Now()
	p.lastDemand = p.lastStats

	t0 := time.Now()
	syncAcquire(p, 1, "a", t0)
	p.pass(t0)
	require.Equal(t, 1, conn.count("connect"))
	syncComplete(p, conn.callsFor("connect")[0].handle, t0)
	syncRelease(p, 1, t0)

	// Drena a idle para esvaziar o block.
	p.dispatch(Command{Kind: CmdPrune, RequestID: 9, DB: "a"}, t0)
	syncComplete(p, conn.callsFor("disconnect")[0].handle, t0)

	p.pass(t0.Add(time.Millisecond))
	require.Contains(t, p.blocks, "a")

	p.pass(t0.Add(200 * time.Millisecond))
	assert.NotContains(t, p.blocks, "a")
}
