package pool

import "time"

// demandWindow é a janela do máximo móvel de demanda usada pela histerese
// do alocador.
const demandWindow = 30 * time.Second

// waiter é um acquire pendente aguardando uma conexão.
type waiter struct {
	requestID uint64
	arrivedAt time.Time

	// deadline zero significa sem limite.
	deadline time.Time

	// retried marca que uma falha de connect já foi absorvida por este waiter.
	// A segunda falha é surfaced como AcquireFailed.
	retried bool
}

func (w *waiter) expired(now time.Time) bool {
	return !w.deadline.IsZero() && now.After(w.deadline)
}

// demandSample registra o want observado em um instante, para o máximo móvel.
type demandSample struct {
	at   time.Time
	want int
}

// block é a partição do estado do pool para um único database.
// Todo acesso acontece no loop do driver.
type block struct {
	db string

	// conns contém toda conexão vinculada a este database, em qualquer estado.
	conns map[ConnHandle]*conn

	// idle mantém as conexões disponíveis, a menos recentemente usada primeiro.
	idle []*conn

	// waiters é a fila FIFO de acquires pendentes.
	waiters []*waiter

	// stateCount particiona conns por estado.
	stateCount [numConnStates]int

	// target é o teto de capacidade atribuído pelo alocador.
	// Apenas o alocador escreve aqui.
	target int

	// ── estimador de demanda ──
	acquires      int           // acquires desde a última amostra
	demandEWMA    float64       // taxa de acquire suavizada (peso 0.5 por intervalo)
	holdEWMA      time.Duration // hold time médio suavizado
	peaks         []demandSample
	lastAcquireAt time.Time

	// emptySince marca desde quando o block está sem conexões e sem waiters.
	emptySince time.Time
}

func newBlock(db string, now time.Time) *block {
	return &block{
		db:         db,
		conns:      make(map[ConnHandle]*conn),
		emptySince: now,
	}
}

// attach adiciona a conexão às partições do block.
func (b *block) attach(c *conn) {
	b.conns[c.handle] = c
	b.stateCount[c.state]++
}

// detach remove a conexão das partições do block.
func (b *block) detach(c *conn) {
	delete(b.conns, c.handle)
	b.stateCount[c.state]--
	b.removeIdle(c)
}

// live retorna o número de conexões que contam contra a capacidade do block.
func (b *block) live() int {
	return b.stateCount[StateConnecting] + b.stateCount[StateIdle] +
		b.stateCount[StateActive] + b.stateCount[StateReconnecting]
}

// usable retorna conexões que podem (vir a) servir waiters deste block.
func (b *block) usable() int {
	return b.live()
}

// empty diz se o block não tem conexões nem waiters.
func (b *block) empty() bool {
	return len(b.conns) == 0 && len(b.waiters) == 0
}

// ── fila de waiters ─────────────────────────────────────────────────────

// enqueueWaiter adiciona um acquire pendente ao fim da fila FIFO.
func (b *block) enqueueWaiter(w *waiter) {
	b.waiters = append(b.waiters, w)
}

// popWaiter remove e retorna o waiter mais antigo, ou nil.
func (b *block) popWaiter() *waiter {
	if len(b.waiters) == 0 {
		return nil
	}
	w := b.waiters[0]
	b.waiters = b.waiters[1:]
	return w
}

// headWaiter retorna o waiter mais antigo sem removê-lo, ou nil.
func (b *block) headWaiter() *waiter {
	if len(b.waiters) == 0 {
		return nil
	}
	return b.waiters[0]
}

// expireWaiters remove e retorna todos os waiters cujo deadline passou.
func (b *block) expireWaiters(now time.Time) []*waiter {
	var expired []*waiter
	remaining := b.waiters[:0]
	for _, w := range b.waiters {
		if w.expired(now) {
			expired = append(expired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	b.waiters = remaining
	return expired
}

// ── conjunto idle ───────────────────────────────────────────────────────

// pushIdle adiciona uma conexão ao fim do conjunto idle (mais recente no fim).
func (b *block) pushIdle(c *conn) {
	b.idle = append(b.idle, c)
}

// popIdle remove e retorna a conexão idle mais recentemente usada,
// pulando as envenenadas. Retorna nil se nenhuma estiver disponível.
func (b *block) popIdle() *conn {
	for i := len(b.idle) - 1; i >= 0; i-- {
		c := b.idle[i]
		if c.poisoned {
			continue
		}
		b.idle = append(b.idle[:i], b.idle[i+1:]...)
		return c
	}
	return nil
}

// lruIdle retorna a conexão idle menos recentemente usada, ou nil.
func (b *block) lruIdle() *conn {
	for _, c := range b.idle {
		if !c.poisoned {
			return c
		}
	}
	return nil
}

// removeIdle remove uma conexão específica do conjunto idle, se presente.
func (b *block) removeIdle(c *conn) {
	for i, ic := range b.idle {
		if ic == c {
			b.idle = append(b.idle[:i], b.idle[i+1:]...)
			return
		}
	}
}

// ── estimador de demanda ────────────────────────────────────────────────

// recordAcquire registra um acquire para o estimador.
func (b *block) recordAcquire(now time.Time) {
	b.acquires++
	b.lastAcquireAt = now
}

// recordHold alimenta o EWMA de hold time com a duração de uma posse concluída.
func (b *block) recordHold(held time.Duration) {
	if b.holdEWMA == 0 {
		b.holdEWMA = held
		return
	}
	b.holdEWMA = (b.holdEWMA + held) / 2
}

// sampleDemand atualiza o EWMA da taxa de acquire. Decaimento de 0.5 por
// intervalo de amostragem: um acquire feito há um intervalo contribui
// com ≈metade do peso de um feito agora.
func (b *block) sampleDemand() {
	b.demandEWMA = (b.demandEWMA + float64(b.acquires)) / 2
	b.acquires = 0
}

// recordWant amostra o want atual para o máximo móvel da histerese.
func (b *block) recordWant(now time.Time, want int) {
	b.peaks = append(b.peaks, demandSample{at: now, want: want})
	cutoff := now.Add(-demandWindow)
	for len(b.peaks) > 0 && b.peaks[0].at.Before(cutoff) {
		b.peaks = b.peaks[1:]
	}
}

// peakWant retorna o máximo móvel de demanda dentro da janela de histerese.
func (b *block) peakWant() int {
	peak := 0
	for _, s := range b.peaks {
		if s.want > peak {
			peak = s.want
		}
	}
	return peak
}

// want é a demanda instantânea do block: waiters mais conexões em uso.
// O alocador limita o valor ao teto global; o pico recente entra como
// piso de histerese, não como cap.
func (b *block) want() int {
	return len(b.waiters) + b.stateCount[StateActive]
}

// demandPerIdle é a razão usada pelo guard de starvation para escolher
// a vítima de preempção: quanto menor, menos o block precisa do seu idle.
func (b *block) demandPerIdle() float64 {
	idle := b.stateCount[StateIdle]
	if idle == 0 {
		return b.demandEWMA
	}
	return b.demandEWMA / float64(idle)
}

// recentlyActive diz se o block viu um acquire dentro da janela dada.
func (b *block) recentlyActive(now time.Time, window time.Duration) bool {
	return !b.lastAcquireAt.IsZero() && now.Sub(b.lastAcquireAt) < window
}
