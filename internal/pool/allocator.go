package pool

import (
	"sort"
	"time"
)

// ── Alocador ────────────────────────────────────────────────────────────
//
// O alocador arbitra a capacidade global entre os blocks a cada passada
// do driver. Entradas: (waiters, idle, active, in-flight, demanda) por
// block. Saídas: um target por block e ações grow / shrink / rebind.
//
// Regras:
//  1. Targets proporcionais ao want de cada block dentro da folga
//     (C − ativos − in-flight), com arredondamento por maior resto,
//     preservando Σtargets ≤ C.
//  2. Guard de starvation: block com waiters e nada usável recebe ao
//     menos um slot, preemptando o idle do block com menor razão
//     demanda/idle quando não há folga.
//  3. Histerese: sem pressão global (nenhum outro block com waiters),
//     o target não encolhe abaixo do máximo móvel de demanda dos
//     últimos 30s, evitando thrash em cargas em rajada.

type actionKind int

const (
	actionGrow actionKind = iota
	actionShrink
	actionRebind
)

// action é uma ordem do alocador executada pelo driver.
type action struct {
	kind actionKind
	db   string // block a crescer, ou destino do rebind
	conn *conn  // conexão a desconectar ou revincular
	n    int    // quantos connects emitir (actionGrow)
}

// allocate recalcula targets e devolve as ações desta passada.
// É o único lugar que escreve block.target.
func (p *Pool) allocate(now time.Time) []action {
	blocks := p.sortedBlocks()
	if len(blocks) == 0 {
		return nil
	}

	// Demanda instantânea e folga global.
	totalWant := 0
	inUse := 0
	for _, b := range blocks {
		w := b.want()
		if w > p.cfg.MaxCapacity {
			w = p.cfg.MaxCapacity
		}
		b.recordWant(now, w)
		totalWant += w
		inUse += b.stateCount[StateActive] + b.stateCount[StateConnecting] +
			b.stateCount[StateReconnecting]
	}
	slack := p.cfg.MaxCapacity - inUse
	if slack < 0 {
		slack = 0
	}

	// Fatias proporcionais da folga, por maior resto.
	shares := p.proportionalShares(blocks, totalWant, slack)
	for i, b := range blocks {
		b.target = b.stateCount[StateActive] + shares[i]
	}

	// Histerese: segura o target no pico recente quando ninguém mais espera.
	p.applyHysteresis(blocks)

	// Guard de starvation: ninguém com waiters fica em zero.
	p.applyStarvationGuard(blocks)

	// Rebinds e disconnects saem primeiro; growth desconta o que já vem
	// por rebind para não provisionar em dobro.
	actions, incoming := p.shrinkActions(blocks, now)
	budget := p.cfg.MaxCapacity - p.total
	for _, b := range blocks {
		if len(b.waiters) == 0 || budget <= 0 {
			continue
		}
		n := b.target - b.live() - incoming[b.db]
		if n > len(b.waiters) {
			n = len(b.waiters)
		}
		if n > budget {
			n = budget
		}
		if n > 0 {
			actions = append(actions, action{kind: actionGrow, db: b.db, n: n})
			budget -= n
		}
	}
	return actions
}

// proportionalShares divide a folga proporcionalmente ao want de cada
// block, usando arredondamento por maior resto. Σshares ≤ slack.
func (p *Pool) proportionalShares(blocks []*block, totalWant, slack int) []int {
	shares := make([]int, len(blocks))
	if totalWant == 0 || slack == 0 {
		return shares
	}

	distribute := slack
	if totalWant < distribute {
		distribute = totalWant
	}

	type remainder struct {
		idx  int
		frac float64
	}
	var rems []remainder
	assigned := 0
	for i, b := range blocks {
		w := b.want()
		if w > p.cfg.MaxCapacity {
			w = p.cfg.MaxCapacity
		}
		exact := float64(distribute) * float64(w) / float64(totalWant)
		base := int(exact)
		if base > w {
			base = w
		}
		shares[i] = base
		assigned += base
		rems = append(rems, remainder{idx: i, frac: exact - float64(base)})
	}

	// Maior resto primeiro; empate resolvido pelo waiter de head mais antigo.
	sort.SliceStable(rems, func(a, c int) bool {
		if rems[a].frac != rems[c].frac {
			return rems[a].frac > rems[c].frac
		}
		return p.olderHeadWaiter(blocks[rems[a].idx], blocks[rems[c].idx])
	})
	for _, r := range rems {
		if assigned >= distribute {
			break
		}
		b := blocks[r.idx]
		w := b.want()
		if shares[r.idx] >= w {
			continue
		}
		shares[r.idx]++
		assigned++
	}
	return shares
}

// applyHysteresis impede que targets encolham abaixo do máximo móvel de
// 30s quando não há pressão global. Os pisos são aplicados em ordem e
// param quando esbarram no teto.
func (p *Pool) applyHysteresis(blocks []*block) {
	sum := 0
	for _, b := range blocks {
		sum += b.target
	}
	for _, b := range blocks {
		if p.othersHaveWaiters(blocks, b) {
			continue
		}
		floor := b.peakWant()
		if floor > p.cfg.MaxCapacity {
			floor = p.cfg.MaxCapacity
		}
		if b.target >= floor {
			continue
		}
		grow := floor - b.target
		if sum+grow > p.cfg.MaxCapacity {
			grow = p.cfg.MaxCapacity - sum
		}
		if grow <= 0 {
			continue
		}
		b.target += grow
		sum += grow
	}
}

// applyStarvationGuard garante um slot para blocks com waiters e nada
// usável, preemptando o idle menos demandado quando não há folga.
func (p *Pool) applyStarvationGuard(blocks []*block) {
	sum := 0
	for _, b := range blocks {
		sum += b.target
	}
	for _, b := range blocks {
		if len(b.waiters) == 0 || b.usable() > 0 || b.target > 0 {
			continue
		}
		if sum < p.cfg.MaxCapacity {
			b.target = 1
			sum++
			continue
		}
		if victim := p.preemptionVictim(blocks, b); victim != nil {
			victim.target--
			b.target = 1
		}
	}
}

// preemptionVictim escolhe o block que perde um slot idle para o block
// faminto: menor razão demanda/idle, empate pelo idle mais antigo.
func (p *Pool) preemptionVictim(blocks []*block, starved *block) *block {
	var victim *block
	for _, b := range blocks {
		if b == starved || b.stateCount[StateIdle] == 0 || b.target == 0 {
			continue
		}
		if victim == nil {
			victim = b
			continue
		}
		br, vr := b.demandPerIdle(), victim.demandPerIdle()
		if br < vr {
			victim = b
		} else if br == vr {
			bc, vc := b.lruIdle(), victim.lruIdle()
			if bc != nil && vc != nil && bc.lastUsedAt.Before(vc.lastUsedAt) {
				victim = b
			}
		}
	}
	return victim
}

// shrinkActions devolve as ações de encolhimento e de GC de idle, além
// do número de conexões já a caminho de cada block por rebind.
func (p *Pool) shrinkActions(blocks []*block, now time.Time) ([]action, map[string]int) {
	var actions []action
	incoming := make(map[string]int)
	for _, b := range blocks {
		// Excesso sobre o target sai primeiro, do menos usado para o mais.
		excess := b.live() - b.target
		shed := make(map[*conn]bool)
		for excess > 0 {
			c := p.nextLRUIdle(b, shed)
			if c == nil {
				break
			}
			shed[c] = true
			excess--
			if dest := p.rebindDestination(blocks, b, incoming); dest != nil {
				incoming[dest.db]++
				actions = append(actions, action{kind: actionRebind, db: dest.db, conn: c})
			} else {
				actions = append(actions, action{kind: actionShrink, conn: c})
			}
		}

		// GC de idle: conexões paradas além do TTL saem independente do
		// target, exceto a última de um block com atividade recente.
		for _, c := range b.idle {
			if shed[c] || c.poisoned {
				continue
			}
			if c.idleFor(now) < p.cfg.MinIdleTime {
				continue
			}
			remaining := b.live() - len(shed)
			if remaining <= 1 && b.recentlyActive(now, p.cfg.MinIdleTime) {
				continue
			}
			shed[c] = true
			actions = append(actions, action{kind: actionShrink, conn: c})
		}
	}
	return actions, incoming
}

// nextLRUIdle retorna a próxima idle menos recentemente usada ainda não marcada.
func (p *Pool) nextLRUIdle(b *block, shed map[*conn]bool) *conn {
	for _, c := range b.idle {
		if !c.poisoned && !shed[c] {
			return c
		}
	}
	return nil
}

// rebindDestination escolhe o block que recebe um rebind: precisa ter
// waiters, nenhuma idle e espaço abaixo do target contando rebinds já
// planejados; empate pelo waiter de head mais antigo.
func (p *Pool) rebindDestination(blocks []*block, from *block, incoming map[string]int) *block {
	var dest *block
	for _, b := range blocks {
		if b == from || len(b.waiters) == 0 || b.stateCount[StateIdle] > 0 {
			continue
		}
		if b.live()+incoming[b.db] >= b.target {
			continue
		}
		if dest == nil || p.olderHeadWaiter(b, dest) {
			dest = b
		}
	}
	return dest
}

// olderHeadWaiter diz se o head waiter de a é mais antigo que o de b.
func (p *Pool) olderHeadWaiter(a, b *block) bool {
	aw, bw := a.headWaiter(), b.headWaiter()
	if aw == nil {
		return false
	}
	if bw == nil {
		return true
	}
	return aw.arrivedAt.Before(bw.arrivedAt)
}

// othersHaveWaiters diz se algum block além de b tem waiters (pressão global).
func (p *Pool) othersHaveWaiters(blocks []*block, b *block) bool {
	for _, other := range blocks {
		if other != b && len(other.waiters) > 0 {
			return true
		}
	}
	return false
}

// sortedBlocks devolve os blocks em ordem determinística de nome.
func (p *Pool) sortedBlocks() []*block {
	blocks := make([]*block, 0, len(p.blocks))
	for _, b := range p.blocks {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].db < blocks[j].db })
	return blocks
}
