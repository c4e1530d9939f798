// Package main is the entrypoint for the load generator.
// It boots an in-process pool core with a synthetic connector and
// drives a configurable acquire/release mix against it, printing a
// summary at the end.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/tenant-pool/internal/bridge"
	"github.com/joao-brasil/tenant-pool/internal/pool"
)

var (
	totalAcquires  = flag.Int("total-acquires", 1000, "Total acquire operations to issue")
	databases      = flag.Int("databases", 5, "Number of distinct databases to target")
	capacity       = flag.Int("capacity", 16, "Global connection ceiling")
	workers        = flag.Int("workers", 32, "Concurrent client workers")
	holdTime       = flag.Duration("hold-time", 5*time.Millisecond, "How long each client holds a connection")
	connectLatency = flag.Duration("connect-latency", 2*time.Millisecond, "Simulated backend connect latency")
	discardRatio   = flag.Float64("discard-ratio", 0.01, "Fraction of releases issued as discards")
	acquireTimeout = flag.Duration("acquire-timeout", 10*time.Second, "Per-acquire deadline")
)

// results acumula os desfechos observados.
type results struct {
	acquired  atomic.Uint64
	timeouts  atomic.Uint64
	failures  atomic.Uint64
	connects  atomic.Uint64
	rebinds   atomic.Uint64
	shutdowns atomic.Uint64
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := pool.DefaultConfig(*capacity)
	cfg.AcquireTimeout = *acquireTimeout
	cfg.MinIdleTime = 2 * time.Second
	cfg.StatsInterval = time.Second

	br, err := bridge.New(cfg)
	if err != nil {
		log.Fatalf("[loadgen] Failed to boot pool core: %v", err)
	}

	var (
		res     results
		mu      sync.Mutex
		pending = make(map[uint64]chan bridge.Event)
	)

	expect := func(id uint64) <-chan bridge.Event {
		ch := make(chan bridge.Event, 1)
		mu.Lock()
		pending[id] = ch
		mu.Unlock()
		return ch
	}

	// Host de eventos: connector sintético mais entrega de respostas.
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		for ev := range br.Events() {
			switch ev.Code {
			case bridge.EventPerformConnect:
				res.connects.Add(1)
				go func(h pool.ConnHandle) {
					time.Sleep(*connectLatency)
					br.Completed(h)
				}(ev.Handle)
			case bridge.EventPerformReconnect:
				res.rebinds.Add(1)
				go func(h pool.ConnHandle) {
					time.Sleep(*connectLatency)
					br.Completed(h)
				}(ev.Handle)
			case bridge.EventPerformDisconnect:
				go br.Completed(ev.Handle)
			case bridge.EventAcquired, bridge.EventFailed:
				mu.Lock()
				ch := pending[ev.RequestID]
				delete(pending, ev.RequestID)
				mu.Unlock()
				if ch != nil {
					ch <- ev
				}
			}
		}
	}()

	log.Printf("[loadgen] Starting: %d acquires, %d databases, capacity=%d, %d workers",
		*totalAcquires, *databases, *capacity, *workers)
	start := time.Now()

	var nextID atomic.Uint64
	var issued atomic.Int64
	issued.Store(int64(*totalAcquires))

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for issued.Add(-1) >= 0 {
				id := nextID.Add(1)
				db := fmt.Sprintf("tenant_%d", rng.Intn(*databases))

				reply := expect(id)
				if err := br.Acquire(id, db); err != nil {
					res.shutdowns.Add(1)
					return
				}

				ev := <-reply
				if ev.Code == bridge.EventFailed {
					switch {
					case ev.Err == nil:
						res.failures.Add(1)
					case pool.IsTimeout(ev.Err):
						res.timeouts.Add(1)
					case pool.IsShutdown(ev.Err):
						res.shutdowns.Add(1)
					default:
						res.failures.Add(1)
					}
					continue
				}

				res.acquired.Add(1)
				time.Sleep(*holdTime)

				if rng.Float64() < *discardRatio {
					br.Discard(id)
				} else {
					br.Release(id)
				}
			}
		}(int64(w) + 1)
	}

	wg.Wait()
	elapsed := time.Since(start)

	br.Close()
	<-hostDone

	log.Printf("[loadgen] Done in %s (%.0f acquires/sec)",
		elapsed, float64(res.acquired.Load())/elapsed.Seconds())
	log.Printf("[loadgen]   acquired:  %d", res.acquired.Load())
	log.Printf("[loadgen]   timeouts:  %d", res.timeouts.Load())
	log.Printf("[loadgen]   failures:  %d", res.failures.Load())
	log.Printf("[loadgen]   shutdowns: %d", res.shutdowns.Load())
	log.Printf("[loadgen]   connects:  %d (rebinds: %d)", res.connects.Load(), res.rebinds.Load())
}
