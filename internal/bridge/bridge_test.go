package bridge

import (
	"testing"
	"time"

	"github.com/joao-brasil/tenant-pool/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(capacity int) pool.Config {
	cfg := pool.DefaultConfig(capacity)
	cfg.TickInterval = 2 * time.Millisecond
	cfg.StatsInterval = 20 * time.Millisecond
	cfg.MinIdleTime = time.Hour
	return cfg
}

// Os códigos de evento são contrato de wire com o host: nunca mudam.
func TestEventCodesAreWireStable(t *testing.T) {
	assert.Equal(t, EventCode(0), EventAcquired)
	assert.Equal(t, EventCode(1), EventPerformConnect)
	assert.Equal(t, EventCode(2), EventPerformDisconnect)
	assert.Equal(t, EventCode(3), EventPerformReconnect)
	assert.Equal(t, EventCode(4), EventPruned)
	assert.Equal(t, EventCode(5), EventFailed)
	assert.Equal(t, EventCode(6), EventMetrics)
}

// Os códigos de variante de métrica seguem os estados de conexão.
func TestMetricCodesAreWireStable(t *testing.T) {
	assert.Equal(t, uint32(0), METRIC_CONNECTING)
	assert.Equal(t, uint32(1), METRIC_IDLE)
	assert.Equal(t, uint32(2), METRIC_ACTIVE)
	assert.Equal(t, uint32(3), METRIC_RECONNECTING)
	assert.Equal(t, uint32(4), METRIC_DISCONNECTING)
	assert.Equal(t, uint32(5), METRIC_CLOSED)
	assert.Equal(t, uint32(6), METRIC_FAILED)
}

// Um acquire completo de ponta a ponta: PerformConnect, Completed,
// Acquired, Release, Close.
func TestBridgeRoundTrip(t *testing.T) {
	br, err := New(testConfig(2))
	require.NoError(t, err)

	require.NoError(t, br.Acquire(1, "a"))

	var connectEv Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			if ev.Code == EventPerformConnect {
				connectEv = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected PerformConnect")
	assert.Equal(t, "a", connectEv.DB)

	require.NoError(t, br.Completed(connectEv.Handle))

	var acquiredEv Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			if ev.Code == EventAcquired {
				acquiredEv = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected Acquired")
	assert.Equal(t, uint64(1), acquiredEv.RequestID)
	assert.Equal(t, connectEv.Handle, acquiredEv.Handle)

	require.NoError(t, br.Release(1))

	br.Close()

	// O canal de eventos fecha após o shutdown; a conexão idle recebe
	// PerformDisconnect em melhor esforço no caminho.
	sawDisconnect := false
	for ev := range br.Events() {
		if ev.Code == EventPerformDisconnect {
			sawDisconnect = true
		}
	}
	assert.True(t, sawDisconnect, "idle connection should be told to disconnect on shutdown")

	// Comandos após o fechamento falham com o erro de shutdown.
	err = br.Acquire(2, "a")
	require.Error(t, err)
	assert.True(t, pool.IsShutdown(err))
}

// Falhas chegam com o kind preservado para o host distinguir timeout
// de falha de connector.
func TestBridgeFailedCarriesKind(t *testing.T) {
	br, err := New(testConfig(1))
	require.NoError(t, err)
	defer func() {
		br.Close()
		for range br.Events() {
		}
	}()

	// Satura a única conexão.
	require.NoError(t, br.Acquire(1, "a"))
	var handle pool.ConnHandle
	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			if ev.Code == EventPerformConnect {
				handle = ev.Handle
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected PerformConnect")
	require.NoError(t, br.Completed(handle))

	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			return ev.Code == EventAcquired
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected Acquired")

	require.NoError(t, br.AcquireWithin(2, "a", 30*time.Millisecond))

	var failedEv Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			if ev.Code == EventFailed {
				failedEv = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected Failed")
	assert.Equal(t, uint64(2), failedEv.RequestID)
	require.NotNil(t, failedEv.Err)
	assert.True(t, pool.IsTimeout(failedEv.Err))
}

// Snapshots de métricas fluem pelo bridge como blobs opacos.
func TestBridgeMetricsFlow(t *testing.T) {
	br, err := New(testConfig(2))
	require.NoError(t, err)
	defer func() {
		br.Close()
		for range br.Events() {
		}
	}()

	require.Eventually(t, func() bool {
		select {
		case ev := <-br.Events():
			return ev.Code == EventMetrics && len(ev.Blob) > 0
		default:
		}
		return false
	}, 2*time.Second, time.Millisecond, "expected a metrics snapshot")
}
