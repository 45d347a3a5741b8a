package pacer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/plan"
	"github.com/Lingtaonju/trafficgen/internal/pool"
	"github.com/Lingtaonju/trafficgen/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoStub mirrors pool_test.go's stub: a loopback listener implementing
// the wire protocol's server half, for exercising the dispatcher without a
// shipped server binary.
type echoStub struct {
	ln net.Listener
	wg sync.WaitGroup
}

func startEchoStub(t *testing.T) *echoStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &echoStub{ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					h, err := wire.ReadHeader(c)
					if err != nil {
						return
					}
					if err := wire.WriteHeader(c, h); err != nil {
						return
					}
					if err := wire.WritePayload(c, make([]byte, h.Size), h.Size); err != nil {
						return
					}
					if h.IsSentinel() {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close(); s.wg.Wait() })
	return s
}

func (s *echoStub) addr() (string, uint16) {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(tcpAddr.Port)
}

func entriesOfSize(n int, size uint32) []plan.Entry {
	out := make([]plan.Entry, n)
	for i := range out {
		out[i] = plan.Entry{Size: size, ServerIndex: 0, DSCP: 0, RateMbps: 0, GapUs: 0}
	}
	return out
}

func TestDispatcherSendsEveryEntry(t *testing.T) {
	s := startEchoStub(t)
	ip, port := s.addr()
	p := pool.New(0, ip, port, nil, nil)
	_, err := p.Grow(4)
	require.NoError(t, err)

	pl := &plan.Plan{Entries: entriesOfSize(10, 64)}

	var mu sync.Mutex
	dispatched := map[int]bool{}
	d := New(pl, []*pool.Pool{p}, 0, nil, Hooks{
		OnDispatch: func(flowIndex, serverIndex int, start time.Time) {
			mu.Lock()
			dispatched[flowIndex] = true
			mu.Unlock()
		},
	})
	d.Sleep = func(time.Duration) {} // no-op: don't slow the test down

	d.Run()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dispatched, 10)
}

func TestDispatcherGrowsOnDemand(t *testing.T) {
	s := startEchoStub(t)
	ip, port := s.addr()
	p := pool.New(0, ip, port, nil, nil)
	// Start with zero connections; the dispatcher must grow on its own.

	pl := &plan.Plan{Entries: entriesOfSize(3, 64)}
	d := New(pl, []*pool.Pool{p}, 0, nil, Hooks{})
	d.Sleep = func(time.Duration) {}

	d.Run()

	length, _, _ := p.Snapshot()
	assert.GreaterOrEqual(t, length, 1)
}

func TestDispatcherDropsWhenGrowFails(t *testing.T) {
	p := pool.New(0, "127.0.0.1", 1, nil, nil) // port 1 refuses connections

	pl := &plan.Plan{Entries: entriesOfSize(2, 64)}

	var dropped int
	var reasons []error
	var mu sync.Mutex
	d := New(pl, []*pool.Pool{p}, 0, nil, Hooks{
		OnDrop: func(flowIndex, serverIndex int, reason error) {
			mu.Lock()
			dropped++
			reasons = append(reasons, reason)
			mu.Unlock()
		},
	})
	d.Sleep = func(time.Duration) {}

	d.Run()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, dropped)
	for _, reason := range reasons {
		var growErr *errs.GrowError
		assert.ErrorAs(t, reason, &growErr)
	}
}

func TestDispatcherAccumulatesDebtAcrossOverheadSleeps(t *testing.T) {
	s := startEchoStub(t)
	ip, port := s.addr()
	p := pool.New(0, ip, port, nil, nil)
	_, err := p.Grow(2)
	require.NoError(t, err)

	entries := []plan.Entry{
		{Size: 64, ServerIndex: 0, GapUs: 10},
		{Size: 64, ServerIndex: 0, GapUs: 10},
	}
	pl := &plan.Plan{Entries: entries}

	var slept []time.Duration
	d := New(pl, []*pool.Pool{p}, 50, nil, Hooks{}) // overhead bigger than any single gap
	d.Sleep = func(dur time.Duration) { slept = append(slept, dur) }

	d.Run()

	// Neither 10us gap alone exceeds the 50us overhead, but their sum (20us)
	// still doesn't, so no sleep should fire across this short plan.
	assert.Empty(t, slept)
}

func TestDispatcherSleepsOnceDebtExceedsOverhead(t *testing.T) {
	s := startEchoStub(t)
	ip, port := s.addr()
	p := pool.New(0, ip, port, nil, nil)
	_, err := p.Grow(1)
	require.NoError(t, err)

	entries := []plan.Entry{
		{Size: 64, ServerIndex: 0, GapUs: 1000},
	}
	pl := &plan.Plan{Entries: entries}

	var slept []time.Duration
	d := New(pl, []*pool.Pool{p}, 100, nil, Hooks{})
	d.Sleep = func(dur time.Duration) { slept = append(slept, dur) }

	d.Run()

	require.Len(t, slept, 1)
	assert.Equal(t, 900*time.Microsecond, slept[0])
}
