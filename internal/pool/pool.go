// Package pool implements the per-server connection pool (C5) and its
// receiver goroutines (C6): a growable set of persistent TCP sessions,
// availability bookkeeping shared between the dispatcher and one receiver
// per connection, and graceful termination via the in-band sentinel.
package pool

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/wire"
	"go.uber.org/zap"
)

// Node is one connection in a pool's append-only sequence. Nodes are
// never removed mid-run; a node's lifetime is bounded by its owning
// pool's, so it carries a back-reference rather than an independent
// heap allocation that could outlive the pool.
type Node struct {
	conn      net.Conn
	connected atomic.Bool
	busy      atomic.Bool
	pool      *Pool
	index     int
}

// Conn returns the node's underlying connection, for the dispatcher to
// write a request header to.
func (n *Node) Conn() net.Conn { return n.conn }

// Connected reports whether the node's receiver is still running.
func (n *Node) Connected() bool { return n.connected.Load() }

// OnComplete is invoked by a node's receiver when a non-sentinel flow
// finishes: flowIndex is the zero-based plan index (header ID minus one),
// stop is the completion instant.
type OnComplete func(flowIndex int, stop time.Time)

// Pool is one server's connection pool: an append-only sequence of nodes,
// a free-pool view over it, and the mutex guarding both.
type Pool struct {
	ServerIP   string
	ServerPort uint16
	Index      int

	mu           sync.Mutex
	nodes        []*Node
	availableLen int
	flowFinished int

	wg         sync.WaitGroup
	logger     *zap.SugaredLogger
	onComplete OnComplete
}

// New creates an empty pool for one server. onComplete may be nil.
func New(index int, ip string, port uint16, logger *zap.SugaredLogger, onComplete OnComplete) *Pool {
	return &Pool{
		ServerIP:   ip,
		ServerPort: port,
		Index:      index,
		logger:     logger,
		onComplete: onComplete,
	}
}

func (p *Pool) addr() string {
	return fmt.Sprintf("%s:%d", p.ServerIP, p.ServerPort)
}

// Grow attempts to open k additional TCP sessions. Individual dial
// failures are logged and skipped; Grow only fails if none of the k
// attempts succeeded. It returns the number of sessions actually added.
func (p *Pool) Grow(k int) (int, error) {
	added := 0
	var lastErr error

	for i := 0; i < k; i++ {
		conn, err := net.Dial("tcp", p.addr())
		if err != nil {
			lastErr = err
			if p.logger != nil {
				p.logger.Warnf("pool %d: failed to connect to %s: %v", p.Index, p.addr(), err)
			}
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		p.mu.Lock()
		node := &Node{conn: conn, pool: p, index: len(p.nodes)}
		node.connected.Store(true)
		p.nodes = append(p.nodes, node)
		p.availableLen++
		p.mu.Unlock()

		p.wg.Add(1)
		go p.receive(node)
		added++
	}

	if added == 0 {
		return 0, fmt.Errorf("pool %d: no sessions established to %s: %w", p.Index, p.addr(), lastErr)
	}
	return added, nil
}

// Acquire returns the first connected, non-busy node, or nil if none is
// free. It does not mark the node busy: the dispatcher does that in the
// same critical section it records the flow's start time, so the
// receiver cannot race past the header before the start time lands.
func (p *Pool) Acquire() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.connected.Load() && !n.busy.Load() {
			return n
		}
	}
	return nil
}

// BeginDispatch marks node busy and decrements the free-pool count,
// atomically with recording the flow's start time, then returns that
// instant.
func (p *Pool) BeginDispatch(node *Node) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableLen--
	node.busy.Store(true)
	return time.Now()
}

// DispatchSentinel decrements the free-pool count for a node about to
// receive a termination header. The node itself is not marked busy: it
// will close once its receiver observes the sentinel.
func (p *Pool) DispatchSentinel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableLen--
}

// Snapshot returns the pool's current length and available count under
// lock, for metrics and tests.
func (p *Pool) Snapshot() (length, available, finished int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes), p.availableLen, p.flowFinished
}

// Nodes returns the pool's node slice. Callers must not mutate it; it is
// exposed for shutdown (sending the sentinel to every still-connected
// node) and for tests asserting on final node state.
func (p *Pool) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// JoinAll blocks until every receiver goroutine across this pool's nodes
// has exited.
func (p *Pool) JoinAll() {
	p.wg.Wait()
}

// receive is the per-connection receiver goroutine (C6): it blocks
// reading a response header and its payload, updates availability, and
// records the flow's completion time, until it sees the sentinel or the
// connection errors out.
func (p *Pool) receive(node *Node) {
	defer p.wg.Done()
	defer func() {
		_ = node.conn.Close()
		node.connected.Store(false)
		node.busy.Store(false)
	}()

	for {
		h, err := wire.ReadHeader(node.conn)
		if err != nil {
			if p.logger != nil {
				p.logger.Debugf("pool %d: receiver %d: %v", p.Index, node.index, &errs.IoError{Op: "read metadata", Err: err})
			}
			return
		}
		if err := wire.DrainPayload(node.conn, h.Size); err != nil {
			if p.logger != nil {
				p.logger.Debugf("pool %d: receiver %d: %v", p.Index, node.index, &errs.IoError{Op: "receive flow", Err: err})
			}
			return
		}

		stop := time.Now()
		node.busy.Store(false)

		p.mu.Lock()
		if !h.IsSentinel() {
			p.availableLen++
			p.flowFinished++
		}
		p.mu.Unlock()

		if h.IsSentinel() {
			return
		}
		if p.onComplete != nil {
			p.onComplete(int(h.ID)-1, stop)
		}
	}
}
