// Package pacer implements the dispatcher (C7): it walks the workload
// plan, sleeps to the synthesized arrival schedule while compensating for
// sleep-syscall overhead, acquires a free connection per server pool, and
// writes the request header.
package pacer

import (
	"time"

	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/plan"
	"github.com/Lingtaonju/trafficgen/internal/pool"
	"github.com/Lingtaonju/trafficgen/internal/wire"
	"go.uber.org/zap"
)

// Sleeper abstracts time.Sleep so tests can substitute a fast/no-op
// implementation and still assert on the accumulated debt logic.
type Sleeper func(d time.Duration)

// Hooks lets the caller observe dispatch events without the pacer
// depending on metrics/tracing directly.
type Hooks struct {
	// OnDispatch is called right after a header is written, with the
	// plan index, the server it went to, and the start time recorded
	// under the pool lock.
	OnDispatch func(flowIndex int, serverIndex int, start time.Time)
	// OnDrop is called when a plan entry could not be sent at all
	// (no free connection and growth failed).
	OnDrop func(flowIndex int, serverIndex int, reason error)
	// OnWriteError is called when the header write itself failed after
	// a connection was already marked busy.
	OnWriteError func(flowIndex int, serverIndex int, err error)
}

// Dispatcher drives one plan against a fixed set of per-server pools.
type Dispatcher struct {
	Plan        *plan.Plan
	Pools       []*pool.Pool
	OverheadUs  float64
	Sleep       Sleeper
	Logger      *zap.SugaredLogger
	Hooks       Hooks
	GrowOnEmpty int // sessions to request when a pool has none free; spec default is 1
}

// New builds a Dispatcher with the real time.Sleep and a default
// grow-by-one-on-empty policy.
func New(pl *plan.Plan, pools []*pool.Pool, overheadUs float64, logger *zap.SugaredLogger, hooks Hooks) *Dispatcher {
	return &Dispatcher{
		Plan:        pl,
		Pools:       pools,
		OverheadUs:  overheadUs,
		Sleep:       time.Sleep,
		Logger:      logger,
		Hooks:       hooks,
		GrowOnEmpty: 1,
	}
}

// Run walks the plan to completion. It never aborts on a per-request
// failure: a dropped or torn request is logged and the next plan entry
// still gets its turn, preserving the target arrival schedule.
func (d *Dispatcher) Run() {
	var debtUs float64

	for i, entry := range d.Plan.Entries {
		debtUs += float64(entry.GapUs)
		if debtUs > d.OverheadUs {
			if d.Sleep != nil {
				d.Sleep(time.Duration(debtUs-d.OverheadUs) * time.Microsecond)
			}
			debtUs = 0
		}

		d.dispatch(i, entry)
	}
}

func (d *Dispatcher) dispatch(i int, entry plan.Entry) {
	p := d.Pools[entry.ServerIndex]

	node := p.Acquire()
	if node == nil {
		if added, err := p.Grow(d.GrowOnEmpty); err != nil || added == 0 {
			growErr := &errs.GrowError{ServerIndex: entry.ServerIndex, Err: err}
			if d.Logger != nil {
				d.Logger.Warnf("dispatcher: dropping request %d: %v", i, growErr)
			}
			if d.Hooks.OnDrop != nil {
				d.Hooks.OnDrop(i, entry.ServerIndex, growErr)
			}
			return
		}
		node = p.Acquire()
		if node == nil {
			// Another goroutine would only be possible if the
			// dispatcher were multi-threaded; it isn't, so this is
			// unreachable, but guard against it rather than panic.
			return
		}
	}

	header := wire.Header{
		ID:       uint32(i) + 1,
		Size:     entry.Size,
		ToS:      uint8(entry.DSCP << 2),
		RateMbps: entry.RateMbps,
	}

	start := p.BeginDispatch(node)

	if err := wire.WriteHeader(node.Conn(), header); err != nil {
		if d.Logger != nil {
			d.Logger.Warnf("dispatcher: failed to write request %d: %v", i, err)
		}
		if d.Hooks.OnWriteError != nil {
			d.Hooks.OnWriteError(i, entry.ServerIndex, err)
		}
		return
	}

	if d.Hooks.OnDispatch != nil {
		d.Hooks.OnDispatch(i, entry.ServerIndex, start)
	}
}
