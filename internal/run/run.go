// Package run wires together the sampler, plan, pool, and pacer packages
// into one generator run: pool warmup, pacing, sentinel-driven shutdown,
// the FCT log, and the aggregate throughput figure (C8 in spirit, plus
// the startup sequencing the teacher's main does inline).
package run

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"time"

	"github.com/Lingtaonju/trafficgen/internal/cdf"
	"github.com/Lingtaonju/trafficgen/internal/config"
	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/metrics"
	"github.com/Lingtaonju/trafficgen/internal/pacer"
	"github.com/Lingtaonju/trafficgen/internal/plan"
	"github.com/Lingtaonju/trafficgen/internal/pool"
	"github.com/Lingtaonju/trafficgen/internal/sampler"
	"github.com/Lingtaonju/trafficgen/internal/tracing"
	"github.com/Lingtaonju/trafficgen/internal/wire"
	"go.uber.org/zap"
)

// initialSessionsPerServer is the constant pool warmup size from spec
// §4.5 ("a small constant, e.g., 8").
const initialSessionsPerServer = 8

// calibrationIterations is C3's K, the number of 1us sleeps sampled to
// measure the host's scheduling floor.
const calibrationIterations = 20

// Run is one generator execution: the built plan, the per-server pools,
// and the mutable start/stop time slices the dispatcher and receivers
// fill in concurrently.
type Run struct {
	cfg     *config.Run
	targets *config.Targets
	plan    *plan.Plan
	pools   []*pool.Pool
	logger  *zap.SugaredLogger
	metrics *metrics.Collector
	tracer  *tracing.FlowTracer

	startTimes []time.Time
	stopTimes  []time.Time
}

// NewRun parses the target file, builds the plan, and opens the initial
// connection pools. It returns a *errs.ConnectError if a server ends up
// with zero established sessions.
func NewRun(cfg *config.Run, logger *zap.SugaredLogger, mc *metrics.Collector, tracer *tracing.FlowTracer) (*Run, error) {
	targets, err := config.ParseTargets(cfg.TargetFilePath)
	if err != nil {
		return nil, errs.NewConfigError("failed to parse target file", err)
	}

	sizeDist, err := cdf.Load(targets.SizeDistPath)
	if err != nil {
		return nil, errs.NewConfigError("failed to load size distribution", err)
	}

	dscpValues, dscpWeights := splitDSCP(targets.DSCP)
	dscp, err := sampler.NewWeighted(dscpValues, dscpWeights)
	if err != nil {
		return nil, errs.NewConfigError("invalid dscp classes", err)
	}

	rateValues, rateWeights := splitRate(targets.Rate)
	rate, err := sampler.NewWeighted(rateValues, rateWeights)
	if err != nil {
		return nil, errs.NewConfigError("invalid rate classes", err)
	}

	src := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>32|1))

	pl, err := plan.Build(plan.Params{
		SizeDist:    sizeDist,
		DSCP:        dscp,
		Rate:        rate,
		NumServers:  len(targets.Servers),
		LoadMbps:    cfg.LoadMbps,
		Count:       cfg.Count,
		DurationSec: cfg.DurationSec,
	}, src)
	if err != nil {
		return nil, err
	}

	r := &Run{
		cfg:        cfg,
		targets:    targets,
		plan:       pl,
		logger:     logger,
		metrics:    mc,
		tracer:     tracer,
		startTimes: make([]time.Time, len(pl.Entries)),
		stopTimes:  make([]time.Time, len(pl.Entries)),
	}

	pools := make([]*pool.Pool, len(targets.Servers))
	for i, srv := range targets.Servers {
		serverLabel := fmt.Sprintf("%d", i)
		p := pool.New(i, srv.IP, srv.Port, logger, r.onFlowComplete(serverLabel))
		if _, err := p.Grow(initialSessionsPerServer); err != nil {
			return nil, &errs.ConnectError{ServerIndex: i, Msg: fmt.Sprintf("%s:%d", srv.IP, srv.Port), Err: err}
		}
		pools[i] = p
	}
	r.pools = pools

	if mc != nil {
		r.reportPoolGauges()
	}

	return r, nil
}

// reportPoolGauges mirrors every pool's current snapshot into the metrics
// collector. Called after warmup and once more after the shutdown drain;
// between those, the dispatch hook in Execute refreshes the gauges of the
// pool each flow went to, so they never go stale mid-run.
func (r *Run) reportPoolGauges() {
	if r.metrics == nil {
		return
	}
	for i, p := range r.pools {
		length, available, _ := p.Snapshot()
		r.metrics.SetPoolGauges(fmt.Sprintf("%d", i), length, available)
	}
}

// Pools exposes the per-server pools for instrumentation probes (tests
// asserting on post-shutdown pool/node state).
func (r *Run) Pools() []*pool.Pool { return r.pools }

// PlanEntries exposes the built plan's entries for diagnostics and tests.
func (r *Run) PlanEntries() []plan.Entry { return r.plan.Entries }

func splitDSCP(classes []config.DSCPClass) (values, weights []uint32) {
	values = make([]uint32, len(classes))
	weights = make([]uint32, len(classes))
	for i, c := range classes {
		values[i] = c.Value
		weights[i] = c.Weight
	}
	return values, weights
}

func splitRate(classes []config.RateClass) (values, weights []uint32) {
	values = make([]uint32, len(classes))
	weights = make([]uint32, len(classes))
	for i, c := range classes {
		values[i] = c.RateMbps
		weights[i] = c.Weight
	}
	return values, weights
}

// onFlowComplete builds the pool's completion callback: it records the
// stop time, closes out the span, and feeds the metrics collector.
func (r *Run) onFlowComplete(serverLabel string) pool.OnComplete {
	return func(flowIndex int, stop time.Time) {
		if flowIndex < 0 || flowIndex >= len(r.stopTimes) {
			return
		}
		r.stopTimes[flowIndex] = stop
		if r.tracer != nil {
			r.tracer.EndFlow(flowIndex, stop)
		}
		if r.metrics != nil {
			r.metrics.RecordCompletion(serverLabel, r.plan.Entries[flowIndex].Size)
		}
	}
}

// Execute runs the calibrated pacing loop to completion, shuts down every
// pool with the sentinel, and writes the FCT log and summary. The wall
// duration used for the throughput figure runs from just after overhead
// calibration to the end of the shutdown drain.
func (r *Run) Execute() error {
	overhead := sampler.CalibrateOverhead(calibrationIterations)
	overheadUs := float64(overhead.Microseconds())

	hooks := pacer.Hooks{
		OnDispatch: func(flowIndex, serverIndex int, start time.Time) {
			r.startTimes[flowIndex] = start
			entry := r.plan.Entries[flowIndex]
			serverLabel := fmt.Sprintf("%d", serverIndex)
			if r.tracer != nil {
				r.tracer.BeginFlow(flowIndex, tracing.FlowAttributes{Size: entry.Size, DSCP: entry.DSCP, RateMbps: entry.RateMbps}, serverIndex)
			}
			if r.metrics != nil {
				r.metrics.RecordDispatch(serverLabel, entry.Size)
				length, available, _ := r.pools[serverIndex].Snapshot()
				r.metrics.SetPoolGauges(serverLabel, length, available)
			}
		},
		OnDrop: func(flowIndex, serverIndex int, reason error) {
			if r.logger != nil {
				r.logger.Warnf("flow %d dropped before dispatch: %v", flowIndex, reason)
			}
			if r.metrics != nil {
				r.metrics.RecordUnfinished(fmt.Sprintf("%d", serverIndex))
			}
		},
		OnWriteError: func(flowIndex, serverIndex int, err error) {
			if r.logger != nil {
				r.logger.Warnf("flow %d: %v", flowIndex, &errs.IoError{Op: "write header", Err: err})
			}
		},
	}

	wallStart := time.Now()

	d := pacer.New(r.plan, r.pools, overheadUs, r.logger, hooks)
	d.Run()

	r.shutdown()
	wallDuration := time.Since(wallStart)

	if err := r.writeFCTLog(); err != nil {
		return err
	}

	r.logThroughput(wallDuration)
	if r.metrics != nil {
		r.metrics.PrintSummary()
	}
	if r.tracer != nil {
		r.tracer.Flush()
	}

	if r.cfg.PostProcessCmd != "" {
		if err := r.runPostProcess(); err != nil && r.logger != nil {
			r.logger.Warnf("post-process command failed: %v", err)
		}
	}

	return nil
}

// shutdown sends the sentinel to every still-connected node of every pool
// and joins all receivers (C8's drain phase).
func (r *Run) shutdown() {
	for _, p := range r.pools {
		for _, node := range p.Nodes() {
			if !node.Connected() {
				continue
			}
			p.DispatchSentinel()
			if err := wire.WriteHeader(node.Conn(), wire.Sentinel()); err != nil && r.logger != nil {
				r.logger.Debugf("sentinel write failed: %v", err)
			}
		}
	}
	for _, p := range r.pools {
		p.JoinAll()
	}
	r.reportPoolGauges()
}

// writeFCTLog writes one line per completed flow; each unfinished flow is
// skipped and reported on stdout instead, one diagnostic line per flow,
// per §4.8.
func (r *Run) writeFCTLog() error {
	f, err := os.Create(r.cfg.FCTLogPath)
	if err != nil {
		return &errs.IoError{Op: "create FCT log", Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	for i, entry := range r.plan.Entries {
		if r.stopTimes[i].IsZero() || r.startTimes[i].IsZero() {
			fmt.Printf("unfinished flow %d\n", i)
			// Flows dropped before dispatch were already counted by OnDrop.
			if r.metrics != nil && !r.startTimes[i].IsZero() {
				r.metrics.RecordUnfinished(fmt.Sprintf("%d", entry.ServerIndex))
			}
			continue
		}
		fctUs := r.stopTimes[i].Sub(r.startTimes[i]).Microseconds()
		var goodputMbps float64
		if fctUs > 0 {
			goodputMbps = float64(entry.Size) * 8 / float64(fctUs)
		}
		if _, err := fmt.Fprintf(w, "%d %d %d %d %.6f\n", entry.Size, fctUs, entry.DSCP, entry.RateMbps, goodputMbps); err != nil {
			return &errs.IoError{Op: "write FCT log line", Err: err}
		}
	}

	return nil
}

// logThroughput computes and logs the realized throughput figure from
// §4.8: total bytes sent over wall duration, corrected by the goodput
// ratio used to build the plan.
func (r *Run) logThroughput(wallDuration time.Duration) {
	var totalBytes uint64
	for _, e := range r.plan.Entries {
		totalBytes += uint64(e.Size)
	}
	seconds := wallDuration.Seconds()
	if seconds <= 0 {
		return
	}
	mbps := float64(totalBytes) * 8 / seconds / 1e6 / plan.GoodputRatio
	if r.logger != nil {
		r.logger.Infof("realized throughput: %.2f Mbps over %s", mbps, wallDuration)
	}
}

func (r *Run) runPostProcess() error {
	cmd := exec.Command(r.cfg.PostProcessCmd, r.cfg.FCTLogPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
