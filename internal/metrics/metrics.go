// Package metrics exposes the generator's live Prometheus series and the
// end-of-run summary table, mirroring the teacher's collector pattern
// adapted from request/protocol/port labels to flow/server labels.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Lingtaonju/trafficgen/internal/logging"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"
)

// Collector holds the Prometheus series for one run. Unlike the teacher's
// package-level globals, Collector is instantiated per run so concurrent
// tests (and eventually concurrent runs in one process) don't collide on
// a shared default registry.
type Collector struct {
	registry *prometheus.Registry

	FlowsDispatched *prometheus.CounterVec
	FlowsCompleted  *prometheus.CounterVec
	FlowsUnfinished *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	PoolAvailable   *prometheus.GaugeVec
	PoolSize        *prometheus.GaugeVec

	// local counters for the termination table, mirroring the Prometheus
	// series without needing to scrape the registry back out
	totalDispatched uint64
	totalCompleted  uint64
	totalUnfinished uint64
	totalBytesSent  uint64
	totalBytesRecv  uint64
}

// New builds a Collector with its own registry and registers its series.
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		FlowsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "flows_dispatched_total", Help: "Total flows dispatched, by server"},
			[]string{"server"},
		),
		FlowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "flows_completed_total", Help: "Total flows completed, by server"},
			[]string{"server"},
		),
		FlowsUnfinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "flows_unfinished_total", Help: "Total flows dropped or never completed, by server"},
			[]string{"server"},
		),
		BytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bytes_sent_total", Help: "Total request bytes sent, by server"},
			[]string{"server"},
		),
		BytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bytes_received_total", Help: "Total response bytes received, by server"},
			[]string{"server"},
		),
		PoolAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pool_available_connections", Help: "Currently free connections, by server"},
			[]string{"server"},
		),
		PoolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pool_size_connections", Help: "Total connections established, by server"},
			[]string{"server"},
		),
	}

	registry.MustRegister(
		c.FlowsDispatched,
		c.FlowsCompleted,
		c.FlowsUnfinished,
		c.BytesSent,
		c.BytesReceived,
		c.PoolAvailable,
		c.PoolSize,
	)

	return c
}

// StartServer serves /metrics on port until the process exits; failures
// are logged, not fatal, since metrics are diagnostic rather than
// load-bearing for the run itself.
func (c *Collector) StartServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logging.Logger != nil {
				logging.Logger.Errorf("metrics server error: %v", err)
			}
		}
	}()
}

// RecordDispatch records one flow handed off to a connection.
func (c *Collector) RecordDispatch(server string, size uint32) {
	c.FlowsDispatched.WithLabelValues(server).Inc()
	c.BytesSent.WithLabelValues(server).Add(float64(size))
	atomic.AddUint64(&c.totalDispatched, 1)
	atomic.AddUint64(&c.totalBytesSent, uint64(size))
}

// RecordCompletion records one flow whose response was fully received.
func (c *Collector) RecordCompletion(server string, size uint32) {
	c.FlowsCompleted.WithLabelValues(server).Inc()
	c.BytesReceived.WithLabelValues(server).Add(float64(size))
	atomic.AddUint64(&c.totalCompleted, 1)
	atomic.AddUint64(&c.totalBytesRecv, uint64(size))
}

// RecordUnfinished records one flow dropped at dispatch time or never
// completed by shutdown.
func (c *Collector) RecordUnfinished(server string) {
	c.FlowsUnfinished.WithLabelValues(server).Inc()
	atomic.AddUint64(&c.totalUnfinished, 1)
}

// SetPoolGauges mirrors one pool's live snapshot into the gauges.
func (c *Collector) SetPoolGauges(server string, size, available int) {
	c.PoolSize.WithLabelValues(server).Set(float64(size))
	c.PoolAvailable.WithLabelValues(server).Set(float64(available))
}

// PrintSummary renders the termination table to stdout, colored when
// stdout is a terminal and NO_COLOR isn't set.
func (c *Collector) PrintSummary() {
	supportsColor := os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	if supportsColor {
		table.SetHeaderColor(tablewriter.Colors{tablewriter.FgGreenColor}, tablewriter.Colors{tablewriter.FgGreenColor})
	}
	_ = table.Append("Flows Dispatched", fmt.Sprintf("%d", atomic.LoadUint64(&c.totalDispatched)))
	_ = table.Append("Flows Completed", fmt.Sprintf("%d", atomic.LoadUint64(&c.totalCompleted)))
	_ = table.Append("Flows Unfinished", fmt.Sprintf("%d", atomic.LoadUint64(&c.totalUnfinished)))
	_ = table.Append("Bytes Sent", fmt.Sprintf("%d", atomic.LoadUint64(&c.totalBytesSent)))
	_ = table.Append("Bytes Received", fmt.Sprintf("%d", atomic.LoadUint64(&c.totalBytesRecv)))
	fmt.Println("Run Summary:")
	_ = table.Render()
}
