// Package metrics exposes Prometheus collectors for the ledger, the edit
// policy, reports and stock reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
)

const namespace = "farm_ledger"

// Collector holds every metric of the process on its own registry
// プロセスのメトリクスを保持
type Collector struct {
	registry *prometheus.Registry

	ledgerOps      *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	policyDecision *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	reconcileDrift *prometheus.GaugeVec
	reconcileRuns  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New creates and registers all collectors
// 新しいメトリクスコレクターを作成
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Inventory ledger operations by operation and result.",
		}, []string{"op", "result"}),
		ledgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Inventory ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		policyDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Edit policy decisions by farm role and result.",
		}, []string{"role", "result"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Report generation latency by report and result.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"report", "result"}),
		reconcileDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_drift_items",
			Help:      "Items whose stored stock differs from their lots' remaining quantity at the last reconciliation.",
		}, []string{"farm_id"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Scheduled stock reconciliation runs by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ledgerOps,
		c.ledgerDuration,
		c.policyDecision,
		c.reportDuration,
		c.reconcileDrift,
		c.reconcileRuns,
		c.httpRequests,
	)
	return c
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveLedgerOp implements inventory.Observer
func (c *Collector) ObserveLedgerOp(op string, duration time.Duration, err error) {
	c.ledgerOps.WithLabelValues(op, result(err)).Inc()
	c.ledgerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObservePolicyDecision implements records.PolicyObserver
func (c *Collector) ObservePolicyDecision(role policy.FarmRole, authorized bool) {
	outcome := "denied"
	if authorized {
		outcome = "allowed"
	}
	c.policyDecision.WithLabelValues(string(role), outcome).Inc()
}

// ObserveReport implements report.Observer
func (c *Collector) ObserveReport(name string, duration time.Duration, err error) {
	c.reportDuration.WithLabelValues(name, result(err)).Observe(duration.Seconds())
}

// ObserveReconciliation records one reconciliation run
func (c *Collector) ObserveReconciliation(farmID string, rep *inventory.ReconciliationReport, err error) {
	c.reconcileRuns.WithLabelValues(result(err)).Inc()
	if err == nil && rep != nil {
		c.reconcileDrift.WithLabelValues(farmID).Set(float64(len(rep.Drifts)))
	}
}

// ObserveHTTP counts one handled request
func (c *Collector) ObserveHTTP(method, route string, status int) {
	c.httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	_ inventory.Observer     = (*Collector)(nil)
	_ records.PolicyObserver = (*Collector)(nil)
	_ report.Observer        = (*Collector)(nil)
)
