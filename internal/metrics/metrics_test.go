package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveLedgerOp("record_consumption", 5*time.Millisecond, nil)
	c.ObserveLedgerOp("record_consumption", 5*time.Millisecond, errors.New("insufficient"))
	c.ObserveLedgerOp("record_consumption", 5*time.Millisecond, nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ledgerOps.WithLabelValues("record_consumption", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerOps.WithLabelValues("record_consumption", "error")))

	c.ObservePolicyDecision(policy.FarmRoleWorker, false)
	c.ObservePolicyDecision(policy.FarmRoleOwner, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.policyDecision.WithLabelValues("WORKER", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.policyDecision.WithLabelValues("OWNER", "allowed")))

	c.ObserveReconciliation("farm-1", &inventory.ReconciliationReport{Drifts: make([]inventory.StockDrift, 2)}, nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconcileDrift.WithLabelValues("farm-1")))
	// 失敗時はゲージを更新しない
	c.ObserveReconciliation("farm-1", nil, errors.New("db down"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconcileDrift.WithLabelValues("farm-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconcileRuns.WithLabelValues("error")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveReport("financial", 20*time.Millisecond, nil)
	c.ObserveHTTP(http.MethodGet, "/api/v1/farms/{farmId}/reports/financial", http.StatusOK)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "farm_ledger_report_duration_seconds_count")
	assert.Contains(t, string(body), `farm_ledger_http_requests_total{method="GET"`)
}
