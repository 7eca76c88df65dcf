package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

func TestWebhookPublisher_LowStockAlert(t *testing.T) {
	var got struct {
		Type string                       `json:"type"`
		Data inventory.LowStockAlertEvent `json:"data"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(Config{URL: srv.URL, Secret: "s3cret"}, zap.NewNop())
	err := p.PublishLowStockAlert(context.Background(), inventory.LowStockAlertEvent{
		ItemID:     "item-1",
		Name:       "Layer Mash",
		CurrentQty: decimal.NewFromInt(3),
		Threshold:  decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	assert.Equal(t, EventLowStockAlert, got.Type)
	assert.Equal(t, "item-1", got.Data.ItemID)
	assert.True(t, got.Data.CurrentQty.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestWebhookPublisher_Errors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// 5xxはリトライ後にエラー
	p := NewWebhookPublisher(Config{URL: srv.URL, RetryCount: 2, Timeout: time.Second}, nil)
	err := p.PublishStockChanged(context.Background(), inventory.StockChangedEvent{ItemID: "item-1"})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// 接続不可
	srv.Close()
	err = p.PublishStockChanged(context.Background(), inventory.StockChangedEvent{ItemID: "item-1"})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(nil)
	assert.NoError(t, p.PublishStockChanged(context.Background(), inventory.StockChangedEvent{}))
	assert.NoError(t, p.PublishLowStockAlert(context.Background(), inventory.LowStockAlertEvent{}))
}
