// Package notify delivers inventory events to an external HTTP endpoint.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

// Event types posted to the webhook
const (
	EventStockChanged  = "inventory.stock_changed"
	EventLowStockAlert = "inventory.low_stock_alert"
)

// Config holds webhook delivery settings
// Webhook送信設定
type Config struct {
	URL        string        `yaml:"url"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// Envelope is the JSON body posted for every event
type Envelope struct {
	Type   string    `json:"type"`
	SentAt time.Time `json:"sent_at"`
	Data   any       `json:"data"`
}

// WebhookPublisher posts inventory events as JSON. A failed delivery is
// returned to the caller, which logs it and carries on.
// 在庫イベントをWebhookで送信
type WebhookPublisher struct {
	client *resty.Client
	url    string
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhookPublisher creates a publisher for cfg.URL
// 新しいWebhook送信者を作成
func NewWebhookPublisher(cfg Config, logger *zap.Logger) *WebhookPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "zaiFarmLedger-notify").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Secret != "" {
		client.SetAuthToken(cfg.Secret)
	}

	return &WebhookPublisher{
		client: client,
		url:    strings.TrimSpace(cfg.URL),
		logger: logger.Named("notify"),
		now:    time.Now,
	}
}

// PublishStockChanged posts a stock change event
func (p *WebhookPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	return p.post(ctx, EventStockChanged, event)
}

// PublishLowStockAlert posts a low-stock alert
func (p *WebhookPublisher) PublishLowStockAlert(ctx context.Context, event inventory.LowStockAlertEvent) error {
	return p.post(ctx, EventLowStockAlert, event)
}

func (p *WebhookPublisher) post(ctx context.Context, eventType string, data any) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(Envelope{Type: eventType, SentAt: p.now().UTC(), Data: data}).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("イベント送信に失敗しました (%s): %w", eventType, err)
	}
	if resp.IsError() {
		return fmt.Errorf("イベント送信に失敗しました (%s): status=%d", eventType, resp.StatusCode())
	}

	p.logger.Debug("イベント送信完了",
		zap.String("type", eventType),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()),
	)
	return nil
}

// LogPublisher only logs events; used when no webhook URL is configured
// ログ出力のみのイベント発行者
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("notify")}
}

func (p *LogPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	p.logger.Info("在庫変更",
		zap.String("item_id", event.ItemID),
		zap.String("lot_id", event.LotID),
		zap.String("change_type", event.ChangeType),
		zap.String("old_quantity", event.OldQuantity.String()),
		zap.String("new_quantity", event.NewQuantity.String()),
	)
	return nil
}

func (p *LogPublisher) PublishLowStockAlert(ctx context.Context, event inventory.LowStockAlertEvent) error {
	p.logger.Warn("低在庫アラート",
		zap.String("item_id", event.ItemID),
		zap.String("name", event.Name),
		zap.String("current_qty", event.CurrentQty.String()),
		zap.String("threshold", event.Threshold.String()),
	)
	return nil
}

var (
	_ inventory.EventPublisher = (*WebhookPublisher)(nil)
	_ inventory.EventPublisher = (*LogPublisher)(nil)
)
