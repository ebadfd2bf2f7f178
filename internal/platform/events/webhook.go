package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	EventIDHeader   = "X-Event-ID"
	EventTypeHeader = "X-Event-Type"
)

type WebhookConfig struct {
	URLs []string
	// Secret signs each payload with HMAC-SHA256. Empty disables signing.
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// WebhookPublisher POSTs each event as JSON to every configured URL.
// Transport errors and 5xx responses are retried.
type WebhookPublisher struct {
	client *resty.Client
	urls   []string
	secret string
	logger zerolog.Logger
	now    func() time.Time
}

func NewWebhookPublisher(cfg WebhookConfig, logger zerolog.Logger) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")

	return &WebhookPublisher{
		client: client,
		urls:   cfg.URLs,
		secret: cfg.Secret,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value of the form "sha256=<hex>".
func Verify(payload []byte, secret, header string) bool {
	return hmac.Equal([]byte("sha256="+Sign(payload, secret)), []byte(header))
}

func (p *WebhookPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, url := range p.urls {
		if err := p.deliver(ctx, url, e, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *WebhookPublisher) deliver(ctx context.Context, url string, e Event, payload []byte) error {
	req := p.client.R().
		SetContext(ctx).
		SetHeader(EventIDHeader, e.ID).
		SetHeader(EventTypeHeader, string(e.Type)).
		SetHeader(TimestampHeader, p.now().UTC().Format(time.RFC3339)).
		SetBody(payload)
	if p.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+Sign(payload, p.secret))
	}

	resp, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("deliver %s to %s: %w", e.Type, url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("deliver %s to %s: status %d", e.Type, url, resp.StatusCode())
	}
	p.logger.Debug().
		Str("url", url).
		Str("event", string(e.Type)).
		Int("status", resp.StatusCode()).
		Int("attempts", resp.Request.Attempt).
		Msg("webhook delivered")
	return nil
}

func (p *WebhookPublisher) Close() {}

// Fanout publishes every event to each of its publishers and joins their
// errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() {
	for _, p := range f {
		p.Close()
	}
}
