package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/model"
)

var (
	// ErrSubscriptionGone means the push service no longer knows the endpoint.
	ErrSubscriptionGone = errors.New("push subscription gone")
	// ErrRejected means the push service answered with a non-success status.
	ErrRejected = errors.New("push rejected")
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// Message is the JSON payload the service worker renders.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Dispatcher delivers one message to one subscriber per call.
// It makes a single attempt; retrying is left to the next refresh cycle.
type Dispatcher struct {
	sender  NotificationSender
	options *webpush.Options
	log     *zap.Logger
}

// NewDispatcher creates a dispatcher signing with the configured VAPID keys.
func NewDispatcher(cfg config.PushConfig, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		sender: &WebPushSender{},
		options: &webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			TTL:             cfg.TTL,
			Urgency:         webpush.UrgencyHigh,
		},
		log: log,
	}
}

// WithSender swaps the transport, mainly for tests.
func (d *Dispatcher) WithSender(s NotificationSender) *Dispatcher {
	d.sender = s
	return d
}

// Notify sends msg to sub. A nil error means the push service accepted it.
func (d *Dispatcher) Notify(ctx context.Context, sub model.PushSubscription, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := d.sender.Send(ctx, payload, wpSub, d.options)
	if err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", sub.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		d.log.Warn("push subscription expired", zap.String("subscription_id", sub.ID), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, body)
	}
	return nil
}
