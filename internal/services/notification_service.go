package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	defaultNotificationAttempts = 3
	defaultNotificationInitial  = 200 * time.Millisecond
	defaultNotificationMax      = 2 * time.Second

	// defaultCurrencyCode backs both checkout and notification rendering when
	// config leaves the currency unset.
	defaultCurrencyCode = "NGN"
)

var amountPrinter = message.NewPrinter(language.English)

// ErrNotificationFailed indicates delivery was still failing after the last
// retry attempt. Callers log it; it never blocks fulfilment.
var ErrNotificationFailed = errors.New("notifications: dispatch failed")

// NotificationServiceDeps wires the dependencies required by the notification service.
type NotificationServiceDeps struct {
	Publisher NotificationPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	// MaxAttempts bounds publish retries; the default is 3.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the pause between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Sleep is replaceable for tests; defaults to gax.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Currency is the ISO code used to render amounts in payloads.
	Currency string
}

type notificationService struct {
	publisher      NotificationPublisher
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	currency       currency.Unit
}

// NewNotificationService constructs a NotificationService validating required dependencies.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification service: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultNotificationAttempts
	}
	initial := deps.InitialBackoff
	if initial <= 0 {
		initial = defaultNotificationInitial
	}
	max := deps.MaxBackoff
	if max <= 0 {
		max = defaultNotificationMax
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = defaultCurrencyCode
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("notification service: unknown currency %q: %w", code, err)
	}
	return &notificationService{
		publisher: deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:         logger,
		maxAttempts:    attempts,
		initialBackoff: initial,
		maxBackoff:     max,
		sleep:          sleep,
		currency:       unit,
	}, nil
}

// Dispatch publishes the message, retrying a bounded number of times with
// backoff. The retry count is fixed; a queue that stays down surfaces
// ErrNotificationFailed rather than blocking the caller indefinitely.
func (s *notificationService) Dispatch(ctx context.Context, msg OrderNotificationMessage) error {
	if s == nil || s.publisher == nil {
		return ErrNotificationFailed
	}
	if strings.TrimSpace(msg.RecipientEmail) == "" {
		return fmt.Errorf("%w: recipient email is required", ErrNotificationFailed)
	}
	if msg.Kind == "" {
		msg.Kind = NotificationOrderConfirmation
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = s.now()
	}
	if msg.Total > 0 && msg.TotalDisplay == "" {
		msg.TotalDisplay = s.formatAmount(msg.Total)
	}

	backoff := gax.Backoff{
		Initial:    s.initialBackoff,
		Max:        s.maxBackoff,
		Multiplier: 2,
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		id, err := s.publisher.PublishOrderNotification(ctx, msg)
		if err == nil {
			s.logger(ctx, "notifications.dispatched", map[string]any{
				"kind":       msg.Kind,
				"order_id":   msg.OrderID,
				"message_id": id,
				"attempt":    attempt,
			})
			return nil
		}
		lastErr = err
		s.logger(ctx, "notifications.publish_retry", map[string]any{
			"kind":    msg.Kind,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, backoff.Pause()); err != nil {
			return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrNotificationFailed, lastErr)
}

// formatAmount renders a minor-unit total as a localised currency string,
// for example "NGN 1,250.00".
func (s *notificationService) formatAmount(minor int64) string {
	return amountPrinter.Sprintf("%v", currency.Symbol(s.currency.Amount(float64(minor)/100)))
}
