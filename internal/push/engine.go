// Package push delivers Web Push notifications to registered browser and
// device endpoints.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ravenmail/internal/conf"
	"ravenmail/internal/metrics"
	"ravenmail/internal/models"
)

const errUnavailable = "push notifications unavailable"

// SubscriptionStore is the durable subscription record the engine works on
type SubscriptionStore interface {
	ListActiveByUser(ctx context.Context, userID string) ([]models.Subscription, error)
	ListAll(ctx context.Context) ([]models.Subscription, error)
	Update(ctx context.Context, id string, upd models.SubscriptionUpdate) error
	Delete(ctx context.Context, id string) error
}

// NotificationLog records notification attempts
type NotificationLog interface {
	Create(ctx context.Context, entry *models.NotificationLogEntry) error
	Update(ctx context.Context, id string, upd models.NotificationLogUpdate) error
	Stats(ctx context.Context, userID string, since time.Time) (*models.DeliveryStats, error)
}

// SendOptions tune a single notification. Zero values fall back to configuration.
type SendOptions struct {
	Type    string
	TTL     time.Duration
	Urgency webpush.Urgency
	Topic   string
}

// Result aggregates per-subscription outcomes
type Result struct {
	SuccessCount int      `json:"successCount"`
	FailedCount  int      `json:"failedCount"`
	Errors       []string `json:"errors"`
}

func (r *Result) add(other Result) {
	r.SuccessCount += other.SuccessCount
	r.FailedCount += other.FailedCount
	r.Errors = append(r.Errors, other.Errors...)
}

func failedResult(err error) Result {
	return Result{FailedCount: 1, Errors: []string{err.Error()}}
}

// StatusError is a non-2xx answer from a push service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Gone reports whether the push service says the endpoint no longer exists
func (e *StatusError) Gone() bool {
	return e.StatusCode == http.StatusGone || e.StatusCode == http.StatusNotFound
}

// Engine fans notifications out to every active subscription of a user
type Engine struct {
	keys   *KeyManager
	subs   SubscriptionStore
	logs   NotificationLog
	cfg    conf.PushConfig
	log    *zap.SugaredLogger
	client *http.Client
	probe  *http.Client
	now    func() time.Time
}

// NewEngine creates a delivery engine
func NewEngine(keys *KeyManager, subs SubscriptionStore, logs NotificationLog, cfg conf.PushConfig, log *zap.SugaredLogger) *Engine {
	return &Engine{
		keys:   keys,
		subs:   subs,
		logs:   logs,
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		probe:  &http.Client{Timeout: cfg.ProbeTimeoutDuration()},
		now:    time.Now,
	}
}

// PublicKey returns the VAPID public key, empty when push is unavailable
func (e *Engine) PublicKey() string {
	return e.keys.PublicKey()
}

// Available reports whether the engine can sign messages
func (e *Engine) Available() bool {
	return e.keys.IsInitialized()
}

func (e *Engine) withDefaults(opts SendOptions) SendOptions {
	if opts.Type == "" {
		opts.Type = TypeGeneral
	}
	if opts.TTL <= 0 {
		opts.TTL = e.cfg.TTLDuration()
	}
	if opts.Urgency == "" {
		opts.Urgency = webpush.Urgency(e.cfg.Urgency)
	}
	return opts
}

func (e *Engine) decorate(p Payload) Payload {
	if p.Icon == "" {
		p.Icon = e.cfg.Icon
	}
	if p.Badge == "" {
		p.Badge = e.cfg.Badge
	}
	return p
}

// SendToUser delivers payload to every active subscription of userID. A user
// without subscriptions yields an empty result, not a failure.
func (e *Engine) SendToUser(ctx context.Context, userID string, payload Payload, opts SendOptions) Result {
	result := Result{Errors: []string{}}

	if !e.Available() {
		result.Errors = append(result.Errors, errUnavailable)
		return result
	}

	subs, err := e.subs.ListActiveByUser(ctx, userID)
	if err != nil {
		e.log.Errorf("Failed to list subscriptions for user %s: %v", userID, err)
		return failedResult(fmt.Errorf("failed to list subscriptions: %w", err))
	}
	if len(subs) == 0 {
		return result
	}

	opts = e.withDefaults(opts)
	payload = e.decorate(payload)
	message, err := json.Marshal(payload)
	if err != nil {
		return failedResult(fmt.Errorf("failed to encode payload: %w", err))
	}

	// Bookkeeping writes must land even if the caller gives up mid-send
	bg := context.WithoutCancel(ctx)

	entry := &models.NotificationLogEntry{
		UserID:           userID,
		NotificationType: opts.Type,
		Title:            payload.Title,
		Body:             payload.Body,
		RecipientCount:   len(subs),
	}
	logged := true
	if err := e.logs.Create(bg, entry); err != nil {
		e.log.Warnf("Failed to log notification for user %s: %v", userID, err)
		logged = false
	}

	outcomes := make([]error, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i := range subs {
		g.Go(func() error {
			outcomes[i] = e.deliver(gctx, bg, &subs[i], message, opts, e.client)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range outcomes {
		if err == nil {
			result.SuccessCount++
			continue
		}
		result.FailedCount++
		result.Errors = append(result.Errors, err.Error())
	}

	status := terminalStatus(result)
	metrics.PushNotifications.WithLabelValues(status).Inc()

	if logged {
		upd := models.NotificationLogUpdate{
			Status:       status,
			SuccessCount: result.SuccessCount,
			FailureCount: result.FailedCount,
		}
		if result.SuccessCount > 0 {
			now := e.now().UTC()
			upd.DeliveredAt = &now
		}
		if len(result.Errors) > 0 {
			joined := strings.Join(result.Errors, "; ")
			upd.Error = &joined
		}
		if err := e.logs.Update(bg, entry.ID, upd); err != nil {
			e.log.Warnf("Failed to finalize notification %s: %v", entry.ID, err)
		}
	}

	e.log.Debugf("Notification %s for user %s: %d delivered, %d failed",
		opts.Type, userID, result.SuccessCount, result.FailedCount)
	return result
}

func terminalStatus(r Result) string {
	switch {
	case r.FailedCount == 0:
		return models.StatusSent
	case r.SuccessCount > 0:
		return models.StatusPartialSuccess
	default:
		return models.StatusFailed
	}
}

// SendToUsers delivers to each user independently and sums the outcomes. A
// failing user counts as one failure and never affects the others.
func (e *Engine) SendToUsers(ctx context.Context, userIDs []string, payload Payload, opts SendOptions) Result {
	results := make([]Result, len(userIDs))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			results[i] = e.sendToUserIsolated(ctx, userID, payload, opts)
			return nil
		})
	}
	_ = g.Wait()

	total := Result{Errors: []string{}}
	for _, r := range results {
		total.add(r)
	}
	return total
}

func (e *Engine) sendToUserIsolated(ctx context.Context, userID string, payload Payload, opts SendOptions) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("Panic delivering to user %s: %v", userID, r)
			result = failedResult(fmt.Errorf("user %s: %v", userID, r))
		}
	}()
	return e.SendToUser(ctx, userID, payload, opts)
}

// SendTestNotification sends the test payload to all of a user's devices
func (e *Engine) SendTestNotification(ctx context.Context, userID string) Result {
	return e.SendToUser(ctx, userID, TestPayload(), SendOptions{Type: TypeTest, Urgency: webpush.UrgencyHigh})
}

// Stats returns delivery statistics for a user since the given time
func (e *Engine) Stats(ctx context.Context, userID string, since time.Time) (*models.DeliveryStats, error) {
	return e.logs.Stats(ctx, userID, since)
}

// send performs one push request and returns the service's verdict. A nil
// error means 2xx; a *StatusError carries any other answer; ErrInvalidKeys
// means the message could not be encrypted; anything else is a transport
// failure.
func (e *Engine) send(ctx context.Context, sub *models.Subscription, message []byte, opts SendOptions, client *http.Client) error {
	if err := ValidateKeys(sub.P256dh, sub.Auth); err != nil {
		return err
	}

	start := time.Now()
	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, e.keys.Options(opts.TTL, opts.Urgency, opts.Topic, client))
	metrics.PushSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// deliver sends to one subscription and records the outcome on it. Gone
// endpoints and unusable keys are deactivated; other failures only annotate
// the subscription.
func (e *Engine) deliver(ctx, bg context.Context, sub *models.Subscription, message []byte, opts SendOptions, client *http.Client) error {
	err := e.send(ctx, sub, message, opts, client)
	if err == nil {
		metrics.PushDeliveries.WithLabelValues("ok").Inc()
		now := e.now().UTC()
		cleared := ""
		if uerr := e.subs.Update(bg, sub.ID, models.SubscriptionUpdate{LastUsed: &now, LastError: &cleared}); uerr != nil {
			e.log.Warnf("Failed to record delivery on subscription %s: %v", sub.ID, uerr)
		}
		return nil
	}

	msg := err.Error()
	upd := models.SubscriptionUpdate{LastError: &msg}

	inactive := false
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Gone():
		metrics.PushDeliveries.WithLabelValues("gone").Inc()
		upd.IsActive = &inactive
		e.log.Infof("Subscription %s is gone (%d), deactivating", sub.ID, statusErr.StatusCode)
	case errors.Is(err, ErrInvalidKeys):
		metrics.PushDeliveries.WithLabelValues("invalid").Inc()
		upd.IsActive = &inactive
		e.log.Warnf("Subscription %s has unusable keys, deactivating: %v", sub.ID, err)
	default:
		metrics.PushDeliveries.WithLabelValues("error").Inc()
		e.log.Warnf("Push to subscription %s failed: %v", sub.ID, err)
	}

	if uerr := e.subs.Update(bg, sub.ID, upd); uerr != nil {
		e.log.Warnf("Failed to record error on subscription %s: %v", sub.ID, uerr)
	}
	return fmt.Errorf("subscription %s: %w", sub.ID, err)
}
