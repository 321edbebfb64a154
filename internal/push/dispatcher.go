package push

import (
	"context"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ravenmail/internal/events"
	"ravenmail/internal/metrics"
)

// Sender delivers a payload to a user's devices
type Sender interface {
	SendToUser(ctx context.Context, userID string, payload Payload, opts SendOptions) Result
}

// AccountResolver maps a mail account to the user who owns it
type AccountResolver interface {
	OwnerOf(ctx context.Context, accountID string) (string, error)
}

// Presence reports whether a user currently has a live connection
type Presence interface {
	IsUserConnected(userID string) bool
}

// Dispatcher turns mailbox events into push notifications
type Dispatcher struct {
	sender            Sender
	accounts          AccountResolver
	presence          Presence
	skipWhenConnected bool
	sem               *semaphore.Weighted
	log               *zap.SugaredLogger
	wg                sync.WaitGroup
}

// NewDispatcher creates a dispatcher. presence may be nil.
func NewDispatcher(sender Sender, accounts AccountResolver, presence Presence, skipWhenConnected bool, maxConcurrency int, log *zap.SugaredLogger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		sender:            sender,
		accounts:          accounts,
		presence:          presence,
		skipWhenConnected: skipWhenConnected,
		sem:               semaphore.NewWeighted(int64(maxConcurrency)),
		log:               log,
	}
}

// Run consumes sub until ctx is done or the subscription closes, then
// unsubscribes and waits for in-flight deliveries
func (d *Dispatcher) Run(ctx context.Context, sub *events.Subscription) {
	defer d.wg.Wait()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer d.sem.Release(1)
				d.Handle(context.WithoutCancel(ctx), ev)
			}()
		}
	}
}

// Handle delivers the push notification for one event, if it warrants one
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	var (
		accountID string
		payload   Payload
		opts      SendOptions
	)

	switch e := ev.(type) {
	case events.EmailReceived:
		accountID = e.AccountID
		payload = NewEmailPayload(EmailNotification{
			EmailID:    e.EmailID,
			AccountID:  e.AccountID,
			From:       e.From,
			Subject:    e.Subject,
			ReceivedAt: e.ReceivedAt,
			VIP:        e.VIP,
		})
		opts = SendOptions{Type: TypeNewEmail}
		if e.VIP {
			opts.Urgency = webpush.UrgencyHigh
		}
	case events.EmailSynced:
		if e.NewCount < 2 {
			return
		}
		accountID = e.AccountID
		payload = GroupedEmailPayload(e.AccountID, e.NewCount, e.Senders)
		opts = SendOptions{Type: TypeEmailGroup}
	case events.SyncError:
		accountID = e.AccountID
		payload = SyncErrorPayload(e.AccountID)
		opts = SendOptions{Type: TypeSyncError, Urgency: webpush.UrgencyLow}
	default:
		return
	}
	metrics.EventsHandled.WithLabelValues("push", string(ev.Type())).Inc()

	userID, err := d.accounts.OwnerOf(ctx, accountID)
	if err != nil {
		d.log.Warnf("No owner for account %s, dropping %s push: %v", accountID, ev.Type(), err)
		return
	}

	if d.skipWhenConnected && d.presence != nil && d.presence.IsUserConnected(userID) {
		d.log.Debugf("User %s is connected, skipping %s push", userID, ev.Type())
		return
	}

	result := d.sender.SendToUser(ctx, userID, payload, opts)
	if result.FailedCount > 0 {
		d.log.Warnf("Push %s for user %s: %d delivered, %d failed",
			ev.Type(), userID, result.SuccessCount, result.FailedCount)
	}
}
