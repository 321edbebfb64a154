package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"ravenmail/internal/metrics"
	"ravenmail/internal/models"
)

const probeTTL = 60 * time.Second

// CleanupReport summarizes one cleanup pass
type CleanupReport struct {
	Checked     int      `json:"checked"`
	Deactivated int      `json:"deactivated"`
	Deleted     int      `json:"deleted"`
	Annotated   int      `json:"annotated"`
	Errors      []string `json:"errors"`
}

// CleanupExpiredSubscriptions retires dead subscriptions. Subscriptions unused
// past the retention window are deactivated without contacting the push
// service; the rest get a silent probe:
//
//	404/410          delete
//	other non-2xx    deactivate
//	unusable keys    deactivate
//	no answer        keep active, record the error
//
// The pass ignores cancellation of ctx so a shutdown lets it finish.
func (e *Engine) CleanupExpiredSubscriptions(ctx context.Context) CleanupReport {
	ctx = context.WithoutCancel(ctx)
	report := CleanupReport{Errors: []string{}}

	if !e.Available() {
		report.Errors = append(report.Errors, errUnavailable)
		return report
	}

	subs, err := e.subs.ListAll(ctx)
	if err != nil {
		e.log.Errorf("Cleanup failed to list subscriptions: %v", err)
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	message, err := json.Marshal(probePayload())
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	opts := SendOptions{Type: TypeProbe, TTL: probeTTL, Urgency: webpush.UrgencyVeryLow}

	cutoff := e.now().Add(-e.cfg.Retention())
	delay := e.cfg.ProbeDelayDuration()
	probed := 0

	for i := range subs {
		sub := &subs[i]
		if !sub.IsActive {
			continue
		}
		report.Checked++

		if sub.LastActivity().Before(cutoff) {
			msg := fmt.Sprintf("unused for more than %d days", e.cfg.RetentionDays)
			e.retire(ctx, sub, msg, &report)
			continue
		}

		if probed > 0 && delay > 0 {
			time.Sleep(delay)
		}
		probed++

		err := e.send(ctx, sub, message, opts, e.probe)
		if err == nil {
			continue
		}

		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.Gone():
			if derr := e.subs.Delete(ctx, sub.ID); derr != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("delete %s: %v", sub.ID, derr))
				continue
			}
			report.Deleted++
			metrics.PushCleanup.WithLabelValues("deleted").Inc()
			e.log.Infof("Deleted gone subscription %s for user %s", sub.ID, sub.UserID)

		case errors.As(err, &statusErr), errors.Is(err, ErrInvalidKeys):
			e.retire(ctx, sub, err.Error(), &report)

		default:
			msg := err.Error()
			if uerr := e.subs.Update(ctx, sub.ID, models.SubscriptionUpdate{LastError: &msg}); uerr != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("annotate %s: %v", sub.ID, uerr))
				continue
			}
			report.Annotated++
			metrics.PushCleanup.WithLabelValues("annotated").Inc()
			e.log.Warnf("Probe for subscription %s could not reach the push service: %v", sub.ID, err)
		}
	}

	e.log.Infof("Subscription cleanup: %d checked, %d deactivated, %d deleted, %d annotated",
		report.Checked, report.Deactivated, report.Deleted, report.Annotated)
	return report
}

func (e *Engine) retire(ctx context.Context, sub *models.Subscription, reason string, report *CleanupReport) {
	inactive := false
	err := e.subs.Update(ctx, sub.ID, models.SubscriptionUpdate{IsActive: &inactive, LastError: &reason})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("deactivate %s: %v", sub.ID, err))
		return
	}
	report.Deactivated++
	metrics.PushCleanup.WithLabelValues("deactivated").Inc()
	e.log.Infof("Deactivated subscription %s for user %s: %s", sub.ID, sub.UserID, reason)
}
