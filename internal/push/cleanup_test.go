package push

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"ravenmail/internal/db"
)

func TestCleanupExpiredSubscriptions(t *testing.T) {
	engine, manager := setupTestEngine(t)
	ctx := context.Background()

	staleService := newPushService(t, http.StatusCreated)
	notFound := newPushService(t, http.StatusNotFound)
	unreachable := newPushService(t, 0)
	rejecting := newPushService(t, http.StatusForbidden)
	healthy := newPushService(t, http.StatusCreated)

	stale := subscribe(t, manager, "u", staleService.URL+"/stale")
	old := time.Now().Add(-31 * 24 * time.Hour)
	if err := manager.Subscriptions().Update(ctx, stale.ID, modelsUpdateLastUsed(old)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	missing := subscribe(t, manager, "u", notFound.URL+"/missing")
	timeout := subscribe(t, manager, "u", unreachable.URL+"/timeout")
	rejected := subscribe(t, manager, "u", rejecting.URL+"/rejected")
	alive := subscribe(t, manager, "v", healthy.URL+"/alive")

	report := engine.CleanupExpiredSubscriptions(ctx)

	if report.Checked != 5 {
		t.Errorf("Expected 5 checked, got %d", report.Checked)
	}
	if report.Deactivated != 2 || report.Deleted != 1 || report.Annotated != 1 {
		t.Errorf("Unexpected report %+v", report)
	}

	if staleService.hits.Load() != 0 {
		t.Error("Stale subscription should be deactivated without a probe")
	}
	if got := getSubscription(t, manager, stale.ID); got.IsActive || got.LastError == nil {
		t.Errorf("Stale subscription should be inactive with a reason: %+v", got)
	}

	if _, err := manager.Subscriptions().Get(ctx, missing.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected 404 subscription to be deleted, got %v", err)
	}

	got := getSubscription(t, manager, timeout.ID)
	if !got.IsActive {
		t.Error("Unreachable push service must not deactivate the subscription")
	}
	if got.LastError == nil {
		t.Error("Unreachable probe should record an error")
	}

	if got := getSubscription(t, manager, rejected.ID); got.IsActive || got.LastError == nil {
		t.Errorf("Rejected probe should deactivate with the error: %+v", got)
	}

	got = getSubscription(t, manager, alive.ID)
	if !got.IsActive || got.LastError != nil {
		t.Errorf("Healthy subscription should be untouched: %+v", got)
	}
	if got.LastUsed != nil {
		t.Error("A probe is not a delivery and must not refresh last_used")
	}
	if healthy.hits.Load() != 1 {
		t.Errorf("Expected one probe for the healthy endpoint, got %d", healthy.hits.Load())
	}
}

func TestCleanupExpiredSubscriptions_Idempotent(t *testing.T) {
	engine, manager := setupTestEngine(t)
	notFound := newPushService(t, http.StatusGone)
	subscribe(t, manager, "u", notFound.URL+"/a")

	first := engine.CleanupExpiredSubscriptions(context.Background())
	second := engine.CleanupExpiredSubscriptions(context.Background())

	if first.Deleted != 1 {
		t.Errorf("Expected first pass to delete, got %+v", first)
	}
	if second.Checked != 0 || second.Deleted != 0 {
		t.Errorf("Expected second pass to find nothing, got %+v", second)
	}
}

func TestCleanupExpiredSubscriptions_SkipsInactive(t *testing.T) {
	engine, manager := setupTestEngine(t)
	ps := newPushService(t, http.StatusNotFound)
	sub := subscribe(t, manager, "u", ps.URL+"/a")

	inactive := false
	if err := manager.Subscriptions().Update(context.Background(), sub.ID, modelsUpdateActive(inactive)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	report := engine.CleanupExpiredSubscriptions(context.Background())
	if report.Checked != 0 || ps.hits.Load() != 0 {
		t.Errorf("Inactive subscriptions should not be probed, report %+v", report)
	}
}

func TestCleanupExpiredSubscriptions_IgnoresCancellation(t *testing.T) {
	engine, manager := setupTestEngine(t)
	ps := newPushService(t, http.StatusGone)
	subscribe(t, manager, "u", ps.URL+"/a")
	subscribe(t, manager, "u", ps.URL+"/b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := engine.CleanupExpiredSubscriptions(ctx)
	if report.Deleted != 2 {
		t.Errorf("Expected the pass to complete despite cancellation, got %+v", report)
	}
}

func TestCleanupExpiredSubscriptions_ProbeDelay(t *testing.T) {
	engine, manager := setupTestEngine(t)
	engine.cfg.ProbeDelay = 50
	ps := newPushService(t, http.StatusCreated)
	for _, path := range []string{"/a", "/b", "/c"} {
		subscribe(t, manager, "u", ps.URL+path)
	}

	start := time.Now()
	engine.CleanupExpiredSubscriptions(context.Background())
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected probes to be spaced out, took %v", elapsed)
	}
}

func TestCleanupExpiredSubscriptions_ResubscribeRevives(t *testing.T) {
	engine, manager := setupTestEngine(t)
	ctx := context.Background()
	ps := newPushService(t, http.StatusCreated)

	sub := subscribe(t, manager, "u", ps.URL+"/device")
	old := time.Now().Add(-40 * 24 * time.Hour)
	if err := manager.Subscriptions().Update(ctx, sub.ID, modelsUpdateLastUsed(old)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	first := engine.CleanupExpiredSubscriptions(ctx)
	if first.Deactivated != 1 {
		t.Fatalf("Expected the stale subscription to be retired, got %+v", first)
	}

	// The user reopens the app and registers the same endpoint again
	again := subscribe(t, manager, "u", ps.URL+"/device")
	if again.ID != sub.ID || !again.IsActive {
		t.Fatalf("Expected the same row to be re-activated, got %+v", again)
	}

	second := engine.CleanupExpiredSubscriptions(ctx)
	if second.Checked != 1 || second.Deactivated != 0 {
		t.Errorf("Re-subscribed endpoint should survive the next pass, got %+v", second)
	}
	if got := getSubscription(t, manager, sub.ID); !got.IsActive || got.LastError != nil {
		t.Errorf("Re-subscribed endpoint should stay active and clean: %+v", got)
	}
	if ps.hits.Load() != 1 {
		t.Errorf("Expected exactly one probe on the second pass, got %d", ps.hits.Load())
	}
}
