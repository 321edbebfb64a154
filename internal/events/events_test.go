package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"ravenmail/internal/logging"
)

func TestEncodeDecode(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   Event
	}{
		{"email received", EmailReceived{AccountID: "acct-1", EmailID: "m-1", From: "a@b.com", Subject: "hi", ReceivedAt: received, VIP: true}},
		{"email synced", EmailSynced{AccountID: "acct-1", NewCount: 3, Senders: []string{"a", "b"}, SyncedAt: received}},
		{"sync error", SyncError{AccountID: "acct-2", Message: "auth failed", OccurredAt: received}},
		{"accounts changed", AccountsChanged{UserID: "user-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Type() != tt.ev.Type() {
				t.Errorf("Expected type %s, got %s", tt.ev.Type(), got.Type())
			}
			if a, ok := tt.ev.(AccountEvent); ok {
				if b, ok := got.(AccountEvent); !ok || b.Account() != a.Account() {
					t.Errorf("Account id not preserved: %#v", got)
				}
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	inputs := map[string]string{
		"not json":     "{",
		"unknown type": `{"type":"email_deleted","data":{}}`,
		"bad data":     `{"type":"email_synced","data":{"newCount":"many"}}`,
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw)); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestAccountsChangedIsNotAccountScoped(t *testing.T) {
	var ev Event = AccountsChanged{UserID: "u"}
	if _, ok := ev.(AccountEvent); ok {
		t.Error("AccountsChanged should not carry an account scope")
	}
}

func TestMemoryBus_PreservesOrder(t *testing.T) {
	bus := NewMemoryBus(4, logging.Nop())
	defer func() { _ = bus.Close() }()

	first := bus.Subscribe("first")
	second := bus.Subscribe("second")

	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			_ = bus.Publish(context.Background(), EmailSynced{AccountID: "a", NewCount: i})
		}
	}()

	for _, sub := range []*Subscription{first, second} {
		for i := 0; i < n; i++ {
			select {
			case ev := <-sub.C():
				if got := ev.(EmailSynced).NewCount; got != i {
					t.Fatalf("%s: expected event %d, got %d", sub.Name(), i, got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("%s: timed out waiting for event %d", sub.Name(), i)
			}
		}
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(1, logging.Nop())
	defer func() { _ = bus.Close() }()

	sub := bus.Subscribe("gone")
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Error("Expected closed channel after unsubscribe")
	}
	if err := bus.Publish(context.Background(), SyncError{AccountID: "a"}); err != nil {
		t.Errorf("Publish with no subscribers failed: %v", err)
	}
}

func TestMemoryBus_PublishHonorsContext(t *testing.T) {
	bus := NewMemoryBus(1, logging.Nop())
	defer func() { _ = bus.Close() }()

	_ = bus.Subscribe("slow")
	if err := bus.Publish(context.Background(), SyncError{AccountID: "a"}); err != nil {
		t.Fatalf("First publish failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, SyncError{AccountID: "a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(1, logging.Nop())
	sub := bus.Subscribe("s")

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("Expected subscription channel to be closed")
	}
	if err := bus.Publish(context.Background(), SyncError{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}

	late := bus.Subscribe("late")
	if _, ok := <-late.C(); ok {
		t.Error("Subscribing to a closed bus should yield a closed channel")
	}
	late.Unsubscribe()
}

func TestMemoryBus_SubscribeLocalSeesEverything(t *testing.T) {
	bus := NewMemoryBus(1, logging.Nop())
	defer func() { _ = bus.Close() }()

	local := bus.SubscribeLocal("push")
	if err := bus.Publish(context.Background(), SyncError{AccountID: "a"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-local.C():
	case <-time.After(time.Second):
		t.Fatal("Local subscriber did not receive the event")
	}
}
