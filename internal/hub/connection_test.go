package hub

import (
	"errors"
	"testing"

	"ravenmail/internal/models"
)

func TestConnectionSend(t *testing.T) {
	c := newConnection(nil, 1)

	if err := c.send([]byte("early")); !errors.Is(err, errConnClosed) {
		t.Errorf("Unauthenticated connection accepted a frame: %v", err)
	}

	c.authenticate(models.Identity{UserID: "u"}, []string{"a1", "a2"})
	if c.State() != models.StateAuthenticated {
		t.Fatalf("Expected authenticated, got %s", c.State())
	}
	if c.accountCount() != 2 || !c.owns("a1") || c.owns("a3") {
		t.Error("Unexpected account scope")
	}

	if err := c.send([]byte("1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := c.send([]byte("2")); !errors.Is(err, errQueueFull) {
		t.Errorf("Expected errQueueFull, got %v", err)
	}

	c.close()
	c.close()
	if c.State() != models.StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
	if err := c.send([]byte("3")); !errors.Is(err, errConnClosed) {
		t.Errorf("Expected errConnClosed, got %v", err)
	}

	// Frames queued before close are still flushed
	if frame, ok := <-c.queue; !ok || string(frame) != "1" {
		t.Errorf("Expected queued frame to survive close, got %q", frame)
	}
	if _, ok := <-c.queue; ok {
		t.Error("Expected queue to be closed")
	}
}

func TestRegistry(t *testing.T) {
	r := newRegistry()
	a := newConnection(nil, 1)
	a.authenticate(models.Identity{UserID: "alice"}, nil)
	b := newConnection(nil, 1)
	b.authenticate(models.Identity{UserID: "bob"}, nil)
	b2 := newConnection(nil, 1)
	b2.authenticate(models.Identity{UserID: "bob"}, nil)

	r.add(a)
	r.add(b)
	r.add(b2)

	if r.count() != 3 {
		t.Errorf("Expected 3 connections, got %d", r.count())
	}
	if len(r.byUser("bob")) != 2 {
		t.Errorf("Expected 2 connections for bob, got %d", len(r.byUser("bob")))
	}
	if len(r.users()) != 2 {
		t.Errorf("Expected 2 users, got %v", r.users())
	}

	if !r.remove(b) || r.remove(b) {
		t.Error("remove should report registration exactly once")
	}
	if !r.hasUser("bob") {
		t.Error("bob still has a connection")
	}
	r.remove(b2)
	if r.hasUser("bob") {
		t.Error("bob should be gone")
	}
	if len(r.snapshot()) != 1 {
		t.Errorf("Expected 1 connection in snapshot, got %d", len(r.snapshot()))
	}
}

func TestConnectionIdentity(t *testing.T) {
	a := newConnection(nil, 1)
	b := newConnection(nil, 1)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("Expected distinct connection ids, got %q and %q", a.ID(), b.ID())
	}

	// Duplicate account ids collapse into one scope entry
	a.authenticate(models.Identity{UserID: "u"}, []string{"a1", "a1", "a2"})
	if a.accountCount() != 2 {
		t.Errorf("Expected 2 accounts, got %d", a.accountCount())
	}
}
