// Package events defines the mailbox events emitted by sync workers and the
// bus that carries them to the live hub and the push dispatcher.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates event variants on the wire and in client frames
type Type string

const (
	TypeEmailReceived   Type = "email_received"
	TypeEmailSynced     Type = "email_synced"
	TypeSyncError       Type = "sync_error"
	TypeAccountsChanged Type = "accounts_changed"
)

// Event is one of the variants declared in this package
type Event interface {
	Type() Type
	sealed()
}

// AccountEvent is an event scoped to a single mail account
type AccountEvent interface {
	Event
	Account() string
}

// EmailReceived is emitted for each new message delivered to an account
type EmailReceived struct {
	AccountID  string    `json:"accountId"`
	EmailID    string    `json:"emailId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Folder     string    `json:"folder,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
	VIP        bool      `json:"vip,omitempty"`
}

// EmailSynced is emitted when a sync pass for an account completes
type EmailSynced struct {
	AccountID string    `json:"accountId"`
	Folder    string    `json:"folder,omitempty"`
	NewCount  int       `json:"newCount"`
	Senders   []string  `json:"senders,omitempty"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// SyncError is emitted when an account fails to sync
type SyncError struct {
	AccountID  string    `json:"accountId"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AccountsChanged signals that the set of accounts a user owns has changed
type AccountsChanged struct {
	UserID string `json:"userId"`
}

func (EmailReceived) Type() Type   { return TypeEmailReceived }
func (EmailSynced) Type() Type     { return TypeEmailSynced }
func (SyncError) Type() Type       { return TypeSyncError }
func (AccountsChanged) Type() Type { return TypeAccountsChanged }

func (EmailReceived) sealed()   {}
func (EmailSynced) sealed()     {}
func (SyncError) sealed()       {}
func (AccountsChanged) sealed() {}

func (e EmailReceived) Account() string { return e.AccountID }
func (e EmailSynced) Account() string   { return e.AccountID }
func (e SyncError) Account() string     { return e.AccountID }

// envelope is the serialized form used between server replicas
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes an event with its type discriminator
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Data: data})
}

// Decode parses an event produced by Encode
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	var ev Event
	var err error
	switch env.Type {
	case TypeEmailReceived:
		var e EmailReceived
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case TypeEmailSynced:
		var e EmailSynced
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case TypeSyncError:
		var e SyncError
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case TypeAccountsChanged:
		var e AccountsChanged
		err = json.Unmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", env.Type, err)
	}
	return ev, nil
}
