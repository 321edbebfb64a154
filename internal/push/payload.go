package push

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
)

// Notification types recorded in the log and carried in payload data
const (
	TypeNewEmail   = "new_email"
	TypeEmailGroup = "email_group"
	TypeSyncError  = "sync_error"
	TypeTest       = "test"
	TypeProbe      = "probe"
	TypeGeneral    = "general"
)

const (
	redactionMarker  = "[REDACTED]"
	digitPlaceholder = "***"
	ellipsis         = "..."

	maxSenderRunes  = 30
	maxSubjectRunes = 60

	defaultSubject = "New Email"
	unknownSender  = "Unknown sender"
)

var (
	sensitiveWords = regexp.MustCompile(`(?i)\b(confidential|secret|private|internal|password|login)\b`)
	digitRuns      = regexp.MustCompile(`\d{3,}`)
)

// Payload is the JSON document delivered to the service worker
type Payload struct {
	Title              string      `json:"title"`
	Body               string      `json:"body"`
	Icon               string      `json:"icon,omitempty"`
	Badge              string      `json:"badge,omitempty"`
	Tag                string      `json:"tag,omitempty"`
	Renotify           bool        `json:"renotify,omitempty"`
	Data               PayloadData `json:"data"`
	Actions            []Action    `json:"actions,omitempty"`
	RequireInteraction bool        `json:"requireInteraction"`
	Silent             bool        `json:"silent,omitempty"`
}

// PayloadData holds navigation metadata only
type PayloadData struct {
	Type      string `json:"type"`
	EmailID   string `json:"emailId,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Count     int    `json:"count,omitempty"`
}

// Action is a notification button
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// EmailNotification describes a newly received message
type EmailNotification struct {
	EmailID    string
	AccountID  string
	From       string
	Subject    string
	ReceivedAt time.Time
	VIP        bool
}

// SanitizeSender reduces a From header to a display name or the local part
// of the address
func SanitizeSender(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return unknownSender
	}

	var name, address string
	if addr, err := mail.ParseAddress(from); err == nil {
		name, address = addr.Name, addr.Address
	} else {
		name, address = splitAddress(from)
	}

	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name != "" {
		if strings.Contains(name, "@") {
			name = localPart(name)
		}
		return truncate(name, maxSenderRunes, maxSenderRunes)
	}

	if local := localPart(address); local != "" {
		return truncate(local, maxSenderRunes, maxSenderRunes)
	}
	return unknownSender
}

// splitAddress handles headers the RFC 5322 parser rejects
func splitAddress(from string) (name, address string) {
	open := strings.LastIndex(from, "<")
	if open < 0 {
		return "", from
	}
	name = from[:open]
	address = from[open+1:]
	if end := strings.Index(address, ">"); end >= 0 {
		address = address[:end]
	}
	return name, strings.TrimSpace(address)
}

func localPart(address string) string {
	if at := strings.Index(address, "@"); at >= 0 {
		return strings.TrimSpace(address[:at])
	}
	return strings.TrimSpace(address)
}

// SanitizeSubject redacts sensitive words and digit runs and bounds the length
func SanitizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return defaultSubject
	}

	subject = sensitiveWords.ReplaceAllString(subject, redactionMarker)
	subject = digitRuns.ReplaceAllString(subject, digitPlaceholder)

	return truncate(subject, maxSubjectRunes, maxSubjectRunes-utf8.RuneCountInString(ellipsis))
}

// truncate cuts s to keep runes plus an ellipsis when it exceeds limit runes
func truncate(s string, limit, keep int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:keep]) + ellipsis
}

// NewEmailPayload builds the notification for a single new message
func NewEmailPayload(n EmailNotification) Payload {
	sender := SanitizeSender(n.From)

	title := "New email from " + sender
	if n.VIP {
		title = "⭐ VIP: " + sender
	}

	ts := n.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return Payload{
		Title: title,
		Body:  SanitizeSubject(n.Subject),
		Tag:   "email-" + n.AccountID,
		Data: PayloadData{
			Type:      TypeNewEmail,
			EmailID:   n.EmailID,
			AccountID: n.AccountID,
			URL:       fmt.Sprintf("/mail/%s/%s", n.AccountID, n.EmailID),
			Timestamp: ts.UnixMilli(),
		},
		Actions: []Action{
			{Action: "view", Title: "View"},
			{Action: "archive", Title: "Archive"},
		},
		RequireInteraction: n.VIP,
	}
}

// GroupedEmailPayload summarizes a batch of new messages for one account.
// Reusing the per-account tag lets the client replace an earlier summary.
func GroupedEmailPayload(accountID string, count int, senders []string) Payload {
	names := uniqueSenders(senders)

	noun := "emails"
	if count == 1 {
		noun = "email"
	}
	body := fmt.Sprintf("%d new %s", count, noun)
	switch {
	case len(names) == 1:
		body += " from " + names[0]
	case len(names) >= 2 && len(names) <= 3:
		body += " from " + strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	case len(names) > 3:
		body += fmt.Sprintf(" from %d senders", len(names))
	}

	return Payload{
		Title:    "New emails",
		Body:     body,
		Tag:      "email-group-" + accountID,
		Renotify: true,
		Data: PayloadData{
			Type:      TypeEmailGroup,
			AccountID: accountID,
			URL:       "/mail/" + accountID,
			Timestamp: time.Now().UnixMilli(),
			Count:     count,
		},
		Actions: []Action{{Action: "view", Title: "View"}},
	}
}

func uniqueSenders(senders []string) []string {
	seen := make(map[string]bool, len(senders))
	names := make([]string, 0, len(senders))
	for _, s := range senders {
		name := SanitizeSender(s)
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// SyncErrorPayload tells the user an account needs attention without
// forwarding the provider's error text
func SyncErrorPayload(accountID string) Payload {
	return Payload{
		Title: "Sync problem",
		Body:  "One of your mail accounts could not be synchronized. Open Raven to check its settings.",
		Tag:   "sync-error-" + accountID,
		Data: PayloadData{
			Type:      TypeSyncError,
			AccountID: accountID,
			URL:       "/settings/accounts",
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

// TestPayload is sent when a user asks to verify their devices
func TestPayload() Payload {
	return Payload{
		Title: "Test notification",
		Body:  "Push notifications are working.",
		Tag:   "test",
		Data: PayloadData{
			Type:      TypeTest,
			URL:       "/",
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

// probePayload is the silent message used to check that an endpoint still exists
func probePayload() Payload {
	return Payload{
		Tag:    "probe",
		Silent: true,
		Data: PayloadData{
			Type:      TypeProbe,
			Timestamp: time.Now().UnixMilli(),
		},
	}
}
