package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"ravenmail/internal/conf"
	"ravenmail/internal/db"
	"ravenmail/internal/logging"
	"ravenmail/internal/models"
)

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryBucket) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func setupTestArchiver(t *testing.T, bucket *memoryBucket) (*Archiver, *db.DBManager) {
	t.Helper()

	manager, err := db.NewDBManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewDBManager failed: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	cfg := conf.DefaultConfig().Archive
	cfg.Bucket = "raven-archive"
	cfg.RetentionDays = 1

	return New(bucket, manager.Notifications(), cfg, logging.Nop()), manager
}

func addEntry(t *testing.T, manager *db.DBManager, userID string, status string) string {
	t.Helper()

	entry := &models.NotificationLogEntry{
		UserID:           userID,
		NotificationType: "new_email",
		Title:            "New email from Alice",
		Body:             "Lunch?",
		RecipientCount:   1,
	}
	ctx := context.Background()
	if err := manager.Notifications().Create(ctx, entry); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if status != models.StatusPending {
		if err := manager.Notifications().Update(ctx, entry.ID, models.NotificationLogUpdate{Status: status, SuccessCount: 1}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	return entry.ID
}

func TestArchiverRun(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{}}
	archiver, manager := setupTestArchiver(t, bucket)

	addEntry(t, manager, "u", models.StatusSent)
	addEntry(t, manager, "u", models.StatusFailed)
	pending := addEntry(t, manager, "u", models.StatusPending)

	// Everything created so far is older than the retention window from here
	archiver.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	if err := archiver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(bucket.objects) != 1 {
		t.Fatalf("Expected one object, got %d", len(bucket.objects))
	}
	for key, data := range bucket.objects {
		if !strings.HasPrefix(key, "notification-logs/") || !strings.HasSuffix(key, ".jsonl") {
			t.Errorf("Unexpected object key %s", key)
		}
		lines := 0
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			var entry models.NotificationLogEntry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				t.Fatalf("Invalid JSON line: %v", err)
			}
			if entry.Status == models.StatusPending {
				t.Error("Pending entries must not be archived")
			}
			lines++
		}
		if lines != 2 {
			t.Errorf("Expected 2 archived entries, got %d", lines)
		}
	}

	remaining, err := manager.Notifications().ListByUser(context.Background(), "u", time.Time{})
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != pending {
		t.Errorf("Expected only the pending entry to remain, got %+v", remaining)
	}
}

func TestArchiverRun_Batches(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{}}
	archiver, manager := setupTestArchiver(t, bucket)
	archiver.batchSize = 2

	for i := 0; i < 5; i++ {
		addEntry(t, manager, "u", models.StatusSent)
	}
	archiver.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	if err := archiver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(bucket.objects) != 3 {
		t.Errorf("Expected 3 objects for 5 entries in batches of 2, got %d", len(bucket.objects))
	}
}

func TestArchiverRun_RecentEntriesKept(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{}}
	archiver, manager := setupTestArchiver(t, bucket)
	addEntry(t, manager, "u", models.StatusSent)

	if err := archiver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(bucket.objects) != 0 {
		t.Errorf("Recent entries should not be archived, got %d objects", len(bucket.objects))
	}
}

func TestArchiverRun_UploadFailureKeepsEntries(t *testing.T) {
	bucket := &memoryBucket{
		objects: map[string][]byte{},
		err:     &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"},
	}
	archiver, manager := setupTestArchiver(t, bucket)
	addEntry(t, manager, "u", models.StatusSent)
	archiver.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	err := archiver.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("Expected the API error code in the error, got %v", err)
	}

	remaining, _ := manager.Notifications().ListByUser(context.Background(), "u", time.Time{})
	if len(remaining) != 1 {
		t.Errorf("Entries must survive a failed upload, got %d", len(remaining))
	}
}

func TestObjectKey(t *testing.T) {
	a := &Archiver{prefix: "logs"}
	ts := time.Date(2026, 7, 9, 3, 4, 5, 0, time.UTC)

	if got := a.objectKey(ts, 2); got != "logs/2026/07/09/notifications-20260709T030405Z-002.jsonl" {
		t.Errorf("Unexpected key %s", got)
	}
	a.prefix = ""
	if got := a.objectKey(ts, 0); got != "2026/07/09/notifications-20260709T030405Z-000.jsonl" {
		t.Errorf("Unexpected key without prefix %s", got)
	}
}
