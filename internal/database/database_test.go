package database

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	DB = db
	if err := db.AutoMigrate(&User{}, &Setting{}, &SessionLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestSessionLog_RoundTrip(t *testing.T) {
	setupTestDB(t)

	started := time.Now().Add(-10 * time.Minute)
	err := RecordSessionEnd(&SessionLog{
		SessionID: "tok-1",
		UserID:    3,
		Profile:   "default",
		Shell:     "/bin/bash",
		RuntimeID: "env-abc",
		Reason:    "idle timeout",
		StartedAt: started,
		EndedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	logs, err := ListSessionLogs(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(logs))
	}
	if logs[0].SessionID != "tok-1" || logs[0].Reason != "idle timeout" {
		t.Errorf("unexpected row: %+v", logs[0])
	}

	// The session token is unique per process lifetime; a duplicate audit
	// row indicates a double-terminate bug.
	if err := RecordSessionEnd(&SessionLog{SessionID: "tok-1", UserID: 3}); err == nil {
		t.Error("duplicate session_id accepted")
	}
}

func TestListSessionLogs_NewestFirstAndLimited(t *testing.T) {
	setupTestDB(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		RecordSessionEnd(&SessionLog{
			SessionID: "tok-" + string(rune('a'+i)),
			UserID:    1,
			EndedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	logs, err := ListSessionLogs(3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(logs))
	}
	if logs[0].SessionID != "tok-e" {
		t.Errorf("expected newest first, got %s", logs[0].SessionID)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("motd", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetSetting("motd", "updated"); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := GetSetting("motd")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "updated" {
		t.Errorf("expected updated, got %q", v)
	}

	if _, err := GetSetting("missing"); err == nil {
		t.Error("expected error for missing key")
	}
}
