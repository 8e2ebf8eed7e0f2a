package database

import (
	"context"
	"testing"
	"time"
)

func TestKV(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		"CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)"); err != nil {
		t.Fatalf("creating kv: %v", err)
	}

	if _, ok, err := db.GetValue(ctx, "next_alarm"); err != nil || ok {
		t.Fatalf("GetValue() on empty table = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := db.SetValue(ctx, "next_alarm", "2026-10-18T06:30:00Z"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if err := db.SetValue(ctx, "next_alarm", "2026-10-19T06:30:00Z"); err != nil {
		t.Fatalf("SetValue() overwrite error = %v", err)
	}

	got, ok, err := db.GetValue(ctx, "next_alarm")
	if err != nil || !ok {
		t.Fatalf("GetValue() = (_, %v, %v), want found", ok, err)
	}
	if got != "2026-10-19T06:30:00Z" {
		t.Errorf("GetValue() = %q, want the overwritten value", got)
	}

	if err := db.DeleteValue(ctx, "next_alarm"); err != nil {
		t.Fatalf("DeleteValue() error = %v", err)
	}
	if _, ok, _ := db.GetValue(ctx, "next_alarm"); ok {
		t.Error("key still present after DeleteValue")
	}
}

func TestTimestamps(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 123456000, time.FixedZone("AEST", 10*3600))

	stored := FormatTime(ts)
	if stored != "2026-02-28T23:00:00.123456Z" {
		t.Errorf("FormatTime() = %q", stored)
	}

	parsed, err := ParseTime(stored)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("ParseTime() = %v, want %v", parsed, ts)
	}

	if _, err := ParseTime("2026-03-01T09:00:00+10:00"); err != nil {
		t.Errorf("ParseTime(RFC3339) error = %v", err)
	}
	if _, err := ParseTime(""); err == nil {
		t.Error("ParseTime(\"\") expected error")
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(garbage) expected error")
	}
}
