package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "trader.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "policy/active", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "policy/active")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get = %q, want v1", got)
	}

	// Last write wins.
	if err := s.Put(ctx, "policy/active", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err = s.Get(ctx, "policy/active")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get = %q, want v2", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "never-written")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing key: err = %v, want ErrNotFound", err)
	}
}

func TestRiskRecordsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := RiskRecord{
			ID:         string(rune('a' + i)),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Symbol:     "BTCUSDT",
			Verdict:    "APPROVED",
			Requested:  0.1,
			Approved:   0.1,
			StopLoss:   0.02,
			TakeProfit: 0.05,
		}
		if err := s.AppendRiskRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRiskRecord: %v", err)
		}
	}

	records, err := s.RecentRiskRecords(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRiskRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Fatalf("order = %s, %s; want c, b", records[0].ID, records[1].ID)
	}
}

func TestAppendRetrainEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendRetrainEvent(ctx, RetrainEvent{
		ID:          "evt-1",
		Timestamp:   time.Now(),
		FromVersion: 1,
		ToVersion:   2,
		Outcome:     "PROMOTED",
		Accuracy:    0.91,
	})
	if err != nil {
		t.Fatalf("AppendRetrainEvent: %v", err)
	}

	// Duplicate ids are a bug in the caller and must surface.
	err = s.AppendRetrainEvent(ctx, RetrainEvent{ID: "evt-1", Timestamp: time.Now(), Outcome: "FAILED"})
	if err == nil {
		t.Fatal("duplicate event id accepted")
	}
}
