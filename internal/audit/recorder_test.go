package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

func setup(t *testing.T, pageSize int) (*storage.Store, *Recorder) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "audit.db"), storage.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, NewRecorder(store, pageSize)
}

func record(t *testing.T, store *storage.Store, r *Recorder, ev Event) core.AuditLog {
	t.Helper()
	var rec core.AuditLog
	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		rec, err = r.Record(context.Background(), tx, ev)
		return err
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return rec
}

func TestRecordStoresSnapshots(t *testing.T) {
	store, r := setup(t, 10)
	rec := record(t, store, r, Event{
		Action:      core.ActionUpdate,
		EntityType:  core.EntityAcademicSession,
		EntityID:    "1",
		Before:      map[string]bool{"is_current": true},
		After:       map[string]bool{"is_current": false},
		Description: "rollover",
	})
	if rec.ID == 0 {
		t.Fatalf("expected id")
	}

	got, err := Collect(r.History(context.Background(), core.AuditFilter{}))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	var after map[string]bool
	if err := json.Unmarshal(got[0].After, &after); err != nil {
		t.Fatalf("unmarshal after: %v", err)
	}
	if after["is_current"] {
		t.Fatalf("unexpected after snapshot %s", got[0].After)
	}
	if len(got[0].Before) == 0 {
		t.Fatalf("expected before snapshot")
	}
}

func TestRecordRequiresAfter(t *testing.T) {
	store, r := setup(t, 10)
	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		_, err := r.Record(context.Background(), tx, Event{Action: core.ActionCreate, EntityType: core.EntityReceipt, EntityID: "1"})
		return err
	})
	if !errors.Is(err, ErrMissingAfter) {
		t.Fatalf("expected ErrMissingAfter, got %v", err)
	}
}

func TestHistoryNewestFirstAcrossPages(t *testing.T) {
	store, r := setup(t, 2)
	for i := 1; i <= 5; i++ {
		record(t, store, r, Event{
			Action: core.ActionCreate, EntityType: core.EntityLedgerEntry, EntityID: strconv.Itoa(i), After: i,
		})
	}

	got, err := Collect(r.History(context.Background(), core.AuditFilter{}))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID >= got[i-1].ID {
			t.Fatalf("records not newest first: %d after %d", got[i].ID, got[i-1].ID)
		}
	}
	if got[0].EntityID != "5" {
		t.Fatalf("expected newest first, got %s", got[0].EntityID)
	}
}

func TestHistoryIsRestartable(t *testing.T) {
	store, r := setup(t, 3)
	for i := 0; i < 4; i++ {
		record(t, store, r, Event{Action: core.ActionCreate, EntityType: core.EntityReceipt, EntityID: "r", After: i})
	}
	seq := r.History(context.Background(), core.AuditFilter{})

	first, err := Collect(seq)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := Collect(seq)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(first) != 4 || len(second) != 4 || first[0].ID != second[0].ID {
		t.Fatalf("expected identical passes, got %d and %d", len(first), len(second))
	}
}

func TestHistoryEarlyBreak(t *testing.T) {
	store, r := setup(t, 2)
	for i := 0; i < 6; i++ {
		record(t, store, r, Event{Action: core.ActionCreate, EntityType: core.EntityReceipt, EntityID: "r", After: i})
	}
	n := 0
	for _, err := range r.History(context.Background(), core.AuditFilter{}) {
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("expected to stop at 3, got %d", n)
	}
}

func TestHistoryFilters(t *testing.T) {
	store, r := setup(t, 10)
	record(t, store, r, Event{Action: core.ActionCreate, EntityType: core.EntityReceipt, EntityID: "1", After: 1})
	record(t, store, r, Event{Action: core.ActionDelete, EntityType: core.EntityReceipt, EntityID: "1", After: 1})
	record(t, store, r, Event{Action: core.ActionCreate, EntityType: core.EntityLedgerEntry, EntityID: "9", After: 1})
	ctx := context.Background()

	cases := []struct {
		name string
		f    core.AuditFilter
		want int
	}{
		{"all", core.AuditFilter{}, 3},
		{"entity type", core.AuditFilter{EntityType: core.EntityReceipt}, 2},
		{"entity", core.AuditFilter{EntityType: core.EntityReceipt, EntityID: "1", Action: core.ActionDelete}, 1},
		{"limit", core.AuditFilter{Limit: 2}, 2},
		{"until past", core.AuditFilter{Until: time.Unix(0, 0)}, 0},
		{"since future", core.AuditFilter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tc := range cases {
		got, err := Collect(r.History(ctx, tc.f))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, len(got))
		}
		for _, rec := range got {
			if !matches(tc.f, rec) {
				t.Fatalf("%s: record %+v does not match filter", tc.name, rec)
			}
		}
	}
}

// matches reports whether rec passes f, checked in memory.
func matches(f core.AuditFilter, rec core.AuditLog) bool {
	switch {
	case f.EntityType != "" && rec.EntityType != f.EntityType,
		f.EntityID != "" && rec.EntityID != f.EntityID,
		f.Action != "" && rec.Action != f.Action,
		!f.Since.IsZero() && rec.Timestamp.Before(f.Since),
		!f.Until.IsZero() && rec.Timestamp.After(f.Until):
		return false
	}
	return true
}
