package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okline/readpulse/internal/event"
)

func TestSpillRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.cbor")

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	events := []*event.Event{
		{
			Kind:      event.KindView,
			UserID:    "user-1",
			PassageID: "p1",
			BookID:    "book-1",
			Timestamp: ts,
			View: &event.ViewData{
				StartTime:  ts,
				Visibility: 1.0,
			},
		},
		{
			Kind:      event.KindAction,
			UserID:    "user-1",
			PassageID: "p2",
			Action:    event.ActionLike,
			Timestamp: ts.Add(time.Second),
		},
	}

	if err := saveSpill(path, events); err != nil {
		t.Fatalf("saveSpill() error = %v", err)
	}

	restored, err := loadSpill(path)
	if err != nil {
		t.Fatalf("loadSpill() error = %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("loadSpill() returned %d events, want 2", len(restored))
	}
	if restored[0].Kind != event.KindView || restored[0].PassageID != "p1" {
		t.Errorf("restored[0] = %+v, want view of p1", restored[0])
	}
	if !restored[0].Timestamp.Equal(ts) {
		t.Errorf("restored[0].Timestamp = %v, want %v", restored[0].Timestamp, ts)
	}
	if restored[0].View == nil || restored[0].View.Visibility != 1.0 {
		t.Errorf("restored[0].View = %+v, want visibility 1.0", restored[0].View)
	}
	if restored[1].Action != event.ActionLike {
		t.Errorf("restored[1].Action = %q, want like", restored[1].Action)
	}

	// The file is consumed on load.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spill file still exists after load, stat err = %v", err)
	}
}

func TestLoadSpillMissingFile(t *testing.T) {
	events, err := loadSpill(filepath.Join(t.TempDir(), "absent.cbor"))
	if err != nil {
		t.Errorf("loadSpill() error = %v, want nil for missing file", err)
	}
	if events != nil {
		t.Errorf("loadSpill() = %v, want nil", events)
	}
}

func TestLoadSpillCorruptFileConsumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.cbor")
	if err := os.WriteFile(path, []byte("not cbor at all"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadSpill(path); err == nil {
		t.Error("loadSpill() error = nil, want decode failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupt spill file still exists, stat err = %v", err)
	}
}
