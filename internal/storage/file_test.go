package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "sessiond/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "events.jsonl"),
	}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Logger{}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := st.AppendSessionEvent(ctx, SessionEvent{
			Type:      "started",
			SessionID: fmt.Sprintf("s-%d", i),
			Preset:    "p",
			Trigger:   "manual",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := st.RecentSessionEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentSessionEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	// The tail of the log, oldest first.
	for i, want := range []string{"s-2", "s-3", "s-4"} {
		if got[i].SessionID != want {
			t.Fatalf("events = %+v, want tail s-2..s-4", got)
		}
	}
	if got[0].At.IsZero() {
		t.Fatal("append did not stamp the event time")
	}
}

func TestRecentWindowBoundaries(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := st.AppendSessionEvent(ctx, SessionEvent{
			Type:      "started",
			SessionID: fmt.Sprintf("s-%d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Limit equal to the event count returns everything, oldest first.
	got, err := st.RecentSessionEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessionEvents: %v", err)
	}
	if len(got) != 10 || got[0].SessionID != "s-0" || got[9].SessionID != "s-9" {
		t.Fatalf("full window = %+v", got)
	}

	// Limit larger than the log is not an error.
	got, err = st.RecentSessionEvents(ctx, 100)
	if err != nil || len(got) != 10 {
		t.Fatalf("oversized window: %d events, %v", len(got), err)
	}

	// A window that wraps several times still ends at the newest event.
	got, err = st.RecentSessionEvents(ctx, 4)
	if err != nil {
		t.Fatalf("RecentSessionEvents: %v", err)
	}
	for i, want := range []string{"s-6", "s-7", "s-8", "s-9"} {
		if got[i].SessionID != want {
			t.Fatalf("window = %+v, want s-6..s-9", got)
		}
	}
}

func TestRecentOnEmptyStore(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	got, err := st.RecentSessionEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentSessionEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d events from empty store", len(got))
	}
}

func TestEventFieldsSurvive(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(-time.Hour).Truncate(time.Second)

	err := st.AppendSessionEvent(ctx, SessionEvent{
		At:      at,
		Type:    "start_failed",
		Preset:  "night",
		Trigger: "schedule:night",
		Module:  "proclaunch",
		Error:   "boom",
		TookMS:  1200,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.RecentSessionEvents(ctx, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("recent: %v, %v", got, err)
	}
	e := got[0]
	if e.Type != "start_failed" || e.Module != "proclaunch" || e.Error != "boom" || e.TookMS != 1200 {
		t.Fatalf("event mangled: %+v", e)
	}
	if !e.At.Equal(at) {
		t.Fatalf("at = %s, want %s", e.At, at)
	}
}
