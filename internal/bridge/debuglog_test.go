package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestLog(t *testing.T, limit int) *DebugLog {
	t.Helper()
	l, err := OpenDebugLog(filepath.Join(t.TempDir(), "nested", "debug.db"), limit)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// TestDebugLogTrimsOldest verifies the log never exceeds its limit and keeps
// the newest entries in append order.
func TestDebugLogTrimsOldest(t *testing.T) {
	l := openTestLog(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := l.Append(ctx, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	lines, err := l.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for i, want := range []string{"line 3", "line 4", "line 5"} {
		if !strings.HasSuffix(lines[i], " "+want) {
			t.Errorf("lines[%d] = %q, want suffix %q", i, lines[i], want)
		}
	}
}

func TestDebugLogTimestampPrefix(t *testing.T) {
	l := openTestLog(t, 0)
	l.now = func() time.Time { return time.Date(2026, 10, 12, 9, 30, 0, 0, time.UTC) }

	if err := l.Append(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	lines, _ := l.Read(context.Background())
	if len(lines) != 1 || lines[0] != "2026-10-12T09:30:00.000Z hello" {
		t.Errorf("lines = %q", lines)
	}
}

func TestDebugLogClear(t *testing.T) {
	l := openTestLog(t, 10)
	ctx := context.Background()
	l.Append(ctx, "a") //nolint:errcheck
	l.Append(ctx, "b") //nolint:errcheck

	if err := l.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	lines, err := l.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lines == nil || len(lines) != 0 {
		t.Errorf("lines = %#v, want empty non-nil slice", lines)
	}
}
