package copyclock

import (
	"testing"
	"time"
)

var utc = time.UTC

func TestParseCutoff(t *testing.T) {
	c, err := ParseCutoff("15:45", utc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Hour != 15 || c.Minute != 45 {
		t.Errorf("expected 15:45, got %d:%d", c.Hour, c.Minute)
	}

	for _, bad := range []string{"", "15", "25:00", "12:60", "ab:cd"} {
		if _, err := ParseCutoff(bad, utc); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCutoff_Next_BeforeCutoff(t *testing.T) {
	c := Cutoff{Hour: 16, Minute: 0, Loc: utc}
	now := time.Date(2024, 3, 14, 10, 30, 0, 0, utc)

	next := c.Next(now)
	want := time.Date(2024, 3, 14, 16, 0, 0, 0, utc)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCutoff_Next_AfterCutoff(t *testing.T) {
	c := Cutoff{Hour: 16, Minute: 0, Loc: utc}
	now := time.Date(2024, 3, 14, 16, 0, 0, 0, utc) // exactly at cutoff → next day

	next := c.Next(now)
	want := time.Date(2024, 3, 15, 16, 0, 0, 0, utc)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestMidnight(t *testing.T) {
	now := time.Date(2024, 3, 14, 23, 59, 59, 0, utc)
	got := Midnight(now, utc)
	want := time.Date(2024, 3, 14, 0, 0, 0, 0, utc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCutoff_Until(t *testing.T) {
	c := Cutoff{Hour: 12, Minute: 0, Loc: utc}
	now := time.Date(2024, 3, 14, 11, 0, 0, 0, utc)
	if d := c.Until(now); d != time.Hour {
		t.Errorf("expected 1h, got %v", d)
	}
}
