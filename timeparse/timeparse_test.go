package timeparse

import (
	"fmt"
	"testing"
	"time"
)

func TestParse_RejectsUnknownShapes(t *testing.T) {
	now := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	for _, text := range []string{
		"",
		"at6pm",
		"later 5 minutes",
		"on tuesday",
		"at ",
		"in ",
	} {
		if _, ok := Parse(text, now); ok {
			t.Errorf("Parse(%q) = ok, want failure", text)
		}
	}
}

func TestParse_Absolute(t *testing.T) {
	tests := []struct {
		name string
		text string
		now  time.Time
		want time.Time
		ok   bool
	}{
		{
			name: "upcoming time today",
			text: "at 10:30",
			now:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "explicit pm today",
			text: "at 6pm",
			now:  time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "explicit pm already passed rolls to tomorrow",
			text: "at 6pm",
			now:  time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "bare hour passed but pm reading still ahead",
			text: "at 3",
			now:  time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "bare hour passed in both readings rolls to tomorrow",
			text: "at 3",
			now:  time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "midnight via 12am",
			text: "at 12am",
			now:  time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "noon via 12pm",
			text: "at 12pm",
			now:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "military time with minutes",
			text: "at 23:45",
			now:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 23, 45, 0, 0, time.UTC),
			ok:   true,
		},
		{name: "invalid hour", text: "at 25:00", now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{name: "conflicting meridiem", text: "at 3ampm", now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{name: "meridiem with military hour", text: "at 13pm", now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{name: "invalid minutes", text: "at 9:75", now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)},
		{name: "non numeric", text: "at noonish", now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text, tt.now)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

// Marked clock times always land within the next 24 hours, never in the past.
func TestParse_AbsoluteAlwaysWithinOneDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 37, 0, 0, time.UTC)
	for _, suffix := range []string{"am", "pm"} {
		for h := 1; h <= 12; h++ {
			for _, m := range []int{0, 30} {
				text := fmt.Sprintf("at %d:%02d%s", h, m, suffix)
				got, ok := Parse(text, now)
				if !ok {
					t.Fatalf("Parse(%q) failed", text)
				}
				if got.Before(now) {
					t.Errorf("Parse(%q) = %v, in the past relative to %v", text, got, now)
				}
				if got.Sub(now) > 24*time.Hour {
					t.Errorf("Parse(%q) = %v, more than 24h ahead of %v", text, got, now)
				}
			}
		}
	}
}

func TestParse_Relative(t *testing.T) {
	now := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		text string
		want time.Time
		ok   bool
	}{
		{name: "minutes", text: "in 5 minutes", want: now.Add(5 * time.Minute), ok: true},
		{name: "short minutes", text: "in 5m", want: now.Add(5 * time.Minute), ok: true},
		{name: "seconds", text: "in 45 secs", want: now.Add(45 * time.Second), ok: true},
		{name: "fractional hours", text: "in 1.5h", want: now.Add(90 * time.Minute), ok: true},
		{name: "days", text: "in 2 days", want: now.Add(48 * time.Hour), ok: true},
		{name: "weeks", text: "in 1 wk", want: now.Add(7 * 24 * time.Hour), ok: true},
		{name: "years", text: "in 1 year", want: now.Add(365 * 24 * time.Hour), ok: true},
		{name: "unknown unit", text: "in 5 bananas"},
		{name: "missing unit", text: "in 5"},
		{name: "non numeric amount", text: "in soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text, now)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

// Month arithmetic walks the calendar rather than adding a fixed duration,
// so overflowing a short month normalizes forward.
func TestParse_RelativeMonths(t *testing.T) {
	tests := []struct {
		text string
		now  time.Time
		want time.Time
	}{
		{
			text: "in 1 month",
			now:  time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			text: "in 2 months",
			now:  time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			text: "in 12 mos",
			now:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.text, tt.now)
		if !ok {
			t.Fatalf("Parse(%q) failed", tt.text)
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q) from %v = %v, want %v", tt.text, tt.now, got, tt.want)
		}
	}
}
