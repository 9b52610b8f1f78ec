// Package timeparse converts free-text time expressions such as "at 6pm",
// "in 5 minutes", or "in 2 months" into absolute timestamps. Parsing is pure:
// callers pass the reference instant so results are reproducible in tests.
package timeparse

import (
	"strconv"
	"strings"
	"time"
)

const (
	second = time.Second
	minute = time.Minute
	hour   = time.Hour
	day    = 24 * time.Hour
	week   = 7 * day
	year   = 365 * day
)

// Parse converts text of the form "<at|in> <value>" into a timestamp.
// The second return value reports whether the text was understood; malformed
// input is never an error, just a false.
func Parse(text string, now time.Time) (time.Time, bool) {
	dividerIdx := strings.IndexByte(text, ' ')
	if dividerIdx < 0 {
		return time.Time{}, false
	}
	keyword := strings.ToLower(text[:dividerIdx])
	value := text[dividerIdx+1:]
	switch keyword {
	case "at":
		return parseAbsolute(value, now)
	case "in":
		return parseRelative(value, now)
	}
	return time.Time{}, false
}

// parseAbsolute handles clock times like "1:05", "6pm", or "11:30am".
func parseAbsolute(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	hasAM := strings.Contains(lower, "am")
	hasPM := strings.Contains(lower, "pm")
	// Cannot specify both AM and PM.
	if hasAM && hasPM {
		return time.Time{}, false
	}

	hoursPart, minutesPart, hasMinutes := strings.Cut(text, ":")
	hours, ok := leadingInt(hoursPart)
	if !ok {
		return time.Time{}, false
	}
	minutes := 0
	if hasMinutes {
		if minutes, ok = leadingInt(minutesPart); !ok {
			return time.Time{}, false
		}
	}
	// Cannot combine a meridiem marker with a military hour.
	if (hasAM || hasPM) && hours > 12 {
		return time.Time{}, false
	}
	// Convert to military time. The +12 mod 24 identity covers both 12am -> 0
	// and Npm -> N+12.
	if (hasAM && hours == 12) || (hasPM && hours != 12) {
		hours = (hours + 12) % 24
	}
	if hours > 23 || minutes > 59 {
		return time.Time{}, false
	}

	// If the literal time already passed today, prefer the implicit-PM
	// reading when it is still ahead of us; otherwise roll to tomorrow.
	nextDay := false
	if timePassedToday(now, hours, minutes) {
		if !hasAM && !hasPM && hours != 0 && hours < 12 && !timePassedToday(now, hours+12, minutes) {
			hours += 12
		} else {
			nextDay = true
		}
	}
	target := now
	if nextDay {
		target = target.Add(day)
	}
	y, m, d := target.Date()
	return time.Date(y, m, d, hours, minutes, 0, 0, now.Location()), true
}

// parseRelative handles offsets like "5 minutes", "1.5h", or "2 months".
func parseRelative(text string, now time.Time) (time.Time, bool) {
	amount, rest, ok := leadingFloat(text)
	if !ok {
		return time.Time{}, false
	}
	unit := strings.ToLower(strings.TrimSpace(rest))
	switch unit {
	case "s", "sec", "secs", "second", "seconds":
		return now.Add(time.Duration(amount * float64(second))), true
	case "m", "min", "mins", "minute", "minutes":
		return now.Add(time.Duration(amount * float64(minute))), true
	case "h", "hr", "hrs", "hour", "hours":
		return now.Add(time.Duration(amount * float64(hour))), true
	case "d", "day", "days":
		return now.Add(time.Duration(amount * float64(day))), true
	case "w", "wk", "wks", "week", "weeks":
		return now.Add(time.Duration(amount * float64(week))), true
	case "mo", "mos", "mon", "mons", "mth", "mths", "month", "months":
		// Calendar-aware: adding months walks the calendar, so month length
		// varies correctly (Jan 31 + 1 month normalizes past Feb's end).
		return now.AddDate(0, int(amount), 0), true
	case "y", "yr", "yrs", "year", "years":
		return now.Add(time.Duration(amount * float64(year))), true
	}
	return time.Time{}, false
}

// timePassedToday reports whether hours:minutes already occurred today
// relative to now.
func timePassedToday(now time.Time, hours, minutes int) bool {
	return now.Hour() > hours || (now.Hour() == hours && now.Minute() > minutes)
}

// leadingInt parses the decimal digits at the start of s, ignoring any
// trailing text (so "6pm" yields 6, "30pm" yields 30).
func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// leadingFloat parses the floating-point number at the start of s and returns
// the remainder of the string.
func leadingFloat(s string) (float64, string, bool) {
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, "", false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, "", false
	}
	return f, s[end:], true
}
