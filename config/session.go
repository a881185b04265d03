package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionWindow is a clock-time range within one calendar day, expressed
// as offsets from local midnight. Start is inclusive; End is exclusive
// unless the caller asks for ContainsInclusive.
type SessionWindow struct {
	Start time.Duration
	End   time.Duration
}

// ParseSessionWindow parses "HH:MM-HH:MM"
func ParseSessionWindow(s string) (SessionWindow, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return SessionWindow{}, fmt.Errorf("expected HH:MM-HH:MM, got %q", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return SessionWindow{}, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return SessionWindow{}, err
	}
	if start >= end {
		return SessionWindow{}, fmt.Errorf("window %q must start before it ends", s)
	}
	return SessionWindow{Start: start, End: end}, nil
}

// MustSessionWindow is ParseSessionWindow for validated input
func MustSessionWindow(s string) SessionWindow {
	w, err := ParseSessionWindow(s)
	if err != nil {
		panic(err)
	}
	return w
}

func parseClock(s string) (time.Duration, error) {
	hm := strings.Split(strings.TrimSpace(s), ":")
	if len(hm) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// clockOffset is the time elapsed since local midnight of t
func clockOffset(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// Contains reports whether t's clock time is in [Start, End)
func (w SessionWindow) Contains(t time.Time) bool {
	off := clockOffset(t)
	return off >= w.Start && off < w.End
}

// ContainsInclusive reports whether t's clock time is in [Start, End]
func (w SessionWindow) ContainsInclusive(t time.Time) bool {
	off := clockOffset(t)
	return off >= w.Start && off <= w.End
}

// On returns the absolute [start, end) bounds of the window on t's day.
// Bounds are wall-clock times, so DST transitions do not shift them.
func (w SessionWindow) On(t time.Time) (time.Time, time.Time) {
	return wallClock(t, w.Start), wallClock(t, w.End)
}

// wallClock places a midnight offset on t's calendar day in t's location.
// An offset of 24:00 normalizes to the next midnight.
func wallClock(t time.Time, off time.Duration) time.Time {
	y, mo, d := t.Date()
	h := int(off / time.Hour)
	m := int((off % time.Hour) / time.Minute)
	return time.Date(y, mo, d, h, m, 0, 0, t.Location())
}

func (w SessionWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		int(w.Start.Hours()), int(w.Start.Minutes())%60,
		int(w.End.Hours()), int(w.End.Minutes())%60)
}
