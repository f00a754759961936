package hrlive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LastSeenValue is the most recent time a peer was known to be online.
// At is nil while the peer is online or when the server did not know.
type LastSeenValue struct {
	PeerID string
	At     *time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts the timestamp shapes seen in server payloads:
// RFC 3339 variants and unix seconds or milliseconds.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	// Anything past 1e11 cannot be seconds before year 5138.
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

// FormatLastSeen renders raw relative to now. Unparseable input reads "Unknown".
func FormatLastSeen(raw string, now time.Time) string {
	t, ok := ParseTimestamp(raw)
	if !ok {
		return FormatLastSeenTime(nil, now)
	}
	return FormatLastSeenTime(&t, now)
}

// FormatLastSeenTime renders t relative to now. Calendar rules use now's location.
func FormatLastSeenTime(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "Unknown"
	}
	seen := t.In(now.Location())
	diff := now.Sub(seen)

	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return plural(int(diff/time.Minute), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff/time.Hour), "hour") + " ago"
	}

	days := calendarDays(seen, now)
	switch {
	case days <= 1:
		return "Yesterday at " + seen.Format("15:04")
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return seen.Format("Jan 2, 2006 15:04")
	}
}

func calendarDays(from, to time.Time) int {
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
