package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire date-time format is "yyyy-MM-dd HH:mm:ss:ffffff Z", always UTC with
// microsecond precision. The fractional part is separated by a colon, which the
// time package layout language cannot express, so it is assembled by hand.
const wireDateLayout = "2006-01-02 15:04:05"

// ToWireFormattedString renders t in the wire date-time format.
func ToWireFormattedString(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s:%06d Z", t.Format(wireDateLayout), t.Nanosecond()/int(time.Microsecond))
}

// ParseWireFormattedString parses a value produced by ToWireFormattedString.
func ParseWireFormattedString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, " Z") {
		return time.Time{}, fmt.Errorf("invalid wire date %q: missing zone marker", s)
	}
	s = strings.TrimSuffix(s, " Z")

	idx := strings.LastIndexByte(s, ':')
	if idx < 0 || len(s)-idx-1 != 6 {
		return time.Time{}, fmt.Errorf("invalid wire date %q: missing fraction", s)
	}
	frac := s[idx+1:]
	for i := 0; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return time.Time{}, fmt.Errorf("invalid wire date %q: fraction must be six digits", s)
		}
	}
	micros, err := strconv.Atoi(frac)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wire date fraction: %w", err)
	}

	t, err := time.ParseInLocation(wireDateLayout, s[:idx], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wire date: %w", err)
	}
	return t.Add(time.Duration(micros) * time.Microsecond), nil
}
