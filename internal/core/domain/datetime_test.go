package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireDate_RoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC),
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 999999000, time.UTC),
		time.Date(2024, 6, 1, 12, 0, 0, 1000, time.FixedZone("UTC+7", 7*3600)),
	}
	for _, in := range times {
		s := ToWireFormattedString(in)
		out, err := ParseWireFormattedString(s)
		require.NoError(t, err, s)
		assert.True(t, in.Equal(out), "%s: got %s", s, out)
		assert.Equal(t, s, ToWireFormattedString(out))
	}
}

func TestWireDate_Format(t *testing.T) {
	got := ToWireFormattedString(time.Date(2024, 1, 2, 3, 4, 5, 7000, time.UTC))
	assert.Equal(t, "2024-01-02 03:04:05:000007 Z", got)
}

func TestWireDate_TruncatesBelowMicroseconds(t *testing.T) {
	in := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	out, err := ParseWireFormattedString(ToWireFormattedString(in))
	require.NoError(t, err)
	assert.Equal(t, in.Truncate(time.Microsecond), out)
}

func TestWireDate_RejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"2024-01-02 03:04:05:000001",
		"2024-01-02 03:04:05 Z",
		"2024-01-02 03:04:05:-00001 Z",
		"2024-01-02 03:04:05:+00001 Z",
		"2024-01-02 03:04:05:00001x Z",
		"2024-01-02 03:04:05:0000001 Z",
		"2024-13-02 03:04:05:000001 Z",
	} {
		_, err := ParseWireFormattedString(s)
		assert.Error(t, err, s)
	}
}
