package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PrefixRoundTrips(t *testing.T) {
	got := New(PrefixEvent)
	assert.Equal(t, PrefixEvent, got.Prefix())
	assert.False(t, got.IsZero())
}

func TestParse_RoundTripsString(t *testing.T) {
	original := New(PrefixConnection)
	parsed, err := Parse(original.String())
	require.NoError(t, err)
	assert.Equal(t, original.String(), parsed.String())
	assert.Equal(t, original.Prefix(), parsed.Prefix())
	assert.Equal(t, original.Timestamp().UnixMilli(), parsed.Timestamp().UnixMilli())
}

func TestParse_RejectsMalformed(t *testing.T) {
	_, err := Parse("not-an-id")
	assert.Error(t, err)

	_, err = Parse("conn_notanumber")
	assert.Error(t, err)
}

func TestLess_OrdersByTimestampThenSuffix(t *testing.T) {
	earlier := newAt(PrefixEvent, time.Now().Add(-time.Hour))
	later := newAt(PrefixEvent, time.Now())
	assert.True(t, earlier.Less(later))
	assert.False(t, later.Less(earlier))
}

func TestMarshalText_JSONRoundTrip(t *testing.T) {
	original := New(PrefixEvent)
	text, err := original.MarshalText()
	require.NoError(t, err)

	var decoded Id
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, original.String(), decoded.String())
}
