package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseUUID(t *testing.T) {
	t.Parallel()

	id, err := ParseUUID("11111111-2222-3333-4444-555555555555")
	assert.NoError(t, err)
	assert.True(t, id.Valid)

	_, err = ParseUUID("not-a-uuid")
	assert.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	assert.False(t, ToText("").Valid)
	assert.Equal(t, "hello", TextToString(ToText("hello")))
	assert.Equal(t, "", TextToString(ToText("")))
}

func TestTimestamptzRoundTrip(t *testing.T) {
	t.Parallel()

	assert.False(t, ToTimestamptz(time.Time{}).Valid)
	assert.True(t, TimestamptzToTime(ToTimestamptz(time.Time{})).IsZero())

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, now, TimestamptzToTime(ToTimestamptz(now)))
}

func TestToInt4NegativeIsNull(t *testing.T) {
	t.Parallel()

	assert.False(t, ToInt4(-1).Valid)
	assert.True(t, ToInt4(0).Valid)
	assert.EqualValues(t, 7, ToInt4(7).Int32)
}
