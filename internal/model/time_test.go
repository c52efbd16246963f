package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localMs(year int, month time.Month, day, hour, min, sec int) int64 {
	return time.Date(year, month, day, hour, min, sec, 0, time.Local).UnixMilli()
}

func TestDayKey(t *testing.T) {
	ts := localMs(2026, time.March, 14, 15, 9, 26)
	assert.Equal(t, "2026-03-14", DayKey(ts))
}

func TestDayStartMs_RoundTripsWithDayKey(t *testing.T) {
	ts := localMs(2026, time.March, 14, 23, 59, 59)
	start, err := DayStartMs(DayKey(ts))
	require.NoError(t, err)
	assert.Equal(t, localMs(2026, time.March, 14, 0, 0, 0), start)
}

func TestDayStartMs_RejectsMalformedKey(t *testing.T) {
	_, err := DayStartMs("14-03-2026")
	assert.Error(t, err)
}

func TestBucketStartMs_AlignsToLocalMidnight(t *testing.T) {
	midnight := localMs(2026, time.March, 14, 0, 0, 0)

	// 00:12 falls in the first bucket of the day.
	assert.Equal(t, midnight, BucketStartMs(localMs(2026, time.March, 14, 0, 12, 0)))

	// 14:29:59 is still in the 14:00 bucket; 14:30:00 starts the next one.
	assert.Equal(t, midnight+28*BucketSizeMs, BucketStartMs(localMs(2026, time.March, 14, 14, 0, 0)))
	assert.Equal(t, midnight+28*BucketSizeMs, BucketStartMs(localMs(2026, time.March, 14, 14, 29, 59)))
	assert.Equal(t, midnight+29*BucketSizeMs, BucketStartMs(localMs(2026, time.March, 14, 14, 30, 0)))
}

func TestBucketStartMs_BoundaryBelongsToLaterBucket(t *testing.T) {
	boundary := localMs(2026, time.March, 14, 14, 30, 0)
	assert.Equal(t, boundary, BucketStartMs(boundary))
	assert.NotEqual(t, BucketStartMs(boundary-1), BucketStartMs(boundary))
}
