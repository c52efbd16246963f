package model

import "time"

// Timestamps throughout the system are milliseconds since the Unix epoch.
// Day keys and bucket alignment use the coordinator's local time zone; the
// whole deployment must agree on a single zone for day boundaries to line up.

const (
	// BucketSizeMs is the width of one response-time aggregation bucket.
	BucketSizeMs int64 = 30 * 60 * 1000

	// DayMs is the length of one day in milliseconds.
	DayMs int64 = 24 * 60 * 60 * 1000
)

// NowMs returns the current time in milliseconds since the Unix epoch.
func NowMs() int64 { return time.Now().UnixMilli() }

// DayKey formats a millisecond timestamp as its local-zone YYYY-MM-DD key.
func DayKey(ts int64) string {
	return time.UnixMilli(ts).Local().Format("2006-01-02")
}

// DayStartMs returns the millisecond timestamp of local midnight for the
// given YYYY-MM-DD day key.
func DayStartMs(day string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// BucketStartMs aligns a timestamp to the start of its 30-minute bucket,
// relative to local midnight of the timestamp's day. A timestamp exactly on
// a boundary belongs to the later bucket (buckets are [start, start+30min)).
func BucketStartMs(ts int64) int64 {
	t := time.UnixMilli(ts).Local()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
	offset := ts - midnight.UnixMilli()
	return midnight.UnixMilli() + (offset/BucketSizeMs)*BucketSizeMs
}
