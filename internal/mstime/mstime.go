// Package mstime provides millisecond-precision timestamps as stored in records.
package mstime

import "time"

// MsTime is a unix timestamp in milliseconds.
type MsTime int64

// EarliestSane is the release date of WorldWideWeb, the first web browser.
// Synced data can never legitimately come from before this point.
const EarliestSane MsTime = 662_083_200_000

// Now returns the current time in milliseconds.
func Now() MsTime {
	return FromTime(time.Now())
}

// FromTime converts t to milliseconds, clamping times before the epoch to 0.
func FromTime(t time.Time) MsTime {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return MsTime(ms)
}

// Time converts ms back into a time.Time in UTC.
func (ms MsTime) Time() time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// IsSane reports whether ms is strictly after EarliestSane.
func (ms MsTime) IsSane() bool {
	return ms > EarliestSane
}
