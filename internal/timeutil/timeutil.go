// Package timeutil provides the unix-second clock used for all flag
// timestamps and the display format used in log output.
package timeutil

import "time"

const displayFormat = "2006-01-02 15:04:05"

// Now returns the current time in unix seconds. Flag timestamps and
// submission timestamps are always whole seconds.
func Now() int64 {
	return time.Now().Unix()
}

// FormatUnix renders a unix-second timestamp for log output.
func FormatUnix(ts int64) string {
	return time.Unix(ts, 0).Format(displayFormat)
}
