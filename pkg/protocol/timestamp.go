package protocol

import "time"

// TimestampLayout is the human-readable timestamp format used in client
// messages and log records, e.g. "03 Nov 2023 14:22:05".
const TimestampLayout = "02 Jan 2006 15:04:05"

// FormatTimestamp renders t in the shared timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
