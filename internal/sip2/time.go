// Package sip2 builds SIP2 request lines, wraps them in the FBS XML
// envelope and decodes response envelopes into typed field sets.
package sip2

import "time"

// DateLayout is the 18-character SIP2 transaction date: YYYYMMDD, four
// spaces, HHMMSS.
const DateLayout = "20060102    150405"

// FormatTime renders t in local time using DateLayout.
func FormatTime(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseTime parses an 18-character SIP2 date in the local time zone.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}
