package sip2

import (
	"strings"
	"time"
)

// Request codes sent to the ILS.
const (
	CodePatronStatus      = "23"
	CodePatronInformation = "63"
	CodeCheckout          = "11"
	CodeCheckin           = "09"
	CodeRenew             = "29"
	CodeRenewAll          = "65"
	CodeEndSession        = "35"
	CodeSCStatus          = "99"
)

// libraryStatusLine is sent verbatim; the ILS answers with an ACS status (98).
const libraryStatusLine = "990xxx2.00"

// language is the three digit SIP2 language code sent with patron requests.
const language = "009"

// Request holds the values a request line can carry. Agency and Location
// come from the endpoint configuration, the rest from the transaction.
type Request struct {
	Agency         string // AO institution id
	Location       string // AP current location
	PatronID       string // AA
	PatronPassword string // AD
	ItemIdentifier string // AB
	// NoBlock forces the ILS to accept the transaction. Set for offline replays.
	NoBlock bool
	// Time is the transaction date; zero means now.
	Time time.Time
}

func (r Request) date() string {
	if r.Time.IsZero() {
		return FormatTime(time.Now())
	}
	return FormatTime(r.Time)
}

func (r Request) noBlock() string {
	return flag(r.NoBlock)
}

func flag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// line appends variable fields in the given order, each terminated by a pipe.
type line struct {
	strings.Builder
}

func (l *line) field(code, value string) *line {
	l.WriteString(code)
	l.WriteString(value)
	l.WriteByte('|')
	return l
}

func newLine(fixed ...string) *line {
	l := &line{}
	for _, s := range fixed {
		l.WriteString(s)
	}
	return l
}

// PatronStatus builds message 23.
func PatronStatus(r Request) string {
	l := newLine(CodePatronStatus, language, r.date())
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AC", "").field("AD", r.PatronPassword)
	return l.String()
}

// PatronInformation builds message 63 with every summary flag set.
func PatronInformation(r Request) string {
	l := newLine(CodePatronInformation, language, r.date(), strings.Repeat("Y", 9))
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AC", "").field("AD", r.PatronPassword)
	return l.String()
}

// Checkout builds message 11. The SC renewal policy flag is always N.
func Checkout(r Request) string {
	date := r.date()
	l := newLine(CodeCheckout, "N", r.noBlock(), date, date)
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AB", r.ItemIdentifier).
		field("AC", "").field("CH", "").field("AD", r.PatronPassword)
	return l.String()
}

// Checkin builds message 09.
func Checkin(r Request) string {
	date := r.date()
	l := newLine(CodeCheckin, r.noBlock(), date, date)
	l.field("AP", r.Location).field("AO", r.Agency).field("AB", r.ItemIdentifier).
		field("AC", "").field("CH", "")
	return l.String()
}

// Renew builds message 29. Third party renewals are never allowed.
func Renew(r Request) string {
	date := r.date()
	l := newLine(CodeRenew, "N", r.noBlock(), date, date)
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AD", r.PatronPassword).
		field("AB", r.ItemIdentifier)
	return l.String()
}

// RenewAll builds message 65.
func RenewAll(r Request) string {
	l := newLine(CodeRenewAll, r.date())
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AC", "").field("AD", r.PatronPassword)
	return l.String()
}

// EndSession builds message 35.
func EndSession(r Request) string {
	l := newLine(CodeEndSession, r.date())
	l.field("AO", r.Agency).field("AA", r.PatronID).field("AC", "").field("AD", r.PatronPassword)
	return l.String()
}

// LibraryStatus returns the fixed SC status line.
func LibraryStatus() string {
	return libraryStatusLine
}
