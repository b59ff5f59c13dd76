package sip2

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field is one fixed or variable field. Fixed fields have no Code.
type Field struct {
	Code  string `json:"code,omitempty"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StatusFlag is one character of the 14-character patron status.
type StatusFlag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Set reports whether the flag is raised. The ILS sends Y for set and a
// space for clear.
func (f StatusFlag) Set() bool {
	return f.Value == "Y"
}

// Response is a decoded SIP2 response. It carries either a transport error
// from an error envelope or a message id with its fields, never both.
type Response struct {
	MessageID string

	fixed  []Field
	fields []Field
	last   map[string]string
	status []StatusFlag

	err    string
	hasErr bool
}

// HasError reports whether the envelope was an error element.
func (r *Response) HasError() bool {
	return r.hasErr
}

// Error returns the text of the error element.
func (r *Response) Error() string {
	return r.err
}

// FixedFields returns the decoded fixed fields in layout order.
func (r *Response) FixedFields() []Field {
	return append([]Field(nil), r.fixed...)
}

// Fields returns every variable field occurrence in wire order.
func (r *Response) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Fixed returns a fixed field by name.
func (r *Response) Fixed(name string) (string, bool) {
	for _, f := range r.fixed {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Get returns the last value of a variable field code.
func (r *Response) Get(code string) string {
	return r.last[code]
}

// Has reports whether a variable field code was present.
func (r *Response) Has(code string) bool {
	_, ok := r.last[code]
	return ok
}

// All returns every value of a variable field code in wire order.
func (r *Response) All(code string) []string {
	var out []string
	for _, f := range r.fields {
		if f.Code == code {
			out = append(out, f.Value)
		}
	}
	return out
}

// Value looks a field up by translated name, fixed fields first.
func (r *Response) Value(name string) (string, bool) {
	if v, ok := r.Fixed(name); ok {
		return v, true
	}
	for i := len(r.fields) - 1; i >= 0; i-- {
		if r.fields[i].Name == name {
			return r.fields[i].Value, true
		}
	}
	return "", false
}

// PatronStatus returns the decoded patron status flags, nil when the message
// has none.
func (r *Response) PatronStatus() []StatusFlag {
	return append([]StatusFlag(nil), r.status...)
}

// PatronFlag reports whether the named patron status flag is set.
func (r *Response) PatronFlag(name string) bool {
	for _, f := range r.status {
		if f.Name == name {
			return f.Set()
		}
	}
	return false
}

// OK reports the business outcome. Messages without an ok style field are
// treated as ok.
func (r *Response) OK() bool {
	if r.hasErr {
		return false
	}
	name, ok := okFields[r.MessageID]
	if !ok {
		return true
	}
	v, _ := r.Fixed(name)
	return v == "1" || v == "Y"
}

// ScreenMessage is the AF field shown to the patron.
func (r *Response) ScreenMessage() string {
	return r.Get("AF")
}

// TransactionDate is the raw 18-character transaction date.
func (r *Response) TransactionDate() string {
	v, _ := r.Fixed(FieldTransactionDate)
	return v
}

// TransactionTime parses TransactionDate.
func (r *Response) TransactionTime() (time.Time, error) {
	return ParseTime(r.TransactionDate())
}

// ValidPatron reports BL == Y.
func (r *Response) ValidPatron() bool {
	return r.Get("BL") == "Y"
}

// ValidPatronPassword reports CQ == Y.
func (r *Response) ValidPatronPassword() bool {
	return r.Get("CQ") == "Y"
}

// FeeAmount parses the BV field. A missing field is zero.
func (r *Response) FeeAmount() (decimal.Decimal, error) {
	v := strings.TrimSpace(r.Get("BV"))
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sip2: fee amount %q: %w", v, err)
	}
	return d, nil
}

// Line renders the response back into a SIP2 line. Fixed fields are
// written as decoded, variable fields in wire order.
func (r *Response) Line() string {
	var b strings.Builder
	b.WriteString(r.MessageID)
	for _, f := range r.fixed {
		b.WriteString(f.Value)
	}
	for _, f := range r.fields {
		b.WriteString(f.Code)
		b.WriteString(f.Value)
		b.WriteByte('|')
	}
	return b.String()
}

// MarshalJSON flattens the response for bus consumers: fixed fields and
// last-wins variable fields by name, the patron status as an object, and
// the ordered field list under "fields". feeAmount is normalized to a
// dot-separated amount with two decimals when it parses.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.hasErr {
		return json.Marshal(map[string]string{"error": r.err})
	}

	out := make(map[string]any, len(r.fixed)+len(r.fields)+2)
	out["messageId"] = r.MessageID
	for _, f := range r.fields {
		out[f.Name] = f.Value
	}
	for _, f := range r.fixed {
		out[f.Name] = f.Value
	}
	if r.status != nil {
		flags := make(map[string]string, len(r.status))
		for _, f := range r.status {
			flags[f.Name] = f.Value
		}
		out[FieldPatronStatus] = flags
	}
	if r.Get("BV") != "" {
		if fee, err := r.FeeAmount(); err == nil {
			out[FieldName("BV")] = fee.StringFixed(2)
		}
	}
	out["fields"] = r.fields
	return json.Marshal(out)
}
