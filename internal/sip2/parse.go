package sip2

import (
	"strings"
)

// Parse decodes an FBS response envelope. firstField is the variable field
// code that ends the fixed region; pass FirstFieldCode for every message the
// kiosk sends. An error envelope yields a Response with HasError set and no
// fields.
func Parse(body []byte, firstField string) (*Response, error) {
	text, isError, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	if isError {
		return &Response{err: text, hasErr: true}, nil
	}
	return ParseLine(text, firstField), nil
}

// ParseLine decodes a bare SIP2 response line.
func ParseLine(message, firstField string) *Response {
	message = strings.TrimRight(message, "\r\n")

	fixedRegion, varRegion := message, ""
	if firstField != "" {
		if i := strings.Index(message, firstField); i >= 2 {
			fixedRegion, varRegion = message[:i], message[i:]
		}
	}

	r := &Response{last: make(map[string]string)}
	if len(fixedRegion) < 2 {
		r.MessageID = fixedRegion
		return r
	}
	r.MessageID = fixedRegion[:2]
	r.parseFixed(fixedRegion[2:])
	r.parseVariable(varRegion)
	return r
}

func (r *Response) parseFixed(region string) {
	layout, ok := fixedLayouts[r.MessageID]
	if !ok {
		return
	}

	pos := 0
	for _, col := range layout {
		if pos >= len(region) {
			break
		}
		end := pos + col.width
		if end > len(region) {
			end = len(region)
		}
		value := region[pos:end]
		pos = end

		r.fixed = append(r.fixed, Field{Name: col.name, Value: value})
		if col.name == FieldPatronStatus {
			r.status = decodePatronStatus(value)
		}
	}
}

func decodePatronStatus(value string) []StatusFlag {
	flags := make([]StatusFlag, 0, len(patronStatusFlags))
	for i, name := range patronStatusFlags {
		v := ""
		if i < len(value) {
			v = value[i : i+1]
		}
		flags = append(flags, StatusFlag{Name: name, Value: v})
	}
	return flags
}

func (r *Response) parseVariable(region string) {
	for _, chunk := range strings.Split(region, "|") {
		if len(chunk) < 2 {
			continue
		}
		code, value := chunk[:2], chunk[2:]
		r.fields = append(r.fields, Field{Code: code, Name: FieldName(code), Value: value})
		r.last[code] = value
	}
}
