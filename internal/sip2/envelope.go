package sip2

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"text/template"
)

// ErrMalformedEnvelope is returned when a body has neither a response nor an
// error element.
var ErrMalformedEnvelope = errors.New("sip2: envelope has no response or error element")

var envelope = template.Must(template.New("request").Funcs(template.FuncMap{
	"xml": escape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<ns1:sip login="{{xml .Username}}" password="{{xml .Password}}" xsi:schemaLocation="https://cicero-fbs.com/xsd/xml2sip xml2sip.xsd" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:ns1="https://cicero-fbs.com/xsd/xml2sip"><request>{{xml .Message}}</request></ns1:sip>
`))

func escape(s string) string {
	var b strings.Builder
	// strings.Builder never fails a write
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Wrap embeds a request line in the FBS XML envelope.
func Wrap(message, username, password string) ([]byte, error) {
	var buf bytes.Buffer
	err := envelope.Execute(&buf, struct {
		Username, Password, Message string
	}{username, password, message})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WrapResponse embeds a response line the way the ILS does. Used by fakes.
func WrapResponse(message string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<ns1:sip xmlns:ns1="https://cicero-fbs.com/xsd/xml2sip"><response>` + escape(message) + `</response></ns1:sip>`)
}

// WrapError builds an error envelope. Used by fakes.
func WrapError(text string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<ns1:sip xmlns:ns1="https://cicero-fbs.com/xsd/xml2sip"><error>` + escape(text) + `</error></ns1:sip>`)
}

// unwrap returns the text of the first response element, or failing that the
// text of the first error element.
func unwrap(body []byte) (text string, isError bool, err error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false

	var (
		depth     int
		capturing string
		buf       strings.Builder
		errText   *string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if capturing != "" {
				depth++
				continue
			}
			if t.Name.Local == "response" || t.Name.Local == "error" {
				capturing = t.Name.Local
				depth = 0
				buf.Reset()
			}
		case xml.CharData:
			if capturing != "" {
				buf.Write(t)
			}
		case xml.EndElement:
			if capturing == "" {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			if capturing == "response" {
				return buf.String(), false, nil
			}
			if errText == nil {
				s := buf.String()
				errText = &s
			}
			capturing = ""
		}
	}

	if errText != nil {
		return *errText, true, nil
	}
	return "", false, ErrMalformedEnvelope
}
