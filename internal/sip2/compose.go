package sip2

import (
	"fmt"
	"strings"
)

// Compose builds a response line from named fixed values and variable
// fields. Fixed values are space padded or truncated to their layout
// width; missing ones are blank. The ILS fakes in tests and the probe
// command use it to produce realistic answers.
func Compose(id string, fixed map[string]string, fields ...Field) (string, error) {
	var b strings.Builder
	b.WriteString(id)

	if layout, ok := fixedLayouts[id]; ok {
		for _, col := range layout {
			v := fixed[col.name]
			if len(v) > col.width {
				return "", fmt.Errorf("sip2: %s field %s wider than %d: %q", id, col.name, col.width, v)
			}
			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", col.width-len(v)))
		}
	} else if len(fixed) > 0 {
		return "", fmt.Errorf("sip2: no fixed layout for message %s", id)
	}

	for _, f := range fields {
		b.WriteString(f.Code)
		b.WriteString(f.Value)
		b.WriteByte('|')
	}
	return b.String(), nil
}

// LayoutNames returns the fixed field names of a response id in order.
func LayoutNames(id string) []string {
	layout := fixedLayouts[id]
	names := make([]string, 0, len(layout))
	for _, col := range layout {
		names = append(names, col.name)
	}
	return names
}

// ResponseIDs lists every response id with a fixed layout.
func ResponseIDs() []string {
	return []string{
		IDCheckinResponse, IDCheckoutResponse, IDHoldResponse, IDItemInformationResponse,
		IDPatronStatusResponse, IDRenewResponse, IDEndSessionResponse, IDFeePaidResponse,
		IDPatronInformationResponse, IDRenewAllResponse, IDLoginResponse, IDACSStatus,
	}
}
