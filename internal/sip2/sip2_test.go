package sip2

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txDate = time.Date(2023, 10, 12, 9, 45, 12, 0, time.Local)

const txDateString = "20231012    094512"

func testRequest() Request {
	return Request{
		Agency:         "DK-761500",
		Location:       "hb",
		PatronID:       "1234567890",
		PatronPassword: "1234",
		ItemIdentifier: "5010941603",
		Time:           txDate,
	}
}

func TestFormatTime(t *testing.T) {
	re := regexp.MustCompile(`^\d{8} {4}\d{6}$`)

	assert.Equal(t, txDateString, FormatTime(txDate))
	for _, ts := range []time.Time{
		time.Date(1999, 1, 1, 0, 0, 0, 0, time.Local),
		time.Date(2099, 12, 31, 23, 59, 59, 999, time.Local),
		time.Now(),
	} {
		got := FormatTime(ts)
		assert.Len(t, got, 18)
		assert.Regexp(t, re, got)
	}

	parsed, err := ParseTime(txDateString)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(txDate))
}

func TestRequestLines(t *testing.T) {
	r := testRequest()
	d := txDateString

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"patron status", PatronStatus(r), "23009" + d + "AODK-761500|AA1234567890|AC|AD1234|"},
		{"patron information", PatronInformation(r), "63009" + d + "YYYYYYYYY" + "AODK-761500|AA1234567890|AC|AD1234|"},
		{"checkout", Checkout(r), "11NN" + d + d + "AODK-761500|AA1234567890|AB5010941603|AC|CH|AD1234|"},
		{"checkin", Checkin(r), "09N" + d + d + "APhb|AODK-761500|AB5010941603|AC|CH|"},
		{"renew", Renew(r), "29NN" + d + d + "AODK-761500|AA1234567890|AD1234|AB5010941603|"},
		{"renew all", RenewAll(r), "65" + d + "AODK-761500|AA1234567890|AC|AD1234|"},
		{"end session", EndSession(r), "35" + d + "AODK-761500|AA1234567890|AC|AD1234|"},
		{"library status", LibraryStatus(), "990xxx2.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}
}

func TestNoBlockFlag(t *testing.T) {
	r := testRequest()
	r.NoBlock = true

	assert.True(t, strings.HasPrefix(Checkout(r), "11NY"+txDateString))
	assert.True(t, strings.HasPrefix(Checkin(r), "09Y"+txDateString))
	assert.True(t, strings.HasPrefix(Renew(r), "29NY"+txDateString))
}

func TestWrapEscapes(t *testing.T) {
	body, err := Wrap("23009"+txDateString+"AO<x>|", "kiosk&1", `p"w`)
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `login="kiosk&amp;1"`)
	assert.Contains(t, s, `password="p&#34;w"`)
	assert.Contains(t, s, "<request>23009"+txDateString+"AO&lt;x&gt;|</request>")
}

func TestParseError(t *testing.T) {
	resp, err := Parse(WrapError("Invalid login"), FirstFieldCode)
	require.NoError(t, err)

	assert.True(t, resp.HasError())
	assert.Equal(t, "Invalid login", resp.Error())
	assert.Empty(t, resp.Fields())
	assert.Empty(t, resp.FixedFields())
	assert.False(t, resp.OK())
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`<?xml version="1.0"?><sip><other/></sip>`), FirstFieldCode)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

// patronInfoFixture is a 64 answer with three charged items
const patronInfoFixture = "64" + "  Y       Y   " + "009" + txDateString +
	"0000" + "0001" + "0003" + "0000" + "0000" + "0000" +
	"AODK-761500|AA1234567890|AEJens Hansen|BLY|CQY|" +
	"AU5010941603|AU5010941604|AU5010941605|AT5010941604|BV12,50|BEjens@example.dk|AFHej Jens|ZZfuture|"

func TestParsePatronInformation(t *testing.T) {
	body, err := Wrap("ignored", "u", "p")
	require.NoError(t, err)
	_, err = Parse(body, FirstFieldCode)
	assert.ErrorIs(t, err, ErrMalformedEnvelope, "a request envelope is not a response")

	resp, err := Parse(WrapResponse(patronInfoFixture), FirstFieldCode)
	require.NoError(t, err)
	require.False(t, resp.HasError())

	assert.Equal(t, IDPatronInformationResponse, resp.MessageID)
	assert.Len(t, resp.TransactionDate(), 18)
	assert.Equal(t, txDateString, resp.TransactionDate())

	flags := resp.PatronStatus()
	require.Len(t, flags, 14)
	for _, f := range flags {
		assert.Len(t, f.Value, 1, f.Name)
	}
	assert.True(t, resp.PatronFlag("recallPrivilegesDenied"))
	assert.True(t, resp.PatronFlag("excessiveOutstandingFines"))
	assert.False(t, resp.PatronFlag("tooManyItemsLost"))
	assert.False(t, resp.PatronFlag("chargePrivilegesDenied"))

	count, _ := resp.Fixed("chargedItemsCount")
	assert.Equal(t, "0003", count)

	assert.Equal(t, "Jens Hansen", resp.Get("AE"))
	name, ok := resp.Value("personalName")
	assert.True(t, ok)
	assert.Equal(t, "Jens Hansen", name)

	assert.Equal(t, []string{"5010941603", "5010941604", "5010941605"}, resp.All("AU"))
	assert.Equal(t, "5010941605", resp.Get("AU"), "last occurrence wins")
	assert.Equal(t, "future", resp.Get("ZZ"), "unknown codes pass through")
	assert.Equal(t, "ZZ", FieldName("ZZ"))

	assert.True(t, resp.ValidPatron())
	assert.True(t, resp.ValidPatronPassword())
	assert.Equal(t, "Hej Jens", resp.ScreenMessage())
	assert.True(t, resp.OK())

	fee, err := resp.FeeAmount()
	require.NoError(t, err)
	assert.Equal(t, "12.5", fee.String())
}

func TestParseUnknownMessageID(t *testing.T) {
	resp := ParseLine("42whatever"+"AOlib|AFhi|", FirstFieldCode)
	assert.Equal(t, "42", resp.MessageID)
	assert.Empty(t, resp.FixedFields())
	assert.Equal(t, "hi", resp.ScreenMessage())
	assert.True(t, resp.OK())
}

func TestParseShortMessages(t *testing.T) {
	login := ParseLine("941", FirstFieldCode)
	assert.Equal(t, IDLoginResponse, login.MessageID)
	assert.True(t, login.OK())

	failed := ParseLine("940\r\n", FirstFieldCode)
	assert.False(t, failed.OK())

	truncated := ParseLine("121N", FirstFieldCode)
	v, ok := truncated.Fixed("renewalOk")
	assert.True(t, ok)
	assert.Equal(t, "N", v)
	_, ok = truncated.Fixed(FieldTransactionDate)
	assert.False(t, ok)
}

func TestCheckoutBusinessFailure(t *testing.T) {
	line, err := Compose(IDCheckoutResponse,
		map[string]string{FieldOK: "0", "renewalOk": "N", "magneticMedia": "U", "desensitize": "N", FieldTransactionDate: txDateString},
		Field{Code: "AO", Value: "DK-761500"},
		Field{Code: "AB", Value: "5010941603"},
		Field{Code: "AF", Value: "Materialet er reserveret"},
	)
	require.NoError(t, err)

	resp := ParseLine(line, FirstFieldCode)
	assert.False(t, resp.OK())
	assert.Equal(t, "Materialet er reserveret", resp.ScreenMessage())
}

// TestFixedFieldRoundTrip every layout decodes what Compose encoded
func TestFixedFieldRoundTrip(t *testing.T) {
	for _, id := range ResponseIDs() {
		require.True(t, HasLayout(id), id)

		want := map[string]string{}
		for i, col := range fixedLayouts[id] {
			want[col.name] = strings.Repeat(string(rune('0'+i%10)), col.width)
		}

		line, err := Compose(id, want, Field{Code: "AO", Value: "DK-761500"}, Field{Code: "AF", Value: "ok"})
		require.NoError(t, err, id)

		resp := ParseLine(line, FirstFieldCode)
		assert.Equal(t, id, resp.MessageID)

		got := map[string]string{}
		for _, f := range resp.FixedFields() {
			got[f.Name] = f.Value
		}
		assert.Equal(t, want, got, id)
		assert.Equal(t, LayoutNames(id), namesOf(resp.FixedFields()), id)
		assert.Equal(t, line, resp.Line(), id)
	}
}

func namesOf(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Name)
	}
	return out
}

func TestComposeRejectsWideValues(t *testing.T) {
	_, err := Compose(IDLoginResponse, map[string]string{FieldOK: "11"})
	assert.Error(t, err)

	_, err = Compose("42", map[string]string{"x": "1"})
	assert.Error(t, err)
}

func TestMarshalJSON(t *testing.T) {
	resp := ParseLine(patronInfoFixture, FirstFieldCode)

	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "64", out["messageId"])
	assert.Equal(t, "5010941605", out["chargedItems"])
	assert.Equal(t, txDateString, out["transactionDate"])
	assert.IsType(t, map[string]any{}, out["patronStatus"])
	assert.Equal(t, "12.50", out["feeAmount"])
	assert.Len(t, out["fields"], 13)

	raw := ParseLine("64"+"              "+"009"+txDateString+"000000000000000000000000"+"AODK-761500|BVabc|", FirstFieldCode)
	b, err = json.Marshal(raw)
	require.NoError(t, err)
	out = nil
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "abc", out["feeAmount"], "unparsable amounts pass through")

	errResp, err := Parse(WrapError("boom"), FirstFieldCode)
	require.NoError(t, err)
	b, err = json.Marshal(errResp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, string(b))
}
