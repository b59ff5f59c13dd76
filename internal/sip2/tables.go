package sip2

// Response message ids.
const (
	IDCheckinResponse           = "10"
	IDCheckoutResponse          = "12"
	IDHoldResponse              = "16"
	IDItemInformationResponse   = "18"
	IDPatronStatusResponse      = "24"
	IDRenewResponse             = "30"
	IDEndSessionResponse        = "36"
	IDFeePaidResponse           = "38"
	IDPatronInformationResponse = "64"
	IDRenewAllResponse          = "66"
	IDLoginResponse             = "94"
	IDACSStatus                 = "98"
)

// Fixed field names shared by several layouts.
const (
	FieldOK              = "ok"
	FieldPatronStatus    = "patronStatus"
	FieldTransactionDate = "transactionDate"
)

type fixedSpec struct {
	name  string
	width int
}

const dateWidth = len(DateLayout)

// fixedLayouts maps a response id to the fixed fields following the id.
var fixedLayouts = map[string][]fixedSpec{
	IDCheckinResponse: {
		{FieldOK, 1}, {"resensitize", 1}, {"magneticMedia", 1}, {"alert", 1},
		{FieldTransactionDate, dateWidth},
	},
	IDCheckoutResponse: {
		{FieldOK, 1}, {"renewalOk", 1}, {"magneticMedia", 1}, {"desensitize", 1},
		{FieldTransactionDate, dateWidth},
	},
	IDHoldResponse: {
		{FieldOK, 1}, {"available", 1}, {FieldTransactionDate, dateWidth},
	},
	IDItemInformationResponse: {
		{"circulationStatus", 2}, {"securityMarker", 2}, {"feeType", 2},
		{FieldTransactionDate, dateWidth},
	},
	IDPatronStatusResponse: {
		{FieldPatronStatus, len(patronStatusFlags)}, {"language", 3},
		{FieldTransactionDate, dateWidth},
	},
	IDRenewResponse: {
		{FieldOK, 1}, {"renewalOk", 1}, {"magneticMedia", 1}, {"desensitize", 1},
		{FieldTransactionDate, dateWidth},
	},
	IDEndSessionResponse: {
		{"endSession", 1}, {FieldTransactionDate, dateWidth},
	},
	IDFeePaidResponse: {
		{"paymentAccepted", 1}, {FieldTransactionDate, dateWidth},
	},
	IDPatronInformationResponse: {
		{FieldPatronStatus, len(patronStatusFlags)}, {"language", 3},
		{FieldTransactionDate, dateWidth},
		{"holdItemsCount", 4}, {"overdueItemsCount", 4}, {"chargedItemsCount", 4},
		{"fineItemsCount", 4}, {"recallItemsCount", 4}, {"unavailableHoldsCount", 4},
	},
	IDRenewAllResponse: {
		{FieldOK, 1}, {"renewedCount", 4}, {"unrenewedCount", 4},
		{FieldTransactionDate, dateWidth},
	},
	IDLoginResponse: {
		{FieldOK, 1},
	},
	IDACSStatus: {
		{"onlineStatus", 1}, {"checkinOk", 1}, {"checkoutOk", 1}, {"acsRenewalPolicy", 1},
		{"statusUpdateOk", 1}, {"offlineOk", 1}, {"timeoutPeriod", 3}, {"retriesAllowed", 3},
		{"dateTimeSync", dateWidth}, {"protocolVersion", 4},
	},
}

// okFields names the fixed field deciding OK() for a response id.
var okFields = map[string]string{
	IDCheckinResponse:    FieldOK,
	IDCheckoutResponse:   FieldOK,
	IDHoldResponse:       FieldOK,
	IDRenewResponse:      FieldOK,
	IDRenewAllResponse:   FieldOK,
	IDLoginResponse:      FieldOK,
	IDEndSessionResponse: "endSession",
	IDFeePaidResponse:    "paymentAccepted",
	IDACSStatus:          "onlineStatus",
}

// patronStatusFlags are the 14 patron status characters, left to right.
var patronStatusFlags = [14]string{
	"chargePrivilegesDenied",
	"renewalPrivilegesDenied",
	"recallPrivilegesDenied",
	"holdPrivilegesDenied",
	"cardReportedLost",
	"tooManyItemsCharged",
	"tooManyItemsOverdue",
	"tooManyRenewals",
	"tooManyClaimsOfItemsReturned",
	"tooManyItemsLost",
	"excessiveOutstandingFines",
	"excessiveOutstandingFees",
	"recallOverdue",
	"tooManyItemsBilled",
}

// fieldNames translates variable field codes. Codes not listed keep their
// two character code as name.
var fieldNames = map[string]string{
	"AA": "patronIdentifier",
	"AB": "itemIdentifier",
	"AC": "terminalPassword",
	"AD": "patronPassword",
	"AE": "personalName",
	"AF": "screenMessage",
	"AG": "printLine",
	"AH": "dueDate",
	"AJ": "titleIdentifier",
	"AO": "institutionId",
	"AP": "currentLocation",
	"AQ": "permanentLocation",
	"AS": "holdItems",
	"AT": "overdueItems",
	"AU": "chargedItems",
	"AV": "fineItems",
	"BD": "homeAddress",
	"BE": "emailAddress",
	"BF": "homePhoneNumber",
	"BL": "validPatron",
	"BV": "feeAmount",
	"BW": "expirationDate",
	"CQ": "validPatronPassword",
}

// FieldName returns the translated name of a variable field code.
func FieldName(code string) string {
	if name, ok := fieldNames[code]; ok {
		return name
	}
	return code
}

// HasLayout reports whether id has a fixed field table.
func HasLayout(id string) bool {
	_, ok := fixedLayouts[id]
	return ok
}

// FirstFieldCode is the variable code that starts the variable region for
// every response the kiosk receives.
const FirstFieldCode = "AO"
