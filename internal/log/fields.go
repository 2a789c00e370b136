package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldStudentID     = "student_id"
	FieldSessionID     = "session_id"
	FieldEntryID       = "entry_id"
	FieldEntryKind     = "entry_kind"
	FieldReceiptID     = "receipt_id"
	FieldReceiptNumber = "receipt_number"
	FieldAmountCents   = "amount_cents"
	FieldSheetsRef     = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentReceipts  = "receipts"
	ComponentPromotion = "promotion"
	ComponentWorker    = "worker"
	ComponentSecurity  = "security"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpRead    = "read"
	OpList    = "list"
	OpPost    = "post"
	OpReverse = "reverse"
	OpRestore = "restore"
	OpIssue   = "issue"
	OpVoid    = "void"
	OpPromote = "promote"
	OpExport  = "export"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEntry adds ledger entry fields
func (f LogFields) WithEntry(entryID, studentID, sessionID int64, kind string, amountCents int64) LogFields {
	f[FieldEntryID] = entryID
	f[FieldStudentID] = studentID
	f[FieldSessionID] = sessionID
	f[FieldEntryKind] = kind
	f[FieldAmountCents] = amountCents
	return f
}

// WithReceipt adds receipt fields
func (f LogFields) WithReceipt(receiptID, number, sessionID int64, netCents int64) LogFields {
	f[FieldReceiptID] = receiptID
	f[FieldReceiptNumber] = number
	f[FieldSessionID] = sessionID
	f[FieldAmountCents] = netCents
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}