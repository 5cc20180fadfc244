package httpmsg

// Method is an enumerated HTTP method, falling back to MethodOther for any
// token the proxy doesn't special-case (spec.md §3 "HTTP request": "Method
// (enumerated plus 'other')"). The original source's HttpRequestMethod.cc
// keeps a full WebDAV-aware table; we keep the same breadth so ACL method
// terms and access logging see the token the client actually sent.
type Method int

const (
	MethodOther Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
	// WebDAV (RFC 4918) and related extensions, kept for parity with the
	// original source's method table.
	MethodPropfind
	MethodProppatch
	MethodMkcol
	MethodCopy
	MethodMove
	MethodLock
	MethodUnlock
	MethodReport
	MethodPurge
)

var methodNames = map[Method]string{
	MethodGet:       "GET",
	MethodHead:      "HEAD",
	MethodPost:      "POST",
	MethodPut:       "PUT",
	MethodDelete:    "DELETE",
	MethodConnect:   "CONNECT",
	MethodOptions:   "OPTIONS",
	MethodTrace:     "TRACE",
	MethodPatch:     "PATCH",
	MethodPropfind:  "PROPFIND",
	MethodProppatch: "PROPPATCH",
	MethodMkcol:     "MKCOL",
	MethodCopy:      "COPY",
	MethodMove:      "MOVE",
	MethodLock:      "LOCK",
	MethodUnlock:    "UNLOCK",
	MethodReport:    "REPORT",
	MethodPurge:     "PURGE",
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methodNames))
	for k, v := range methodNames {
		m[v] = k
	}
	return m
}()

// String returns the wire token for m, or "OTHER" for MethodOther.
func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "OTHER"
}

// ParseMethod maps a request-line token to a Method, classifying any
// unrecognized token as MethodOther rather than rejecting it outright —
// the parser decides separately whether an OTHER method is acceptable.
func ParseMethod(token string) (Method, string) {
	if m, ok := methodsByName[token]; ok {
		return m, token
	}
	return MethodOther, token
}

// HasRequestBody reports whether requests using m conventionally carry a
// body; it is advisory only — Content-Length/Transfer-Encoding still drive
// actual framing (spec.md §4.3).
func (m Method) HasRequestBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodProppatch, MethodReport:
		return true
	default:
		return false
	}
}
