package httpmsg

import "fmt"

// Version is an HTTP version; only 0.9, 1.0, and 1.1 are accepted by the
// parser (spec.md §4.3: "any major > 1 → 505").
type Version struct {
	Major, Minor int
}

func (v Version) String() string {
	if v.Major == 0 && v.Minor == 9 {
		return "HTTP/0.9"
	}
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// AtLeast1_1 reports whether v is HTTP/1.1 or newer.
func (v Version) AtLeast1_1() bool {
	return v.Major > 1 || (v.Major == 1 && v.Minor >= 1)
}

// Flags mirrors spec.md §3 "HTTP request" flags verbatim.
type Flags struct {
	Accelerated     bool
	Intercepted     bool
	Internal        bool
	ProxyKeepAlive  bool
	SSLBumped       bool
	ResetTCP        bool
	StreamError     bool
	IgnoreCC        bool
	SpoofClientIP   bool
	MayUseConnection bool // CONNECT/upgrade: parsing pauses until this context completes (spec.md §4.7)
}

// BodyFraming describes how the request body (if any) is delimited.
type BodyFraming int

const (
	// BodyNone means the request has no body (framing not applicable).
	BodyNone BodyFraming = iota
	// BodySized means Content-Length gives the exact decoded size.
	BodySized
	// BodyChunked means Transfer-Encoding: chunked applies; size is
	// unknown until the terminating chunk is seen.
	BodyChunked
)

// Request is one parsed HTTP/1 request (spec.md §3 "HTTP request").
type Request struct {
	Method      Method
	MethodToken string // raw wire token, needed when Method == MethodOther
	Version     Version

	// URI fields. Scheme/Host/Port/Path are always populated after
	// normalization (spec.md §4.3's forward/intercept/accelerator/internal
	// modes); RawTarget keeps the exact request-line target as received.
	Scheme    string
	Host      string
	Port      int
	Path      string
	RawTarget string

	ClientAddr string
	LocalAddr  string
	LocalPort  int

	// Ident is the RFC 1413 username resolved for this request's client,
	// if ident_lookup_access allowed the lookup and it succeeded.
	Ident string

	Headers *Headers

	Framing       BodyFraming
	ContentLength int64 // valid only when Framing == BodySized

	Flags Flags

	HopCount int

	// HierarchyTags are free-form key/value pairs recorded for the access
	// log / cache-hierarchy selection the fetcher (external) performs.
	HierarchyTags map[string]string

	// AuthUserRequestID, if non-empty, names the auth.UserRequest bound to
	// this request (kept as an opaque ID rather than a direct type
	// reference to avoid an import cycle between httpmsg and auth).
	AuthUserRequestID string
}

// NewRequest returns an empty request with an initialized header set.
func NewRequest() *Request {
	return &Request{Headers: NewHeaders(), HierarchyTags: make(map[string]string)}
}

// AbsoluteURI reconstructs scheme://host[:port]/path for logging and for
// ACL terms operating on the normalized destination.
func (r *Request) AbsoluteURI() string {
	port := ""
	if !isDefaultPort(r.Scheme, r.Port) {
		port = fmt.Sprintf(":%d", r.Port)
	}
	return fmt.Sprintf("%s://%s%s%s", r.Scheme, r.Host, port, r.Path)
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "http":
		return port == 80
	case "https":
		return port == 443
	case "ftp":
		return port == 21
	default:
		return false
	}
}
