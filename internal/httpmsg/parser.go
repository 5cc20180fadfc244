// Package httpmsg implements the HTTP/1 request-line and header parser
// described in spec.md §4.3, plus the chunked body decoder in chunked.go.
//
// The request-line/header tokenizing here is adapted from the teacher
// library's response parser (pkg/client/client.go's readLine/readHeaders/
// parseStatusLine in WhileEndless/go-rawhttp), reversed from "parse a
// status line and response headers" to "parse a request line and request
// headers."
package httpmsg

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/squidgo/proxycore/pkg/errors"
)

// Mode selects how the parser synthesizes an absolute URI from the
// request-line target (spec.md §4.3).
type Mode int

const (
	ModeForward Mode = iota
	ModeIntercept
	ModeAccelerator
)

// Config bounds the parser the way spec.md §3/§4.3 require.
type Config struct {
	Mode Mode

	MaxHeaderBytes int // maxRequestHeaderSize
	MaxBodyBytes   int64

	// AcceleratorDefaultHost/Port are used when Mode==ModeAccelerator and
	// no Host header is present.
	AcceleratorDefaultHost string
	AcceleratorDefaultPort int
	// AcceleratorVPort, if non-zero, overrides the observed local port
	// (spec.md §4.3 "the configured vport overrides the observed local port").
	AcceleratorVPort int

	// InternalHosts names hostnames that resolve to the proxy itself
	// (spec.md §4.3 "Internal").
	InternalHosts map[string]bool
}

// ParseRequestLineAndHeaders reads one request (request-line + headers,
// not the body) from r. It returns errors.ErrorTypeParse errors classified
// by Op ("invalid-request", "unsupported-version", "request-too-large");
// an unrecognized method is classified as MethodOther, not rejected.
//
// conn carries the connection-derived context (client/local address,
// whether the connection is intercepted/accelerated) needed to normalize
// the URI; it is provided by internal/connio.
func ParseRequestLineAndHeaders(r *bufio.Reader, cfg Config, conn ConnContext) (*Request, error) {
	total := 0

	line, err := readLine(r, cfg.MaxHeaderBytes, &total)
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, errors.NewParseError("invalid-request", "empty request line")
	}

	req := NewRequest()
	if err := parseRequestLine(line, req); err != nil {
		return nil, err
	}

	if err := readHeaderBlock(r, cfg.MaxHeaderBytes, &total, req.Headers); err != nil {
		return nil, err
	}

	req.ClientAddr = conn.ClientAddr
	req.LocalAddr = conn.LocalAddr
	req.LocalPort = conn.LocalPort
	req.Flags.Intercepted = conn.Intercepted
	req.Flags.Accelerated = conn.Accelerated

	if err := normalizeURI(req, cfg, conn); err != nil {
		return nil, err
	}

	if err := classifyFraming(req); err != nil {
		return nil, err
	}

	if cfg.InternalHosts[req.Host] {
		req.Flags.Internal = true
	}
	if req.Method == MethodConnect || (req.Version.AtLeast1_1() && req.Headers.HasToken("Upgrade", "websocket")) {
		req.Flags.MayUseConnection = true
	}

	return req, nil
}

// ConnContext is the subset of connection state the parser needs to
// normalize a request's URI; internal/connio's Connection.ConnContext
// builds it.
type ConnContext struct {
	ClientAddr  string
	LocalAddr   string
	LocalPort   int
	Intercepted bool
	Accelerated bool
	// InterceptedDestIP is the connection's original destination address
	// (TPROXY/intercept mode), used to synthesize an absolute URI when the
	// request-line target is a bare path.
	InterceptedDestIP string
}

func readLine(r *bufio.Reader, maxBytes int, total *int) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", errors.NewParseError("invalid-request", "reading request line: "+err.Error())
	}
	*total += len(line)
	if maxBytes > 0 && *total > maxBytes {
		return "", errors.NewParseError("request-too-large", "request line exceeds header size limit")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseRequestLine(line string, req *Request) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) == 2 {
		// HTTP/0.9 request line: no version token.
		parts = append(parts, "")
	}
	if len(parts) != 3 {
		return errors.NewParseError("invalid-request", "malformed request line")
	}

	method, token := ParseMethod(parts[0])
	req.Method = method
	req.MethodToken = token
	req.RawTarget = parts[1]

	ver, err := parseVersion(parts[2])
	if err != nil {
		return err
	}
	req.Version = ver

	return nil
}

func parseVersion(token string) (Version, error) {
	if token == "" {
		// HTTP/0.9: no version token, request-line is "METHOD target" only.
		return Version{Major: 0, Minor: 9}, nil
	}
	var major, minor int
	if _, err := fmt.Sscanf(token, "HTTP/%d.%d", &major, &minor); err != nil {
		return Version{}, errors.NewParseError("unsupported-version", "malformed HTTP version token: "+token)
	}
	if major > 1 {
		return Version{}, errors.NewParseError("unsupported-version", "HTTP major version > 1 not supported")
	}
	if major == 1 && minor != 0 && minor != 1 {
		return Version{}, errors.NewParseError("unsupported-version", "unsupported HTTP/1.x minor version")
	}
	if major == 0 && minor != 9 {
		return Version{}, errors.NewParseError("unsupported-version", "unsupported HTTP/0.x minor version")
	}
	return Version{Major: major, Minor: minor}, nil
}

func readHeaderBlock(r *bufio.Reader, maxBytes int, total *int, h *Headers) error {
	var lastKey string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return errors.NewParseError("invalid-request", "reading headers: "+err.Error())
		}

		*total += len(line)
		if maxBytes > 0 && *total > maxBytes {
			return errors.NewParseError("request-too-large", "headers exceed maximum size")
		}

		if line == "\r\n" || line == "\n" {
			return nil
		}

		trimmed := strings.TrimRight(line, "\r\n")

		// RFC 7230 §3.2.4 header folding (deprecated but still seen).
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			vals := h.Values(lastKey)
			if len(vals) == 0 {
				continue
			}
			vals[len(vals)-1] = vals[len(vals)-1] + " " + strings.TrimSpace(trimmed)
			continue
		}

		kv := strings.SplitN(trimmed, ":", 2)
		if len(kv) != 2 {
			return errors.NewParseError("invalid-request", "malformed header line")
		}
		key := strings.TrimSpace(kv[0])
		if key == "" || strings.ContainsAny(key, " \t") {
			return errors.NewParseError("invalid-request", "invalid header name")
		}
		h.Add(key, strings.TrimSpace(kv[1]))
		lastKey = key
	}
}

func normalizeURI(req *Request, cfg Config, conn ConnContext) error {
	if req.Method == MethodConnect {
		host, port, err := net.SplitHostPort(req.RawTarget)
		if err != nil {
			return errors.NewParseError("invalid-request", "CONNECT target must be host:port")
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return errors.NewParseError("invalid-request", "CONNECT target has invalid port")
		}
		req.Scheme = "tls"
		req.Host = host
		req.Port = p
		req.Path = ""
		return nil
	}

	if strings.Contains(req.RawTarget, "://") {
		// Forward-proxy absolute-form request-line target.
		return parseAbsoluteTarget(req)
	}

	// Path-only target: intercept/TPROXY or accelerator mode.
	host := req.Headers.Get("Host")
	switch {
	case cfg.Mode == ModeAccelerator:
		req.Scheme = "http"
		if host != "" {
			req.Host, req.Port = splitHostDefaultPort(host, 80)
		} else {
			req.Host = cfg.AcceleratorDefaultHost
			req.Port = cfg.AcceleratorDefaultPort
		}
		if cfg.AcceleratorVPort != 0 {
			req.Port = cfg.AcceleratorVPort
		}
	case cfg.Mode == ModeIntercept:
		req.Scheme = "http"
		if host != "" {
			req.Host, req.Port = splitHostDefaultPort(host, 80)
		} else if conn.InterceptedDestIP != "" {
			req.Host, req.Port = splitHostDefaultPort(conn.InterceptedDestIP, 80)
		} else {
			return errors.NewParseError("invalid-request", "intercepted request has no Host and no original destination")
		}
	default:
		return errors.NewParseError("invalid-request", "forward-proxy request target must be absolute")
	}
	req.Path = req.RawTarget
	return nil
}

func parseAbsoluteTarget(req *Request) error {
	idx := strings.Index(req.RawTarget, "://")
	scheme := strings.ToLower(req.RawTarget[:idx])
	switch scheme {
	case "http", "https", "ftp":
	default:
		return errors.NewParseError("invalid-request", "unrecognized URI scheme: "+scheme)
	}
	rest := req.RawTarget[idx+3:]
	pathStart := strings.IndexAny(rest, "/?")
	var hostport, path string
	if pathStart == -1 {
		hostport, path = rest, "/"
	} else {
		hostport, path = rest[:pathStart], rest[pathStart:]
	}
	defaultPort := 80
	if scheme == "https" {
		defaultPort = 443
	} else if scheme == "ftp" {
		defaultPort = 21
	}
	host, port := splitHostDefaultPort(hostport, defaultPort)

	req.Scheme = scheme
	req.Host = host
	req.Port = port
	req.Path = path
	return nil
}

func splitHostDefaultPort(hostport string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, p
}

func classifyFraming(req *Request) error {
	if req.Method == MethodConnect {
		req.Framing = BodyNone
		return nil
	}

	te := req.Headers.Get("Transfer-Encoding")
	cl := req.Headers.Get("Content-Length")

	hasChunked := req.Headers.HasToken("Transfer-Encoding", "chunked")

	switch {
	case hasChunked && cl != "":
		return errors.NewParseError("invalid-request", "Content-Length and Transfer-Encoding: chunked both present")
	case te != "" && !hasChunked:
		return errors.NewParseError("invalid-request", "unsupported Transfer-Encoding")
	case hasChunked:
		// spec.md §4.3: chunked must be the final encoding.
		encodings := strings.Split(te, ",")
		if !strings.EqualFold(strings.TrimSpace(encodings[len(encodings)-1]), "chunked") {
			return errors.NewParseError("invalid-request", "chunked must be the final transfer-coding")
		}
		req.Framing = BodyChunked
	case cl != "":
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return errors.NewParseError("invalid-request", "invalid Content-Length")
		}
		req.Framing = BodySized
		req.ContentLength = n
	default:
		req.Framing = BodyNone
	}
	return nil
}
