package httpmsg

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseForwardGET(t *testing.T) {
	raw := "GET http://example.org/ HTTP/1.1\r\nHost: example.org\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: 8192}, ConnContext{ClientAddr: "10.0.0.1:1234"})
	require.NoError(t, err)
	require.Equal(t, MethodGet, req.Method)
	require.Equal(t, "example.org", req.Host)
	require.Equal(t, 80, req.Port)
	require.Equal(t, "http", req.Scheme)
	require.Equal(t, BodyNone, req.Framing)
}

func TestParseInterceptedUsesHostHeader(t *testing.T) {
	raw := "GET /path HTTP/1.1\r\nHost: intercepted.example:8080\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeIntercept, MaxHeaderBytes: 8192}, ConnContext{InterceptedDestIP: "203.0.113.7:80", Intercepted: true})
	require.NoError(t, err)
	require.Equal(t, "intercepted.example", req.Host)
	require.Equal(t, 8080, req.Port)
	require.True(t, req.Flags.Intercepted)
}

func TestParseInterceptedFallsBackToDestIP(t *testing.T) {
	raw := "GET /path HTTP/1.1\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeIntercept, MaxHeaderBytes: 8192}, ConnContext{InterceptedDestIP: "203.0.113.7:80"})
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", req.Host)
}

func TestRejectsContentLengthAndChunkedTogether(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	_, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: 8192}, ConnContext{})
	require.Error(t, err)
}

func TestRejectsHTTPVersionAbove1(t *testing.T) {
	raw := "GET http://example.org/ HTTP/2.0\r\nHost: example.org\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	_, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: 8192}, ConnContext{})
	require.Error(t, err)
}

func TestHeaderBlockExactlyAtLimitAccepted(t *testing.T) {
	reqLine := "GET http://example.org/ HTTP/1.1\r\n"
	host := "Host: example.org\r\n"
	term := "\r\n"
	limit := len(reqLine) + len(host) + len(term)

	raw := reqLine + host + term
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: limit}, ConnContext{})
	require.NoError(t, err)
}

func TestHeaderBlockOneByteOverLimitRejected(t *testing.T) {
	reqLine := "GET http://example.org/ HTTP/1.1\r\n"
	host := "Host: example.org\r\n"
	term := "\r\n"
	limit := len(reqLine) + len(host) + len(term) - 1

	raw := reqLine + host + term
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: limit}, ConnContext{})
	require.Error(t, err)
}

func TestConnectTargetParsed(t *testing.T) {
	raw := "CONNECT example.org:443 HTTP/1.1\r\nHost: example.org:443\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	req, err := ParseRequestLineAndHeaders(r, Config{Mode: ModeForward, MaxHeaderBytes: 8192}, ConnContext{})
	require.NoError(t, err)
	require.Equal(t, MethodConnect, req.Method)
	require.Equal(t, "example.org", req.Host)
	require.Equal(t, 443, req.Port)
	require.True(t, req.Flags.MayUseConnection)
}
