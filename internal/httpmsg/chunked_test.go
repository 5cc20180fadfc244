package httpmsg

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkedDecoderHappyPath(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	var out bytes.Buffer

	dec := NewChunkedDecoder(r, &out, 0)
	require.NoError(t, dec.Decode())
	require.True(t, dec.Done())
	require.Equal(t, "hello world", out.String())
	require.Equal(t, int64(len("hello world")), dec.BytesWritten())
}

func TestChunkedDecoderOverflow(t *testing.T) {
	raw := "10\r\n0123456789abcdef\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	var out bytes.Buffer

	dec := NewChunkedDecoder(r, &out, 8) // limit smaller than the single chunk
	err := dec.Decode()
	require.Error(t, err)
}

func TestChunkedDecoderTrailers(t *testing.T) {
	raw := "3\r\nabc\r\n0\r\nX-Trailer: yes\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	var out bytes.Buffer

	dec := NewChunkedDecoder(r, &out, 0)
	require.NoError(t, dec.Decode())
	require.Equal(t, "yes", dec.Trailers().Get("X-Trailer"))
}
