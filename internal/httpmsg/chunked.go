package httpmsg

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/squidgo/proxycore/pkg/errors"
)

// ErrBodyPipeFull is returned by a BodySink when it has no space for more
// decoded bytes right now. The decoder surfaces it to the caller unchanged
// so the connection's read can be paused (spec.md §4.3 "backpressure").
var ErrBodyPipeFull = errors.NewIOError("write", io.ErrShortWrite)

// BodySink receives decoded request-body bytes. internal/connio's body
// pipe (backed by pkg/buffer) implements this.
type BodySink interface {
	io.Writer
}

// ChunkedDecoder incrementally decodes a chunked transfer-coded body
// (spec.md §4.3 "Chunked decoding"), enforcing a decoded-byte ceiling.
type ChunkedDecoder struct {
	r        *bufio.Reader
	sink     BodySink
	limit    int64
	written  int64
	trailers *Headers
	done     bool
}

// NewChunkedDecoder returns a decoder reading chunk framing from r and
// writing decoded bytes to sink, enforcing limit decoded bytes total
// (0 = unlimited).
func NewChunkedDecoder(r *bufio.Reader, sink BodySink, limit int64) *ChunkedDecoder {
	return &ChunkedDecoder{r: r, sink: sink, limit: limit, trailers: NewHeaders()}
}

// Trailers returns any trailer headers parsed after the terminating chunk.
func (d *ChunkedDecoder) Trailers() *Headers { return d.trailers }

// Done reports whether the terminating 0-length chunk and its trailing
// CRLF have both been consumed.
func (d *ChunkedDecoder) Done() bool { return d.done }

// Decode drives the state machine until the body is fully decoded, the
// reader blocks (returned as-is from the underlying bufio.Reader), the
// size limit is exceeded ("too-big"), or the sink signals backpressure
// (ErrBodyPipeFull). Decode keeps no position inside a chunk between
// calls: after it returns an error, including ErrBodyPipeFull, decoding
// cannot be resumed on the same stream.
func (d *ChunkedDecoder) Decode() error {
	for !d.done {
		size, err := d.readChunkSize()
		if err != nil {
			return err
		}
		if size == 0 {
			return d.readTrailers()
		}
		if d.limit > 0 && d.written+size > d.limit {
			return errors.NewParseError("too-big", "decoded chunked body exceeds maxRequestBodySize")
		}
		if err := d.copyChunk(size); err != nil {
			return err
		}
		if err := d.consumeChunkCRLF(); err != nil {
			return err
		}
	}
	return nil
}

func (d *ChunkedDecoder) readChunkSize() (int64, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	sizeToken := strings.SplitN(line, ";", 2)[0]
	size, err := strconv.ParseInt(strings.TrimSpace(sizeToken), 16, 64)
	if err != nil || size < 0 {
		return 0, errors.NewParseError("invalid-request", "invalid chunk size")
	}
	return size, nil
}

func (d *ChunkedDecoder) copyChunk(size int64) error {
	remaining := size
	buf := make([]byte, 32*1024)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(d.r, buf[:n]); err != nil {
			return errors.NewIOError("read", err)
		}
		if _, err := d.sink.Write(buf[:n]); err != nil {
			return err
		}
		d.written += n
		remaining -= n
	}
	return nil
}

func (d *ChunkedDecoder) consumeChunkCRLF() error {
	crlf := make([]byte, 2)
	if _, err := io.ReadFull(d.r, crlf); err != nil {
		return errors.NewParseError("invalid-request", "missing chunk CRLF")
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return errors.NewParseError("invalid-request", "malformed chunk terminator")
	}
	return nil
}

func (d *ChunkedDecoder) readTrailers() error {
	var lastKey string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return errors.NewParseError("invalid-request", "missing final CRLF after chunked body")
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			d.done = true
			return nil
		}
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey != "" {
				vals := d.trailers.Values(lastKey)
				if len(vals) > 0 {
					vals[len(vals)-1] += " " + strings.TrimSpace(trimmed)
				}
			}
			continue
		}
		kv := strings.SplitN(trimmed, ":", 2)
		if len(kv) == 2 {
			key := strings.TrimSpace(kv[0])
			d.trailers.Add(key, strings.TrimSpace(kv[1]))
			lastKey = key
		}
	}
}

// BytesWritten returns the number of decoded bytes delivered to the sink
// so far (spec.md §8 invariant: equals the sum of parsed chunk sizes).
func (d *ChunkedDecoder) BytesWritten() int64 { return d.written }
