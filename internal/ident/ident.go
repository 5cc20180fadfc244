// Package ident implements the outgoing RFC 1413 identd query described
// in spec.md §4.6: "ident.start(conn, cb) issues an outgoing RFC 1413
// query from the proxy's IP to port 113 of the client's IP ... Concurrent
// calls for the same address pair coalesce."
//
// The coalescing is implemented with golang.org/x/sync/singleflight
// rather than the source's hand-rolled "waiters list" on the lookup
// state object — singleflight is the idiomatic Go expression of exactly
// that "second caller chains onto the first's result" behavior.
package ident

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/squidgo/proxycore/internal/obslog"
)

// Config bounds one Resolver's behavior.
type Config struct {
	Timeout time.Duration // default constants.DefaultIdentTimeout
}

// Resolver issues and coalesces identd lookups. It never retries
// (spec.md §4.6: "The resolver never retries").
type Resolver struct {
	cfg   Config
	group singleflight.Group
	log   *obslog.Logger
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New returns a Resolver using net.Dialer for outgoing connections.
func New(cfg Config, log *obslog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var d net.Dialer
	return &Resolver{cfg: cfg, log: log, dial: d.DialContext}
}

// Lookup queries identd at clientIP:113 for the (serverPort, clientPort)
// pair, returning the user-id on success or "" on any failure (dial,
// write, read, reply parse, timeout or ctx cancellation); the returned
// error is always nil.
func (r *Resolver) Lookup(ctx context.Context, clientIP string, serverPort, clientPort int) (string, error) {
	key := fmt.Sprintf("%s:%d:%d", clientIP, serverPort, clientPort)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.query(ctx, clientIP, serverPort, clientPort)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) query(ctx context.Context, clientIP string, serverPort, clientPort int) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	conn, err := r.dial(dialCtx, "tcp", net.JoinHostPort(clientIP, "113"))
	if err != nil {
		r.log.Debug("ident dial failed", "client", clientIP, "err", err)
		return "", nil
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(r.cfg.Timeout))

	query := fmt.Sprintf("%d,%d\r\n", clientPort, serverPort)
	if _, err := conn.Write([]byte(query)); err != nil {
		return "", nil
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", nil
	}

	userID, ok := parseReply(line)
	if !ok {
		return "", nil
	}
	return userID, nil
}

// parseReply parses "server,client : USERID : os : userid" (RFC 1413),
// stripping CR/LF and leading whitespace from the returned user-id.
func parseReply(line string) (string, bool) {
	parts := strings.Split(line, ":")
	if len(parts) < 4 {
		return "", false
	}
	kind := strings.TrimSpace(parts[1])
	if !strings.EqualFold(kind, "USERID") {
		return "", false
	}
	userID := strings.TrimRight(parts[3], "\r\n")
	userID = strings.TrimLeft(userID, " \t")
	if userID == "" {
		return "", false
	}
	return userID, true
}

// ParsePortPair parses the "clientPort,serverPort" query line format, for
// tests and for a server-side stand-in.
func ParsePortPair(line string) (clientPort, serverPort int, err error) {
	parts := strings.SplitN(strings.TrimSpace(line), ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed ident query line")
	}
	clientPort, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	serverPort, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return clientPort, serverPort, nil
}
