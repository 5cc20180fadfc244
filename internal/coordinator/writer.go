package coordinator

import (
	"fmt"

	"github.com/squidgo/proxycore/internal/connio"
)

// statusText covers the small set of statuses the coordinator itself
// writes (1xx preliminaries, deny pages, auth challenges); the fetcher
// collaborator is responsible for every other response.
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",
	103: "Early Hints",
	302: "Found",
	401: "Unauthorized",
	403: "Forbidden",
	407: "Proxy Authentication Required",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

func reasonPhrase(status int) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Status"
}

// writeStatusLine writes a minimal HTTP/1.1 status line plus headers to
// conn, terminated by the blank line that ends the header block. It does
// not write a body — callers needing one (deny pages) append it
// separately.
func writeStatusLine(conn *connio.Connection, status int, headerLines map[string][]string) error {
	w := conn.Writer()
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, reasonPhrase(status)); err != nil {
		return err
	}
	for name, values := range headerLines {
		for _, v := range values {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
