package audit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address recorded for a request: the first
// X-Forwarded-For hop, else the connection's host.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
