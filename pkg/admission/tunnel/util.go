package tunnel

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/kubefabric/reactor/pkg/reactorerrors"
)

// accessibleAddr converts a "catch-all" listening address (empty,
// "0.0.0.0", "::") to an address that can actually be dialed, mirroring
// kopf's WebhookServer._get_accessible_addr.
func accessibleAddr(addr string) string {
	if addr == "" {
		return "localhost"
	}
	if ip := net.ParseIP(addr); ip != nil && ip.IsUnspecified() {
		if ip.To4() != nil {
			return "127.0.0.1"
		}
		return "::1"
	}
	return addr
}

func buildURL(schema, host string, port int, path string) string {
	h := host
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		h = "[" + host + "]"
	}
	isDefaultPort := (schema == "http" && port == 80) || (schema == "https" && port == 443)
	netloc := h
	if !isDefaultPort {
		netloc = h + ":" + strconv.Itoa(port)
	}
	u := url.URL{Scheme: schema, Host: netloc, Path: path}
	return u.String()
}

func joinPath(root, suffix string) string {
	root = strings.TrimSuffix(root, "/")
	return root + suffix
}

func portOf(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(u.Port())
	return port
}

func splitHostPort(server string) (host, port string) {
	u, err := url.Parse(server)
	if err != nil {
		return server, "443"
	}
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		port = "443"
	}
	return host, port
}

type errClass int

const (
	classOther errClass = iota
	classUnknown
	classAmbiguous
)

// classify maps a dispatch-time WebhookError family member to the HTTP
// status writeDispatchError should report, matching
// WebhookServer._serve's exception-to-status mapping in the original.
func classify(err error) errClass {
	switch err.(type) {
	case *reactorerrors.AmbiguousResourceError:
		return classAmbiguous
	case *reactorerrors.UnknownResourceError:
		return classUnknown
	default:
		return classOther
	}
}
