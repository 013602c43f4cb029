// Package peering implements C8, the leader-arbitration layer that lets
// several independently-deployed operator instances share one cluster
// without double-processing: each instance posts its own keep-alive
// entry onto a shared peering object's status, watches its peers'
// entries, and pauses itself whenever a higher- (or equal-) priority
// peer is alive. It is the Go port of kopf.engines.peering.
package peering

import (
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"time"
)

// Identity names one running operator instance in a peering object's
// status, e.g. "alice@workstation/20260731120000/x3q" or a pod name.
type Identity string

// DetectIdentity returns $POD_ID if set, else a
// "user@host[/timestamp/suffix]" identity generated fresh each start.
// manual suppresses the timestamp/suffix, producing a stable identity
// across restarts for the `kubefabric freeze`/`resume` CLI commands,
// which must address a specific, already-running instance's entry.
func DetectIdentity(manual bool) Identity {
	if pod := os.Getenv("POD_ID"); pod != "" {
		return Identity(pod)
	}

	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	host := descriptiveHostname()

	if manual {
		return Identity(fmt.Sprintf("%s@%s", username, host))
	}

	now := time.Now().UTC().Format("20060102150405")
	suffix := randomSuffix(3)
	return Identity(fmt.Sprintf("%s@%s/%s/%s", username, host, now, suffix))
}

// descriptiveHostname prefers the fully-qualified hostname a human would
// recognise over a container's opaque generated one; os.Hostname is the
// closest Go has to kopf's own best-effort hostname lookup.
func descriptiveHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

const suffixAlphabet = "abcdefhijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(out)
}
