package peering

import "time"

// Peer is one parsed entry from a peering object's status subtree: one
// other (or our own) operator instance's last announced keep-alive.
type Peer struct {
	Identity Identity
	Priority int
	Lifetime time.Duration
	LastSeen time.Time
}

// IsDead reports whether now is past this peer's deadline (LastSeen +
// Lifetime), or whether Lifetime is zero -- the marker a departing
// instance's final Touch(lifetime=0) writes for itself.
func (p Peer) IsDead(now time.Time) bool {
	return p.Lifetime == 0 || p.LastSeen.Add(p.Lifetime).Before(now)
}

// Deadline is the instant this peer is expected to go dead, used to
// schedule the next re-evaluation.
func (p Peer) Deadline() time.Time {
	return p.LastSeen.Add(p.Lifetime)
}

// asStatus renders p as the JSON-able map stored under
// status.<identity> in the peering object, omitting the identity (the
// map key already carries it).
func (p Peer) asStatus() map[string]interface{} {
	return map[string]interface{}{
		"priority": p.Priority,
		"lifetime": int(p.Lifetime.Seconds()),
		"lastseen": p.LastSeen.UTC().Format(time.RFC3339Nano),
	}
}

// parsePeer reconstructs a Peer from one status.<identity> entry.
// Fields are forward-compatibly defaulted (per kopf's Peer.__init__):
// a missing lifetime means 60s, a missing lastseen means "now".
func parsePeer(identity string, raw map[string]interface{}) Peer {
	p := Peer{Identity: Identity(identity), Lifetime: 60 * time.Second, LastSeen: time.Now().UTC()}
	if v, ok := raw["priority"]; ok {
		p.Priority = toInt(v)
	}
	if v, ok := raw["lifetime"]; ok {
		p.Lifetime = time.Duration(toInt(v)) * time.Second
	}
	if v, ok := raw["lastseen"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			p.LastSeen = t.UTC()
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.LastSeen = t.UTC()
		}
	}
	return p
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// parsePeers reads every entry under a peering object's status into
// Peers, skipping the nulled-out (departed) ones.
func parsePeers(status map[string]interface{}) []Peer {
	peers := make([]Peer, 0, len(status))
	for identity, raw := range status {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		peers = append(peers, parsePeer(identity, entry))
	}
	return peers
}
