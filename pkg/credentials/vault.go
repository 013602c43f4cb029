// Package credentials implements the credentials vault (C1): a keyed
// store of currently valid connection configs with priority-weighted
// random selection, a short history of invalidated entries to avoid
// re-accepting known-bad credentials, and on-demand per-purpose
// derivative caching (e.g. one HTTP client per (item, purpose)). It is
// the Go port of kopf's structs.credentials module.
package credentials

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
)

// VaultKey identifies one credential slot, usually a handler id from an
// `on.login` registration but semantically independent of it.
type VaultKey string

// ConnectionInfo is a single endpoint with the credentials and
// connection flags needed to talk to it -- the rudimentary subset of
// authentication kopf (and this reactor) handles directly, matching
// structs.credentials.ConnectionInfo field for field.
type ConnectionInfo struct {
	Server   string
	CAPath   string
	CAData   []byte
	Insecure bool

	Username string
	Password string

	Scheme string // RFC 7235 §5.1 scheme, e.g. "Bearer", "Basic", "Digest".
	Token  string

	CertificatePath string
	CertificateData []byte
	PrivateKeyPath  string
	PrivateKeyData  []byte

	DefaultNamespace string
	Priority         int
}

// Equal reports whether two ConnectionInfo values describe the same
// endpoint and credentials -- used to recognise a config as a duplicate
// of one already known to be invalid. ConnectionInfo holds []byte
// fields, so it is not comparable with == and needs a field-by-field
// check.
func (c ConnectionInfo) Equal(other ConnectionInfo) bool {
	if c.Server != other.Server || c.CAPath != other.CAPath || c.Insecure != other.Insecure ||
		c.Username != other.Username || c.Password != other.Password || c.Scheme != other.Scheme ||
		c.Token != other.Token || c.CertificatePath != other.CertificatePath ||
		c.PrivateKeyPath != other.PrivateKeyPath || c.DefaultNamespace != other.DefaultNamespace ||
		c.Priority != other.Priority {
		return false
	}
	return bytesEqual(c.CAData, other.CAData) && bytesEqual(c.CertificateData, other.CertificateData) &&
		bytesEqual(c.PrivateKeyData, other.PrivateKeyData)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// maxInvalidHistory bounds the per-key invalidated-entry history kept to
// avoid re-accepting a recently-failed config, per spec.md §3/§4.1.
const maxInvalidHistory = 3

// vaultItem is the internal record: the connection info plus its
// lazily-populated per-purpose derivative cache.
type vaultItem struct {
	info   ConnectionInfo
	caches map[string]interface{}
}

// Vault is a concurrency-safe store of currently valid credentials. It
// is created once per operator and shared across every task that needs
// to authenticate (watchers, the admission server, peering).
type Vault struct {
	mu      sync.Mutex
	current map[VaultKey]*vaultItem
	invalid map[VaultKey][]ConnectionInfo

	ready *primitives.Toggle
}

// NewVault creates a vault, optionally pre-populated with src. A
// pre-populated vault is immediately ready; an empty one starts
// not-ready until Populate is called.
func NewVault(src map[VaultKey]ConnectionInfo) *Vault {
	v := &Vault{
		current: map[VaultKey]*vaultItem{},
		invalid: map[VaultKey][]ConnectionInfo{},
	}
	for k, info := range src {
		v.current[k] = &vaultItem{info: info}
	}
	v.ready = primitives.NewToggle(len(v.current) > 0, "vault-ready")
	return v
}

// IsEmpty reports whether the vault currently holds no valid items.
func (v *Vault) IsEmpty() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.current) == 0
}

// WaitForReadiness blocks until the vault holds at least one valid item.
func (v *Vault) WaitForReadiness(ctx context.Context) error {
	return v.ready.WaitFor(ctx, true)
}

// WaitForEmptiness blocks until the vault holds no valid items (used by
// the re-authentication task to know when it must run).
func (v *Vault) WaitForEmptiness(ctx context.Context) error {
	return v.ready.WaitFor(ctx, false)
}

// Populate merges newly retrieved credentials in, skipping any entry
// that is a duplicate of one already known (by this key) to be invalid
// -- this is what prevents a rejected credential from being immediately
// re-accepted on the next login attempt.
func (v *Vault) Populate(src map[VaultKey]ConnectionInfo) {
	v.mu.Lock()
	for key, info := range src {
		if v.isKnownInvalidLocked(key, info) {
			continue
		}
		v.current[key] = &vaultItem{info: info}
	}
	v.mu.Unlock()
	v.ready.TurnOn()
}

func (v *Vault) isKnownInvalidLocked(key VaultKey, info ConnectionInfo) bool {
	for _, bad := range v.invalid[key] {
		if bad.Equal(info) {
			return true
		}
	}
	return false
}

// Select picks the next item to try: uniformly at random among the
// current items sharing the highest priority. Returns a LoginError if
// nothing is currently valid.
func (v *Vault) Select() (VaultKey, ConnectionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selectLocked()
}

func (v *Vault) selectLocked() (VaultKey, ConnectionInfo, error) {
	if len(v.current) == 0 {
		return "", ConnectionInfo{}, reactorerrors.NewLoginError(nil)
	}

	topPriority := minInt()
	for _, item := range v.current {
		if item.info.Priority > topPriority {
			topPriority = item.info.Priority
		}
	}

	var candidates []VaultKey
	for key, item := range v.current {
		if item.info.Priority == topPriority {
			candidates = append(candidates, key)
		}
	}
	chosen := candidates[rand.Intn(len(candidates))]
	return chosen, v.current[chosen].info, nil
}

func minInt() int {
	return -1 << 62
}

// Invalidate excludes key's current credentials (recording them in the
// bounded invalidation history), flushes its cached derivatives, and --
// if nothing is left at all -- flips the ready toggle off and blocks
// until Populate turns it back on. If the vault is still empty then
// (re-authentication produced nothing usable) and cause is non-nil,
// cause is returned to the caller so it can propagate the original
// failure (e.g. the 401 that triggered this call); if cause is nil, a
// LoginError is returned instead. If ctx is done first, ctx's error is
// returned.
func (v *Vault) Invalidate(ctx context.Context, key VaultKey, cause error) error {
	v.mu.Lock()
	if item, ok := v.current[key]; ok {
		flushCaches(item)
		history := append(v.invalid[key], item.info)
		if len(history) > maxInvalidHistory {
			history = history[len(history)-maxInvalidHistory:]
		}
		v.invalid[key] = history
		delete(v.current, key)
	}
	needReauth := len(v.current) == 0
	v.mu.Unlock()

	if needReauth {
		v.ready.TurnOff()
		if err := v.ready.WaitFor(ctx, true); err != nil {
			return err
		}
	}

	v.mu.Lock()
	empty := len(v.current) == 0
	v.mu.Unlock()
	if empty {
		if cause != nil {
			return cause
		}
		return reactorerrors.NewLoginError(nil)
	}
	return nil
}

// Use repeatedly selects an item and calls fn with it until fn succeeds
// (returns nil), fn's error is treated as the item having failed (which
// Invalidate is called for automatically), or the context is cancelled.
// This is the Go replacement for the original's async-generator
// `_items`/`__aiter__` consumed via "async for ... break on success".
func (v *Vault) Use(ctx context.Context, fn func(VaultKey, ConnectionInfo) error) error {
	for {
		if err := v.ready.WaitFor(ctx, true); err != nil {
			return err
		}
		key, info, err := v.Select()
		if err != nil {
			return err
		}

		if err := fn(key, info); err != nil {
			if invErr := v.Invalidate(ctx, key, err); invErr != nil {
				return invErr
			}
			continue
		}
		return nil
	}
}

// UseExtended behaves like Use, but fn additionally receives a cached
// derivative object for (item, purpose): factory is invoked at most
// once per (item, purpose) pair, and its result is reused across calls
// until the item is invalidated.
func (v *Vault) UseExtended(
	ctx context.Context,
	purpose string,
	factory func(ConnectionInfo) (interface{}, error),
	fn func(VaultKey, ConnectionInfo, interface{}) error,
) error {
	for {
		if err := v.ready.WaitFor(ctx, true); err != nil {
			return err
		}

		v.mu.Lock()
		key, info, selErr := v.selectLocked()
		if selErr != nil {
			v.mu.Unlock()
			return selErr
		}
		item := v.current[key]
		if item.caches == nil {
			item.caches = map[string]interface{}{}
		}
		cached, ok := item.caches[purpose]
		v.mu.Unlock()

		if !ok {
			built, err := factory(info)
			if err != nil {
				if invErr := v.Invalidate(ctx, key, err); invErr != nil {
					return invErr
				}
				continue
			}
			v.mu.Lock()
			if item.caches == nil {
				item.caches = map[string]interface{}{}
			}
			if existing, already := item.caches[purpose]; already {
				cached = existing
			} else {
				item.caches[purpose] = built
				cached = built
			}
			v.mu.Unlock()
		}

		if err := fn(key, info, cached); err != nil {
			if invErr := v.Invalidate(ctx, key, err); invErr != nil {
				return invErr
			}
			continue
		}
		return nil
	}
}

// Close finalizes every cached derivative across every current item,
// used when the operator shuts down.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range v.current {
		flushCaches(item)
	}
}

// flushCaches closes any cached derivative implementing io.Closer and
// clears the cache map, the Go analogue of kopf's _flush_caches (which
// additionally tolerates an async close(); Go's io.Closer is always
// synchronous, so no such branching is needed here).
func flushCaches(item *vaultItem) {
	for _, obj := range item.caches {
		if closer, ok := obj.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	item.caches = nil
}
