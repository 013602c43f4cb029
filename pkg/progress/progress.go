// Package progress implements the per-handler progress record stored in
// an object's status subtree, the Go port of kopf's structs.status
// module. Every function here is pure over (body, patch, handlerID,
// now): it reads whatever has already been persisted to the object plus
// whatever earlier stages of the same handling cycle staged into patch,
// and writes further changes into patch without ever touching the API
// itself.
package progress

import (
	"time"

	"github.com/kubefabric/reactor/pkg/lastseen"
	"github.com/kubefabric/reactor/pkg/objects"
)

// HandlerID identifies one registered handler function.
type HandlerID string

// Digest is a content-addressed marker of a body's sanitized state,
// reused from pkg/lastseen so that progress markers and the last-seen
// annotation are computed identically.
type Digest = lastseen.Digest

const timeLayout = time.RFC3339Nano

func progressPath(id HandlerID, field string) []string {
	return []string{"status", "kopf", "progress", string(id), field}
}

func readField(body objects.Body, id HandlerID, field string) (interface{}, bool) {
	return objects.Get(body, "status", "kopf", "progress", string(id), field)
}

func readString(body objects.Body, id HandlerID, field string) (string, bool) {
	v, ok := readField(body, id, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func readTime(body objects.Body, id HandlerID, field string) (time.Time, bool) {
	s, ok := readString(body, id, field)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func readInt(body objects.Body, id HandlerID, field string) int {
	v, ok := readField(body, id, field)
	if !ok {
		return 0
	}
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

// IsStarted reports whether this handler has ever recorded a start
// time, i.e. it has been attempted at least once.
func IsStarted(body objects.Body, id HandlerID) bool {
	_, ok := readString(body, id, "started")
	return ok
}

// isMarkerValid reports whether a stored success/failure marker (either
// the literal boolean true, or a digest string) is still valid against
// the object's current digest.
func isMarkerValid(v interface{}, digest Digest) bool {
	switch m := v.(type) {
	case bool:
		return m
	case string:
		return Digest(m) == digest
	default:
		return false
	}
}

// IsFinished reports whether the handler has a valid, still-current
// success or failure marker -- it will not be retried unless the body
// changes again.
func IsFinished(body objects.Body, digest Digest, id HandlerID) bool {
	if v, ok := readField(body, id, "success"); ok && isMarkerValid(v, digest) {
		return true
	}
	if v, ok := readField(body, id, "failure"); ok && isMarkerValid(v, digest) {
		return true
	}
	return false
}

// IsSleeping reports whether the handler is not finished but has a
// future delayed time, i.e. it is deliberately waiting before retrying.
func IsSleeping(body objects.Body, id HandlerID, now time.Time) bool {
	delayed, ok := readTime(body, id, "delayed")
	return ok && delayed.After(now)
}

// IsAwakened reports whether the handler is neither finished nor
// sleeping -- it is due to run right now.
func IsAwakened(body objects.Body, digest Digest, id HandlerID, now time.Time) bool {
	return !IsFinished(body, digest, id) && !IsSleeping(body, id, now)
}

// GetRetryCount returns how many attempts have been recorded so far.
func GetRetryCount(body objects.Body, id HandlerID) int {
	return readInt(body, id, "retries")
}

// SetStartTime records the first-attempt time, but only if absent --
// re-running an already-started handler must not reset its start time.
func SetStartTime(body objects.Body, patch *objects.Patch, id HandlerID, now time.Time) {
	if IsStarted(body, id) {
		return
	}
	patch.SetIn(progressPath(id, "started"), now.Format(timeLayout))
}

// SetAwakeTime clears any stored delay (or sets a new one) without
// touching the retry count or terminal markers, used when a handler
// explicitly asks to be woken at a specific time rather than retried on
// failure.
func SetAwakeTime(body objects.Body, patch *objects.Patch, id HandlerID, now time.Time, delay *time.Duration) {
	if delay == nil {
		patch.DeleteIn(progressPath(id, "delayed"))
		return
	}
	patch.SetIn(progressPath(id, "delayed"), now.Add(*delay).Format(timeLayout))
}

// SetRetryTime stages the next retry deadline and increments the retry
// counter, used after a handler raises kopf.TemporaryError or fails with
// an unclassified error.
func SetRetryTime(body objects.Body, patch *objects.Patch, id HandlerID, now time.Time, delay *time.Duration) {
	retries := nextRetryCount(body, patch, id)
	patch.SetIn(progressPath(id, "retries"), retries)
	if delay != nil {
		patch.SetIn(progressPath(id, "delayed"), now.Add(*delay).Format(timeLayout))
	} else {
		patch.DeleteIn(progressPath(id, "delayed"))
	}
}

func nextRetryCount(body objects.Body, patch *objects.Patch, id HandlerID) int {
	if staged, ok := patch.GetIn(progressPath(id, "retries")); ok {
		if n, ok := staged.(int); ok {
			return n + 1
		}
	}
	return GetRetryCount(body, id) + 1
}

// StoreFailure records a terminal failure: stopped time, the failure
// digest marker, the error text, and an incremented retry count.
func StoreFailure(body objects.Body, patch *objects.Patch, id HandlerID, digest Digest, now time.Time, cause error) {
	retries := nextRetryCount(body, patch, id)
	patch.SetIn(progressPath(id, "retries"), retries)
	patch.SetIn(progressPath(id, "stopped"), now.Format(timeLayout))
	patch.SetIn(progressPath(id, "failure"), string(digest))
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	patch.SetIn(progressPath(id, "message"), message)
}

// StoreSuccess records a terminal success: stopped time, the success
// digest marker, a cleared message, an incremented retry count, and --
// when the handler returned a value -- a shallow-merged per-handler
// result under status.<handlerID> (mappings merge key by key, scalars
// overwrite the whole value).
func StoreSuccess(body objects.Body, patch *objects.Patch, id HandlerID, digest Digest, now time.Time, result interface{}) {
	retries := nextRetryCount(body, patch, id)
	patch.SetIn(progressPath(id, "retries"), retries)
	patch.SetIn(progressPath(id, "stopped"), now.Format(timeLayout))
	patch.SetIn(progressPath(id, "success"), string(digest))
	patch.DeleteIn(progressPath(id, "message"))

	if result == nil {
		return
	}
	if resultMap, ok := result.(map[string]interface{}); ok {
		for k, v := range resultMap {
			patch.SetIn([]string{"status", string(id), k}, v)
		}
		return
	}
	patch.SetIn([]string{"status", string(id)}, result)
}

// PurgeProgress nulls the whole progress subtree, used once every
// registered handler has reached a terminal state for this cycle.
func PurgeProgress(patch *objects.Patch) {
	patch.SetIn([]string{"status", "kopf", "progress"}, nil)
}
