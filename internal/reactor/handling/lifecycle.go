package handling

import (
	"math/rand"
	"sort"

	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/progress"
)

// Lifecycle picks which of the awakened handlers to invoke this cycle,
// and in what order. candidates is already filtered down to handlers
// matching the triggering event and passing their static Filter; it is
// never mutated. The Go port of kopf.reactor.lifecycles.
type Lifecycle func(candidates []handlers.Handler, body objects.Body) []handlers.Handler

// AllAtOnce runs every awakened handler in one cycle, in registration
// order.
func AllAtOnce(candidates []handlers.Handler, body objects.Body) []handlers.Handler {
	return candidates
}

// OneByOne runs only the first awakened handler, one per cycle, so
// handlers complete strictly in registration order.
func OneByOne(candidates []handlers.Handler, body objects.Body) []handlers.Handler {
	if len(candidates) == 0 {
		return candidates
	}
	return candidates[:1]
}

// Randomized picks exactly one awakened handler at random per cycle.
func Randomized(candidates []handlers.Handler, body objects.Body) []handlers.Handler {
	if len(candidates) == 0 {
		return candidates
	}
	return candidates[rand.Intn(len(candidates)):][:1]
}

// Shuffled runs every awakened handler in one cycle, like AllAtOnce,
// but in a random order each time.
func Shuffled(candidates []handlers.Handler, body objects.Body) []handlers.Handler {
	out := append([]handlers.Handler(nil), candidates...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ASAP runs the single least-retried awakened handler, breaking ties by
// registration order, so a handler that keeps failing doesn't starve
// its siblings.
func ASAP(candidates []handlers.Handler, body objects.Body) []handlers.Handler {
	if len(candidates) == 0 {
		return candidates
	}
	best := make([]handlers.Handler, len(candidates))
	copy(best, candidates)
	sort.SliceStable(best, func(i, j int) bool {
		return progress.GetRetryCount(body, progress.HandlerID(best[i].ID)) <
			progress.GetRetryCount(body, progress.HandlerID(best[j].ID))
	})
	return best[:1]
}
