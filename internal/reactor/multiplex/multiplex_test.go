package multiplex_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/internal/reactor/multiplex"
	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/resource"
)

func rawEvent(uid, resourceVersion string) *k8sclient.RawEvent {
	return &k8sclient.RawEvent{
		Type: "MODIFIED",
		Object: map[string]interface{}{
			"metadata": map[string]interface{}{"uid": uid, "resourceVersion": resourceVersion},
		},
	}
}

func testSettings() config.Settings {
	s := config.Default()
	s.Batching.WorkerLimit = 4
	s.Batching.BatchWindow = 5 * time.Millisecond
	s.Batching.IdleTimeout = 50 * time.Millisecond
	s.Batching.ExitTimeout = time.Second
	return s
}

func podsResource() resource.Resource {
	return resource.Resource{Version: "v1", Plural: "pods", Kind: "Pod", Namespaced: true, Verbs: []string{"list", "watch"}}
}

// TestWatchSerializesPerObjectAndParallelizesAcrossObjects checks that
// two objects are processed by distinct goroutines (both see overlap)
// while a single object never sees two calls to process running at
// once.
func TestWatchSerializesPerObjectAndParallelizesAcrossObjects(t *testing.T) {
	var mu sync.Mutex
	inflight := map[string]bool{}
	var sawOverlap bool

	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		uid, _ := ev.Raw.Object["metadata"].(map[string]interface{})["uid"].(string)
		mu.Lock()
		if inflight[uid] {
			t.Errorf("overlapping process calls for object %s", uid)
		}
		inflight[uid] = true
		for other, on := range inflight {
			if other != uid && on {
				sawOverlap = true
			}
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inflight[uid] = false
		mu.Unlock()
		return nil
	}

	events := make(chan watch.Event)
	ctx, cancel := context.WithCancel(context.Background())

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", false)

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, testSettings(), podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	events <- watch.Event{Raw: rawEvent("a", "1")}
	events <- watch.Event{Raw: rawEvent("b", "1")}
	time.Sleep(60 * time.Millisecond)

	cancel()
	close(events)
	require.NoError(t, <-done)

	assert.True(t, sawOverlap, "expected both objects to be processed concurrently at some point")
}

// TestWatchCoalescesRapidArrivalsWithinBatchWindow checks that several
// events pushed faster than BatchWindow collapse into a single
// process call carrying the latest one.
func TestWatchCoalescesRapidArrivalsWithinBatchWindow(t *testing.T) {
	var mu sync.Mutex
	var seenVersions []string

	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		rv, _ := ev.Raw.Object["metadata"].(map[string]interface{})["resourceVersion"].(string)
		mu.Lock()
		seenVersions = append(seenVersions, rv)
		mu.Unlock()
		return nil
	}

	events := make(chan watch.Event)
	ctx, cancel := context.WithCancel(context.Background())

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", false)

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, testSettings(), podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	for i := 1; i <= 5; i++ {
		events <- watch.Event{Raw: rawEvent("same-object", fmt.Sprintf("%d", i))}
	}
	time.Sleep(80 * time.Millisecond)

	cancel()
	close(events)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seenVersions, 1)
	assert.Equal(t, "5", seenVersions[0])
}

// TestWatchDropsResourceIndexedToggleOnFirstListedBookmark verifies that
// the first LISTED bookmark drops the resource's still-on readiness
// toggle from the set, and that a second LISTED bookmark leaves the set
// vacuously off.
func TestWatchDropsResourceIndexedToggleOnFirstListedBookmark(t *testing.T) {
	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		return nil
	}

	events := make(chan watch.Event)
	ctx, cancel := context.WithCancel(context.Background())

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", true)
	assert.True(t, operatorIndexed.IsOn(), "the resource's toggle is on until its first listing completes")

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, testSettings(), podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	events <- watch.Event{Bookmark: &watch.Bookmark{Listed: true}}
	events <- watch.Event{Bookmark: &watch.Bookmark{Listed: true}}
	time.Sleep(20 * time.Millisecond)

	assert.False(t, operatorIndexed.IsOn(), "readiness toggle set should be vacuously off (ready) after the resource's only toggle drops")

	cancel()
	close(events)
	require.NoError(t, <-done)
}

// TestWatchPropagatesFatalWorkerError verifies a Processor error
// surfaces from Watch, wrapped with the resource's name.
func TestWatchPropagatesFatalWorkerError(t *testing.T) {
	boom := fmt.Errorf("boom")
	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		return boom
	}

	events := make(chan watch.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", false)

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, testSettings(), podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	events <- watch.Event{Raw: rawEvent("c", "1")}

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pods")
}

// TestWatchPropagatesUpstreamStreamError verifies a terminal
// watch.Event{Err} is surfaced from Watch without requiring a worker
// to have started.
func TestWatchPropagatesUpstreamStreamError(t *testing.T) {
	boom := fmt.Errorf("stream broke")
	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		return nil
	}

	events := make(chan watch.Event)
	ctx := context.Background()

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", false)

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, testSettings(), podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	events <- watch.Event{Err: boom}

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

// TestWatchExitsPromptlyOnEndOfStreamWithoutWaitingOutIdleTimeout
// guards the sawEOS fix in runWorker: shutdown of an active object must
// not block for the full IdleTimeout once its last batch is processed.
func TestWatchExitsPromptlyOnEndOfStreamWithoutWaitingOutIdleTimeout(t *testing.T) {
	process := func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		return nil
	}

	events := make(chan watch.Event)
	ctx, cancel := context.WithCancel(context.Background())

	settings := testSettings()
	settings.Batching.IdleTimeout = 5 * time.Second // deliberately large
	settings.Batching.ExitTimeout = time.Second

	operatorIndexed := primitives.NewToggleSet(primitives.All)
	resourceIndexed := operatorIndexed.MakeToggle("pods", false)

	done := make(chan error, 1)
	go func() {
		done <- multiplex.Watch(ctx, settings, podsResource(), nil, events, process, operatorIndexed, resourceIndexed)
	}()

	events <- watch.Event{Raw: rawEvent("d", "1")}
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	cancel()
	close(events)
	require.NoError(t, <-done)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "shutdown should not wait out the idle timeout")
}
