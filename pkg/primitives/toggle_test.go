package primitives_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/primitives"
)

func TestToggleInitialState(t *testing.T) {
	on := primitives.NewToggle(true, "on")
	off := primitives.NewToggle(false, "off")
	assert.True(t, on.IsOn())
	assert.False(t, on.IsOff())
	assert.True(t, off.IsOff())
}

func TestToggleWaitForUnblocksOnTurn(t *testing.T) {
	tg := primitives.NewToggle(false, "")
	done := make(chan error, 1)
	go func() {
		done <- tg.WaitFor(context.Background(), true)
	}()

	select {
	case <-done:
		t.Fatal("WaitFor returned before the toggle was turned on")
	case <-time.After(20 * time.Millisecond):
	}

	tg.TurnOn()
	require.NoError(t, <-done)
}

func TestToggleWaitForContextCancellation(t *testing.T) {
	tg := primitives.NewToggle(false, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tg.WaitFor(ctx, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToggleSetAnySemantics(t *testing.T) {
	set := primitives.NewToggleSet(primitives.Any)
	assert.False(t, set.IsOn())

	a := set.MakeToggle("a", false)
	b := set.MakeToggle("b", false)
	assert.False(t, set.IsOn())

	a.TurnOn()
	assert.True(t, set.IsOn())

	b.TurnOn()
	assert.True(t, set.IsOn())

	a.TurnOff()
	assert.True(t, set.IsOn(), "b is still on")

	b.TurnOff()
	assert.False(t, set.IsOn())
}

func TestToggleSetAllSemantics(t *testing.T) {
	set := primitives.NewToggleSet(primitives.All)
	assert.False(t, set.IsOn(), "vacuously off (ready) with no children")

	a := set.MakeToggle("a", true)
	assert.True(t, set.IsOn(), "a is still on: not all contributors have finished")

	a.TurnOff()
	assert.False(t, set.IsOn())

	b := set.MakeToggle("b", true)
	assert.True(t, set.IsOn())

	b.TurnOff()
	assert.False(t, set.IsOn())

	set.DropToggle(b)
	assert.False(t, set.IsOn())
}

func TestToggleSetWaitForWakesOnChildChange(t *testing.T) {
	set := primitives.NewToggleSet(primitives.Any)
	a := set.MakeToggle("a", false)

	done := make(chan error, 1)
	go func() {
		done <- set.WaitFor(context.Background(), true)
	}()

	select {
	case <-done:
		t.Fatal("WaitFor fired before any child turned on")
	case <-time.After(20 * time.Millisecond):
	}

	a.TurnOn()
	require.NoError(t, <-done)
}

func TestContainerSetAndWait(t *testing.T) {
	c := primitives.NewContainer[int]()
	done := make(chan int, 1)
	go func() {
		v, err := c.Wait(context.Background())
		require.NoError(t, err)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	c.Set(42)
	assert.Equal(t, 42, <-done)
}

func TestContainerChanges(t *testing.T) {
	c := primitives.NewContainer[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Changes(ctx)
	c.Set("first")
	assert.Equal(t, "first", <-ch)

	c.Set("second")
	assert.Equal(t, "second", <-ch)
}

func TestConditionChainRelaysNotifications(t *testing.T) {
	source := primitives.NewBroadcaster().(interface {
		primitives.Broadcaster
		Notify()
	})

	fired := make(chan struct{}, 1)
	chain := primitives.Chain(source, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer chain.Close()

	source.Notify()
	select {
	case <-fired:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("chain did not relay the notification")
	}
}
