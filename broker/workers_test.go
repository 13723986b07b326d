package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerRegistryAdd(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)

	assert.True(t, registry.Known("w1"))
	assert.Equal(t, []string{"default"}, registry.Queues("w1"))
	// Registration alone contributes no availability slots.
	assert.Equal(t, 0, registry.Available("default"))

	// The queue is known, so a pop finds it empty rather than unknown.
	_, err := registry.PopAvailable("default")
	assert.ErrorIs(t, err, errEmptyQueue)
}

func TestWorkerRegistryReAddScrubsOldSlots(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Requeue("w1")

	registry.Add("w1", "other", 0)

	assert.Equal(t, 0, registry.Available("default"))
	assert.Equal(t, []string{"other"}, registry.Queues("w1"))
}

func TestWorkerRegistryPopUnknownQueue(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	_, err := registry.PopAvailable("nope")
	assert.ErrorIs(t, err, errUnknownQueue)
}

func TestWorkerRegistryLeastRecentlyUsed(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Add("w2", "default", 0)
	registry.Add("w3", "default", 0)
	registry.Requeue("w1")
	registry.Requeue("w2")
	registry.Requeue("w3")

	for _, expected := range []string{"w1", "w2", "w3"} {
		id, err := registry.PopAvailable("default")
		assert.NoError(t, err)
		assert.Equal(t, expected, id)
	}

	_, err := registry.PopAvailable("default")
	assert.ErrorIs(t, err, errEmptyQueue)
}

func TestWorkerRegistryDuplicateSlots(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Requeue("w1")
	registry.Requeue("w1")

	assert.Equal(t, 2, registry.Available("default"))
}

func TestWorkerRegistryRemoveScrubsLists(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Add("w2", "default", 0)
	registry.Requeue("w1")
	registry.Requeue("w2")
	registry.Requeue("w1")

	registry.Remove("w1")

	assert.False(t, registry.Known("w1"))
	assert.Equal(t, 1, registry.Available("default"))

	id, err := registry.PopAvailable("default")
	assert.NoError(t, err)
	assert.Equal(t, "w2", id)

	// The list itself survives so later requests buffer instead of drop.
	_, err = registry.PopAvailable("default")
	assert.ErrorIs(t, err, errEmptyQueue)
}

func TestWorkerRegistrySweep(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Add("w2", "default", 0)
	registry.Requeue("w1")
	registry.Requeue("w1")
	registry.Requeue("w2")

	registry.Touch("w2", 30*time.Second)

	removed := registry.Sweep(60 * time.Second)

	assert.Equal(t, []string{"w1"}, removed)
	assert.False(t, registry.Known("w1"))
	assert.True(t, registry.Known("w2"))
	assert.Equal(t, 1, registry.Available("default"))
}

func TestWorkerRegistrySweepRateLimited(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)

	// Runs and stamps the cleanup instant; the worker is still live so
	// nothing is removed.
	assert.Empty(t, registry.Sweep(55*time.Second))

	// Expired by now, but the previous sweep was too recent.
	assert.Empty(t, registry.Sweep(62*time.Second))
	assert.True(t, registry.Known("w1"))

	removed := registry.Sweep(66 * time.Second)
	assert.Equal(t, []string{"w1"}, removed)
}

func TestWorkerRegistryTouchResetsLiveness(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Touch("w1", 59*time.Second)

	assert.Empty(t, registry.Sweep(60*time.Second))
	assert.True(t, registry.Known("w1"))
}

func TestWorkerRegistryInvariantListMembersKnown(t *testing.T) {
	registry := NewWorkerRegistry(60*time.Second, 10*time.Second)

	registry.Add("w1", "default", 0)
	registry.Add("w2", "other", 0)
	registry.Requeue("w1")
	registry.Requeue("w2")
	registry.Sweep(90 * time.Second)

	for queue, list := range registry.queues {
		for _, id := range list {
			assert.True(t, registry.Known(id), "queue %s holds unknown worker %s", queue, id)
		}
	}
}
