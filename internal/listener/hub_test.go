package listener

import (
	"os"
	"testing"

	"driftsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(os.Stdout)
	return &logger
}

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	hub := NewHub(testLogger())

	var order []string
	hub.Subscribe(func(models.SyncState) { order = append(order, "first") })
	hub.Subscribe(func(models.SyncState) { order = append(order, "second") })
	hub.Subscribe(func(models.SyncState) { order = append(order, "third") })

	hub.Publish(models.SyncState{})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(testLogger())

	var delivered int
	hub.Subscribe(func(models.SyncState) { panic("listener bug") })
	hub.Subscribe(func(models.SyncState) { delivered++ })

	require.NotPanics(t, func() { hub.Publish(models.SyncState{PendingCount: 1}) })
	assert.Equal(t, 1, delivered)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(testLogger())

	var calls int
	unsubscribe := hub.Subscribe(func(models.SyncState) { calls++ })
	hub.Subscribe(func(models.SyncState) {})

	hub.Publish(models.SyncState{})
	require.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()

	hub.Publish(models.SyncState{})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, hub.Len())
}

func TestLateSubscriberReceivesOnlyNextSnapshot(t *testing.T) {
	hub := NewHub(testLogger())

	hub.Publish(models.SyncState{PendingCount: 5})

	var seen []int
	hub.Subscribe(func(s models.SyncState) { seen = append(seen, s.PendingCount) })

	hub.Publish(models.SyncState{PendingCount: 7})

	// no buffering of missed updates
	assert.Equal(t, []int{7}, seen)
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	hub := NewHub(testLogger())

	var unsubscribe func()
	var calls int
	unsubscribe = hub.Subscribe(func(models.SyncState) {
		calls++
		unsubscribe()
	})

	hub.Publish(models.SyncState{})
	hub.Publish(models.SyncState{})

	assert.Equal(t, 1, calls)
}
