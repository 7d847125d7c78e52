package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurukul/orchestration-core/internal/models"
)

func TestStartEmbedded_PublishAndSubscribe(t *testing.T) {
	bus, err := StartEmbedded()
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan TriggerEvent, 1)
	sub, err := bus.SubscribeTriggers(func(e TriggerEvent) { received <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	event := TriggerEvent{
		UserID:  "user-1",
		Trigger: models.Trigger{Kind: models.TriggerLowRecentScore, Subject: "Math", Topic: "Fractions"},
		TaskID:  "task-123",
	}
	require.NoError(t, bus.PublishTrigger(context.Background(), event))

	select {
	case got := <-received:
		assert.Equal(t, event.UserID, got.UserID)
		assert.Equal(t, event.Trigger.Kind, got.Trigger.Kind)
		assert.Equal(t, event.TaskID, got.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive published trigger event")
	}
}

func TestStartEmbedded_SubscribesAcrossAllTriggerKinds(t *testing.T) {
	bus, err := StartEmbedded()
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan TriggerEvent, 3)
	sub, err := bus.SubscribeTriggers(func(e TriggerEvent) { received <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	kinds := []models.TriggerKind{models.TriggerLowRecentScore, models.TriggerDecliningTrend, models.TriggerInactivity}
	for _, kind := range kinds {
		require.NoError(t, bus.PublishTrigger(context.Background(), TriggerEvent{UserID: "u", Trigger: models.Trigger{Kind: kind}}))
	}

	seen := make(map[models.TriggerKind]bool)
	for i := 0; i < len(kinds); i++ {
		select {
		case got := <-received:
			seen[got.Trigger.Kind] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after receiving %d of %d events", len(seen), len(kinds))
		}
	}
	for _, kind := range kinds {
		assert.True(t, seen[kind], "missing event for kind %s", kind)
	}
}
