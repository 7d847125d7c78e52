// Package intervention implements the intervention half of the
// Progress Tracker's trigger dispatch, handing off from the tracker to
// the worker pool: Dispatcher creates the Task row and publishes the
// trigger on the event bus; Consumer
// subscribes on the other side and is the only thing that submits work
// to the Worker Pool. Splitting the two means a trigger dispatch is
// observable on the bus before any job runs, rather than the Tracker
// reaching into the Worker Pool directly.
package intervention

import (
	"context"

	"github.com/gurukul/orchestration-core/internal/eventbus"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/taskregistry"
)

// Dispatcher is the publish side of intervention dispatch: it creates
// the intervention Task and hands its trigger to the bus. It never
// touches the Worker Pool.
type Dispatcher struct {
	registry *taskregistry.Registry
	bus      *eventbus.Bus
}

// New builds a Dispatcher wired to the shared Registry and event bus.
func New(registry *taskregistry.Registry, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{registry: registry, bus: bus}
}

// Submit creates an intervention Task carrying {user_id, trigger_kind,
// context} and publishes it for Consumer.Handle to submit. The Create
// call passes forceRegenerate=true: the Progress Tracker's own
// claimDedup already decided this trigger is worth dispatching, so
// inflight dedup inside the registry would only ever see a fresh key.
func (d *Dispatcher) Submit(ctx context.Context, userID string, trigger models.Trigger) (string, error) {
	inputs := map[string]any{
		"user_id":      userID,
		"trigger_kind": string(trigger.Kind),
		"subject":      trigger.Subject,
		"topic":        trigger.Topic,
		"context":      trigger.Context,
	}

	task, err := d.registry.Create(ctx, models.KindIntervention, userID, inputs, true)
	if err != nil {
		return "", err
	}

	if err := d.bus.PublishTrigger(ctx, eventbus.TriggerEvent{
		UserID:  userID,
		Trigger: trigger,
		TaskID:  task.TaskID,
	}); err != nil {
		return task.TaskID, err
	}

	return task.TaskID, nil
}
