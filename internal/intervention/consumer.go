package intervention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gurukul/orchestration-core/internal/eventbus"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/upstream"
	"github.com/gurukul/orchestration-core/internal/workerpool"
)

// Consumer is the subscribe side of intervention dispatch: its Handle
// method is registered with eventbus.Bus.SubscribeTriggers and is the
// only thing that calls workerpool.Pool.Submit for intervention Tasks.
type Consumer struct {
	pool     *workerpool.Pool
	upstream *upstream.Client
	log      *slog.Logger
}

// NewConsumer builds a Consumer wired to the shared Pool and Upstream
// Client.
func NewConsumer(pool *workerpool.Pool, client *upstream.Client, log *slog.Logger) *Consumer {
	return &Consumer{pool: pool, upstream: client, log: log}
}

// Handle submits event's pre-created Task to the intervention kind's
// pool. It is registered as the bus's SubscribeTriggers callback, so it
// runs on whatever goroutine NATS delivers the message on.
func (c *Consumer) Handle(event eventbus.TriggerEvent) {
	err := c.pool.Submit(models.KindIntervention, event.TaskID, func(ctx context.Context, taskID string, emit workerpool.Emitter) (any, bool, error) {
		_ = emit(10, "dispatching_to_tutor", nil)
		result, err := c.upstream.Call(ctx, upstream.Call{
			Service:    "tutoring",
			Endpoint:   "recommend",
			Idempotent: false,
			Do: func(ctx context.Context) (any, error) {
				return callTutoringService(ctx, event.UserID, event.Trigger)
			},
		})
		if err != nil {
			return nil, true, err
		}
		_ = emit(100, "tutor_responded", nil)
		return result, false, nil
	})
	if err != nil {
		c.log.Error("intervention_submit_failed",
			slog.String("task_id", event.TaskID), slog.String("user_id", event.UserID), slog.String("error", err.Error()))
	}
}

// callTutoringService is the seam for the tutoring upstream; the
// service itself is an external collaborator out of this repository's
// scope.
func callTutoringService(ctx context.Context, userID string, trigger models.Trigger) (any, error) {
	return nil, gkerr.New(gkerr.HTTP5xx, fmt.Sprintf("tutoring backend not configured for user %s trigger %s", userID, trigger.Kind))
}
