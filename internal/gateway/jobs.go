package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/upstream"
	"github.com/gurukul/orchestration-core/internal/workerpool"
)

// simulationPollInterval bounds how often a running simulation job
// re-polls the upstream for status, per the "check cancellation, query
// upstream, emit progress, sleep" loop shape from the design notes.
const simulationPollInterval = 2 * time.Second

type simulationStatus struct {
	Done    bool
	Percent int
	Result  any
}

// jobFor builds the JobFunc the Worker Pool runs for a generically
// submitted Task of kind. Intervention Tasks are never built here - they
// are only ever created by internal/intervention on the Progress
// Tracker's behalf.
func (g *Gateway) jobFor(kind models.TaskKind, req lessonOrGenericRequest) (workerpool.JobFunc, error) {
	switch kind {
	case models.KindLesson:
		return g.lessonJob(req.lessonRequest), nil
	case models.KindSimulation:
		return g.simulationJob(), nil
	case models.KindTTS:
		return g.ttsJob(req.text), nil
	default:
		return nil, gkerr.New(gkerr.InvalidInput, "kind must be one of lesson, simulation, tts for generic submission")
	}
}

// lessonOrGenericRequest carries whichever extra fields a kind's job
// needs out of the generic submit body's free-form inputs map.
type lessonOrGenericRequest struct {
	lessonRequest models.LessonRequest
	text          string
}

func (g *Gateway) lessonJob(req models.LessonRequest) workerpool.JobFunc {
	return func(ctx context.Context, taskID string, emit workerpool.Emitter) (any, bool, error) {
		_ = emit(10, "composing", nil)
		l, err := g.composer.Compose(ctx, req)
		if err != nil {
			return nil, true, err
		}
		if err := g.lessons.Save(ctx, l); err != nil {
			return nil, true, err
		}
		_ = emit(100, "composed", nil)
		return l, false, nil
	}
}

func (g *Gateway) simulationJob() workerpool.JobFunc {
	return func(ctx context.Context, taskID string, emit workerpool.Emitter) (any, bool, error) {
		_ = emit(5, "submitting_simulation", nil)
		handleRes, err := g.upstream.Call(ctx, upstream.Call{
			Service:    "simulation",
			Endpoint:   "submit",
			Idempotent: false,
			Do:         func(ctx context.Context) (any, error) { return submitSimulation(ctx) },
		})
		if err != nil {
			return nil, true, err
		}
		handle, _ := handleRes.(string)

		for {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			default:
			}

			statusRes, err := g.upstream.Call(ctx, upstream.Call{
				Service:    "simulation",
				Endpoint:   "status",
				Idempotent: true,
				Do:         func(ctx context.Context) (any, error) { return pollSimulation(ctx, handle) },
			})
			if err != nil {
				return nil, true, err
			}
			status, ok := statusRes.(simulationStatus)
			if !ok {
				return nil, false, gkerr.New(gkerr.Internal, "simulation status returned an invalid shape")
			}
			_ = emit(status.Percent, "simulation_running", nil)
			if status.Done {
				return status.Result, false, nil
			}

			select {
			case <-time.After(simulationPollInterval):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
	}
}

func (g *Gateway) ttsJob(text string) workerpool.JobFunc {
	return func(ctx context.Context, taskID string, emit workerpool.Emitter) (any, bool, error) {
		_ = emit(10, "synthesizing", nil)
		result, err := g.upstream.Call(ctx, upstream.Call{
			Service:    "tts",
			Endpoint:   "synthesize",
			Idempotent: false,
			Do:         func(ctx context.Context) (any, error) { return synthesizeSpeech(ctx, text) },
		})
		if err != nil {
			return nil, true, err
		}
		_ = emit(100, "synthesized", nil)
		return result, false, nil
	}
}

// submitSimulation, pollSimulation, and synthesizeSpeech are the wire
// seams for the simulation and TTS services; both are external
// collaborators this repository does not implement.
func submitSimulation(ctx context.Context) (string, error) {
	return "", gkerr.New(gkerr.HTTP5xx, "simulation backend not configured")
}

func pollSimulation(ctx context.Context, handle string) (simulationStatus, error) {
	return simulationStatus{}, gkerr.New(gkerr.HTTP5xx, fmt.Sprintf("simulation backend not configured for handle %s", handle))
}

func synthesizeSpeech(ctx context.Context, text string) (any, error) {
	return nil, gkerr.New(gkerr.HTTP5xx, "tts backend not configured")
}
