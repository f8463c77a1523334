package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irrigation-engine/edge-controller/internal/errs"
	"github.com/irrigation-engine/edge-controller/internal/hardware"
	"github.com/irrigation-engine/edge-controller/internal/irrigation"
	"github.com/irrigation-engine/edge-controller/internal/transport"
)

// TaskMode classifies why a task is running.
type TaskMode string

const (
	ModeManualSmart      TaskMode = "manual_smart"
	ModeManualTimedOpen  TaskMode = "manual_timed_open"
	ModeScheduled        TaskMode = "scheduled"
)

// runningTask is the registry entry for one plant's in-flight task.
type runningTask struct {
	sessionID string
	mode      TaskMode
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// taskRegistry enforces at most one irrigation task per plant and bounds
// cancellation latency. Smart irrigation and timed-open share the same
// per-plant slot and cancellation contract (§4.6, resolving the open
// question on whether they share a slot: they do).
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[int]*runningTask
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[int]*runningTask)}
}

// start registers plantID as busy and returns the context/session the
// caller's goroutine must run under, plus a completion function the
// caller must invoke exactly once when the work finishes. Fails with
// errs.Busy if a task is already running for this plant.
func (r *taskRegistry) start(parent context.Context, plantID int, mode TaskMode) (context.Context, string, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[plantID]; exists {
		return nil, "", nil, errs.New(errs.Busy, fmt.Sprintf("plant %d already has a running task", plantID))
	}

	ctx, cancel := context.WithCancel(parent)
	sessionID := uuid.NewString()
	done := make(chan struct{})
	r.tasks[plantID] = &runningTask{
		sessionID: sessionID,
		mode:      mode,
		startTime: time.Now(),
		cancel:    cancel,
		done:      done,
	}

	finish := func() {
		r.mu.Lock()
		if t, ok := r.tasks[plantID]; ok && t.sessionID == sessionID {
			delete(r.tasks, plantID)
		}
		r.mu.Unlock()
		close(done)
	}
	return ctx, sessionID, finish, nil
}

// isRunning reports whether plantID currently has a task.
func (r *taskRegistry) isRunning(plantID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[plantID]
	return ok
}

// cancel signals the running task for plantID (if any) and waits up to
// grace for it to finish. It reports whether a task was found, and
// whether it finished within the grace period.
func (r *taskRegistry) cancel(plantID int, grace time.Duration) (found, finishedInTime bool) {
	r.mu.Lock()
	t, ok := r.tasks[plantID]
	r.mu.Unlock()
	if !ok {
		return false, false
	}

	t.cancel()
	select {
	case <-t.done:
		return true, true
	case <-time.After(grace):
		return true, false
	}
}

// forceClear removes plantID's registry entry unconditionally, used by
// the caller after a force-close timeout so a fresh command isn't stuck
// rejecting as Busy forever.
func (r *taskRegistry) forceClear(plantID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, plantID)
}

// runSmartIrrigation runs the full pulsed algorithm for a plant under the
// registry's supervision, dispatching progress and the terminal outcome
// to the engine's sinks.
func (e *Engine) runSmartIrrigation(plantID int, mode TaskMode) error {
	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}

	if p.Valve.IsBlocked() {
		return errs.New(errs.ValveBlocked, fmt.Sprintf("valve %d is blocked", p.Valve.ID()))
	}

	ctx, sessionID, finish, err := e.tasks.start(context.Background(), plantID, mode)
	if err != nil {
		return err
	}

	last, hasIrrigated := p.LastIrrigationTime()
	params := irrigation.Params{
		PlantID:            plantID,
		Target:             p.DesiredMoisture(),
		WaterLimit:         p.WaterLimitLiters(),
		FlowRateLPerS:      p.FlowRateLPerS(),
		LastIrrigationTime: last,
		HasIrrigated:       hasIrrigated,
	}

	go func() {
		defer finish()

		sink := func(pr irrigation.Progress) { e.emitProgress(sessionID, pr) }
		outcome := irrigation.Run(ctx, params, p.Valve, sensorAdapter{p.Sensor}, sink)

		if outcome.Status == irrigation.ResultSuccess || outcome.Status == irrigation.ResultFault {
			p.MarkIrrigated()
		}
		e.emitResult(transport.TypeIrrigatePlantResponse, sessionID, plantID, outcome)
	}()

	return nil
}

// runTimedOpen implements open_valve: open now, hold for minutes,
// close — sharing the same registry slot and cancellation contract as
// smart irrigation (§4.6).
func (e *Engine) runTimedOpen(plantID int, minutes float64) error {
	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}

	ctx, sessionID, finish, err := e.tasks.start(context.Background(), plantID, ModeManualTimedOpen)
	if err != nil {
		return err
	}

	if err := p.Valve.RequestOpen(); err != nil {
		finish()
		return err
	}

	go func() {
		defer finish()

		cancelled := false
		select {
		case <-time.After(time.Duration(minutes * float64(time.Minute))):
		case <-ctx.Done():
			cancelled = true
		}
		_ = p.Valve.RequestClose()

		status := irrigation.ResultSuccess
		if cancelled {
			status = irrigation.ResultCancelled
		}
		e.emitResult(transport.TypeOpenValveResponse, sessionID, plantID, irrigation.Outcome{Status: status})
	}()

	return nil
}

// sensorAdapter adapts *hardware.SensorDriver's Reading to the
// irrigation package's own Reading type, keeping the algorithm decoupled
// from the hardware package.
type sensorAdapter struct {
	driver *hardware.SensorDriver
}

func (a sensorAdapter) Read() (irrigation.Reading, error) {
	r, err := a.driver.Read()
	if err != nil {
		return irrigation.Reading{}, err
	}
	return irrigation.Reading{MoisturePercent: r.MoisturePercent, TemperatureC: r.TemperatureC}, nil
}
