// Package engine wires together the plant registry, resource managers,
// valve/sensor drivers, irrigation algorithm, task registry, and
// scheduler into the Irrigation Engine, and exposes the command surface
// of §4.8 to a transport adapter.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/dripper"
	"github.com/irrigation-engine/edge-controller/internal/errs"
	"github.com/irrigation-engine/edge-controller/internal/hardware"
	"github.com/irrigation-engine/edge-controller/internal/irrigation"
	"github.com/irrigation-engine/edge-controller/internal/plant"
	"github.com/irrigation-engine/edge-controller/internal/resource"
	"github.com/irrigation-engine/edge-controller/internal/transport"
	"github.com/irrigation-engine/edge-controller/internal/valve"
)

// Config holds engine configuration: pool sizes and hardware parameters.
// There is deliberately no database path here — the engine's state is
// reconstructed from a GARDEN_SYNC message on (re)connection, never from
// disk.
type Config struct {
	TotalValves  int
	SensorPorts  []string
	Relay        hardware.RelayConfig
	SensorBaud   int
	SimulateAll  bool
}

// DefaultConfig mirrors the reference installation: 8 valve channels, two
// sensor ports, simulation mode on (real hardware is opt-in via config).
func DefaultConfig() Config {
	return Config{
		TotalValves: 8,
		SensorPorts: []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
		Relay:       DefaultRelayConfig(),
		SensorBaud:  4800,
		SimulateAll: true,
	}
}

// DefaultRelayConfig is exposed here too so callers configuring the
// engine don't need to import the hardware package just for this.
func DefaultRelayConfig() hardware.RelayConfig {
	return hardware.DefaultRelayConfig()
}

// Engine is the in-process Irrigation Engine: the live plant registry,
// the valve/sensor pools, the task registry, and the scheduler.
type Engine struct {
	config Config
	relay  *hardware.RelayDriver

	mu     sync.RWMutex
	plants map[int]*plant.Plant

	valves  *resource.ValveManager
	sensors *resource.SensorManager

	// plantLocks serializes, per plant id, the commands that take it
	// (add, update, remove, irrigate, open_valve, sync): two of these for
	// the same plant execute in arrival order, commands for different
	// plants may run concurrently. StopIrrigation, CloseValve,
	// RestartValve and the read-only commands do not take the lock.
	plantLockMu sync.Mutex
	plantLocks  map[int]*sync.Mutex

	tasks     *taskRegistry
	scheduler *scheduler

	sender Sender
}

// Sender is the narrow outbound contract the transport adapter supplies;
// the engine never otherwise depends on transport internals.
type Sender interface {
	Send(*transport.Envelope) error
}

// New builds an Engine: opens the relay driver, builds the valve/sensor
// pools, and sweeps every channel off as a startup safety measure.
func New(cfg Config, sender Sender) (*Engine, error) {
	relay := hardware.NewRelayDriver(cfg.Relay)

	valves := resource.NewValveManager(cfg.TotalValves)
	sensors := resource.NewSensorManager(cfg.SensorPorts)

	allChannels := make([]int, cfg.TotalValves)
	for i := range allChannels {
		allChannels[i] = i + 1
	}
	relay.AllOff(allChannels)

	e := &Engine{
		config:     cfg,
		relay:      relay,
		plants:     make(map[int]*plant.Plant),
		valves:     valves,
		sensors:    sensors,
		plantLocks: make(map[int]*sync.Mutex),
		tasks:      newTaskRegistry(),
		sender:     sender,
	}
	e.scheduler = newScheduler(e)
	return e, nil
}

// Start begins the scheduler's minute tick. The transport connection
// lifecycle is managed by the caller (cmd/irrigationd), not the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.scheduler.start()
	return nil
}

// Stop cancels every running task, force-closes every valve, stops the
// scheduler, and releases the relay driver.
func (e *Engine) Stop() error {
	e.scheduler.stop()

	for _, p := range e.allPlants() {
		e.tasks.cancel(p.ID, irrigation.PulseDuration(p.FlowRateLPerS())+irrigation.CancelGracePeriod)
		_ = p.Valve.RequestClose()
	}
	return e.relay.Close()
}

// SetSender installs the outbound sender after construction, for the
// common case where the transport client's own constructor needs the
// engine as its Handler (a two-step wiring that closes the cycle).
func (e *Engine) SetSender(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = s
}

func (e *Engine) lockFor(plantID int) *sync.Mutex {
	e.plantLockMu.Lock()
	defer e.plantLockMu.Unlock()
	l, ok := e.plantLocks[plantID]
	if !ok {
		l = &sync.Mutex{}
		e.plantLocks[plantID] = l
	}
	return l
}

func (e *Engine) getPlant(id int) (*plant.Plant, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plants[id]
	return p, ok
}

func (e *Engine) allPlants() []*plant.Plant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*plant.Plant, 0, len(e.plants))
	for _, p := range e.plants {
		out = append(out, p)
	}
	return out
}

// ---- Command Surface (§4.8) ----

// AddPlant creates a new plant, assigning hardware specifically if given
// or from the pool otherwise.
func (e *Engine) AddPlant(plantID int, params plant.Params, requestedValveID int, requestedSensorPort string, scheduleDays, scheduleTimes []string) (valveID int, sensorPort string, err error) {
	lock := e.lockFor(plantID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if _, exists := e.plants[plantID]; exists {
		e.mu.Unlock()
		return 0, "", errs.New(errs.AlreadyExists, fmt.Sprintf("plant %d already exists", plantID))
	}
	e.mu.Unlock()

	if params.DesiredMoisture < 0 || params.DesiredMoisture > 100 {
		return 0, "", errs.New(errs.InvalidArgument, "desired_moisture must be in [0,100]")
	}
	if params.WaterLimitLiters <= 0 {
		return 0, "", errs.New(errs.InvalidArgument, "water_limit must be > 0")
	}

	if requestedValveID > 0 {
		if err := e.valves.AssignSpecific(plantID, requestedValveID); err != nil {
			return 0, "", err
		}
		valveID = requestedValveID
	} else {
		valveID, err = e.valves.AssignAny(plantID)
		if err != nil {
			return 0, "", err
		}
	}

	if requestedSensorPort != "" {
		if err := e.sensors.AssignSpecific(plantID, requestedSensorPort); err != nil {
			e.valves.Release(plantID)
			return 0, "", err
		}
		sensorPort = requestedSensorPort
	} else {
		sensorPort, err = e.sensors.AssignAny(plantID)
		if err != nil {
			e.valves.Release(plantID)
			return 0, "", err
		}
	}

	v := valve.New(valveID, e.relay)
	sensorCfg := hardware.DefaultSensorConfig(sensorPort, 1)
	sensorCfg.SimulationMode = e.config.SimulateAll
	sensorCfg.BaudRate = e.config.SensorBaud
	sensorCfg.InitialMoisture = params.DesiredMoisture - 20
	sensorDriver := hardware.NewSensorDriver(sensorCfg)

	p := plant.New(plantID, params, v, sensorDriver, sensorPort)
	if len(scheduleDays) > 0 {
		p.SetSchedule(plant.NewSchedule(scheduleDays, scheduleTimes))
	}

	e.mu.Lock()
	e.plants[plantID] = p
	e.mu.Unlock()

	return valveID, sensorPort, nil
}

// UpdatePlant mutates an existing plant's parameters and, if the schedule
// changed, rebuilds its triggers from scratch (no partial overlap, §4.7).
func (e *Engine) UpdatePlant(plantID int, desiredMoisture, waterLimit *float64, dripperType *string, scheduleDays, scheduleTimes []string, scheduleChanged bool) error {
	lock := e.lockFor(plantID)
	lock.Lock()
	defer lock.Unlock()

	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}

	if desiredMoisture != nil && (*desiredMoisture < 0 || *desiredMoisture > 100) {
		return errs.New(errs.InvalidArgument, "desired_moisture must be in [0,100]")
	}
	if waterLimit != nil && *waterLimit <= 0 {
		return errs.New(errs.InvalidArgument, "water_limit must be > 0")
	}

	var dt *dripper.Type
	if dripperType != nil {
		parsed, err := dripper.FromString(*dripperType)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "invalid dripper_type", err)
		}
		dt = &parsed
	}

	p.Update(desiredMoisture, waterLimit, dt)

	if scheduleChanged {
		p.SetSchedule(plant.NewSchedule(scheduleDays, scheduleTimes))
	}
	return nil
}

// RemovePlant cancels any running task, force-closes and unblocks the
// valve, releases both hardware assignments, and deletes the plant.
func (e *Engine) RemovePlant(plantID int) error {
	lock := e.lockFor(plantID)
	lock.Lock()
	defer lock.Unlock()

	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}

	grace := irrigation.PulseDuration(p.FlowRateLPerS()) + irrigation.CancelGracePeriod
	if found, finished := e.tasks.cancel(plantID, grace); found && !finished {
		e.tasks.forceClear(plantID)
	}

	_ = p.Valve.RequestClose()
	p.Valve.Unblock()

	_ = e.valves.Release(plantID)
	_ = e.sensors.Release(plantID)
	_ = p.Sensor.Close()

	e.mu.Lock()
	delete(e.plants, plantID)
	e.mu.Unlock()

	return nil
}

// GetPlantMoisture performs a single sensor read for plantID.
func (e *Engine) GetPlantMoisture(plantID int) (moisture, temperature float64, err error) {
	p, ok := e.getPlant(plantID)
	if !ok {
		return 0, 0, errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}
	r, err := p.Sensor.Read()
	if err != nil {
		return 0, 0, errs.Wrap(errs.SensorReadFailed, "sensor read failed", err)
	}
	return r.MoisturePercent, r.TemperatureC, nil
}

// PlantMoistureResult is one plant's reading in a GetAllMoisture batch.
type PlantMoistureResult struct {
	PlantID     int
	Moisture    float64
	Temperature float64
	Err         error
}

// GetAllMoisture reads every plant's sensor concurrently where their
// ports differ.
func (e *Engine) GetAllMoisture() []PlantMoistureResult {
	plants := e.allPlants()
	results := make([]PlantMoistureResult, len(plants))

	var wg sync.WaitGroup
	for i, p := range plants {
		wg.Add(1)
		go func(i int, p *plant.Plant) {
			defer wg.Done()
			r, err := p.Sensor.Read()
			if err != nil {
				results[i] = PlantMoistureResult{PlantID: p.ID, Err: errs.Wrap(errs.SensorReadFailed, "sensor read failed", err)}
				return
			}
			results[i] = PlantMoistureResult{PlantID: p.ID, Moisture: r.MoisturePercent, Temperature: r.TemperatureC}
		}(i, p)
	}
	wg.Wait()
	return results
}

// IrrigatePlant starts the smart algorithm asynchronously; the terminal
// result is delivered later through the configured Sender.
func (e *Engine) IrrigatePlant(plantID int) error {
	lock := e.lockFor(plantID)
	lock.Lock()
	defer lock.Unlock()
	return e.runSmartIrrigation(plantID, ModeManualSmart)
}

// StopIrrigation cancels the running task for plantID, if any.
func (e *Engine) StopIrrigation(plantID int) error {
	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}
	grace := irrigation.PulseDuration(p.FlowRateLPerS()) + irrigation.CancelGracePeriod
	found, finished := e.tasks.cancel(plantID, grace)
	if !found {
		return errs.New(errs.NotFound, fmt.Sprintf("no running task for plant %d", plantID))
	}
	if !finished {
		e.tasks.forceClear(plantID)
		_ = p.Valve.RequestClose()
	}
	return nil
}

// OpenValve starts a timed manual open, sharing the task registry slot
// with smart irrigation.
func (e *Engine) OpenValve(plantID int, minutes float64) error {
	lock := e.lockFor(plantID)
	lock.Lock()
	defer lock.Unlock()
	return e.runTimedOpen(plantID, minutes)
}

// CloseValve force-closes the valve, also cancelling any running task.
func (e *Engine) CloseValve(plantID int) error {
	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}
	if e.tasks.isRunning(plantID) {
		grace := irrigation.PulseDuration(p.FlowRateLPerS()) + irrigation.CancelGracePeriod
		if found, finished := e.tasks.cancel(plantID, grace); found && !finished {
			e.tasks.forceClear(plantID)
		}
	}
	return p.Valve.RequestClose()
}

// RestartValve runs the close->open->close recovery pulse and is the
// path that clears a block left by the overwatering guard.
func (e *Engine) RestartValve(plantID int) error {
	p, ok := e.getPlant(plantID)
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}
	return p.Valve.Restart()
}

// ValveStatusResult is the verbatim snapshot returned by GetValveStatus.
type ValveStatusResult = valve.Status

// GetValveStatus returns a snapshot of plantID's valve.
func (e *Engine) GetValveStatus(plantID int) (ValveStatusResult, error) {
	p, ok := e.getPlant(plantID)
	if !ok {
		return valve.Status{}, errs.New(errs.NotFound, fmt.Sprintf("plant %d not found", plantID))
	}
	return p.Valve.Status(), nil
}

// GardenSyncPlantSpec is one plant to (re)create during a sync replay.
type GardenSyncPlantSpec struct {
	PlantID       int
	Params        plant.Params
	ValveID       int
	SensorPort    string
	ScheduleDays  []string
	ScheduleTimes []string
}

// GardenSyncResult is one plant's outcome within a sync batch.
type GardenSyncResult struct {
	PlantID    int
	ValveID    int
	SensorPort string
	Err        error
}

// GardenSync replays a full garden state, using assign-specific so
// previously-assigned hardware is preserved. Applying the same sync
// twice is idempotent: existing plants are updated in place rather than
// re-added (P10).
func (e *Engine) GardenSync(specs []GardenSyncPlantSpec) []GardenSyncResult {
	results := make([]GardenSyncResult, 0, len(specs))
	for _, spec := range specs {
		results = append(results, e.syncOne(spec))
	}
	return results
}

func (e *Engine) syncOne(spec GardenSyncPlantSpec) GardenSyncResult {
	lock := e.lockFor(spec.PlantID)
	lock.Lock()

	if p, exists := e.getPlant(spec.PlantID); exists {
		defer lock.Unlock()
		dt := spec.Params.DripperType
		p.Update(&spec.Params.DesiredMoisture, &spec.Params.WaterLimitLiters, &dt)
		if len(spec.ScheduleDays) > 0 {
			p.SetSchedule(plant.NewSchedule(spec.ScheduleDays, spec.ScheduleTimes))
		}
		if err := e.valves.AssignSpecific(spec.PlantID, spec.ValveID); err != nil {
			return GardenSyncResult{PlantID: spec.PlantID, Err: err}
		}
		if err := e.sensors.AssignSpecific(spec.PlantID, spec.SensorPort); err != nil {
			return GardenSyncResult{PlantID: spec.PlantID, Err: err}
		}
		return GardenSyncResult{PlantID: spec.PlantID, ValveID: spec.ValveID, SensorPort: spec.SensorPort}
	}
	// AddPlant takes the plant lock itself.
	lock.Unlock()

	valveID, sensorPort, err := e.AddPlant(spec.PlantID, spec.Params, spec.ValveID, spec.SensorPort, spec.ScheduleDays, spec.ScheduleTimes)
	if err != nil {
		return GardenSyncResult{PlantID: spec.PlantID, Err: err}
	}
	return GardenSyncResult{PlantID: spec.PlantID, ValveID: valveID, SensorPort: sensorPort}
}

// ---- Progress / result delivery ----

func (e *Engine) emitProgress(sessionID string, pr irrigation.Progress) {
	if e.sender == nil {
		return
	}
	env, err := transport.NewEnvelope(transport.TypeIrrigationProgress, "", map[string]any{
		"session_id":        sessionID,
		"plant_id":          pr.PlantID,
		"stage":             pr.Stage,
		"pulse_number":      pr.PulseNumber,
		"current_moisture":  pr.CurrentMoisture,
		"target_moisture":   pr.TargetMoisture,
		"moisture_gap":      pr.MoistureGap,
		"total_water_used":  pr.TotalWaterUsed,
		"water_limit":       pr.WaterLimit,
		"status":            pr.Status,
		"message":           pr.Message,
		"details":           pr.Details,
		"timestamp":         pr.Timestamp.Unix(),
	})
	if err != nil {
		log.Printf("engine: failed to build progress envelope: %v", err)
		return
	}
	if err := e.sender.Send(env); err != nil {
		log.Printf("engine: progress send dropped for plant %d: %v", pr.PlantID, err)
	}
}

func (e *Engine) emitResult(msgType transport.MessageType, sessionID string, plantID int, outcome irrigation.Outcome) {
	if e.sender == nil {
		return
	}

	status := transport.StatusSuccess
	errMsg := ""
	switch outcome.Status {
	case irrigation.ResultSkipped:
		status = transport.StatusSkipped
		errMsg = string(outcome.SkipReason)
	case irrigation.ResultCancelled:
		status = transport.Status(errs.Cancelled)
	case irrigation.ResultFault:
		status = transport.Status(errs.Fault)
	case irrigation.ResultError:
		status = transport.StatusError
		if outcome.Err != nil {
			errMsg = outcome.Err.Error()
		}
	}

	result := transport.IrrigationResult{
		Result: transport.Result{
			PlantID:      plantID,
			Status:       status,
			ErrorMessage: errMsg,
			Timestamp:    time.Now().Unix(),
		},
		SessionID:        sessionID,
		InitialMoisture:  outcome.InitialMoisture,
		FinalMoisture:    outcome.FinalMoisture,
		WaterAddedLiters: outcome.WaterAddedLiters,
		Pulses:           outcome.Pulses,
	}

	env, err := transport.NewEnvelope(msgType, "", result)
	if err != nil {
		log.Printf("engine: failed to build result envelope: %v", err)
		return
	}
	if err := e.sender.Send(env); err != nil {
		log.Printf("engine: terminal result dropped for plant %d (must not happen): %v", plantID, err)
	}
}
