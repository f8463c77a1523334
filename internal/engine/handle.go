package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/dripper"
	"github.com/irrigation-engine/edge-controller/internal/plant"
	"github.com/irrigation-engine/edge-controller/internal/transport"
)

// Handle satisfies transport.Handler: it decodes one inbound command
// envelope and dispatches it to the matching command-surface method, then
// sends back one response for it. WELCOME and unrecognized types get no
// response, and a payload that fails to decode is logged and dropped
// without one. IRRIGATE_PLANT and OPEN_VALVE also produce later
// asynchronous progress/result envelopes via emitProgress and emitResult.
func (e *Engine) Handle(ctx context.Context, env *transport.Envelope) {
	switch env.Type {
	case transport.TypeWelcome:
		// Handshake acknowledgement only; no command-surface action.
	case transport.TypeAddPlant:
		e.handleAddPlant(env)
	case transport.TypeUpdatePlant:
		e.handleUpdatePlant(env)
	case transport.TypeRemovePlant:
		e.handleRemovePlant(env)
	case transport.TypeGetPlantMoisture:
		e.handleGetPlantMoisture(env)
	case transport.TypeGetAllMoisture:
		e.handleGetAllMoisture(env)
	case transport.TypeIrrigatePlant:
		e.handleIrrigatePlant(env)
	case transport.TypeStopIrrigation:
		e.handleStopIrrigation(env)
	case transport.TypeOpenValve:
		e.handleOpenValve(env)
	case transport.TypeCloseValve:
		e.handleCloseValve(env)
	case transport.TypeRestartValve:
		e.handleRestartValve(env)
	case transport.TypeGetValveStatus:
		e.handleGetValveStatus(env)
	case transport.TypeGardenSync:
		e.handleGardenSync(env)
	default:
		log.Printf("engine: ignoring unrecognized envelope type %q", env.Type)
	}
}

func (e *Engine) send(typ transport.MessageType, data any) {
	if e.sender == nil {
		return
	}
	env, err := transport.NewEnvelope(typ, "", data)
	if err != nil {
		log.Printf("engine: failed to build %s envelope: %v", typ, err)
		return
	}
	if err := e.sender.Send(env); err != nil {
		log.Printf("engine: %s send dropped: %v", typ, err)
	}
}

func result(plantID int, err error) transport.Result {
	r := transport.Result{PlantID: plantID, Status: transport.StatusSuccess, Timestamp: time.Now().Unix()}
	if err != nil {
		r.Status = transport.StatusError
		r.ErrorMessage = err.Error()
	}
	return r
}

func scheduleFromData(sd *transport.ScheduleData) (days, times []string) {
	if sd == nil {
		return nil, nil
	}
	return sd.IrrigationDays, sd.IrrigationTime
}

func (e *Engine) handleAddPlant(env *transport.Envelope) {
	var req transport.AddPlantRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad ADD_PLANT payload: %v", err)
		return
	}

	dt, err := dripper.FromString(req.DripperType)
	if err != nil {
		e.send(transport.TypeAddPlantResponse, transport.AddPlantResult{Result: result(req.PlantID, err)})
		return
	}

	params := plant.Params{
		DesiredMoisture:  req.DesiredMoisture,
		WaterLimitLiters: req.WaterLimit,
		DripperType:      dt,
		PipeDiameter:     req.PipeDiameter,
		Lat:              req.Lat,
		Lon:              req.Lon,
	}
	days, times := scheduleFromData(req.Schedule)

	valveID, sensorPort, err := e.AddPlant(req.PlantID, params, req.ValveID, req.SensorPort, days, times)
	e.send(transport.TypeAddPlantResponse, transport.AddPlantResult{
		Result:     result(req.PlantID, err),
		ValveID:    valveID,
		SensorPort: sensorPort,
	})
}

func (e *Engine) handleUpdatePlant(env *transport.Envelope) {
	var req transport.UpdatePlantRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad UPDATE_PLANT payload: %v", err)
		return
	}
	days, times := scheduleFromData(req.Schedule)
	err := e.UpdatePlant(req.PlantID, req.DesiredMoisture, req.WaterLimit, req.DripperType, days, times, req.Schedule != nil)
	e.send(transport.TypeUpdatePlantResponse, result(req.PlantID, err))
}

func (e *Engine) handleRemovePlant(env *transport.Envelope) {
	var req transport.RemovePlantRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad REMOVE_PLANT payload: %v", err)
		return
	}
	err := e.RemovePlant(req.PlantID)
	e.send(transport.TypeRemovePlantResponse, result(req.PlantID, err))
}

func (e *Engine) handleGetPlantMoisture(env *transport.Envelope) {
	var req transport.PlantIDRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad GET_PLANT_MOISTURE payload: %v", err)
		return
	}
	moisture, temperature, err := e.GetPlantMoisture(req.PlantID)
	e.send(transport.TypePlantMoistureResponse, transport.MoistureResult{
		Result:      result(req.PlantID, err),
		Moisture:    moisture,
		Temperature: temperature,
	})
}

func (e *Engine) handleGetAllMoisture(env *transport.Envelope) {
	readings := e.GetAllMoisture()
	out := make([]transport.MoistureResult, len(readings))
	for i, r := range readings {
		out[i] = transport.MoistureResult{
			Result:      result(r.PlantID, r.Err),
			Moisture:    r.Moisture,
			Temperature: r.Temperature,
		}
	}
	e.send(transport.TypeAllMoistureResponse, transport.AllMoistureResult{Results: out})
}

func (e *Engine) handleIrrigatePlant(env *transport.Envelope) {
	var req transport.IrrigatePlantRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad IRRIGATE_PLANT payload: %v", err)
		return
	}
	err := e.IrrigatePlant(req.PlantID)
	status := transport.StatusInProgress
	errMsg := ""
	if err != nil {
		status = transport.StatusError
		errMsg = err.Error()
	}
	e.send(transport.TypeIrrigatePlantAccepted, transport.Result{
		PlantID:      req.PlantID,
		Status:       status,
		ErrorMessage: errMsg,
		Timestamp:    time.Now().Unix(),
	})
}

func (e *Engine) handleStopIrrigation(env *transport.Envelope) {
	var req transport.PlantIDRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad STOP_IRRIGATION payload: %v", err)
		return
	}
	err := e.StopIrrigation(req.PlantID)
	e.send(transport.TypeStopIrrigationResponse, result(req.PlantID, err))
}

func (e *Engine) handleOpenValve(env *transport.Envelope) {
	var req transport.OpenValveRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad OPEN_VALVE payload: %v", err)
		return
	}
	err := e.OpenValve(req.PlantID, req.Minutes)
	status := transport.StatusInProgress
	errMsg := ""
	if err != nil {
		status = transport.StatusError
		errMsg = err.Error()
	}
	e.send(transport.TypeOpenValveResponse, transport.Result{
		PlantID:      req.PlantID,
		Status:       status,
		ErrorMessage: errMsg,
		Timestamp:    time.Now().Unix(),
	})
}

func (e *Engine) handleCloseValve(env *transport.Envelope) {
	var req transport.PlantIDRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad CLOSE_VALVE payload: %v", err)
		return
	}
	err := e.CloseValve(req.PlantID)
	e.send(transport.TypeCloseValveResponse, result(req.PlantID, err))
}

func (e *Engine) handleRestartValve(env *transport.Envelope) {
	var req transport.PlantIDRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad RESTART_VALVE payload: %v", err)
		return
	}
	err := e.RestartValve(req.PlantID)
	e.send(transport.TypeRestartValveResponse, result(req.PlantID, err))
}

func (e *Engine) handleGetValveStatus(env *transport.Envelope) {
	var req transport.PlantIDRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad GET_VALVE_STATUS payload: %v", err)
		return
	}
	status, err := e.GetValveStatus(req.PlantID)
	e.send(transport.TypeValveStatusResponse, transport.ValveStatusResult{
		Result:    result(req.PlantID, err),
		IsOpen:    status.IsOpen,
		IsBlocked: status.IsBlocked,
		Summary:   status.Summary,
	})
}

func (e *Engine) handleGardenSync(env *transport.Envelope) {
	var req transport.GardenSyncRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Printf("engine: bad GARDEN_SYNC payload: %v", err)
		return
	}

	specs := make([]GardenSyncPlantSpec, 0, len(req.Plants))
	for _, gp := range req.Plants {
		dt, err := dripper.FromString(gp.DripperType)
		if err != nil {
			log.Printf("engine: garden_sync: plant %d has invalid dripper_type %q, skipping", gp.PlantID, gp.DripperType)
			continue
		}
		days, times := scheduleFromData(gp.ScheduleData)
		specs = append(specs, GardenSyncPlantSpec{
			PlantID: gp.PlantID,
			Params: plant.Params{
				DesiredMoisture:  gp.DesiredMoisture,
				WaterLimitLiters: gp.WaterLimit,
				DripperType:      dt,
			},
			ValveID:       gp.ValveID,
			SensorPort:    gp.SensorPort,
			ScheduleDays:  days,
			ScheduleTimes: times,
		})
	}

	outcomes := e.GardenSync(specs)
	plants := make([]transport.AddPlantResult, len(outcomes))
	for i, o := range outcomes {
		plants[i] = transport.AddPlantResult{
			Result:     result(o.PlantID, o.Err),
			ValveID:    o.ValveID,
			SensorPort: o.SensorPort,
		}
	}
	e.send(transport.TypeGardenSyncResponse, transport.GardenSyncResult{Plants: plants})
}
