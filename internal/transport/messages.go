package transport

// Per-field key aliases (snake_case vs camelCase) below are preserved
// verbatim from the wire contract; they are not normalized to one style
// because the cloud side already depends on them as written (§9).

// AddPlantRequest is ADD_PLANT's data payload.
type AddPlantRequest struct {
	PlantID         int            `json:"plant_id"`
	DesiredMoisture float64        `json:"desired_moisture"`
	WaterLimit      float64        `json:"water_limit"`
	DripperType     string         `json:"dripper_type"`
	PipeDiameter    float64        `json:"pipe_diameter,omitempty"`
	Lat             float64        `json:"lat,omitempty"`
	Lon             float64        `json:"lon,omitempty"`
	Schedule        *ScheduleData  `json:"schedule,omitempty"`
	SensorPort      string         `json:"sensor_port,omitempty"`
	ValveID         int            `json:"valve_id,omitempty"`
}

// ScheduleData is the (days, time) pair sent for a plant's schedule.
type ScheduleData struct {
	IrrigationDays []string `json:"irrigation_days"`
	IrrigationTime []string `json:"irrigation_time"`
}

// UpdatePlantRequest is UPDATE_PLANT's data payload. Pointer fields are
// "only set the fields present" semantics.
type UpdatePlantRequest struct {
	PlantID         int           `json:"plant_id"`
	DesiredMoisture *float64      `json:"desired_moisture,omitempty"`
	WaterLimit      *float64      `json:"water_limit,omitempty"`
	DripperType     *string       `json:"dripper_type,omitempty"`
	Schedule        *ScheduleData `json:"schedule,omitempty"`
}

// RemovePlantRequest is REMOVE_PLANT's data payload.
type RemovePlantRequest struct {
	PlantID int `json:"plant_id"`
}

// PlantIDRequest covers GET_PLANT_MOISTURE, STOP_IRRIGATION, CLOSE_VALVE,
// RESTART_VALVE, GET_VALVE_STATUS — every verb whose only input is the
// plant id.
type PlantIDRequest struct {
	PlantID int `json:"plant_id"`
}

// IrrigatePlantRequest is IRRIGATE_PLANT's data payload.
type IrrigatePlantRequest struct {
	PlantID   int    `json:"plant_id"`
	SessionID string `json:"session_id,omitempty"`
}

// OpenValveRequest is OPEN_VALVE's data payload.
type OpenValveRequest struct {
	PlantID int     `json:"plant_id"`
	Minutes float64 `json:"minutes"`
}

// GardenSyncRequest is GARDEN_SYNC's data payload: bulk state replay.
type GardenSyncRequest struct {
	Garden map[string]any       `json:"garden"`
	Plants []GardenSyncPlant    `json:"plants"`
}

// GardenSyncPlant is one plant entry within a GARDEN_SYNC payload.
type GardenSyncPlant struct {
	PlantID         int           `json:"plant_id"`
	DesiredMoisture float64       `json:"desiredMoisture"`
	WaterLimit      float64       `json:"waterLimit"`
	DripperType     string        `json:"dripperType"`
	ScheduleData    *ScheduleData `json:"scheduleData,omitempty"`
	SensorPort      string        `json:"sensor_port"`
	ValveID         int           `json:"valve_id"`
}

// Result is the common shape of every terminal response: originating
// plant id, a status, an optional error message, and a unix timestamp
// (§7: every command produces exactly one terminal response).
type Result struct {
	PlantID      int    `json:"plant_id"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// AddPlantResult is ADD_PLANT_RESPONSE's data payload.
type AddPlantResult struct {
	Result
	ValveID    int    `json:"valve_id,omitempty"`
	SensorPort string `json:"sensor_port,omitempty"`
}

// MoistureResult is PLANT_MOISTURE_RESPONSE's data payload.
type MoistureResult struct {
	Result
	Moisture    float64 `json:"moisture,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AllMoistureResult is ALL_MOISTURE_RESPONSE's data payload.
type AllMoistureResult struct {
	Results []MoistureResult `json:"results"`
}

// ValveStatusResult is VALVE_STATUS_RESPONSE's data payload.
type ValveStatusResult struct {
	Result
	IsOpen    bool   `json:"is_open"`
	IsBlocked bool   `json:"is_blocked"`
	Summary   string `json:"summary"`
}

// IrrigationResult is IRRIGATE_PLANT_RESPONSE / the terminal event for an
// OPEN_VALVE session.
type IrrigationResult struct {
	Result
	SessionID        string  `json:"session_id,omitempty"`
	InitialMoisture  float64 `json:"initial_moisture,omitempty"`
	FinalMoisture    float64 `json:"final_moisture,omitempty"`
	WaterAddedLiters float64 `json:"water_added_liters,omitempty"`
	Pulses           int     `json:"pulses,omitempty"`
}

// GardenSyncResult is GARDEN_SYNC_RESPONSE's data payload: one
// add_plant-shaped result per plant in the sync batch.
type GardenSyncResult struct {
	Plants []AddPlantResult `json:"plants"`
}
