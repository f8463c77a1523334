// Package irrigation implements the closed-loop pulsed irrigation control
// algorithm: the heart of the engine.
package irrigation

import "time"

// Stage identifies which step of the algorithm emitted a Progress event.
type Stage string

const (
	StageInitialCheck      Stage = "initial_check"
	StageOverwateringCheck Stage = "overwatering_check"
	StagePulse             Stage = "pulse"
	StageFinalSummary      Stage = "final_summary"
	StageFaultDetected     Stage = "fault_detected"
)

// Status is the per-event status string, distinct from the run's terminal
// Outcome.Status.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusSkipped    Status = "skipped"
	StatusError      Status = "error"
	StatusOverwatered Status = "overwatered"
)

// Progress is one informational event emitted while a run is in flight.
// Progress events never substitute for the terminal Outcome; a consumer
// that drops one has lost nothing but a status update.
type Progress struct {
	PlantID         int
	Stage           Stage
	PulseNumber     *int
	CurrentMoisture *float64
	TargetMoisture  *float64
	MoistureGap     *float64
	TotalWaterUsed  *float64
	WaterLimit      *float64
	Status          Status
	Message         string
	Details         map[string]any
	Timestamp       time.Time
}

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func initialCheckProgress(plantID int, m0, target float64) Progress {
	return Progress{
		PlantID: plantID, Stage: StageInitialCheck,
		CurrentMoisture: f(m0), TargetMoisture: f(target), MoistureGap: f(target - m0),
		Status:    StatusInProgress,
		Message:   "initial moisture check",
		Timestamp: time.Now(),
	}
}

func overwateringCheckProgress(plantID int, m0, target float64, overwatered bool) Progress {
	status := StatusInProgress
	if overwatered {
		status = StatusOverwatered
	}
	return Progress{
		PlantID: plantID, Stage: StageOverwateringCheck,
		CurrentMoisture: f(m0), TargetMoisture: f(target), MoistureGap: f(target - m0),
		Status:    status,
		Message:   "overwatering check",
		Details:   map[string]any{"is_overwatered": overwatered},
		Timestamp: time.Now(),
	}
}

func pulseProgress(plantID, pulse int, m, target, totalWater, waterLimit float64) Progress {
	return Progress{
		PlantID: plantID, Stage: StagePulse,
		PulseNumber:     i(pulse),
		CurrentMoisture: f(m), TargetMoisture: f(target), MoistureGap: f(target - m),
		TotalWaterUsed: f(totalWater), WaterLimit: f(waterLimit),
		Status:    StatusInProgress,
		Message:   "pulse update",
		Timestamp: time.Now(),
	}
}

func finalSummaryProgress(plantID int, initial, final, target, totalWater float64, pulses int, targetReached bool) Progress {
	status := StatusPartial
	if targetReached {
		status = StatusCompleted
	}
	return Progress{
		PlantID: plantID, Stage: StageFinalSummary,
		CurrentMoisture: f(final), TargetMoisture: f(target), MoistureGap: f(target - final),
		TotalWaterUsed: f(totalWater),
		Status:         status,
		Message:        "irrigation completed",
		Details: map[string]any{
			"initial_moisture":  initial,
			"final_moisture":    final,
			"pulse_count":       pulses,
			"target_reached":    targetReached,
			"moisture_increase": final - initial,
		},
		Timestamp: time.Now(),
	}
}

func faultProgress(plantID int, final, target, totalWater, waterLimit float64) Progress {
	return Progress{
		PlantID: plantID, Stage: StageFaultDetected,
		CurrentMoisture: f(final), TargetMoisture: f(target), MoistureGap: f(target - final),
		TotalWaterUsed: f(totalWater), WaterLimit: f(waterLimit),
		Status:  StatusError,
		Message: "fault detected: water delivered but moisture did not reach target",
		Details: map[string]any{
			"fault_type":      "sensor_mismatch_or_irrigation_fault",
			"possible_issues": []string{"sensor fault", "valve malfunction", "soil drainage"},
		},
		Timestamp: time.Now(),
	}
}
