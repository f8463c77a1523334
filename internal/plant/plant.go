// Package plant holds the live plant registry: each plant's irrigation
// parameters plus the hardware it exclusively owns.
package plant

import (
	"sync"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/dripper"
	"github.com/irrigation-engine/edge-controller/internal/hardware"
	"github.com/irrigation-engine/edge-controller/internal/valve"
)

// Plant is one cloud-managed plant and the hardware assigned to it.
// plant_id is used verbatim throughout the engine; there is no local
// remapping.
type Plant struct {
	ID int

	mu                 sync.RWMutex
	desiredMoisture    float64
	waterLimitLiters   float64
	dripperType        dripper.Type
	pipeDiameter       float64
	lat, lon           float64
	lastIrrigationTime time.Time
	hasIrrigated       bool
	schedule           *Schedule

	Valve  *valve.Valve
	Sensor *hardware.SensorDriver
	// SensorPort identifies which pool entry Sensor came from; kept
	// alongside the driver handle so the command surface can report it
	// without reaching into the sensor manager.
	SensorPort string
}

// Params are the fields supplied on add_plant/update_plant.
type Params struct {
	DesiredMoisture  float64
	WaterLimitLiters float64
	DripperType      dripper.Type
	PipeDiameter     float64
	Lat, Lon         float64
}

// New constructs a Plant with the given hardware already assigned.
func New(id int, p Params, v *valve.Valve, sensor *hardware.SensorDriver, sensorPort string) *Plant {
	return &Plant{
		ID:               id,
		desiredMoisture:  p.DesiredMoisture,
		waterLimitLiters: p.WaterLimitLiters,
		dripperType:      p.DripperType,
		pipeDiameter:      p.PipeDiameter,
		lat:              p.Lat,
		lon:              p.Lon,
		Valve:            v,
		Sensor:           sensor,
		SensorPort:       sensorPort,
	}
}

// DesiredMoisture returns the plant's target moisture percentage.
func (p *Plant) DesiredMoisture() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.desiredMoisture
}

// WaterLimitLiters returns the plant's per-run water ceiling.
func (p *Plant) WaterLimitLiters() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waterLimitLiters
}

// DripperType returns the plant's emitter flow-rate class.
func (p *Plant) DripperType() dripper.Type {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dripperType
}

// FlowRateLPerS returns the dripper's flow rate in liters/second.
func (p *Plant) FlowRateLPerS() float64 {
	return p.DripperType().FlowRateLS()
}

// Schedule returns the plant's installed schedule, or nil.
func (p *Plant) Schedule() *Schedule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schedule
}

// SetSchedule installs a new schedule, replacing any previous one.
func (p *Plant) SetSchedule(s *Schedule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedule = s
}

// LastIrrigationTime returns the last time irrigation actually ran for
// this plant, and whether it has ever run.
func (p *Plant) LastIrrigationTime() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastIrrigationTime, p.hasIrrigated
}

// MarkIrrigated stamps the last-irrigation time to now.
func (p *Plant) MarkIrrigated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastIrrigationTime = time.Now()
	p.hasIrrigated = true
}

// SetLastIrrigationTime stamps an explicit last-irrigation time, e.g. for
// exercising the overwatering guard's age threshold from tests without a
// real 24h wait. garden_sync replay does not call it.
func (p *Plant) SetLastIrrigationTime(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastIrrigationTime = t
	p.hasIrrigated = true
}

// Update applies a partial field update: a nil argument leaves that field
// unchanged, a non-nil one overwrites it. Update does no validation of its
// own.
func (p *Plant) Update(desiredMoisture, waterLimitLiters *float64, dt *dripper.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if desiredMoisture != nil {
		p.desiredMoisture = *desiredMoisture
	}
	if waterLimitLiters != nil {
		p.waterLimitLiters = *waterLimitLiters
	}
	if dt != nil {
		p.dripperType = *dt
	}
}

// Snapshot is an immutable read of a plant's configuration, for status
// and sync responses.
type Snapshot struct {
	ID               int
	DesiredMoisture  float64
	WaterLimitLiters float64
	DripperType      dripper.Type
	ValveID          int
	SensorPort       string
}

// Snapshot returns a copy of the plant's current configuration.
func (p *Plant) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		ID:               p.ID,
		DesiredMoisture:  p.desiredMoisture,
		WaterLimitLiters: p.waterLimitLiters,
		DripperType:      p.dripperType,
		ValveID:          p.Valve.ID(),
		SensorPort:       p.SensorPort,
	}
}
