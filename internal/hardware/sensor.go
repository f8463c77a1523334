package hardware

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

const (
	moistureRegisterAddr uint16 = 0x0001
	moistureRegisterQty  uint16 = 2
)

// SensorConfig configures one Modbus-RTU soil probe.
type SensorConfig struct {
	Port           string // serial device identifier, e.g. /dev/ttyUSB0
	SlaveID        byte
	BaudRate       int
	SimulationMode bool
	// InitialMoisture seeds the simulated reading when SimulationMode is
	// set; real hardware ignores it.
	InitialMoisture float64
}

// DefaultSensorConfig returns the serial parameters the reference probes
// use: 4800 baud, 8-N-1, 2s timeout.
func DefaultSensorConfig(port string, slaveID byte) SensorConfig {
	return SensorConfig{
		Port:            port,
		SlaveID:         slaveID,
		BaudRate:        4800,
		SimulationMode:  true,
		InitialMoisture: 30.0,
	}
}

// Reading is one probe sample.
type Reading struct {
	MoisturePercent float64
	TemperatureC    float64
}

// SensorDriver performs a Modbus-RTU read-input-registers transaction
// against one serial port and slave id, or synthesizes a reading in
// simulation mode.
type SensorDriver struct {
	cfg SensorConfig

	mu     sync.Mutex
	client modbus.Client
	handler *modbus.RTUClientHandler

	simMu       sync.Mutex
	simMoisture float64
	simTemp     float64
}

// NewSensorDriver constructs a driver for one probe. In simulation mode no
// serial port is opened.
func NewSensorDriver(cfg SensorConfig) *SensorDriver {
	d := &SensorDriver{cfg: cfg, simMoisture: cfg.InitialMoisture, simTemp: 21.0}
	if cfg.SimulationMode {
		log.Printf("[SIMULATION] sensor driver on %s running in simulation mode", cfg.Port)
		return d
	}

	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = cfg.SlaveID
	handler.Timeout = 2 * time.Second

	if err := handler.Connect(); err != nil {
		log.Printf("sensor driver: unable to open %s: %v", cfg.Port, err)
		return d
	}
	d.handler = handler
	d.client = modbus.NewClient(handler)
	return d
}

// Read performs one transaction and decodes moisture/temperature, or
// reports a read failure (bus timeout, framing/CRC error, slave
// exception).
func (d *SensorDriver) Read() (Reading, error) {
	if d.cfg.SimulationMode {
		return d.readSimulated(), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return Reading{}, fmt.Errorf("sensor %s: no modbus connection", d.cfg.Port)
	}

	results, err := d.client.ReadInputRegisters(moistureRegisterAddr, moistureRegisterQty)
	if err != nil {
		return Reading{}, fmt.Errorf("sensor %s: modbus read failed: %w", d.cfg.Port, err)
	}
	if len(results) < 4 {
		return Reading{}, fmt.Errorf("sensor %s: short response (%d bytes)", d.cfg.Port, len(results))
	}

	moistureRaw := uint16(results[0])<<8 | uint16(results[1])
	tempRaw := int16(uint16(results[2])<<8 | uint16(results[3]))

	return Reading{
		MoisturePercent: float64(moistureRaw) / 10.0,
		TemperatureC:    float64(tempRaw) / 10.0,
	}, nil
}

func (d *SensorDriver) readSimulated() Reading {
	d.simMu.Lock()
	defer d.simMu.Unlock()
	return Reading{MoisturePercent: d.simMoisture, TemperatureC: d.simTemp}
}

// ApplyPulse bumps the simulated moisture reading, mirroring how a real
// probe would respond to water soaking into the soil. Real probes ignore
// this; it exists purely so the algorithm can be exercised end to end
// without hardware.
func (d *SensorDriver) ApplyPulse(deltaPercent float64) {
	if !d.cfg.SimulationMode {
		return
	}
	d.simMu.Lock()
	defer d.simMu.Unlock()
	d.simMoisture += deltaPercent
	if d.simMoisture > 100 {
		d.simMoisture = 100
	}
}

// Drift applies small deterministic-ish jitter to the simulated reading,
// for simulations that want a moisture value that is not perfectly static.
func (d *SensorDriver) Drift(rng *rand.Rand) {
	if !d.cfg.SimulationMode {
		return
	}
	d.simMu.Lock()
	defer d.simMu.Unlock()
	d.simMoisture += (rng.Float64() - 0.5)
}

// Close releases the serial port, if open.
func (d *SensorDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != nil {
		err := d.handler.Close()
		d.handler = nil
		d.client = nil
		return err
	}
	return nil
}
