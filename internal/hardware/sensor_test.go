package hardware

import "testing"

func TestSimulatedReadReturnsInitialMoisture(t *testing.T) {
	cfg := DefaultSensorConfig("/dev/ttyUSB0", 1)
	cfg.InitialMoisture = 42.0
	d := NewSensorDriver(cfg)

	r, err := d.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.MoisturePercent != 42.0 {
		t.Errorf("MoisturePercent = %v, want 42.0", r.MoisturePercent)
	}
}

func TestApplyPulseBumpsAndCapsMoisture(t *testing.T) {
	cfg := DefaultSensorConfig("/dev/ttyUSB0", 1)
	cfg.InitialMoisture = 98.0
	d := NewSensorDriver(cfg)

	d.ApplyPulse(5.0)
	r, _ := d.Read()
	if r.MoisturePercent != 100.0 {
		t.Errorf("moisture should cap at 100, got %v", r.MoisturePercent)
	}
}

func TestApplyPulseNoopWithoutSimulation(t *testing.T) {
	cfg := DefaultSensorConfig("/dev/ttyUSB0", 1)
	cfg.SimulationMode = false
	cfg.InitialMoisture = 30.0
	d := NewSensorDriver(cfg)

	d.ApplyPulse(5.0) // not in simulation mode and no live connection: must not panic
}

func TestCloseWithoutHandlerIsNoop(t *testing.T) {
	cfg := DefaultSensorConfig("/dev/ttyUSB0", 1)
	d := NewSensorDriver(cfg)

	if err := d.Close(); err != nil {
		t.Errorf("Close with no handler should not error, got %v", err)
	}
}
