package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/dripper"
	"github.com/irrigation-engine/edge-controller/internal/errs"
	"github.com/irrigation-engine/edge-controller/internal/irrigation"
	"github.com/irrigation-engine/edge-controller/internal/plant"
	"github.com/irrigation-engine/edge-controller/internal/transport"
)

// mockSender records every envelope the engine tries to send, standing
// in for the transport client.
type mockSender struct {
	mu   sync.Mutex
	sent []*transport.Envelope
}

func (m *mockSender) Send(env *transport.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, env)
	return nil
}

func (m *mockSender) byType(typ transport.MessageType) []*transport.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transport.Envelope
	for _, e := range m.sent {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockSender) waitForType(t *testing.T, typ transport.MessageType, timeout time.Duration) *transport.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if envs := m.byType(typ); len(envs) > 0 {
			return envs[len(envs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a %s envelope", typ)
	return nil
}

func testParams(desired, waterLimit float64) plant.Params {
	return plant.Params{DesiredMoisture: desired, WaterLimitLiters: waterLimit, DripperType: dripper.Type8LH}
}

func setupTestEngine(t *testing.T, totalValves int, sensorPorts []string) (*Engine, *mockSender) {
	t.Helper()
	sender := &mockSender{}
	cfg := Config{
		TotalValves: totalValves,
		SensorPorts: sensorPorts,
		Relay:       DefaultRelayConfig(),
		SensorBaud:  4800,
		SimulateAll: true,
	}
	e, err := New(cfg, sender)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e, sender
}

func TestAddPlantAssignsHardwareAndRejectsDuplicate(t *testing.T) {
	e, _ := setupTestEngine(t, 2, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})

	valveID, port, err := e.AddPlant(1, testParams(60, 1), 0, "", nil, nil)
	if err != nil {
		t.Fatalf("AddPlant: %v", err)
	}
	if valveID == 0 || port == "" {
		t.Fatalf("expected hardware to be assigned, got valve=%d port=%q", valveID, port)
	}

	if _, _, err := e.AddPlant(1, testParams(60, 1), 0, "", nil, nil); !errIsKind(err, errs.AlreadyExists) {
		t.Fatalf("expected already_exists re-adding plant 1, got %v", err)
	}
}

func TestAddPlantPoolExhaustion(t *testing.T) {
	e, _ := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(1, testParams(60, 1), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant(1): %v", err)
	}
	if _, _, err := e.AddPlant(2, testParams(60, 1), 0, "", nil, nil); !errIsKind(err, errs.PoolExhausted) {
		t.Fatalf("expected pool_exhausted adding a second plant against a 1-valve pool, got %v", err)
	}
}

func TestAddPlantInvalidArguments(t *testing.T) {
	e, _ := setupTestEngine(t, 2, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(1, testParams(150, 1), 0, "", nil, nil); !errIsKind(err, errs.InvalidArgument) {
		t.Fatalf("expected invalid_argument for out-of-range moisture, got %v", err)
	}
	if _, _, err := e.AddPlant(1, testParams(60, 0), 0, "", nil, nil); !errIsKind(err, errs.InvalidArgument) {
		t.Fatalf("expected invalid_argument for non-positive water limit, got %v", err)
	}
}

// TestRemovePlantReleasesHardware checks P2 (pool conservation): after
// remove, the valve/sensor return to the available pool with no
// duplicates, and the valve is closed.
func TestRemovePlantReleasesHardware(t *testing.T) {
	e, _ := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	valveID, _, err := e.AddPlant(1, testParams(60, 1), 0, "", nil, nil)
	if err != nil {
		t.Fatalf("AddPlant: %v", err)
	}

	if err := e.RemovePlant(1); err != nil {
		t.Fatalf("RemovePlant: %v", err)
	}

	available, assigned := e.valves.Snapshot()
	if len(assigned) != 0 {
		t.Fatalf("expected no assigned valves after removal, got %v", assigned)
	}
	if len(available) != 1 || available[0] != valveID {
		t.Fatalf("expected valve %d back in the available pool, got %v", valveID, available)
	}

	if err := e.RemovePlant(1); !errIsKind(err, errs.NotFound) {
		t.Fatalf("expected not_found removing an already-removed plant, got %v", err)
	}
}

// TestIrrigatePlantSkipsAtOrAboveTarget exercises the command surface's
// asynchronous path end to end for the skip branch (§4.5.3), which
// doesn't depend on the pulsed loop's timing.
func TestIrrigatePlantSkipsAtOrAboveTarget(t *testing.T) {
	e, sender := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(3, testParams(60, 1), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant: %v", err)
	}
	p, _ := e.getPlant(3)
	// AddPlant seeds the simulated sensor 20 points below target; push it
	// above target so the should-irrigate check (not the pulsed loop)
	// is what's under test.
	p.Sensor.ApplyPulse(50)

	if err := e.IrrigatePlant(3); err != nil {
		t.Fatalf("IrrigatePlant: %v", err)
	}

	env := sender.waitForType(t, transport.TypeIrrigatePlantResponse, 2*time.Second)
	if string(env.Data) == "" {
		t.Fatal("expected a non-empty terminal result payload")
	}
	if p.Valve.IsOpen() {
		t.Error("P3: valve must be off at idle once the terminal result is in")
	}
}

// TestOverwaterGuardBlocksValveAndRejectsIrrigate covers P7: a long-dry
// plant reading well above target is skipped and its valve blocked, and
// a subsequent irrigate attempt is refused until restart_valve clears it.
func TestOverwaterGuardBlocksValveAndRejectsIrrigate(t *testing.T) {
	e, sender := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(3, testParams(60, 1), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant: %v", err)
	}
	p, _ := e.getPlant(3)
	// Back-date the stamp past the 24h overwater-guard threshold.
	p.SetLastIrrigationTime(time.Now().Add(-30 * time.Hour))
	p.Sensor.ApplyPulse(42) // 40 (target-20) + 42 = 82, well above target+margin (70)

	if err := e.IrrigatePlant(3); err != nil {
		t.Fatalf("IrrigatePlant: %v", err)
	}
	sender.waitForType(t, transport.TypeIrrigatePlantResponse, 2*time.Second)

	if !p.Valve.IsBlocked() {
		t.Fatal("overwater guard must leave the valve blocked")
	}

	if err := e.IrrigatePlant(3); !errIsKind(err, errs.ValveBlocked) {
		t.Fatalf("expected valve_blocked on a blocked valve, got %v", err)
	}

	if err := e.RestartValve(3); err != nil {
		t.Fatalf("RestartValve: %v", err)
	}
	if p.Valve.IsBlocked() {
		t.Error("restart_valve must clear the block")
	}
}

// TestStopIrrigationCancelsAndClosesValve covers P6 (cancellation bound)
// at the command-surface level: a stop arriving mid pulse closes the
// valve promptly and the registry slot frees up.
func TestStopIrrigationCancelsAndClosesValve(t *testing.T) {
	e, sender := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(1, testParams(90, 10), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant: %v", err)
	}
	p, _ := e.getPlant(1)

	if err := e.IrrigatePlant(1); err != nil {
		t.Fatalf("IrrigatePlant: %v", err)
	}
	// Give the algorithm goroutine time to open the valve for its first
	// pulse before cancelling mid-sleep.
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	if err := e.StopIrrigation(1); err != nil {
		t.Fatalf("StopIrrigation: %v", err)
	}
	elapsed := time.Since(start)

	grace := irrigation.PulseDuration(p.FlowRateLPerS()) + irrigation.CancelGracePeriod
	if elapsed > grace {
		t.Errorf("P6: cancellation took %v, exceeding the grace bound %v", elapsed, grace)
	}
	if p.Valve.IsOpen() {
		t.Error("valve must be physically closed after a bounded cancellation")
	}

	env := sender.waitForType(t, transport.TypeIrrigatePlantResponse, 2*time.Second)
	if len(env.Data) == 0 {
		t.Error("expected a terminal result envelope for the cancelled session")
	}

	// The registry slot must be free again (not wedged as "busy").
	if err := e.IrrigatePlant(1); err != nil {
		t.Fatalf("expected a fresh irrigate to be accepted after cancellation, got %v", err)
	}
	_ = e.StopIrrigation(1)
}

// TestIrrigatePlantRejectsWhenBusy covers P1/P3's exclusivity contract at
// the command surface: a second concurrent irrigate for the same plant
// is rejected with busy, not queued.
func TestIrrigatePlantRejectsWhenBusy(t *testing.T) {
	e, _ := setupTestEngine(t, 1, []string{"/dev/ttyUSB0"})

	if _, _, err := e.AddPlant(1, testParams(90, 10), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant: %v", err)
	}

	if err := e.IrrigatePlant(1); err != nil {
		t.Fatalf("first IrrigatePlant: %v", err)
	}
	if err := e.IrrigatePlant(1); !errIsKind(err, errs.Busy) {
		t.Fatalf("expected busy on a concurrent irrigate, got %v", err)
	}
	_ = e.StopIrrigation(1)
}

// TestGardenSyncIsIdempotent covers P10: applying the same sync twice
// leaves the registry and pools in the same state as applying it once.
func TestGardenSyncIsIdempotent(t *testing.T) {
	e, _ := setupTestEngine(t, 2, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})

	specs := []GardenSyncPlantSpec{
		{PlantID: 11, Params: testParams(55, 1), ValveID: 1, SensorPort: "/dev/ttyUSB0"},
		{PlantID: 12, Params: testParams(55, 1), ValveID: 2, SensorPort: "/dev/ttyUSB1"},
	}

	first := e.GardenSync(specs)
	second := e.GardenSync(specs)

	for i, r := range append(append([]GardenSyncResult{}, first...), second...) {
		if r.Err != nil {
			t.Fatalf("sync result %d: unexpected error %v", i, r.Err)
		}
	}

	available, assigned := e.valves.Snapshot()
	if len(available) != 0 || len(assigned) != 2 {
		t.Fatalf("expected both valves assigned exactly once, got available=%v assigned=%v", available, assigned)
	}
	if ch, ok := e.valves.Get(11); !ok || ch != 1 {
		t.Errorf("expected plant 11 to hold valve 1, got %d (ok=%v)", ch, ok)
	}
	if ch, ok := e.valves.Get(12); !ok || ch != 2 {
		t.Errorf("expected plant 12 to hold valve 2, got %d (ok=%v)", ch, ok)
	}

	sAvailable, sAssigned := e.sensors.Snapshot()
	if len(sAvailable) != 0 || len(sAssigned) != 2 {
		t.Fatalf("expected both sensor ports assigned exactly once, got available=%v assigned=%v", sAvailable, sAssigned)
	}
}

func TestGetAllMoistureReadsEveryPlant(t *testing.T) {
	e, _ := setupTestEngine(t, 2, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})

	if _, _, err := e.AddPlant(1, testParams(60, 1), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant(1): %v", err)
	}
	if _, _, err := e.AddPlant(2, testParams(60, 1), 0, "", nil, nil); err != nil {
		t.Fatalf("AddPlant(2): %v", err)
	}

	results := e.GetAllMoisture()
	if len(results) != 2 {
		t.Fatalf("expected 2 moisture results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("plant %d: unexpected read error %v", r.PlantID, r.Err)
		}
	}
}

// errIsKind reports whether err is an *errs.Error of the given kind.
func errIsKind(err error, kind errs.Kind) bool {
	return errs.Is(err, kind)
}
