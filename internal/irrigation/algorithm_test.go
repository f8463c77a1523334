package irrigation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	// Shrink the inter-pulse rest period so multi-pulse tests don't
	// block on the real ~10s production value.
	PauseBetweenPulses = 5 * time.Millisecond
	os.Exit(m.Run())
}

// fakeValve is a narrow in-memory ValveController for exercising the
// algorithm without hardware.
type fakeValve struct {
	mu       sync.Mutex
	open     bool
	blocked  bool
	openErr  error
	closeErr error
	opens    int
	closes   int
}

func (v *fakeValve) RequestOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openErr != nil {
		return v.openErr
	}
	v.open = true
	v.opens++
	return nil
}

func (v *fakeValve) RequestClose() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closeErr != nil {
		return v.closeErr
	}
	v.open = false
	v.closes++
	return nil
}

func (v *fakeValve) Block() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blocked = true
}

func (v *fakeValve) isBlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blocked
}

// fakeSensor replays a fixed sequence of moisture readings, holding on the
// last value once exhausted.
type fakeSensor struct {
	mu       sync.Mutex
	readings []float64
	idx      int
}

func (s *fakeSensor) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.readings[s.idx]
	if s.idx < len(s.readings)-1 {
		s.idx++
	}
	return Reading{MoisturePercent: v}, nil
}

func TestRunSkipsWhenAtOrAboveTarget(t *testing.T) {
	valve := &fakeValve{}
	sensor := &fakeSensor{readings: []float64{61.5}}

	outcome := Run(context.Background(), Params{PlantID: 3, Target: 60, WaterLimit: 1, FlowRateLPerS: 0.001}, valve, sensor, nil)

	if outcome.Status != ResultSkipped || outcome.SkipReason != SkipMoistureAtOrAboveTarget {
		t.Fatalf("expected skipped(moisture_at_or_above_target), got %+v", outcome)
	}
	if valve.opens != 0 {
		t.Errorf("no valve actuation expected, got %d opens", valve.opens)
	}
}

func TestRunBlocksOnOverwaterGuard(t *testing.T) {
	valve := &fakeValve{}
	sensor := &fakeSensor{readings: []float64{72.0}}

	params := Params{
		PlantID:            3,
		Target:             60,
		WaterLimit:         1,
		FlowRateLPerS:      0.001,
		HasIrrigated:       true,
		LastIrrigationTime: time.Now().Add(-30 * time.Hour),
	}
	outcome := Run(context.Background(), params, valve, sensor, nil)

	if outcome.Status != ResultSkipped || outcome.SkipReason != SkipOverwatered {
		t.Fatalf("expected skipped(overwatered), got %+v", outcome)
	}
	if !valve.isBlocked() {
		t.Error("the overwatering guard must block the valve")
	}
	if valve.opens != 0 {
		t.Errorf("no valve actuation expected, got %d opens", valve.opens)
	}
}

func TestRunCancelledMidPulseClosesValve(t *testing.T) {
	valve := &fakeValve{}
	sensor := &fakeSensor{readings: []float64{40}}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	params := Params{PlantID: 1, Target: 90, WaterLimit: 10, FlowRateLPerS: 0.0001}
	outcome := Run(ctx, params, valve, sensor, nil)

	if outcome.Status != ResultCancelled {
		t.Fatalf("expected cancelled, got %+v", outcome)
	}
	if valve.open {
		t.Error("valve must be closed on a cancelled run")
	}
	if valve.closes == 0 {
		t.Error("a cancelled run must still issue at least one close")
	}
}

func TestRunSucceedsAfterReachingTarget(t *testing.T) {
	valve := &fakeValve{}
	sensor := &fakeSensor{readings: []float64{58, 61}}

	var progress []Progress
	sink := func(pr Progress) { progress = append(progress, pr) }

	params := Params{PlantID: 7, Target: 60, WaterLimit: 1, FlowRateLPerS: 1000}
	outcome := Run(context.Background(), params, valve, sensor, sink)

	if outcome.Status != ResultSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Pulses != 1 {
		t.Errorf("expected 1 pulse, got %d", outcome.Pulses)
	}
	if outcome.FinalMoisture != 61 {
		t.Errorf("expected final moisture 61, got %v", outcome.FinalMoisture)
	}
	if valve.open {
		t.Error("valve must end closed on success")
	}
	if len(progress) == 0 {
		t.Error("a successful run should emit at least one progress event")
	}
}

func TestRunFaultsWhenWaterLimitExhausted(t *testing.T) {
	valve := &fakeValve{}
	sensor := &fakeSensor{readings: []float64{40, 40}}

	params := Params{PlantID: 9, Target: 80, WaterLimit: WaterPerPulseLiters, FlowRateLPerS: 1000}
	outcome := Run(context.Background(), params, valve, sensor, nil)

	if outcome.Status != ResultFault {
		t.Fatalf("expected fault, got %+v", outcome)
	}
	if outcome.Pulses != 1 {
		t.Errorf("expected exactly 1 pulse before the water limit stopped the run, got %d", outcome.Pulses)
	}
	if valve.open {
		t.Error("valve must end closed even on a fault exit")
	}
}

func TestRunReportsErrorOnValveOpenFailure(t *testing.T) {
	valve := &fakeValve{openErr: fmt.Errorf("relay write failed")}
	sensor := &fakeSensor{readings: []float64{40}}

	params := Params{PlantID: 2, Target: 80, WaterLimit: 1, FlowRateLPerS: 1000}
	outcome := Run(context.Background(), params, valve, sensor, nil)

	if outcome.Status != ResultError {
		t.Fatalf("expected error, got %+v", outcome)
	}
}

func TestPulseDuration(t *testing.T) {
	d := PulseDuration(WaterPerPulseLiters)
	if d != time.Second {
		t.Errorf("at flow rate == water per pulse, pulse duration should be 1s, got %v", d)
	}
}
