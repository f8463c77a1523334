package valve

import (
	"testing"

	"github.com/irrigation-engine/edge-controller/internal/errs"
	"github.com/irrigation-engine/edge-controller/internal/hardware"
)

func newTestRelay() *hardware.RelayDriver {
	cfg := hardware.DefaultRelayConfig()
	cfg.SimulationMode = true
	return hardware.NewRelayDriver(cfg)
}

func TestRequestOpenClose(t *testing.T) {
	v := New(1, newTestRelay())

	if v.IsOpen() {
		t.Fatal("new valve should start closed")
	}
	if err := v.RequestOpen(); err != nil {
		t.Fatalf("RequestOpen failed: %v", err)
	}
	if !v.IsOpen() {
		t.Error("valve should report open after RequestOpen")
	}
	if err := v.RequestClose(); err != nil {
		t.Fatalf("RequestClose failed: %v", err)
	}
	if v.IsOpen() {
		t.Error("valve should report closed after RequestClose")
	}
}

func TestRequestOpenFailsWhenBlocked(t *testing.T) {
	v := New(1, newTestRelay())
	v.Block()

	err := v.RequestOpen()
	if !errs.Is(err, errs.ValveBlocked) {
		t.Fatalf("expected ValveBlocked, got %v", err)
	}
	if v.IsOpen() {
		t.Error("a blocked valve must not open")
	}
}

// TestRequestCloseIgnoresBlock documents the resolved tension between the
// request_close summary bullet and the safety paths that must still be
// able to close a blocked valve.
func TestRequestCloseIgnoresBlock(t *testing.T) {
	v := New(1, newTestRelay())
	v.Block()

	if err := v.RequestClose(); err != nil {
		t.Fatalf("RequestClose on a blocked valve should succeed, got %v", err)
	}
}

func TestRestartClearsBlockAndPulses(t *testing.T) {
	v := New(1, newTestRelay())
	v.Block()

	if err := v.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if v.IsBlocked() {
		t.Error("Restart should clear the blocked latch")
	}
	if v.IsOpen() {
		t.Error("Restart should leave the valve closed at the end of the pulse")
	}
}

func TestStatusSummary(t *testing.T) {
	v := New(3, newTestRelay())

	s := v.Status()
	if s.ValveID != 3 {
		t.Errorf("ValveID = %d, want 3", s.ValveID)
	}
	if s.IsOpen || s.IsBlocked {
		t.Error("a fresh valve should be neither open nor blocked")
	}

	v.Block()
	s = v.Status()
	if s.Summary == "" {
		t.Error("blocked status should carry a non-empty summary")
	}
}
