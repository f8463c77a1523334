package resource

import (
	"testing"

	"github.com/irrigation-engine/edge-controller/internal/errs"
)

func TestSensorAssignAnyExhaustsPool(t *testing.T) {
	m := NewSensorManager([]string{"/dev/ttyUSB0", "/dev/ttyUSB1"})

	if _, err := m.AssignAny(1); err != nil {
		t.Fatalf("AssignAny(1) failed: %v", err)
	}
	if _, err := m.AssignAny(2); err != nil {
		t.Fatalf("AssignAny(2) failed: %v", err)
	}
	if _, err := m.AssignAny(3); !errs.Is(err, errs.PoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
}

func TestSensorAssignSpecificReclaimsPreviousPort(t *testing.T) {
	m := NewSensorManager([]string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	if err := m.AssignSpecific(1, "/dev/ttyUSB0"); err != nil {
		t.Fatalf("AssignSpecific failed: %v", err)
	}
	if err := m.AssignSpecific(1, "/dev/ttyUSB1"); err != nil {
		t.Fatalf("AssignSpecific (reassign) failed: %v", err)
	}

	available, assigned := m.Snapshot()
	if assigned[1] != "/dev/ttyUSB1" {
		t.Errorf("plant 1 should hold ttyUSB1, got %s", assigned[1])
	}
	found := false
	for _, p := range available {
		if p == "/dev/ttyUSB0" {
			found = true
		}
	}
	if !found {
		t.Error("ttyUSB0 should have returned to the available pool")
	}
}

func TestSensorReleaseUnknownPlantIsInternalError(t *testing.T) {
	m := NewSensorManager([]string{"/dev/ttyUSB0"})
	if err := m.Release(99); !errs.Is(err, errs.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
}
