package resource

import (
	"testing"

	"github.com/irrigation-engine/edge-controller/internal/errs"
)

func TestAssignAnyExhaustsPool(t *testing.T) {
	m := NewValveManager(2)

	if _, err := m.AssignAny(1); err != nil {
		t.Fatalf("AssignAny(1) failed: %v", err)
	}
	if _, err := m.AssignAny(2); err != nil {
		t.Fatalf("AssignAny(2) failed: %v", err)
	}
	if _, err := m.AssignAny(3); !errs.Is(err, errs.PoolExhausted) {
		t.Fatalf("expected PoolExhausted once the pool runs out, got %v", err)
	}
}

func TestAssignAnyRejectsDoubleAssignment(t *testing.T) {
	m := NewValveManager(4)
	if _, err := m.AssignAny(1); err != nil {
		t.Fatalf("AssignAny(1) failed: %v", err)
	}
	if _, err := m.AssignAny(1); !errs.Is(err, errs.AlreadyExists) {
		t.Fatalf("expected AlreadyExists for a second assignment, got %v", err)
	}
}

func TestReleaseReturnsChannelToPool(t *testing.T) {
	m := NewValveManager(1)
	ch, err := m.AssignAny(1)
	if err != nil {
		t.Fatalf("AssignAny failed: %v", err)
	}

	if err := m.Release(1); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	reassigned, err := m.AssignAny(2)
	if err != nil {
		t.Fatalf("AssignAny after release failed: %v", err)
	}
	if reassigned != ch {
		t.Errorf("released channel %d should be reassignable, got %d", ch, reassigned)
	}
}

func TestReleaseUnknownPlantIsInternalError(t *testing.T) {
	m := NewValveManager(1)
	if err := m.Release(99); !errs.Is(err, errs.Internal) {
		t.Fatalf("releasing an unassigned plant should be an internal invariant violation, got %v", err)
	}
}

func TestAssignSpecificReclaimsPreviousChannel(t *testing.T) {
	m := NewValveManager(3)
	if err := m.AssignSpecific(1, 2); err != nil {
		t.Fatalf("AssignSpecific failed: %v", err)
	}
	if err := m.AssignSpecific(1, 3); err != nil {
		t.Fatalf("AssignSpecific (reassign) failed: %v", err)
	}

	available, assigned := m.Snapshot()
	if assigned[1] != 3 {
		t.Errorf("plant 1 should now hold channel 3, got %d", assigned[1])
	}
	found := false
	for _, ch := range available {
		if ch == 2 {
			found = true
		}
	}
	if !found {
		t.Error("channel 2 should have returned to the available pool")
	}
}

func TestPoolConservation(t *testing.T) {
	const total = 5
	m := NewValveManager(total)

	for i := 1; i <= total; i++ {
		if _, err := m.AssignAny(i); err != nil {
			t.Fatalf("AssignAny(%d) failed: %v", i, err)
		}
	}
	available, assigned := m.Snapshot()
	if len(available)+len(assigned) != total {
		t.Errorf("pool conservation violated: %d available + %d assigned != %d", len(available), len(assigned), total)
	}

	for i := 1; i <= total; i++ {
		_ = m.Release(i)
	}
	available, assigned = m.Snapshot()
	if len(available) != total || len(assigned) != 0 {
		t.Errorf("expected all %d channels back in the pool, got %d available / %d assigned", total, len(available), len(assigned))
	}
}
