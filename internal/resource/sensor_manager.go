package resource

import (
	"fmt"
	"sync"

	"github.com/irrigation-engine/edge-controller/internal/errs"
)

// SensorManager owns the set of serial port identifiers, partitioned
// into available and assigned. Structurally identical to ValveManager
// but keyed on string ports instead of integer channels.
type SensorManager struct {
	mu        sync.Mutex
	available []string
	assigned  map[int]string // plant_id -> port
}

// NewSensorManager builds a pool from the given port identifiers, e.g.
// ["/dev/ttyUSB0", "/dev/ttyUSB1"].
func NewSensorManager(ports []string) *SensorManager {
	available := append([]string(nil), ports...)
	return &SensorManager{available: available, assigned: make(map[int]string)}
}

// AssignAny pops the front of the available queue for plantID.
func (m *SensorManager) AssignAny(plantID int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assigned[plantID]; ok {
		return "", errs.New(errs.AlreadyExists, fmt.Sprintf("plant %d already has a sensor", plantID))
	}
	if len(m.available) == 0 {
		return "", errs.New(errs.PoolExhausted, "no free sensor ports")
	}

	port := m.available[0]
	m.available = m.available[1:]
	m.assigned[plantID] = port
	return port, nil
}

// AssignSpecific assigns port to plantID, returning any previous port the
// plant held back to the pool.
func (m *SensorManager) AssignSpecific(plantID int, port string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = removeString(m.available, port)

	if prev, ok := m.assigned[plantID]; ok && prev != port {
		m.available = appendStringIfMissing(m.available, prev)
	}
	m.assigned[plantID] = port
	return nil
}

// Release returns plantID's port to the available pool.
func (m *SensorManager) Release(plantID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	port, ok := m.assigned[plantID]
	if !ok {
		return errs.New(errs.Internal, fmt.Sprintf("release: plant %d has no assigned sensor", plantID))
	}
	delete(m.assigned, plantID)
	m.available = appendStringIfMissing(m.available, port)
	return nil
}

// Get returns the port assigned to plantID, if any.
func (m *SensorManager) Get(plantID int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	port, ok := m.assigned[plantID]
	return port, ok
}

// Snapshot reports the current pool split, for tests and diagnostics.
func (m *SensorManager) Snapshot() (available []string, assigned map[int]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available = append([]string(nil), m.available...)
	assigned = make(map[int]string, len(m.assigned))
	for k, v := range m.assigned {
		assigned[k] = v
	}
	return available, assigned
}

func removeString(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func appendStringIfMissing(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
