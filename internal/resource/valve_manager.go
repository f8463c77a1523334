// Package resource owns the two hardware assignment pools: relay channels
// for valves, and serial ports for sensors. Neither pool persists; state
// lives only for the life of the process and is rebuilt from a sync
// message on reconnect.
package resource

import (
	"fmt"
	"sync"

	"github.com/irrigation-engine/edge-controller/internal/errs"
)

// ValveManager owns the set of relay channel ids, partitioned into
// available and assigned.
type ValveManager struct {
	mu        sync.Mutex
	available []int
	assigned  map[int]int // plant_id -> channel
}

// NewValveManager builds a pool of channels 1..n.
func NewValveManager(n int) *ValveManager {
	available := make([]int, n)
	for i := range available {
		available[i] = i + 1
	}
	return &ValveManager{available: available, assigned: make(map[int]int)}
}

// AssignAny pops the front of the available queue for plantID. Fails if
// the pool is exhausted or the plant already holds a channel.
func (m *ValveManager) AssignAny(plantID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assigned[plantID]; ok {
		return 0, errs.New(errs.AlreadyExists, fmt.Sprintf("plant %d already has a valve", plantID))
	}
	if len(m.available) == 0 {
		return 0, errs.New(errs.PoolExhausted, "no free valve channels")
	}

	ch := m.available[0]
	m.available = m.available[1:]
	m.assigned[plantID] = ch
	return ch, nil
}

// AssignSpecific assigns channel to plantID, removing it from available
// if present and returning any previous channel the plant held back to
// the pool. Used when reconstructing state from a sync message.
func (m *ValveManager) AssignSpecific(plantID, channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = removeInt(m.available, channel)

	if prev, ok := m.assigned[plantID]; ok && prev != channel {
		m.available = appendIfMissing(m.available, prev)
	}
	m.assigned[plantID] = channel
	return nil
}

// Release returns plantID's channel to the available pool.
func (m *ValveManager) Release(plantID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.assigned[plantID]
	if !ok {
		return errs.New(errs.Internal, fmt.Sprintf("release: plant %d has no assigned valve", plantID))
	}
	delete(m.assigned, plantID)
	m.available = appendIfMissing(m.available, ch)
	return nil
}

// Get returns the channel assigned to plantID, if any.
func (m *ValveManager) Get(plantID int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.assigned[plantID]
	return ch, ok
}

// Snapshot reports the current pool split, for tests and diagnostics.
func (m *ValveManager) Snapshot() (available []int, assigned map[int]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available = append([]int(nil), m.available...)
	assigned = make(map[int]int, len(m.assigned))
	for k, v := range m.assigned {
		assigned[k] = v
	}
	return available, assigned
}

func removeInt(s []int, v int) []int {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func appendIfMissing(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
