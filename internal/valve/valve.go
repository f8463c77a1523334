// Package valve is the logical wrapper around one relay channel. All
// physical actuation goes through a Valve so its bookkeeping cannot be
// bypassed.
package valve

import (
	"fmt"
	"sync"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/errs"
	"github.com/irrigation-engine/edge-controller/internal/hardware"
)

// Valve tracks the physical/logical state of one relay channel. A Valve
// is exclusively referenced by at most one plant at a time, plus
// transiently by the Irrigation Algorithm running for that plant.
type Valve struct {
	id    int
	relay *hardware.RelayDriver

	mu                 sync.Mutex
	isOpen             bool
	isBlocked          bool
	openTime           time.Time
	closeTime          time.Time
	lastIrrigationTime time.Time
}

// New wraps channel id using relay as the physical driver.
func New(id int, relay *hardware.RelayDriver) *Valve {
	return &Valve{id: id, relay: relay}
}

// ID returns the relay channel this valve actuates.
func (v *Valve) ID() int { return v.id }

// RequestOpen energizes the channel. Fails (and leaves state unchanged)
// if the valve is blocked, or if the relay write itself fails.
func (v *Valve) RequestOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.isBlocked {
		return errs.New(errs.ValveBlocked, fmt.Sprintf("valve %d is blocked", v.id))
	}
	if err := v.relay.TurnOn(v.id); err != nil {
		return errs.Wrap(errs.ValveActuationFault, fmt.Sprintf("valve %d open failed", v.id), err)
	}

	now := time.Now()
	v.isOpen = true
	v.openTime = now
	v.lastIrrigationTime = now
	return nil
}

// RequestClose de-energizes the channel. Unlike RequestOpen this
// succeeds even on a blocked valve — the overwatering guard and a
// close-failure fault can both leave a valve blocked while it still
// needs to be driven closed, and the algorithm's exit paths must always
// be able to get a valve back to idle. Repeated closes are not an error;
// the relay-off is reissued as a safety measure.
func (v *Valve) RequestClose() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.relay.TurnOff(v.id); err != nil {
		return errs.Wrap(errs.ValveActuationFault, fmt.Sprintf("valve %d close failed", v.id), err)
	}

	v.isOpen = false
	v.closeTime = time.Now()
	return nil
}

// Block latches the valve closed to new opens.
func (v *Valve) Block() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isBlocked = true
}

// Unblock releases the latch.
func (v *Valve) Unblock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isBlocked = false
}

// IsOpen reports whether the valve is currently energized.
func (v *Valve) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isOpen
}

// IsBlocked reports whether opens are currently refused.
func (v *Valve) IsBlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isBlocked
}

// LastIrrigationTime returns the last time the valve was opened for
// irrigation, or the zero Time if it never has been.
func (v *Valve) LastIrrigationTime() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastIrrigationTime
}

// Status is a point-in-time snapshot of a valve, including a
// human-readable summary line.
type Status struct {
	ValveID            int
	IsOpen             bool
	IsBlocked          bool
	OpenTime           time.Time
	CloseTime          time.Time
	LastIrrigationTime time.Time
	Summary            string
}

// Status returns a snapshot of the valve's current state.
func (v *Valve) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Status{
		ValveID:            v.id,
		IsOpen:             v.isOpen,
		IsBlocked:          v.isBlocked,
		OpenTime:           v.openTime,
		CloseTime:          v.closeTime,
		LastIrrigationTime: v.lastIrrigationTime,
	}
	switch {
	case v.isBlocked:
		s.Summary = fmt.Sprintf("valve %d is BLOCKED and cannot be opened; check manually and unblock if needed", v.id)
	case v.isOpen:
		s.Summary = fmt.Sprintf("valve %d is OPEN and watering", v.id)
	default:
		s.Summary = fmt.Sprintf("valve %d is CLOSED and ready", v.id)
	}
	return s
}

// restartPulse is how long Restart holds the valve open when clearing a
// stuck state.
const restartPulse = 1 * time.Second

// Restart clears a stuck valve: unblock, force-close, briefly open, then
// close again. Used to recover from the overwatering guard's block or a
// prior close-actuation fault.
func (v *Valve) Restart() error {
	v.Unblock()
	if err := v.RequestClose(); err != nil {
		return err
	}
	if err := v.RequestOpen(); err != nil {
		return err
	}
	time.Sleep(restartPulse)
	return v.RequestClose()
}
