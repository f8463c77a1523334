// Package hardware wraps the two physical I/O paths the engine drives:
// the USB HID relay board (valve actuation) and RS-485 Modbus-RTU probes
// (moisture/temperature reads).
package hardware

import (
	"fmt"
	"log"
	"sync"

	"github.com/karalabe/hid"
)

// RelayConfig configures the USB HID relay board.
type RelayConfig struct {
	VendorID       uint16
	ProductID      uint16
	SimulationMode bool
	// OffOpcode is the byte the relay board expects in a de-energize
	// report. Boards disagree on this between 0xFD and 0x00; it is a
	// driver-configuration constant precisely because the reference
	// firmware is inconsistent about it.
	OffOpcode byte
}

// DefaultRelayConfig returns the vendor/product pair and opcodes observed
// on the reference board.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		VendorID:       0x16C0,
		ProductID:      0x05DF,
		SimulationMode: true,
		OffOpcode:      0xFD,
	}
}

const onOpcode = 0xFF

// RelayDriver writes 3-byte HID output reports to energize or
// de-energize a relay channel. All writes are serialized through mu so
// it is safe to call from any goroutine that also drives a Valve.
type RelayDriver struct {
	cfg    RelayConfig
	mu     sync.Mutex
	device *hid.Device
}

// NewRelayDriver opens the HID device unless cfg.SimulationMode is set.
// A failed open is logged and leaves the driver without a device handle;
// subsequent writes return an error rather than panicking so Valve can
// translate the failure into a fault.
func NewRelayDriver(cfg RelayConfig) *RelayDriver {
	d := &RelayDriver{cfg: cfg}
	if cfg.SimulationMode {
		log.Println("[SIMULATION] relay driver running in simulation mode")
		return d
	}
	devices := hid.Enumerate(cfg.VendorID, cfg.ProductID)
	if len(devices) == 0 {
		log.Printf("relay driver: no HID device matching vendor=%#04x product=%#04x", cfg.VendorID, cfg.ProductID)
		return d
	}
	dev, err := devices[0].Open()
	if err != nil {
		log.Printf("relay driver: unable to open HID relay: %v", err)
		return d
	}
	d.device = dev
	log.Println("HID relay connected")
	return d
}

// AllOff issues turn-off for every channel in chans. Failures are logged
// and non-fatal; this is the engine's startup safety sweep, not something
// a caller should have to handle.
func (d *RelayDriver) AllOff(chans []int) {
	for _, ch := range chans {
		if err := d.TurnOff(ch); err != nil {
			log.Printf("relay driver: startup turn-off failed for channel %d: %v", ch, err)
		}
	}
}

func (d *RelayDriver) write(channel int, opcode byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		if d.cfg.SimulationMode {
			log.Printf("[SIMULATION] channel %d opcode %#02x", channel, opcode)
			return nil
		}
		return fmt.Errorf("HID device not connected")
	}
	report := []byte{0x00, opcode, byte(channel)}
	if _, err := d.device.Write(report); err != nil {
		return fmt.Errorf("HID write failed: %w", err)
	}
	return nil
}

// TurnOn energizes the given channel.
func (d *RelayDriver) TurnOn(channel int) error {
	if err := d.write(channel, onOpcode); err != nil {
		return err
	}
	log.Printf("valve %d ON", channel)
	return nil
}

// TurnOff de-energizes the given channel.
func (d *RelayDriver) TurnOff(channel int) error {
	if err := d.write(channel, d.cfg.OffOpcode); err != nil {
		return err
	}
	log.Printf("valve %d OFF", channel)
	return nil
}

// Close releases the underlying HID handle, if any.
func (d *RelayDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		err := d.device.Close()
		d.device = nil
		return err
	}
	return nil
}
