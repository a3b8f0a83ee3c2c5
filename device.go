// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// State is the binding state of a Device.
type State int

const (
	// Unbound means that no firmware device is attached.
	Unbound State = iota

	// BoundUnresolved means that a firmware device is attached but the
	// address of the VM generation ID is not known.
	BoundUnresolved

	// BoundResolved means that a firmware device is attached and the
	// address of the VM generation ID has been resolved.
	BoundResolved
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case BoundUnresolved:
		return "bound-unresolved"
	case BoundResolved:
		return "bound-resolved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DeviceHandle corresponds to a firmware device that a bus has matched
// against a driver.
type DeviceHandle interface {
	Firmware

	// Name is the bus-specific name of the device, eg, "QEMUVGID:00".
	Name() string

	// HardwareID is the hardware ID that the device was matched with.
	HardwareID() string
}

// Device tracks the VM generation ID of a single firmware device. It caches
// the physical address reported by the firmware, the last GUID read from
// that address and the number of change notifications received.
//
// All methods are safe to call from multiple goroutines.
type Device struct {
	mem PhysicalMemory
	log logrus.FieldLogger

	mu      sync.RWMutex
	handle  DeviceHandle
	state   State
	addr    PhysAddr
	guid    GUID
	notices uint32
}

// NewDevice returns a new unbound device that reads the VM generation ID
// through mem. If log is nil, the standard logrus logger is used.
func NewDevice(mem PhysicalMemory, log logrus.FieldLogger) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Device{mem: mem, log: log}
}

// Attach binds the supplied firmware device, resolves the address of the VM
// generation ID and reads its initial value.
//
// A device that doesn't implement the ADDR method remains bound without an
// address, and no error is returned. If resolution fails, the device also
// remains bound without an address and the error is returned.
func (d *Device) Attach(h DeviceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Unbound {
		return xerrors.Errorf("already bound to %s", d.handle.Name())
	}
	d.handle = h
	d.state = BoundUnresolved

	log := d.log.WithField("device", h.Name())

	addr, err := resolveAddress(h)
	switch {
	case err != nil:
		log.WithError(err).Error("cannot resolve VMGENID address")
		return err
	case addr == 0:
		log.Info("VMGENID address not available")
		return nil
	}

	log.WithField("addr", addr).Info("VMGENID ADDR method found")
	d.addr = addr
	d.state = BoundResolved

	return d.readLocked(log)
}

// Detach unbinds the current firmware device. The last GUID and the number
// of notifications are retained.
func (d *Device) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Unbound {
		return
	}
	d.log.WithField("device", d.handle.Name()).Debug("detaching VMGENID device")
	d.handle = nil
	d.state = Unbound
	d.addr = 0
}

// Notify handles a change notification from the platform. The event code is
// logged but otherwise ignored. The notification count is incremented and
// the GUID is read again. If the read fails, the previous GUID is retained
// and the error is returned.
//
// Notifications for an unbound device are ignored.
func (d *Device) Notify(event uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Unbound {
		d.log.WithField("event", event).Debug("ignoring notification for unbound device")
		return nil
	}

	log := d.log.WithFields(logrus.Fields{"device": d.handle.Name(), "event": event})
	log.Info("received a VMGENID ACPI notification")

	d.notices++
	return d.readLocked(log)
}

// Refresh reads the GUID again without counting a notification.
func (d *Device) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log := d.log
	if d.handle != nil {
		log = log.WithField("device", d.handle.Name())
	}
	return d.readLocked(log)
}

func (d *Device) readLocked(log logrus.FieldLogger) error {
	guid, err := copyGUID(d.mem, d.addr, log)
	if err != nil {
		log.WithError(err).Error("cannot read VMGENID")
		return err
	}

	if guid != d.guid {
		log.WithField("guid", guid).Debug("VMGENID updated")
	}
	d.guid = guid
	return nil
}

// Handle returns the bound firmware device, or nil if the device is unbound.
func (d *Device) Handle() DeviceHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// State returns the current binding state of the device.
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Address returns the resolved physical address of the VM generation ID,
// or zero if it isn't known.
func (d *Device) Address() PhysAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// GUID returns the most recently read VM generation ID. It is all zeroes
// until the first successful read.
func (d *Device) GUID() GUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.guid
}

// Notices returns the number of change notifications received. The count
// wraps at 2^32.
func (d *Device) Notices() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notices
}

// Attributes returns the read-only "notices" and "guid" attributes for
// this device.
func (d *Device) Attributes() []Attribute {
	return []Attribute{
		{Name: NoticesAttribute, Show: func() string {
			return strconv.FormatUint(uint64(d.Notices()), 10)
		}},
		{Name: GUIDAttribute, Show: func() string {
			return d.GUID().String()
		}},
	}
}
