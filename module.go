// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package vmgenid exposes the VM generation ID, a 128-bit value that a
// hypervisor changes whenever a virtual machine is reverted to a snapshot
// or forked. The physical address of the value is obtained from the ADDR
// method of an emulated ACPI device, and the value is read again each time
// the device signals a change.
package vmgenid

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// DriverName is the name that a Module registers its driver with.
	DriverName = "VM Generation ID"

	// DriverClass is the device class of the driver.
	DriverClass = "Windows"
)

// DeviceIDs are the hardware IDs of the emulated VM generation ID devices
// that a Module binds to.
var DeviceIDs = []string{
	"QEMUVGID", // QEMU
	"XEN0000",  // Xen
}

// Module is a driver for the VM generation ID device. Once loaded, it binds
// to the first matching device on its bus and publishes the "notices" and
// "guid" attributes of that device under the "vmgenid" group.
type Module struct {
	bus   Bus
	attrs AttributePublisher
	log   logrus.FieldLogger
	dev   *Device

	mu     sync.Mutex
	loaded bool
}

// NewModule returns a new module that binds to devices on bus, reads the
// VM generation ID through mem and publishes its attributes with attrs. If
// attrs is nil, nothing is published. If log is nil, the standard logrus
// logger is used.
func NewModule(bus Bus, attrs AttributePublisher, mem PhysicalMemory, log logrus.FieldLogger) *Module {
	if attrs == nil {
		attrs = NullAttributePublisher
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Module{
		bus:   bus,
		attrs: attrs,
		log:   log,
		dev:   NewDevice(mem, log)}
}

// Device returns the device state tracked by this module.
func (m *Module) Device() *Device {
	return m.dev
}

// Load publishes the module's attributes and registers it with the bus,
// which may bind a device before this returns. If either step fails, any
// partial registration is undone and an error matching
// ErrRegistrationFailure is returned.
func (m *Module) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return errors.New("module already loaded")
	}

	if err := m.attrs.CreateGroup(AttributeGroup, m.dev.Attributes()); err != nil {
		m.log.WithError(err).Error("unable to create VMGENID attributes")
		return &RegistrationError{What: "attribute group " + AttributeGroup, Err: err}
	}

	if err := m.bus.RegisterDriver(m); err != nil {
		m.log.WithError(err).Error("unable to register VMGENID")
		if err := m.attrs.RemoveGroup(AttributeGroup); err != nil {
			m.log.WithError(err).Warn("cannot remove VMGENID attributes")
		}
		m.dev.Detach()
		return &RegistrationError{What: "driver", Err: err}
	}

	m.loaded = true
	m.log.Info("VMGENID module registered")
	return nil
}

// Unload unregisters the module from its bus and withdraws its attributes.
func (m *Module) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return nil
	}
	m.loaded = false

	var result *multierror.Error
	if err := m.bus.UnregisterDriver(m); err != nil {
		result = multierror.Append(result, xerrors.Errorf("cannot unregister driver: %w", err))
	}
	m.dev.Detach()
	if err := m.attrs.RemoveGroup(AttributeGroup); err != nil {
		result = multierror.Append(result, xerrors.Errorf("cannot remove attributes: %w", err))
	}

	return result.ErrorOrNil()
}

// Run delivers the events received on the supplied channel to the bound
// device, one at a time, until the channel is closed or the context is
// cancelled. Events for other devices are ignored.
func (m *Module) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h := m.dev.Handle()
			if h == nil || h.Name() != ev.Device {
				m.log.WithField("device", ev.Device).Debug("ignoring event for unknown device")
				continue
			}
			m.Notify(h, ev.Code)
		}
	}
}

func (m *Module) update() {
	if err := m.attrs.UpdateGroup(AttributeGroup); err != nil {
		m.log.WithError(err).Warn("cannot update VMGENID attributes")
	}
}

func (m *Module) isBound(h DeviceHandle) bool {
	current := m.dev.Handle()
	return current != nil && current.Name() == h.Name()
}

// Name implements BusDriver.Name.
func (m *Module) Name() string { return DriverName }

// Class implements BusDriver.Class.
func (m *Module) Class() string { return DriverClass }

// IDs implements BusDriver.IDs, returning DeviceIDs.
func (m *Module) IDs() []string {
	return DeviceIDs
}

// Add implements BusDriver.Add. It binds the device, resolves the address
// of the VM generation ID and reads it. Only one device can be bound.
func (m *Module) Add(h DeviceHandle) error {
	m.log.WithFields(logrus.Fields{"device": h.Name(), "hid": h.HardwareID()}).Debug("adding VMGENID device")
	err := m.dev.Attach(h)
	m.update()
	return err
}

// Remove implements BusDriver.Remove. It unbinds the device.
func (m *Module) Remove(h DeviceHandle) error {
	if !m.isBound(h) {
		return xerrors.Errorf("device %s is not bound", h.Name())
	}
	m.dev.Detach()
	return nil
}

// Notify implements BusDriver.Notify. A notification for the bound device
// causes the VM generation ID to be read again and the published attributes
// to be updated.
func (m *Module) Notify(h DeviceHandle, event uint32) {
	if !m.isBound(h) {
		m.log.WithField("device", h.Name()).Debug("ignoring notification for unbound device")
		return
	}

	orig := m.dev.GUID()
	if err := m.dev.Notify(event); err == nil {
		if guid := m.dev.GUID(); guid != orig {
			m.log.WithFields(logrus.Fields{"old": orig, "new": guid}).Info("VM generation ID changed")
		}
	}
	m.update()
}
