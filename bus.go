// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

// BusDriver is implemented by drivers that bind to firmware devices.
type BusDriver interface {
	Name() string
	Class() string

	// IDs returns the hardware IDs of the devices that the driver
	// supports.
	IDs() []string

	// Add is called when a device matching one of the driver's IDs is
	// found.
	Add(h DeviceHandle) error

	// Remove is called when a device previously passed to Add goes away
	// or when the driver is unregistered.
	Remove(h DeviceHandle) error

	// Notify is called for each notification the platform sends to a
	// device previously passed to Add. Notifications for a device are
	// delivered one at a time.
	Notify(h DeviceHandle, event uint32)
}

// Bus matches firmware devices against registered drivers.
type Bus interface {
	// RegisterDriver registers the supplied driver and calls its Add
	// method for each matching device.
	RegisterDriver(drv BusDriver) error

	// UnregisterDriver calls the driver's Remove method for each device
	// that was added and unregisters it.
	UnregisterDriver(drv BusDriver) error
}

// Event is a notification for the named device, as delivered by a platform
// specific notification source.
type Event struct {
	Device string
	Code   uint32
}
