// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package linux provides the Linux implementations of the interfaces
// consumed by the vmgenid package: device discovery via sysfs, firmware
// method evaluation via the acpi_call kernel module, physical memory access
// via /dev/mem and change notifications via kernel uevents.
package linux

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-vfs"
	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid"
)

// acpiModaliasRE matches a modalias for an ACPI node, capturing the
// colon separated list of IDs.
var acpiModaliasRE = regexp.MustCompile(`^acpi:([[:alnum:]_:]*)`)

// acpiStatusPresent is the bit in the result of _STA that indicates that
// a device is present.
const acpiStatusPresent = 0x1

func acpiDevicesPath() string {
	return filepath.Join(sysfsPath, "bus", "acpi", "devices")
}

// ACPIDevice is a device on the ACPI bus. Its firmware methods are evaluated
// through the acpi_call kernel module.
type ACPIDevice struct {
	fs    vfs.FS
	name  string
	hid   string
	path  string
	ids   []string
	match string
}

// Name returns the name of the device on the ACPI bus, eg, "QEMUVGID:00".
func (d *ACPIDevice) Name() string {
	return d.name
}

// HardwareID returns the ID that the device was matched with.
func (d *ACPIDevice) HardwareID() string {
	if d.match != "" {
		return d.match
	}
	return d.hid
}

// Path returns the absolute path of the device in the ACPI namespace, eg,
// "\_SB_.VGEN".
func (d *ACPIDevice) Path() string {
	return d.path
}

func (d *ACPIDevice) methodPath(name string) string {
	return d.path + "." + name
}

func (d *ACPIDevice) call(name string) (string, error) {
	if d.path == "" {
		return "", xerrors.Errorf("device %s has no ACPI path", d.name)
	}
	reply, err := acpiCall(d.fs, d.methodPath(name))
	if err != nil {
		return "", xerrors.Errorf("cannot call %s: %w", d.methodPath(name), err)
	}
	return reply, nil
}

// HasMethod indicates whether the device implements the named method. As
// acpi_call has no way to look up an object without evaluating it, this
// evaluates the method. Any reply other than AE_NOT_FOUND means that the
// method exists, even if the reply can't be decoded.
func (d *ACPIDevice) HasMethod(name string) (bool, error) {
	reply, err := d.call(name)
	if err != nil {
		return false, err
	}
	if _, err := parseACPICallReply(reply); xerrors.Is(err, errMethodNotFound) {
		return false, nil
	}
	return true, nil
}

// EvaluateMethod evaluates the named method through acpi_call and decodes
// the reply.
func (d *ACPIDevice) EvaluateMethod(name string) (vmgenid.Object, error) {
	reply, err := d.call(name)
	if err != nil {
		return nil, err
	}
	return parseACPICallReply(reply)
}

func readSysfsString(fs vfs.FS, path string) (string, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func newACPIDevice(fs vfs.FS, dir string) (*ACPIDevice, error) {
	dev := &ACPIDevice{fs: fs, name: filepath.Base(dir)}

	hid, err := readSysfsString(fs, filepath.Join(dir, "hid"))
	if err != nil {
		return nil, err
	}
	dev.hid = hid
	dev.ids = append(dev.ids, hid)

	modalias, err := readSysfsString(fs, filepath.Join(dir, "modalias"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		m := acpiModaliasRE.FindStringSubmatch(modalias)
		if len(m) == 0 {
			return nil, xerrors.Errorf("invalid modalias %q", modalias)
		}
		for _, id := range strings.Split(m[1], ":") {
			if id != "" && id != hid {
				dev.ids = append(dev.ids, id)
			}
		}
	}

	path, err := readSysfsString(fs, filepath.Join(dir, "path"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		dev.path = path
	}

	return dev, nil
}

func acpiDevicePresent(fs vfs.FS, dir string) (bool, error) {
	status, err := readSysfsString(fs, filepath.Join(dir, "status"))
	switch {
	case os.IsNotExist(err):
		return true, nil
	case err != nil:
		return false, err
	}
	sta, err := strconv.ParseUint(status, 10, 32)
	if err != nil {
		return false, xerrors.Errorf("invalid status %q: %w", status, err)
	}
	return sta&acpiStatusPresent != 0, nil
}

// ACPIBus is a vmgenid.Bus that matches devices enumerated by the kernel
// in sysfs.
type ACPIBus struct {
	fs  vfs.FS
	log logrus.FieldLogger

	mu      sync.Mutex
	drivers map[string][]*ACPIDevice
}

// NewACPIBus returns a new ACPIBus that enumerates devices via sysfs on the
// supplied filesystem. If log is nil, the standard logrus logger is used.
func NewACPIBus(fs vfs.FS, log logrus.FieldLogger) *ACPIBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ACPIBus{
		fs:      fs,
		log:     log,
		drivers: make(map[string][]*ACPIDevice)}
}

func (b *ACPIBus) scan() ([]*ACPIDevice, error) {
	entries, err := b.fs.ReadDir(acpiDevicesPath())
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var devices []*ACPIDevice
	for _, entry := range entries {
		dir := filepath.Join(acpiDevicesPath(), entry.Name())

		dev, err := newACPIDevice(b.fs, dir)
		if err != nil {
			b.log.WithError(err).WithField("device", entry.Name()).Debug("skipping ACPI device")
			continue
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

func matchDevice(dev *ACPIDevice, ids []string) (string, bool) {
	for _, id := range dev.ids {
		for _, want := range ids {
			if id == want {
				return id, true
			}
		}
	}
	return "", false
}

// RegisterDriver scans the ACPI bus and calls the driver's Add method for
// each present device that matches one of its IDs. An error from Add is
// logged, and the device is still considered to be added.
func (b *ACPIBus) RegisterDriver(drv vmgenid.BusDriver) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.drivers[drv.Name()]; exists {
		return xerrors.Errorf("driver %q already registered", drv.Name())
	}

	devices, err := b.scan()
	if err != nil {
		return xerrors.Errorf("cannot enumerate ACPI devices: %w", err)
	}

	var added []*ACPIDevice
	for _, dev := range devices {
		id, ok := matchDevice(dev, drv.IDs())
		if !ok {
			continue
		}
		log := b.log.WithFields(logrus.Fields{"driver": drv.Name(), "device": dev.name})

		present, err := acpiDevicePresent(b.fs, filepath.Join(acpiDevicesPath(), dev.name))
		switch {
		case err != nil:
			log.WithError(err).Warn("cannot determine ACPI device status")
			continue
		case !present:
			log.Debug("ACPI device not present")
			continue
		}

		dev.match = id
		added = append(added, dev)
		if err := drv.Add(dev); err != nil {
			log.WithError(err).Warn("cannot add ACPI device")
		}
	}

	b.drivers[drv.Name()] = added
	return nil
}

// UnregisterDriver calls the driver's Remove method for each device that
// was added to it.
func (b *ACPIBus) UnregisterDriver(drv vmgenid.BusDriver) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	added, exists := b.drivers[drv.Name()]
	if !exists {
		return xerrors.Errorf("driver %q not registered", drv.Name())
	}
	delete(b.drivers, drv.Name())

	var result *multierror.Error
	for _, dev := range added {
		if err := drv.Remove(dev); err != nil {
			result = multierror.Append(result, xerrors.Errorf("cannot remove %s: %w", dev.name, err))
		}
	}
	return result.ErrorOrNil()
}

// Device returns the device with the specified name that was added to a
// driver.
func (b *ACPIBus) Device(name string) (*ACPIDevice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, added := range b.drivers {
		for _, dev := range added {
			if dev.name == name {
				return dev, true
			}
		}
	}
	return nil, false
}
