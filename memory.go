// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"github.com/sirupsen/logrus"
)

// PhysicalMemory provides temporary, uncached and read-only views of
// physical memory.
type PhysicalMemory interface {
	// Map creates a view of length bytes starting at addr. The returned
	// mapping must be released with Unmap.
	Map(addr PhysAddr, length int) (Mapping, error)
}

// Mapping is a view of physical memory created by PhysicalMemory.Map.
type Mapping interface {
	// ReadUint8 reads the byte at the specified offset from the start
	// of the mapping.
	ReadUint8(offset int) uint8

	// Unmap releases the mapping.
	Unmap() error
}

// copyGUID copies the GUID at addr out of physical memory. The mapping is
// released before returning on every path. A failure to release the mapping
// is logged and doesn't invalidate the bytes that were read.
func copyGUID(mem PhysicalMemory, addr PhysAddr, log logrus.FieldLogger) (GUID, error) {
	var out GUID
	if addr == 0 {
		return out, ErrAddressNotInitialized
	}

	m, err := mem.Map(addr, len(out))
	if err != nil {
		return out, &MappingError{Addr: addr, Err: err}
	}
	defer func() {
		if err := m.Unmap(); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("cannot release VMGENID mapping")
		}
	}()

	for i := range out {
		out[i] = m.ReadUint8(i)
	}
	return out, nil
}
