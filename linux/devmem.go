// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package linux

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid"
)

// DevMem is a vmgenid.PhysicalMemory that maps physical memory via
// /dev/mem. Mappings are uncached and read-only.
type DevMem struct{}

// NewDevMem returns a new DevMem.
func NewDevMem() *DevMem {
	return &DevMem{}
}

func (m *DevMem) Map(addr vmgenid.PhysAddr, length int) (vmgenid.Mapping, error) {
	if length <= 0 {
		return nil, xerrors.Errorf("invalid length %d", length)
	}

	// O_SYNC gives an uncached mapping.
	f, err := osOpenFile(devMemPath, os.O_RDONLY|unix.O_SYNC, 0)
	if err != nil {
		return nil, err
	}

	pageSize := uint64(unixGetpagesize())
	base := uint64(addr) &^ (pageSize - 1)
	offset := int(uint64(addr) - base)
	size := (uint64(offset+length) + pageSize - 1) &^ (pageSize - 1)

	data, err := unixMmap(int(f.Fd()), int64(base), int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("cannot mmap %d bytes at %#x: %w", size, base, err)
	}

	return &devMemMapping{f: f, data: data, offset: offset, length: length}, nil
}

type devMemMapping struct {
	f      *os.File
	data   []byte
	offset int
	length int
}

func (m *devMemMapping) ReadUint8(offset int) uint8 {
	if offset < 0 || offset >= m.length {
		panic("offset out of range")
	}
	return m.data[m.offset+offset]
}

func (m *devMemMapping) Unmap() error {
	if m.data == nil {
		return xerrors.New("mapping already released")
	}
	err := unixMunmap(m.data)
	m.data = nil
	if closeErr := m.f.Close(); err == nil {
		err = closeErr
	}
	return err
}
