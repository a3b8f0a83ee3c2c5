// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package linux_test

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/twpayne/go-vfs"
	"github.com/twpayne/go-vfs/vfst"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
	. "gopkg.in/check.v1"

	"github.com/canonical/go-vmgenid"
	. "github.com/canonical/go-vmgenid/linux"
)

type devMemSuite struct {
	pageSize int
	path     string
	data     []byte
	restore  func()
}

var _ = Suite(&devMemSuite{})

var testGUIDBytes = []byte{0x4f, 0x58, 0xfa, 0x39, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0x00}

func (s *devMemSuite) SetUpTest(c *C) {
	s.pageSize = unix.Getpagesize()
	s.data = make([]byte, 3*s.pageSize)
	s.path = filepath.Join(c.MkDir(), "mem")
	s.restore = MockDevMemPath(s.path)
}

func (s *devMemSuite) TearDownTest(c *C) {
	s.restore()
}

func (s *devMemSuite) writeGUID(c *C, addr vmgenid.PhysAddr, guid []byte) {
	copy(s.data[addr:], guid)
	c.Assert(ioutil.WriteFile(s.path, s.data, 0600), IsNil)
}

func (s *devMemSuite) readMapping(m vmgenid.Mapping, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.ReadUint8(i)
	}
	return out
}

func (s *devMemSuite) TestMap(c *C) {
	addr := vmgenid.PhysAddr(s.pageSize + 8)
	s.writeGUID(c, addr, testGUIDBytes)

	m, err := NewDevMem().Map(addr, 16)
	c.Assert(err, IsNil)
	c.Check(s.readMapping(m, 16), DeepEquals, testGUIDBytes)
	c.Check(m.Unmap(), IsNil)
	c.Check(m.Unmap(), ErrorMatches, "mapping already released")
}

func (s *devMemSuite) TestMapStraddlesPages(c *C) {
	addr := vmgenid.PhysAddr(2*s.pageSize - 4)
	s.writeGUID(c, addr, testGUIDBytes)

	m, err := NewDevMem().Map(addr, 16)
	c.Assert(err, IsNil)
	defer m.Unmap()
	c.Check(s.readMapping(m, 16), DeepEquals, testGUIDBytes)
}

func (s *devMemSuite) TestMapOutOfRangeRead(c *C) {
	s.writeGUID(c, 0, testGUIDBytes)

	m, err := NewDevMem().Map(8, 16)
	c.Assert(err, IsNil)
	defer m.Unmap()
	c.Check(func() { m.ReadUint8(16) }, PanicMatches, "offset out of range")
}

func (s *devMemSuite) TestMapInvalidLength(c *C) {
	_, err := NewDevMem().Map(8, 0)
	c.Check(err, ErrorMatches, "invalid length 0")
}

func (s *devMemSuite) TestMapNoDevMem(c *C) {
	_, err := NewDevMem().Map(8, 16)
	c.Check(os.IsNotExist(err), Equals, true)
}

func (s *devMemSuite) TestMapUsesSyncReadOnly(c *C) {
	s.writeGUID(c, 0, testGUIDBytes)

	var flags int
	restore := MockOsOpenFile(func(path string, flag int, perm os.FileMode) (*os.File, error) {
		c.Check(path, Equals, s.path)
		flags = flag
		return os.OpenFile(path, flag, perm)
	})
	defer restore()

	m, err := NewDevMem().Map(0, 16)
	c.Assert(err, IsNil)
	c.Check(m.Unmap(), IsNil)
	c.Check(flags, Equals, os.O_RDONLY|unix.O_SYNC)
}

func (s *devMemSuite) TestMapMmapFails(c *C) {
	s.writeGUID(c, 0, testGUIDBytes)

	var f *os.File
	restore := MockOsOpenFile(func(path string, flag int, perm os.FileMode) (*os.File, error) {
		var err error
		f, err = os.OpenFile(path, flag, perm)
		return f, err
	})
	defer restore()
	restore2 := MockUnixMmap(func(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
		c.Check(offset, Equals, int64(s.pageSize))
		c.Check(length, Equals, s.pageSize)
		c.Check(prot, Equals, unix.PROT_READ)
		return nil, unix.EPERM
	})
	defer restore2()

	_, err := NewDevMem().Map(vmgenid.PhysAddr(s.pageSize+8), 16)
	c.Check(err, ErrorMatches, fmt.Sprintf("cannot mmap %d bytes at %#x: operation not permitted", s.pageSize, s.pageSize))
	c.Check(xerrors.Is(err, unix.EPERM), Equals, true)

	// The file was closed.
	c.Assert(f, NotNil)
	c.Check(errors.Is(f.Close(), os.ErrClosed), Equals, true)
}

func (s *devMemSuite) TestUnmapFails(c *C) {
	s.writeGUID(c, 0, testGUIDBytes)

	restore := MockUnixMunmap(func(b []byte) error {
		unix.Munmap(b)
		return unix.EINVAL
	})
	defer restore()

	m, err := NewDevMem().Map(0, 16)
	c.Assert(err, IsNil)
	c.Check(m.Unmap(), Equals, unix.EINVAL)
}

func (s *devMemSuite) TestModule(c *C) {
	addr := vmgenid.PhysAddr(s.pageSize + 0x10)
	s.writeGUID(c, addr, testGUIDBytes)

	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/sys/bus/acpi/devices/QEMUVGID:00": map[string]interface{}{
			"hid":      "QEMUVGID\n",
			"modalias": "acpi:QEMUVGID:VM_Gen_Counter:\n",
			"path":     "\\_SB_.VGEN\n",
			"status":   "15\n",
		},
		"/run": &vfst.Dir{Perm: 0755},
	})
	c.Assert(err, IsNil)
	defer cleanup()

	restore := MockACPICall(func(_ vfs.FS, method string) (string, error) {
		c.Check(method, Equals, `\_SB_.VGEN.ADDR`)
		return fmt.Sprintf("[%#x, 0x0]", uint64(addr)), nil
	})
	defer restore()

	m := vmgenid.NewModule(NewACPIBus(fs, nil), vmgenid.NewFSPublisher(fs, "/run"), NewDevMem(), nil)
	c.Assert(m.Load(), IsNil)
	defer m.Unload()

	guid, err := fs.ReadFile("/run/vmgenid/guid")
	c.Check(err, IsNil)
	c.Check(string(guid), Equals, "4f58fa39-1122-3344-5566-778899aabb00\n")

	s.writeGUID(c, addr, []byte{0xcb, 0xb2, 0x19, 0xd7, 0x3a, 0x3d, 0x96, 0x45, 0xa3, 0xbc, 0xda, 0xd0, 0x0e, 0x67, 0x65, 0x6f})
	m.Notify(m.Device().Handle(), NotifyCode)

	guid, err = fs.ReadFile("/run/vmgenid/guid")
	c.Check(err, IsNil)
	c.Check(string(guid), Equals, "cbb219d7-3a3d-9645-a3bc-dad00e67656f\n")
	notices, err := fs.ReadFile("/run/vmgenid/notices")
	c.Check(err, IsNil)
	c.Check(string(notices), Equals, "1\n")
}
