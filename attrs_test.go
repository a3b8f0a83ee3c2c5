// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid_test

import (
	"os"

	"github.com/twpayne/go-vfs"
	"github.com/twpayne/go-vfs/vfst"
	. "gopkg.in/check.v1"

	. "github.com/canonical/go-vmgenid"
)

type fsPublisherSuite struct {
	fs      vfs.FS
	cleanup func()
}

var _ = Suite(&fsPublisherSuite{})

func (s *fsPublisherSuite) SetUpTest(c *C) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/run": &vfst.Dir{Perm: 0755}})
	c.Assert(err, IsNil)
	s.fs = fs
	s.cleanup = cleanup
}

func (s *fsPublisherSuite) TearDownTest(c *C) {
	s.cleanup()
}

func (s *fsPublisherSuite) readAttr(c *C, path string) string {
	data, err := s.fs.ReadFile(path)
	c.Assert(err, IsNil)
	return string(data)
}

func (s *fsPublisherSuite) TestCreateGroup(c *C) {
	p := NewFSPublisher(s.fs, "/run/vmgenid")
	value := "0"
	c.Assert(p.CreateGroup("vmgenid", []Attribute{
		{Name: "notices", Show: func() string { return value }},
		{Name: "guid", Show: func() string { return "00000000-0000-0000-0000-000000000000" }},
	}), IsNil)

	c.Check(s.readAttr(c, "/run/vmgenid/vmgenid/notices"), Equals, "0\n")
	c.Check(s.readAttr(c, "/run/vmgenid/vmgenid/guid"), Equals, "00000000-0000-0000-0000-000000000000\n")

	fi, err := s.fs.Stat("/run/vmgenid/vmgenid/notices")
	c.Assert(err, IsNil)
	c.Check(fi.Mode().Perm(), Equals, os.FileMode(0444))

	entries, err := s.fs.ReadDir("/run/vmgenid/vmgenid")
	c.Assert(err, IsNil)
	c.Check(entries, HasLen, 2)
}

func (s *fsPublisherSuite) TestCreateGroupTwice(c *C) {
	p := NewFSPublisher(s.fs, "/run/vmgenid")
	c.Assert(p.CreateGroup("vmgenid", nil), IsNil)
	c.Check(p.CreateGroup("vmgenid", nil), ErrorMatches, "group vmgenid already exists")
}

func (s *fsPublisherSuite) TestCreateGroupReadOnly(c *C) {
	p := NewFSPublisher(vfs.NewReadOnlyFS(s.fs), "/run/vmgenid")
	err := p.CreateGroup("vmgenid", []Attribute{{Name: "notices", Show: func() string { return "0" }}})
	c.Check(err, ErrorMatches, "cannot create directory for group vmgenid: .*")

	// The group wasn't registered.
	c.Check(p.UpdateGroup("vmgenid"), ErrorMatches, "no group vmgenid")
}

func (s *fsPublisherSuite) TestCreateGroupWriteFails(c *C) {
	c.Assert(vfs.MkdirAll(s.fs, "/run/vmgenid/vmgenid/guid/busy", 0755), IsNil)

	p := NewFSPublisher(s.fs, "/run/vmgenid")
	err := p.CreateGroup("vmgenid", []Attribute{
		{Name: "notices", Show: func() string { return "0" }},
		{Name: "guid", Show: func() string { return "00000000-0000-0000-0000-000000000000" }},
	})
	c.Check(err, ErrorMatches, "cannot write attribute guid: rename .*")

	_, err = s.fs.Stat("/run/vmgenid/vmgenid")
	c.Check(os.IsNotExist(err), Equals, true)
	c.Check(p.UpdateGroup("vmgenid"), ErrorMatches, "no group vmgenid")
}

func (s *fsPublisherSuite) TestCreateGroupStaleTemporaryFile(c *C) {
	c.Assert(vfs.MkdirAll(s.fs, "/run/vmgenid/vmgenid/.notices.tmp/busy", 0755), IsNil)

	p := NewFSPublisher(s.fs, "/run/vmgenid")
	err := p.CreateGroup("vmgenid", []Attribute{{Name: "notices", Show: func() string { return "0" }}})
	c.Check(err, ErrorMatches, "cannot write attribute notices: cannot remove stale temporary file: .*")

	_, err = s.fs.Stat("/run/vmgenid/vmgenid")
	c.Check(os.IsNotExist(err), Equals, true)
}

func (s *fsPublisherSuite) TestUpdateGroup(c *C) {
	p := NewFSPublisher(s.fs, "/run/vmgenid")
	value := "0"
	c.Assert(p.CreateGroup("vmgenid", []Attribute{{Name: "notices", Show: func() string { return value }}}), IsNil)

	value = "3"
	c.Check(p.UpdateGroup("vmgenid"), IsNil)
	c.Check(s.readAttr(c, "/run/vmgenid/vmgenid/notices"), Equals, "3\n")

	entries, err := s.fs.ReadDir("/run/vmgenid/vmgenid")
	c.Assert(err, IsNil)
	c.Check(entries, HasLen, 1)
}

func (s *fsPublisherSuite) TestUpdateMissingGroup(c *C) {
	p := NewFSPublisher(s.fs, "/run/vmgenid")
	c.Check(p.UpdateGroup("vmgenid"), ErrorMatches, "no group vmgenid")
}

func (s *fsPublisherSuite) TestRemoveGroup(c *C) {
	p := NewFSPublisher(s.fs, "/run/vmgenid")
	c.Assert(p.CreateGroup("vmgenid", []Attribute{{Name: "notices", Show: func() string { return "0" }}}), IsNil)

	c.Check(p.RemoveGroup("vmgenid"), IsNil)
	_, err := s.fs.Stat("/run/vmgenid/vmgenid")
	c.Check(os.IsNotExist(err), Equals, true)

	c.Check(p.RemoveGroup("vmgenid"), ErrorMatches, "no group vmgenid")
}

func (s *fsPublisherSuite) TestModuleAttributes(c *C) {
	mem := newMockMemory(testGUIDAddr, make([]byte, 16))
	mem.set(c, testGUIDAddr, testGUID1)
	bus := &mockBus{devices: []*mockHandle{newMockHandle("QEMUVGID:00", "QEMUVGID").withAddr(0x7ffff000, 0x1)}}

	m := NewModule(bus, NewFSPublisher(s.fs, "/run"), mem, nil)
	c.Assert(m.Load(), IsNil)
	c.Check(s.readAttr(c, "/run/vmgenid/notices"), Equals, "0\n")
	c.Check(s.readAttr(c, "/run/vmgenid/guid"), Equals, "4f58fa39-1122-3344-5566-778899aabb00\n")

	mem.set(c, testGUIDAddr, testGUID2)
	m.Notify(bus.added[0], 0x80)
	c.Check(s.readAttr(c, "/run/vmgenid/notices"), Equals, "1\n")
	c.Check(s.readAttr(c, "/run/vmgenid/guid"), Equals, "cbb219d7-3a3d-9645-a3bc-dad00e67656f\n")

	c.Check(m.Unload(), IsNil)
	_, err := s.fs.Stat("/run/vmgenid")
	c.Check(os.IsNotExist(err), Equals, true)
}
