// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/twpayne/go-vfs"
	"golang.org/x/xerrors"
)

const (
	// AttributeGroup is the name of the group that the attributes of a
	// module are published under.
	AttributeGroup = "vmgenid"

	// NoticesAttribute is the name of the attribute containing the
	// number of change notifications as a decimal string.
	NoticesAttribute = "notices"

	// GUIDAttribute is the name of the attribute containing the VM
	// generation ID.
	GUIDAttribute = "guid"
)

// Attribute is a named, read-only value. Show returns the current value.
type Attribute struct {
	Name string
	Show func() string
}

// AttributePublisher publishes groups of read-only attributes for
// inspection by other processes.
type AttributePublisher interface {
	// CreateGroup publishes the supplied attributes under the named group.
	CreateGroup(name string, attrs []Attribute) error

	// UpdateGroup republishes the current values of the attributes in
	// the named group.
	UpdateGroup(name string) error

	// RemoveGroup withdraws the named group.
	RemoveGroup(name string) error
}

type nullAttributePublisher struct{}

func (p nullAttributePublisher) CreateGroup(name string, attrs []Attribute) error { return nil }
func (p nullAttributePublisher) UpdateGroup(name string) error                    { return nil }
func (p nullAttributePublisher) RemoveGroup(name string) error                    { return nil }

// NullAttributePublisher is an AttributePublisher that publishes nothing.
var NullAttributePublisher AttributePublisher = nullAttributePublisher{}

// FSPublisher is an AttributePublisher that publishes each group as a
// directory beneath a root directory, with one read-only file per attribute.
// Each file contains the attribute value followed by a newline. Files are
// replaced atomically so that readers never observe a partial value.
type FSPublisher struct {
	fs   vfs.FS
	root string

	mu     sync.Mutex
	groups map[string][]Attribute
}

// NewFSPublisher returns a new FSPublisher that creates groups beneath the
// root directory of fs.
func NewFSPublisher(fs vfs.FS, root string) *FSPublisher {
	return &FSPublisher{
		fs:     fs,
		root:   root,
		groups: make(map[string][]Attribute)}
}

func (p *FSPublisher) groupPath(name string) string {
	return filepath.Join(p.root, name)
}

func (p *FSPublisher) writeAttribute(dir string, attr Attribute) error {
	path := filepath.Join(dir, attr.Name)
	tmp := filepath.Join(dir, "."+attr.Name+".tmp")

	if err := p.fs.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("cannot remove stale temporary file: %w", err)
	}
	if err := p.fs.WriteFile(tmp, []byte(attr.Show()+"\n"), 0444); err != nil {
		return err
	}
	if err := p.fs.Rename(tmp, path); err != nil {
		if rmErr := p.fs.Remove(tmp); rmErr != nil {
			return multierror.Append(err, xerrors.Errorf("cannot remove temporary file: %w", rmErr))
		}
		return err
	}
	return nil
}

func (p *FSPublisher) writeGroup(name string, attrs []Attribute) error {
	dir := p.groupPath(name)
	for _, attr := range attrs {
		if err := p.writeAttribute(dir, attr); err != nil {
			return xerrors.Errorf("cannot write attribute %s: %w", attr.Name, err)
		}
	}
	return nil
}

// CreateGroup creates a directory for the named group and writes the
// initial value of each attribute to it. If any attribute can't be written,
// the directory is removed again.
func (p *FSPublisher) CreateGroup(name string, attrs []Attribute) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.groups[name]; exists {
		return xerrors.Errorf("group %s already exists", name)
	}

	dir := p.groupPath(name)
	if err := vfs.MkdirAll(p.fs, dir, 0755); err != nil {
		return xerrors.Errorf("cannot create directory for group %s: %w", name, err)
	}

	if err := p.writeGroup(name, attrs); err != nil {
		if rmErr := p.fs.RemoveAll(dir); rmErr != nil {
			return multierror.Append(err, xerrors.Errorf("cannot remove incomplete group %s: %w", name, rmErr))
		}
		return err
	}

	p.groups[name] = attrs
	return nil
}

// UpdateGroup rewrites every attribute of the named group with its current
// value.
func (p *FSPublisher) UpdateGroup(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	attrs, exists := p.groups[name]
	if !exists {
		return xerrors.Errorf("no group %s", name)
	}
	return p.writeGroup(name, attrs)
}

// RemoveGroup removes the directory of the named group.
func (p *FSPublisher) RemoveGroup(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.groups[name]; !exists {
		return xerrors.Errorf("no group %s", name)
	}
	delete(p.groups, name)

	return p.fs.RemoveAll(p.groupPath(name))
}
