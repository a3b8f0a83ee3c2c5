// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package linux

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid"
)

// NotifyCode is the ACPI notification code that the kernel's VM generation
// ID driver receives when the ID changes.
const NotifyCode = 0x80

const (
	ueventBufferSize = 8192
	ueventPollMillis = 250
)

type uevent struct {
	action  string
	devpath string
	env     map[string]string
}

// parseUevent decodes a message received from the kernel uevent netlink
// socket.
func parseUevent(msg []byte) (*uevent, error) {
	if bytes.HasPrefix(msg, []byte("libudev")) {
		return nil, errors.New("not a kernel uevent")
	}

	fields := bytes.Split(bytes.TrimRight(msg, "\x00"), []byte{0})
	header := string(fields[0])
	at := strings.IndexByte(header, '@')
	if at < 1 {
		return nil, xerrors.Errorf("invalid header %q", header)
	}

	ev := &uevent{
		action:  header[:at],
		devpath: header[at+1:],
		env:     make(map[string]string)}
	for _, field := range fields[1:] {
		kv := strings.SplitN(string(field), "=", 2)
		if len(kv) != 2 {
			continue
		}
		ev.env[kv[0]] = kv[1]
	}
	return ev, nil
}

// event converts a uevent into a notification for the device it refers to.
// Only change events for ACPI devices and events announcing a new VM
// generation ID are converted.
func (u *uevent) event() (vmgenid.Event, bool) {
	if u.action != "change" {
		return vmgenid.Event{}, false
	}
	if u.env["SUBSYSTEM"] != "acpi" && u.env["NEW_VMGENID"] != "1" {
		return vmgenid.Event{}, false
	}
	devpath := u.devpath
	if p, ok := u.env["DEVPATH"]; ok {
		devpath = p
	}
	return vmgenid.Event{Device: path.Base(devpath), Code: NotifyCode}, true
}

// UeventMonitor listens for kernel uevents and converts those that relate
// to ACPI device changes into vmgenid.Event notifications.
type UeventMonitor struct {
	fd  int
	log logrus.FieldLogger
}

// NewUeventMonitor opens a kernel uevent netlink socket. If log is nil, the
// standard logrus logger is used.
func NewUeventMonitor(log logrus.FieldLogger) (*UeventMonitor, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, xerrors.Errorf("cannot create netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, xerrors.Errorf("cannot bind netlink socket: %w", err)
	}

	return &UeventMonitor{fd: fd, log: log}, nil
}

// Run sends an event on the supplied channel for each relevant uevent until
// the context is cancelled. The channel is closed on return.
func (m *UeventMonitor) Run(ctx context.Context, events chan<- vmgenid.Event) error {
	defer close(events)

	buf := make([]byte, ueventBufferSize)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, ueventPollMillis)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return xerrors.Errorf("cannot poll netlink socket: %w", err)
		case n == 0:
			continue
		}

		n, _, err = unix.Recvfrom(m.fd, buf, 0)
		switch {
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		case err == unix.ENOBUFS:
			m.log.Warn("uevent socket overrun, notifications may have been lost")
			continue
		case err != nil:
			return xerrors.Errorf("cannot receive from netlink socket: %w", err)
		}

		u, err := parseUevent(buf[:n])
		if err != nil {
			m.log.WithError(err).Debug("ignoring uevent")
			continue
		}
		ev, ok := u.event()
		if !ok {
			continue
		}
		m.log.WithField("device", ev.Device).Debug("received ACPI change uevent")

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the netlink socket.
func (m *UeventMonitor) Close() error {
	return unix.Close(m.fd)
}
