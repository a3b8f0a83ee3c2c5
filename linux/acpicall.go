// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package linux

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/twpayne/go-vfs"
	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid"
)

// errMethodNotFound is returned from acpi_call when the requested object
// doesn't exist in the namespace.
var errMethodNotFound = errors.New("AE_NOT_FOUND")

// realACPICall evaluates the supplied absolute ACPI method path using the
// interface provided by the acpi_call kernel module, and returns the raw
// reply.
func realACPICall(fs vfs.FS, method string) (string, error) {
	w, err := fs.OpenFile(acpiCallPath, os.O_WRONLY, 0)
	if err != nil {
		return "", err
	}
	if _, err := w.WriteString(method); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	r, err := fs.Open(acpiCallPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	reply, err := ioutil.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

// acpiCallParser decodes replies from acpi_call. Integers are formatted as
// "0x..", strings as "\"..\"", buffers as "{0x.., 0x..}" and packages as
// "[.., ..]". Objects of any other type are formatted as "Object type 0x..".
type acpiCallParser struct {
	s   string
	pos int
}

func (p *acpiCallParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n') {
		p.pos++
	}
}

func (p *acpiCallParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *acpiCallParser) errorf(format string, args ...interface{}) error {
	return xerrors.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *acpiCallParser) parseInteger() (uint64, error) {
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("0123456789abcdefABCDEFx", p.s[p.pos]) >= 0 {
		p.pos++
	}
	tok := p.s[start:p.pos]
	if !strings.HasPrefix(tok, "0x") {
		p.pos = start
		return 0, p.errorf("invalid integer %q", tok)
	}
	n, err := strconv.ParseUint(tok[2:], 16, 64)
	if err != nil {
		p.pos = start
		return 0, p.errorf("invalid integer %q", tok)
	}
	return n, nil
}

func (p *acpiCallParser) parseString() (vmgenid.String, error) {
	p.pos++
	end := strings.IndexByte(p.s[p.pos:], '"')
	if end < 0 {
		return "", p.errorf("unterminated string")
	}
	str := p.s[p.pos : p.pos+end]
	p.pos += end + 1
	return vmgenid.String(str), nil
}

const otherObjectPrefix = "Object type "

func (p *acpiCallParser) parseOther() (vmgenid.Other, error) {
	if !strings.HasPrefix(p.s[p.pos:], otherObjectPrefix) {
		return 0, p.errorf("unexpected character %q", p.peek())
	}
	p.pos += len(otherObjectPrefix)
	n, err := p.parseInteger()
	if err != nil {
		return 0, err
	}
	if n > math.MaxUint32 {
		return 0, p.errorf("object type out of range")
	}
	return vmgenid.Other(n), nil
}

func (p *acpiCallParser) parseList(end byte, elem func() error) error {
	p.pos++
	p.skipSpace()
	if p.peek() == end {
		p.pos++
		return nil
	}
	for {
		p.skipSpace()
		if err := elem(); err != nil {
			return err
		}
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case end:
			p.pos++
			return nil
		default:
			return p.errorf("expected ',' or '%c'", end)
		}
	}
}

func (p *acpiCallParser) parseBuffer() (vmgenid.Buffer, error) {
	buf := vmgenid.Buffer{}
	err := p.parseList('}', func() error {
		n, err := p.parseInteger()
		if err != nil {
			return err
		}
		if n > 0xff {
			return p.errorf("buffer element out of range")
		}
		buf = append(buf, byte(n))
		return nil
	})
	return buf, err
}

func (p *acpiCallParser) parsePackage() (vmgenid.Package, error) {
	pkg := vmgenid.Package{}
	err := p.parseList(']', func() error {
		obj, err := p.parseObject()
		if err != nil {
			return err
		}
		pkg = append(pkg, obj)
		return nil
	})
	return pkg, err
}

func (p *acpiCallParser) parseObject() (vmgenid.Object, error) {
	p.skipSpace()
	switch p.peek() {
	case '"':
		return p.parseString()
	case '{':
		return p.parseBuffer()
	case '[':
		return p.parsePackage()
	case 'O':
		return p.parseOther()
	case '0':
		n, err := p.parseInteger()
		if err != nil {
			return nil, err
		}
		return vmgenid.Integer(n), nil
	default:
		return nil, p.errorf("unexpected character %q", p.peek())
	}
}

// parseACPICallReply decodes the reply to an acpi_call request.
func parseACPICallReply(reply string) (vmgenid.Object, error) {
	reply = strings.TrimSpace(strings.TrimRight(reply, "\x00"))

	switch {
	case strings.HasPrefix(reply, "Error: "):
		status := strings.TrimSpace(strings.TrimPrefix(reply, "Error: "))
		if strings.HasPrefix(status, errMethodNotFound.Error()) {
			return nil, errMethodNotFound
		}
		return nil, errors.New(status)
	case reply == "not called":
		return nil, errors.New("no method was called")
	}

	p := &acpiCallParser{s: reply}
	obj, err := p.parseObject()
	if err != nil {
		return nil, xerrors.Errorf("cannot decode reply: %w", err)
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, xerrors.Errorf("cannot decode reply: %w", p.errorf("trailing data"))
	}
	return obj, nil
}
