// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"fmt"

	"golang.org/x/xerrors"
)

// AddrMethod is the name of the firmware method that reports the physical
// address of the VM generation ID.
const AddrMethod = "ADDR"

// PhysAddr is a physical memory address. The zero value means that the
// address has not been resolved.
type PhysAddr uint64

func (a PhysAddr) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// decodeAddress decodes the result of the ADDR method, which is a package
// containing the low and high 32 bits of the address.
func decodeAddress(obj Object) (PhysAddr, error) {
	if obj == nil {
		return 0, xerrors.Errorf("no object returned: %w", ErrInvalidFirmwareData)
	}
	pkg, ok := obj.(Package)
	if !ok {
		return 0, xerrors.Errorf("unexpected %v object: %w", obj.Type(), ErrInvalidFirmwareData)
	}
	if len(pkg) != 2 {
		return 0, xerrors.Errorf("unexpected package length %d: %w", len(pkg), ErrInvalidFirmwareData)
	}

	var parts [2]uint64
	for i, elem := range pkg {
		n, ok := elem.(Integer)
		if !ok {
			return 0, xerrors.Errorf("unexpected element %d: %w", i, ErrInvalidFirmwareData)
		}
		parts[i] = uint64(n)
	}

	return PhysAddr(parts[0] + (parts[1] << 32)), nil
}

// resolveAddress obtains the address of the VM generation ID from the
// supplied firmware device. A device without an ADDR method is not an
// error, in which case it returns a zero address.
func resolveAddress(fw Firmware) (PhysAddr, error) {
	has, err := fw.HasMethod(AddrMethod)
	if err != nil {
		return 0, &FirmwareEvaluationError{Method: AddrMethod, Err: err}
	}
	if !has {
		return 0, nil
	}

	obj, err := fw.EvaluateMethod(AddrMethod)
	if err != nil {
		return 0, &FirmwareEvaluationError{Method: AddrMethod, Err: err}
	}

	return decodeAddress(obj)
}
