// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"io"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// GUID is the 16-byte VM generation ID, in the byte order in which it
// appears in memory.
type GUID [16]byte

// String returns the GUID in the form "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx".
// Unlike EFI GUIDs, no fields are byte swapped: the digits appear in memory
// order.
func (guid GUID) String() string {
	return uuid.UUID(guid).String()
}

// IsZero indicates whether all bytes of the GUID are zero, which is the case
// until the first successful read.
func (guid GUID) IsZero() bool {
	return guid == GUID{}
}

// ReadGUID reads a GUID from the supplied io.Reader.
func ReadGUID(r io.Reader) (out GUID, err error) {
	_, err = io.ReadFull(r, out[:])
	return
}

// DecodeGUIDString decodes the supplied GUID string. The string must have
// the format "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" and may be surrounded
// by curly braces.
func DecodeGUIDString(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, xerrors.Errorf("invalid format: %w", err)
	}
	return GUID(u), nil
}
