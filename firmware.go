// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"fmt"
	"strings"
)

// ObjectType describes the type of an object returned from a firmware
// method.
type ObjectType int

const (
	IntegerType ObjectType = iota + 1 // an Integer
	StringType                        // a String
	BufferType                        // a Buffer
	PackageType                       // a Package
	OtherType                         // an Other
)

func (t ObjectType) String() string {
	switch t {
	case IntegerType:
		return "integer"
	case StringType:
		return "string"
	case BufferType:
		return "buffer"
	case PackageType:
		return "package"
	case OtherType:
		return "other"
	default:
		return fmt.Sprintf("ObjectType(%d)", int(t))
	}
}

// Object is a value returned from the evaluation of a firmware method.
type Object interface {
	Type() ObjectType
	String() string
}

// Integer corresponds to an ACPI integer object.
type Integer uint64

func (Integer) Type() ObjectType { return IntegerType }
func (i Integer) String() string { return fmt.Sprintf("%#x", uint64(i)) }

// String corresponds to an ACPI string object.
type String string

func (String) Type() ObjectType { return StringType }
func (s String) String() string { return fmt.Sprintf("%q", string(s)) }

// Buffer corresponds to an ACPI buffer object.
type Buffer []byte

func (Buffer) Type() ObjectType { return BufferType }

func (b Buffer) String() string {
	var elems []string
	for _, x := range b {
		elems = append(elems, fmt.Sprintf("0x%02x", x))
	}
	return "{" + strings.Join(elems, ", ") + "}"
}

// Package corresponds to an ACPI package object.
type Package []Object

func (Package) Type() ObjectType { return PackageType }

func (p Package) String() string {
	var elems []string
	for _, o := range p {
		elems = append(elems, o.String())
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

// Other corresponds to an ACPI object of a type that isn't otherwise
// represented here, such as a reference or a method. Its value is the ACPI
// object type code.
type Other uint32

func (Other) Type() ObjectType { return OtherType }
func (o Other) String() string { return fmt.Sprintf("Object type %#x", uint32(o)) }

// Firmware provides access to the methods a firmware device exposes.
type Firmware interface {
	// HasMethod indicates whether the device implements the named method.
	HasMethod(name string) (bool, error)

	// EvaluateMethod evaluates the named method, which takes no
	// arguments, and returns its result.
	EvaluateMethod(name string) (Object, error)
}
