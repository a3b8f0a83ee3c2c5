// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressNotInitialized is returned when the GUID is read before
	// the firmware has reported its physical address.
	ErrAddressNotInitialized = errors.New("ADDR not initialized")

	// ErrMappingFailure is returned when the physical memory holding the
	// GUID cannot be mapped.
	ErrMappingFailure = errors.New("unable to map memory for access")

	// ErrInvalidFirmwareData is returned when the ADDR method returns
	// something other than a package of two integers.
	ErrInvalidFirmwareData = errors.New("invalid ADDR data")

	// ErrFirmwareEvaluation is returned when a firmware method cannot be
	// evaluated.
	ErrFirmwareEvaluation = errors.New("cannot evaluate firmware method")

	// ErrRegistrationFailure is returned from Module.Load when the driver or
	// its attributes cannot be registered.
	ErrRegistrationFailure = errors.New("cannot register VMGENID module")
)

// MappingError is returned when the physical memory at Addr cannot be mapped.
// It matches ErrMappingFailure.
type MappingError struct {
	Addr PhysAddr
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unable to map memory at %v for access: %v", e.Addr, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMappingFailure
}

// FirmwareEvaluationError is returned when evaluation of a firmware method
// fails. It matches ErrFirmwareEvaluation.
type FirmwareEvaluationError struct {
	Method string
	Err    error
}

func (e *FirmwareEvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %s: %v", e.Method, e.Err)
}

func (e *FirmwareEvaluationError) Unwrap() error {
	return e.Err
}

func (e *FirmwareEvaluationError) Is(target error) bool {
	return target == ErrFirmwareEvaluation
}

// RegistrationError is returned from Module.Load. It matches
// ErrRegistrationFailure.
type RegistrationError struct {
	What string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("cannot register %s: %v", e.What, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistrationFailure
}
