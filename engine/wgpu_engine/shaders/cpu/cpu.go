// Copyright 2023 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT OR Unlicense

// Package cpu provides CPU implementations of the compute shaders.
//
// The kernels replicate the compute shaders exactly, instead of using more
// CPU-friendly algorithms: identical inputs produce bit-identical outputs on
// either backend, which makes the CPU side usable both as a portable
// fallback and as a reference when validating the GPU side.
//
// Unlike the GPU, the CPU kernels validate all bindings and all indices
// before the first write, and report an error instead of touching memory out
// of bounds.
package cpu

import (
	"errors"
	"fmt"
	"unsafe"

	"honnef.co/go/safeish"
)

// Errors reported by binding resolution and by the kernels. All of them are
// detected before the first write to any binding.
var (
	// ErrBindingCount is reported when a kernel is invoked with the wrong
	// number of resource slots.
	ErrBindingCount = errors.New("wrong number of resource bindings")
	// ErrBindingLayout is reported when a slot's byte layout doesn't match
	// the record layout the kernel expects.
	ErrBindingLayout = errors.New("resource binding layout mismatch")
	// ErrBounds is reported when a draw object addresses memory outside one
	// of its buffers.
	ErrBounds = errors.New("index out of range")
)

// CPUBinding is one resource slot of a dispatch. Slots are positional and
// mirror the binding indices declared by the corresponding compute shader.
type CPUBinding interface {
	// Currently always CPUBuffer
}

// CPUBuffer aliases the bytes backing a buffer binding. Views created from
// it share its memory; writes through a mutable view are immediately visible
// to every other view of the same slot.
type CPUBuffer []byte

func checkBindings(resources []CPUBinding, want int) error {
	if len(resources) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrBindingCount, len(resources), want)
	}
	return nil
}

func buffer(resources []CPUBinding, slot int) (CPUBuffer, error) {
	b, ok := resources[slot].(CPUBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: binding %d is %T, not a buffer", ErrBindingLayout, slot, resources[slot])
	}
	return b, nil
}

// asTyped interprets a slot as a single record of type E. Uniform buffers
// may carry trailing padding, so the slot only has to be large enough.
func asTyped[E any](resources []CPUBinding, slot int) (*E, error) {
	b, err := buffer(resources, slot)
	if err != nil {
		return nil, err
	}
	size := unsafe.Sizeof(*new(E))
	if uintptr(len(b)) < size {
		return nil, fmt.Errorf(
			"%w: binding %d holds %d bytes, which cannot represent a %d-byte record",
			ErrBindingLayout, slot, len(b), size)
	}
	return safeish.Cast[*E](&b[0]), nil
}

// asSlice interprets a slot as a read-only sequence of records of type E.
func asSlice[E any](resources []CPUBinding, slot int) (Slice[E], error) {
	s, err := asSliceMut[E](resources, slot)
	return Slice[E]{s}, err
}

// asSliceMut interprets a slot as a mutable sequence of records of type E,
// aliasing the slot's memory.
func asSliceMut[E any](resources []CPUBinding, slot int) ([]E, error) {
	b, err := buffer(resources, slot)
	if err != nil {
		return nil, err
	}
	size := unsafe.Sizeof(*new(E))
	if uintptr(len(b))%size != 0 {
		return nil, fmt.Errorf(
			"%w: binding %d holds %d bytes, which is not a multiple of the %d-byte record size",
			ErrBindingLayout, slot, len(b), size)
	}
	return safeish.SliceCast[[]E](b), nil
}

// Slice is an immutable view of a buffer as a sequence of records.
type Slice[E any] struct {
	data []E
}

func (s Slice[E]) Len() int {
	return len(s.data)
}

func (s Slice[E]) At(idx int) E {
	return s.data[idx]
}
