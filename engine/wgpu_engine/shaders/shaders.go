// Copyright 2023 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package shaders

import (
	_ "embed"
)

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
)

func (typ BindType) IsMutable() bool {
	return typ == Buffer
}

type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	Bindings      []BindType
	WGSL          []byte
}

//go:embed backdrop.wgsl
var backdropSrc []byte

// Collection describes the stage's compute shaders. Bindings lists the
// resource slots in the order the WGSL declares them; engines derive both
// the GPU bind group layout and the CPU fallback's slot order from it.
var Collection = struct {
	Backdrop ComputeShader
}{
	Backdrop: ComputeShader{
		Name:          "backdrop",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer},
		WGSL:          backdropSrc,
	},
}
