// Copyright 2023 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"golang.org/x/exp/constraints"
	"honnef.co/go/backdrop/gfx"
	"honnef.co/go/color"
)

type WorkgroupSize [3]uint32

// ConfigUniform contains uniform render configuration data used by all GPU
// stages.
//
// This data structure must be kept in sync with the Config definition in the
// WGSL shaders.
type ConfigUniform struct {
	_ structs.HostLayout

	// Width of the scene in tiles.
	WidthInTiles uint32
	// Height of the scene in tiles.
	HeightInTiles uint32
	// Width of the target in pixels.
	TargetWidth uint32
	// Height of the target in pixels.
	TargetHeight uint32
	// The base background color applied to the target before any blends.
	BaseColor uint32
	// Layout of packed scene data.
	Layout Layout
	// Size of tile buffer allocation (in [Tile]s).
	TilesSize uint32
}

type Layout struct {
	_ structs.HostLayout

	// Number of draw objects.
	NumDrawObjects uint32
	// Number of paths.
	NumPaths uint32
}

type RenderConfig struct {
	gpu             ConfigUniform
	workgroupCounts WorkgroupCounts
}

// NewRenderConfig computes the dispatch configuration for a target of the
// given pixel dimensions. numTiles is the length of the tile buffer the
// upstream binning stage allocated. A nil baseColor is fully transparent.
func NewRenderConfig(layout *Layout, width, height uint32, baseColor *color.Color, numTiles uint32) *RenderConfig {
	newWidth := nextMultipleOf(width, tileWidth)
	newHeight := nextMultipleOf(height, tileHeight)
	widthInTiles := newWidth / tileWidth
	heightInTiles := newHeight / tileHeight
	var packedBase uint32
	if baseColor != nil {
		packedBase = gfx.PremulUint32(baseColor)
	}
	return &RenderConfig{
		gpu: ConfigUniform{
			WidthInTiles:  widthInTiles,
			HeightInTiles: heightInTiles,
			TargetWidth:   width,
			TargetHeight:  height,
			BaseColor:     packedBase,
			Layout:        *layout,
			TilesSize:     numTiles,
		},
		workgroupCounts: NewWorkgroupCounts(layout),
	}
}

// Gpu returns the uniform data as uploaded to the GPU.
func (rc *RenderConfig) Gpu() *ConfigUniform {
	return &rc.gpu
}

func (rc *RenderConfig) WorkgroupCounts() *WorkgroupCounts {
	return &rc.workgroupCounts
}

// NewWorkgroupCounts computes the dispatch sizes for the stage's shaders, one
// draw object per thread.
func NewWorkgroupCounts(layout *Layout) WorkgroupCounts {
	drawObjectWgs := (layout.NumDrawObjects + backdropWg - 1) / backdropWg
	return WorkgroupCounts{
		Backdrop: [3]uint32{drawObjectWgs, 1, 1},
	}
}

func nextMultipleOf[T constraints.Integer](x, y T) T {
	r := x % y
	if r == 0 {
		return x
	} else {
		return x + y - r
	}
}

// backdropWg must match the workgroup size declared by the backdrop shader.
const backdropWg = 256
const tileWidth = 16
const tileHeight = 16

type WorkgroupCounts struct {
	Backdrop WorkgroupSize
}
