// Copyright 2022 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
)

// Path is the per-path record produced by tile allocation. It locates the
// path's block of tiles in the tile buffer: the block is stored row-major,
// Bbox[2]-Bbox[0] tiles per row.
type Path struct {
	_ structs.HostLayout

	// Bounding box in tile coordinates, [x0, y0, x1, y1].
	Bbox [4]uint32
	// Offset of the path's tile block in the tile buffer.
	Tiles uint32
	_     [3]uint32
}

// Tile holds per-tile winding state. The backdrop stage rewrites Backdrop
// from per-tile winding deltas to row-wise inclusive prefix sums.
//
// Backdrop is an i32 in the compute shader as well. Accumulation wraps on
// overflow on both backends; it neither saturates nor traps.
type Tile struct {
	_ structs.HostLayout

	Backdrop          int32
	SegmentCountOrIdx uint32
}
