// Copyright 2023 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT OR Unlicense

package cpu

import (
	"fmt"

	"honnef.co/go/backdrop/renderer"
)

// Backdrop is the CPU implementation of the backdrop shader. The workgroup
// count only sizes the GPU dispatch; the CPU kernel always processes all
// draw objects in one call and ignores it.
func Backdrop(_ uint32, resources []CPUBinding) error {
	if err := checkBindings(resources, 3); err != nil {
		return err
	}
	config, err := asTyped[renderer.ConfigUniform](resources, 0)
	if err != nil {
		return err
	}
	paths, err := asSlice[renderer.Path](resources, 1)
	if err != nil {
		return err
	}
	tiles, err := asSliceMut[renderer.Tile](resources, 2)
	if err != nil {
		return err
	}
	return backdropMain(config, paths, tiles)
}

// backdropMain turns each path's per-tile winding deltas into row-wise
// inclusive prefix sums. Rows restart at zero; paths and rows are
// independent of one another, only columns within a row are ordered.
func backdropMain(config *renderer.ConfigUniform, paths Slice[renderer.Path], tiles []renderer.Tile) error {
	n := config.Layout.NumDrawObjects
	if uint64(n) > uint64(paths.Len()) {
		return fmt.Errorf(
			"%w: config claims %d draw objects, path table holds %d",
			ErrBounds, n, paths.Len())
	}
	// Check every tile block before the first write, so that a contract
	// violation cannot leave the buffer partially accumulated.
	for drawobjIx := range n {
		path := paths.At(int(drawobjIx))
		if path.Bbox[2] < path.Bbox[0] || path.Bbox[3] < path.Bbox[1] {
			return fmt.Errorf(
				"%w: drawobj %d has malformed bbox %v",
				ErrBounds, drawobjIx, path.Bbox)
		}
		width := uint64(path.Bbox[2] - path.Bbox[0])
		height := uint64(path.Bbox[3] - path.Bbox[1])
		end := uint64(path.Tiles) + width*height
		if end > uint64(len(tiles)) {
			return fmt.Errorf(
				"%w: drawobj %d tile block [%d, %d) exceeds tile buffer length %d",
				ErrBounds, drawobjIx, path.Tiles, end, len(tiles))
		}
	}
	for drawobjIx := range n {
		path := paths.At(int(drawobjIx))
		width := path.Bbox[2] - path.Bbox[0]
		height := path.Bbox[3] - path.Bbox[1]
		base := path.Tiles
		for y := range height {
			// Sums wrap like i32 addition in the compute shader.
			var sum int32
			for x := range width {
				tile := &tiles[base+y*width+x]
				sum += tile.Backdrop
				tile.Backdrop = sum
			}
		}
	}
	return nil
}
