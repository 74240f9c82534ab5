// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"honnef.co/go/color"
)

// Premul32 returns c in linear sRGB with premultiplied alpha.
func Premul32(c *color.Color) [4]float32 {
	cc := c.Convert(color.LinearSRGB)
	r := cc.Values[0]
	g := cc.Values[1]
	b := cc.Values[2]
	a := cc.Values[3]

	return [4]float32{
		float32(r * a),
		float32(g * a),
		float32(b * a),
		float32(a),
	}
}

// PremulUint32 packs c as premultiplied linear sRGB with 8 bits per channel,
// red in the least significant byte. This is the encoding the config uniform
// stores the base color in.
func PremulUint32(c *color.Color) uint32 {
	v := Premul32(c)
	var out uint32
	for i, ch := range v {
		u := uint32(min(max(ch, 0), 1)*255 + 0.5)
		out |= u << (8 * i)
	}
	return out
}
