// Copyright 2022 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/safeish"
)

// FullShaders holds the engine's shader IDs for the stage, filled in when
// the shaders are registered with an engine.
type FullShaders struct {
	Backdrop ShaderID
}

// RecordBackdrop records the backdrop stage: the upload of the configuration,
// the path table and the tile buffer, followed by the accumulation dispatch.
// The returned proxy identifies the tile buffer, which holds the accumulated
// backdrops once the recording has run.
//
// The uploaded data aliases the caller's slices. On the CPU backend the
// kernel writes through them, so paths and tiles must stay alive and
// untouched until the recording has run.
func RecordBackdrop(
	recording *Recording,
	shaders *FullShaders,
	config *RenderConfig,
	paths []Path,
	tiles []Tile,
) BufferProxy {
	configBuf := recording.UploadUniform("config", safeish.AsBytes(&config.gpu))
	pathBuf := recording.Upload("paths", safeish.SliceCast[[]byte](paths))
	tileBuf := recording.Upload("tiles", safeish.SliceCast[[]byte](tiles))
	recording.Dispatch(
		shaders.Backdrop,
		config.workgroupCounts.Backdrop,
		[]ResourceProxy{configBuf, pathBuf, tileBuf},
	)
	recording.FreeBuffer(configBuf)
	recording.FreeBuffer(pathBuf)
	return tileBuf
}
