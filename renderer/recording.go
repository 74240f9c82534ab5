// Copyright 2023 the Vello Authors
// Copyright 2025 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"sync/atomic"
)

var resourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(resourceID.Add(1))
}

type ResourceID uint64

// ResourceProxy identifies a resource used by a recorded command. The order
// of proxies passed to a dispatch is the binding order the shader declares;
// slots are positional.
type ResourceProxy interface {
	isResourceProxy()
}

func (BufferProxy) isResourceProxy() {}

// Recording is a list of commands to be executed by an engine. The same
// recording produces the same results whether the engine runs it on the GPU
// or on the CPU fallback.
type Recording struct {
	Commands []Command
}

func (rec *Recording) push(cmd Command) {
	rec.Commands = append(rec.Commands, cmd)
}

// Upload records the upload of a storage buffer. The data is not copied; it
// must stay valid until the recording has run. On the CPU backend, shaders
// read and write the caller's bytes directly.
func (rec *Recording) Upload(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(&Upload{buf, data})
	return buf
}

// UploadUniform records the upload of a uniform buffer.
func (rec *Recording) UploadUniform(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(&UploadUniform{buf, data})
	return buf
}

func (rec *Recording) Dispatch(shader ShaderID, wgSize WorkgroupSize, resources []ResourceProxy) {
	rec.push(&Dispatch{shader, wgSize, resources})
}

// Download records the copy of a buffer to a mappable staging buffer, to be
// retrieved via the engine after the recording has run. GPU backend only;
// the CPU backend already writes through the uploaded bytes.
func (rec *Recording) Download(buf BufferProxy) {
	rec.push(&Download{buf})
}

func (rec *Recording) ClearAll(buf BufferProxy) {
	rec.push(&Clear{buf, 0, -1})
}

func (rec *Recording) FreeBuffer(buf BufferProxy) {
	rec.push(&FreeBuffer{buf})
}

func NewBufferProxy(size uint64, name string) BufferProxy {
	id := nextResourceID()
	return BufferProxy{size, id, name}
}

type BufferProxy struct {
	Size uint64
	ID   ResourceID
	Name string
}

type ShaderID int

type Command interface {
	isCommand()
}

func (*Upload) isCommand()        {}
func (*UploadUniform) isCommand() {}
func (*Dispatch) isCommand()      {}
func (*Download) isCommand()      {}
func (*Clear) isCommand()         {}
func (*FreeBuffer) isCommand()    {}

// BindType describes how a shader binds one of its resource slots.
type BindType int

const (
	BindTypeBuffer BindType = iota + 1
	BindTypeBufReadOnly
	BindTypeUniform
)

type Upload struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadUniform struct {
	Buffer BufferProxy
	Data   []byte
}

type Dispatch struct {
	Shader        ShaderID
	WorkgroupSize WorkgroupSize
	Bindings      []ResourceProxy
}

type Download struct {
	Buffer BufferProxy
}

type Clear struct {
	Buffer BufferProxy
	Offset uint64
	Size   int64
}

type FreeBuffer struct {
	Buffer BufferProxy
}
