// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fragment

// PackedFragmentBuffer exclusively owns the bytes of one bin. Multiple
// Index views (index.go) borrow from it for the lifetime of the bin's
// processing (spec.md §3 Lifecycle/ownership, §9 "shared mutable bin-state
// across workers").
type PackedFragmentBuffer struct {
	Bytes []byte
}

// NewPackedFragmentBuffer wraps a raw bin.data byte slice.
func NewPackedFragmentBuffer(data []byte) *PackedFragmentBuffer {
	return &PackedFragmentBuffer{Bytes: data}
}

// AccessorAt returns an Accessor for the record beginning at byte offset
// off.
func (b *PackedFragmentBuffer) AccessorAt(off int64) *Accessor {
	return NewAccessor(b.Bytes[off:])
}

// Len returns the total number of bytes in the buffer.
func (b *PackedFragmentBuffer) Len() int64 { return int64(len(b.Bytes)) }
