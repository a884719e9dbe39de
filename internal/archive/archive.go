// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package archive implements an append-only typed log serialized into a
// singly-linked chain of cluster-sized pages carved out of free clusters.
// It carries the FAT-side metadata of every file across the point where the
// FAT structures themselves are overwritten with ext4 metadata.
package archive

import "encoding/binary"

// Tag identifies the type of the items of one record. Tags are defined by
// the archive's users; tagEnd is reserved for the terminating sentinel and
// is accepted by no read.
type Tag uint16

const tagEnd Tag = 0xFFFF

// noPage is the nil value of an on-disk next-page link.
const noPage = ^uint32(0)

const (
	pageHeaderSize   = 4 // the next-page link leading every page
	recordHeaderSize = 8 // count (4) + tag (2) + item size (2)
)

// header precedes the items of every record.
type header struct {
	count    uint32
	tag      Tag
	itemSize uint16
}

func putHeader(b []byte, h header) {
	binary.LittleEndian.PutUint32(b, h.count)
	binary.LittleEndian.PutUint16(b[4:], uint16(h.tag))
	binary.LittleEndian.PutUint16(b[6:], h.itemSize)
}

func readHeader(b []byte) header {
	return header{
		count:    binary.LittleEndian.Uint32(b),
		tag:      Tag(binary.LittleEndian.Uint16(b[4:])),
		itemSize: binary.LittleEndian.Uint16(b[6:]),
	}
}
