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
package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/fat2ext4/internal/alloc"
)

// Reader walks the page chain written by a Writer, returning records in
// write order. Reading a record with an unexpected tag, or reading past the
// end sentinel, is an unrecoverable consistency violation and panics.
type Reader struct {
	clusters *alloc.Reader
	pageSize int
	page     []byte
	position int
}

// NewReader starts reading at the head page of an archive.
func NewReader(head alloc.AllocatedClusterIdx, pageSize int, clusters *alloc.Reader) *Reader {
	return &Reader{
		clusters: clusters,
		pageSize: pageSize,
		page:     clusters.Cluster(head),
		position: pageHeaderSize,
	}
}

// Next returns the items of the next record, whose tag must equal expect.
// The result holds count items of itemSize bytes each, concatenated.
func (r *Reader) Next(expect Tag) (data []byte, count int) {
	hdr := readHeader(r.read(recordHeaderSize))
	if hdr.tag != expect {
		panic(fmt.Sprintf("archive record has tag %d, expected %d", hdr.tag, expect))
	}

	itemSize := int(hdr.itemSize)
	data = make([]byte, 0, int(hdr.count)*itemSize)
	for i := 0; i < int(hdr.count); i++ {
		data = append(data, r.read(itemSize)...)
	}
	return data, int(hdr.count)
}

// read returns the next n bytes, hopping to the next page when fewer than n
// bytes remain in the current one (items never straddle pages).
func (r *Reader) read(n int) []byte {
	if r.pageSize-r.position < n {
		r.nextPage()
	}
	chunk := r.page[r.position : r.position+n]
	r.position += n
	return chunk
}

func (r *Reader) nextPage() {
	next := binary.LittleEndian.Uint32(r.page)
	if next == noPage {
		panic("attempted to read past the archive end")
	}
	r.page = r.clusters.Cluster(alloc.Reclaim(next))
	r.position = pageHeaderSize
}
