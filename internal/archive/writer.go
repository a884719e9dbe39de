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

// Writer appends typed records to the page chain. The current page is
// buffered in memory and flushed into a freshly allocated cluster whenever
// it fills up (or on Finalize), at which point the previous page's leading
// next-page link is patched to point at it.
type Writer struct {
	allocator *alloc.Allocator
	pageSize  int

	head     alloc.AllocatedClusterIdx
	prev     alloc.AllocatedClusterIdx
	hasPrev  bool
	page     []byte
	position int
	closed   bool
}

// NewWriter builds a writer whose pages are single clusters allocated from
// allocator.
func NewWriter(allocator *alloc.Allocator) *Writer {
	pageSize := allocator.BlockSize()
	if pageSize < pageHeaderSize+recordHeaderSize {
		panic(fmt.Sprintf("page size %d cannot hold a record header", pageSize))
	}

	w := &Writer{
		allocator: allocator,
		pageSize:  pageSize,
		page:      make([]byte, pageSize),
	}
	w.resetPage()
	return w
}

// Archive appends one record: a header describing count items of itemSize
// bytes, followed by the items of data. len(data) must be a multiple of
// itemSize. Individual items never straddle a page boundary.
func (w *Writer) Archive(tag Tag, itemSize int, data []byte) error {
	if w.closed {
		panic("archive writer used after Finalize")
	}
	if itemSize == 0 || len(data)%itemSize != 0 {
		panic(fmt.Sprintf("archive record of %d bytes is not a multiple of the item size %d", len(data), itemSize))
	}
	if itemSize > w.pageSize-pageHeaderSize {
		panic(fmt.Sprintf("item of %d bytes does not fit into an archive page", itemSize))
	}

	hdr := make([]byte, recordHeaderSize)
	putHeader(hdr, header{count: uint32(len(data) / itemSize), tag: tag, itemSize: uint16(itemSize)})
	if err := w.append(hdr); err != nil {
		return err
	}

	for off := 0; off < len(data); off += itemSize {
		if err := w.append(data[off : off+itemSize]); err != nil {
			return err
		}
	}
	return nil
}

// Finalize writes the terminating sentinel and flushes the current page.
// Any read attempting to go past the sentinel fails loudly.
func (w *Writer) Finalize() (head alloc.AllocatedClusterIdx, err error) {
	hdr := make([]byte, recordHeaderSize)
	putHeader(hdr, header{count: 0, tag: tagEnd, itemSize: 1})
	if err := w.append(hdr); err != nil {
		return alloc.AllocatedClusterIdx{}, err
	}
	if err := w.flushPage(); err != nil {
		return alloc.AllocatedClusterIdx{}, err
	}
	w.closed = true
	return w.head, nil
}

// append writes chunk into the current page, flushing it first if the chunk
// does not fit.
func (w *Writer) append(chunk []byte) error {
	if w.pageSize-w.position < len(chunk) {
		if err := w.flushPage(); err != nil {
			return err
		}
	}
	copy(w.page[w.position:], chunk)
	w.position += len(chunk)
	return nil
}

// flushPage copies the buffered page into a newly allocated cluster and
// links it into the chain.
func (w *Writer) flushPage() error {
	pageIdx, err := w.allocator.AllocateOne()
	if err != nil {
		return fmt.Errorf("allocating archive page: %w", err)
	}
	copy(w.allocator.Cluster(pageIdx), w.page)

	if w.hasPrev {
		// patch the previous page's next link to the page just written
		binary.LittleEndian.PutUint32(w.allocator.Cluster(w.prev), pageIdx.Idx())
	} else {
		w.head = pageIdx
	}
	w.prev = pageIdx
	w.hasPrev = true

	w.resetPage()
	return nil
}

func (w *Writer) resetPage() {
	clear(w.page)
	binary.LittleEndian.PutUint32(w.page, noPage)
	w.position = pageHeaderSize
}

// IntoReader finalizes the archive and splits the allocator: the returned
// Reader walks the written page chain, while the returned allocator owns
// every cluster the original one never issued.
func (w *Writer) IntoReader() (*Reader, *alloc.Allocator, error) {
	head, err := w.Finalize()
	if err != nil {
		return nil, nil, err
	}
	clusters, successor := w.allocator.SplitIntoReader()
	return NewReader(head, w.pageSize, clusters), successor, nil
}
