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
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

const (
	testPageSize = 64
	tagA         = Tag(1)
	tagB         = Tag(2)
)

func newTestWriter(t *testing.T, clusters int) *Writer {
	t.Helper()
	data := make([]byte, clusters*testPageSize)
	return NewWriter(alloc.New(data, testPageSize, ranges.New[uint32]()))
}

func TestRoundTrip(t *testing.T) {
	w := newTestWriter(t, 16)

	require.NoError(t, w.Archive(tagA, 4, []byte("abcdwxyz")))
	require.NoError(t, w.Archive(tagB, 1, []byte("hello.txt")))
	require.NoError(t, w.Archive(tagA, 2, nil))

	r, _, err := w.IntoReader()
	require.NoError(t, err)

	data, count := r.Next(tagA)
	require.Equal(t, 2, count)
	require.Equal(t, []byte("abcdwxyz"), data)

	data, count = r.Next(tagB)
	require.Equal(t, 9, count)
	require.Equal(t, []byte("hello.txt"), data)

	data, count = r.Next(tagA)
	require.Equal(t, 0, count)
	require.Empty(t, data)
}

func TestRecordsSpanPages(t *testing.T) {
	w := newTestWriter(t, 64)

	// each item is 24 bytes, so a 64-byte page fits at most two of them
	var written [][]byte
	for i := 0; i < 40; i++ {
		item := bytes.Repeat([]byte{byte(i)}, 24)
		written = append(written, item)
	}
	for i := 0; i < len(written); i += 4 {
		require.NoError(t, w.Archive(tagA, 24, bytes.Join(written[i:i+4], nil)))
	}

	r, _, err := w.IntoReader()
	require.NoError(t, err)

	for i := 0; i < len(written); i += 4 {
		data, count := r.Next(tagA)
		require.Equal(t, 4, count)
		require.Equal(t, bytes.Join(written[i:i+4], nil), data)
	}
}

func TestTagMismatchPanics(t *testing.T) {
	w := newTestWriter(t, 8)
	require.NoError(t, w.Archive(tagA, 1, []byte{1, 2, 3}))

	r, _, err := w.IntoReader()
	require.NoError(t, err)

	require.Panics(t, func() { r.Next(tagB) })
}

func TestReadPastEndPanics(t *testing.T) {
	w := newTestWriter(t, 8)
	require.NoError(t, w.Archive(tagA, 1, []byte{1}))

	r, _, err := w.IntoReader()
	require.NoError(t, err)

	r.Next(tagA)
	require.Panics(t, func() { r.Next(tagA) })
}

func TestSuccessorAllocatorSkipsPages(t *testing.T) {
	w := newTestWriter(t, 8)
	require.NoError(t, w.Archive(tagA, 1, []byte{1, 2, 3}))

	_, successor, err := w.IntoReader()
	require.NoError(t, err)

	// the single archive page occupies cluster 0
	idx, err := successor.AllocateOne()
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx.Idx())
}

// Property: the sequence of (tag, items) groups read out of a Reader equals
// the sequence written into the Writer.
func TestRoundTripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 20; iter++ {
		w := newTestWriter(t, 4096)

		type record struct {
			tag      Tag
			itemSize int
			data     []byte
		}
		var records []record
		for i := 0; i < 50; i++ {
			itemSize := 1 + rng.Intn(20)
			count := rng.Intn(10)
			data := make([]byte, itemSize*count)
			rng.Read(data)
			rec := record{tag: Tag(1 + rng.Intn(5)), itemSize: itemSize, data: data}
			records = append(records, rec)
			require.NoError(t, w.Archive(rec.tag, rec.itemSize, rec.data))
		}

		r, _, err := w.IntoReader()
		require.NoError(t, err)

		for _, rec := range records {
			data, count := r.Next(rec.tag)
			require.Equal(t, len(rec.data)/rec.itemSize, count)
			require.Equal(t, rec.data, data)
		}
	}
}
