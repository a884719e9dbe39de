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

// Package bitmap provides a bit-level view over a byte slice owned by
// someone else, such as the block and inode bitmaps of a mapped partition.
package bitmap

// Bitmap interprets the borrowed slice as a little-endian bit array, the way
// ext4 block and inode bitmaps are laid out.
type Bitmap struct {
	Data []byte
}

func (b Bitmap) Set(idx int) {
	b.Data[idx/8] |= 1 << (idx % 8)
}

func (b Bitmap) Clear(idx int) {
	b.Data[idx/8] &^= 1 << (idx % 8)
}

func (b Bitmap) Test(idx int) bool {
	return b.Data[idx/8]&(1<<(idx%8)) != 0
}

// Len returns the number of addressable bits.
func (b Bitmap) Len() int {
	return len(b.Data) * 8
}

// SetRange sets every bit in [start, end).
func (b Bitmap) SetRange(start, end int) {
	for i := start; i < end; i++ {
		b.Set(i)
	}
}
