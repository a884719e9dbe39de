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
package lohi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestU64(t *testing.T) {
	var lo, hi uint32

	SetU64(&lo, &hi, 0x1122334455667788)
	require.Equal(t, uint32(0x55667788), lo)
	require.Equal(t, uint32(0x11223344), hi)
	require.Equal(t, uint64(0x1122334455667788), U64(lo, hi))

	AddU64(&lo, &hi, 1)
	require.Equal(t, uint64(0x1122334455667789), U64(lo, hi))

	// carry across the halves
	SetU64(&lo, &hi, 0xFFFFFFFF)
	AddU64(&lo, &hi, 1)
	require.Equal(t, uint64(0x100000000), U64(lo, hi))

	SubU64(&lo, &hi, 1)
	require.Equal(t, uint64(0xFFFFFFFF), U64(lo, hi))
}

func TestU32(t *testing.T) {
	var lo, hi uint16

	SetU32(&lo, &hi, 0x11228899)
	require.Equal(t, uint16(0x8899), lo)
	require.Equal(t, uint16(0x1122), hi)
	require.Equal(t, uint32(0x11228899), U32(lo, hi))

	AddU32(&lo, &hi, 0x8000)
	require.Equal(t, uint32(0x11230899), U32(lo, hi))

	SubU32(&lo, &hi, 0x8000)
	require.Equal(t, uint32(0x11228899), U32(lo, hi))
}
