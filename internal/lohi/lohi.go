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

// Package lohi manipulates ext4 quantities that are stored split into a low
// and a high half (48- and 64-bit block counts, 32-bit uid/gid, and so on).
package lohi

// U64 combines two uint32 halves into a 64-bit value.
func U64(lo, hi uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// SetU64 stores value into the pointed-to halves.
func SetU64(lo, hi *uint32, value uint64) {
	*lo = uint32(value)
	*hi = uint32(value >> 32)
}

// AddU64 adds delta to the 64-bit value stored in the pointed-to halves.
func AddU64(lo, hi *uint32, delta uint64) {
	SetU64(lo, hi, U64(*lo, *hi)+delta)
}

// SubU64 subtracts delta from the 64-bit value stored in the pointed-to halves.
func SubU64(lo, hi *uint32, delta uint64) {
	SetU64(lo, hi, U64(*lo, *hi)-delta)
}

// U32 combines two uint16 halves into a 32-bit value.
func U32(lo, hi uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// SetU32 stores value into the pointed-to halves.
func SetU32(lo, hi *uint16, value uint32) {
	*lo = uint16(value)
	*hi = uint16(value >> 16)
}

// AddU32 adds delta to the 32-bit value stored in the pointed-to halves.
func AddU32(lo, hi *uint16, delta uint32) {
	SetU32(lo, hi, U32(*lo, *hi)+delta)
}

// SubU32 subtracts delta from the 32-bit value stored in the pointed-to halves.
func SubU32(lo, hi *uint16, delta uint32) {
	SetU32(lo, hi, U32(*lo, *hi)-delta)
}
