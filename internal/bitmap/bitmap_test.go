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
package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmap(t *testing.T) {
	data := make([]byte, 2)
	b := Bitmap{Data: data}
	require.Equal(t, 16, b.Len())

	b.Set(0)
	b.Set(9)
	require.Equal(t, []byte{0x01, 0x02}, data)
	require.True(t, b.Test(0))
	require.True(t, b.Test(9))
	require.False(t, b.Test(1))

	b.Clear(9)
	require.False(t, b.Test(9))
	require.Equal(t, []byte{0x01, 0x00}, data)
}

func TestSetRange(t *testing.T) {
	data := make([]byte, 2)
	b := Bitmap{Data: data}
	b.SetRange(4, 12)
	require.Equal(t, []byte{0xF0, 0x0F}, data)
}
