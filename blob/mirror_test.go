// Copyright (c) 2026 The dubqueue Authors
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

package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobURLInsertsNameAheadOfSASQuery(t *testing.T) {
	m := NewAzureMirror("https://acct.blob.core.windows.net/container?sv=2023&sig=abc", nil)
	u, err := m.blobURL("up_123.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/container/up_123.mp4?sv=2023&sig=abc", u)
}

func TestBlobURLTrimsTrailingSlashOnContainer(t *testing.T) {
	m := NewAzureMirror("https://acct.blob.core.windows.net/container/", nil)
	u, err := m.blobURL("blob.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/container/blob.bin", u)
}

func TestBlobURLNoQueryString(t *testing.T) {
	m := NewAzureMirror("https://acct.blob.core.windows.net/container", nil)
	u, err := m.blobURL("blob.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/container/blob.bin", u)
}
