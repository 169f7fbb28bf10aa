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

// Package blob mirrors completed uploads to Azure Blob Storage. It is wired
// only when BLOB_ARCHIVE_CONTAINER names a container URL (optionally
// carrying a SAS query string); with no container configured, AzureMirror is
// never constructed and upload.Manager falls back to its no-op mirror.
package blob

import (
	"context"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// AzureMirror uploads finished files to a single pre-authorized container,
// constructing one blockblob.Client per call the way the teacher's
// CreateBlockBlobClient/NoCredential path does for SAS-authorized
// destinations (common/clientFactory.go).
type AzureMirror struct {
	containerURL string
	log          common.ILogger
}

func NewAzureMirror(containerURL string, log common.ILogger) *AzureMirror {
	if log == nil {
		log = common.NopLogger
	}
	return &AzureMirror{containerURL: strings.TrimRight(containerURL, "/"), log: log}
}

// Mirror uploads localPath as a single block blob named uploadID plus the
// source file's extension, under the configured container.
func (m *AzureMirror) Mirror(ctx context.Context, localPath, uploadID string) error {
	blobURL, err := m.blobURL(uploadID + path.Ext(localPath))
	if err != nil {
		return common.Wrap(err, "build blob url")
	}
	client, err := blockblob.NewClientWithNoCredential(blobURL, nil)
	if err != nil {
		return common.Wrap(err, "create blob client")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return common.Wrap(err, "open local file for mirror")
	}
	defer f.Close()

	_, err = client.UploadFile(ctx, f, nil)
	return common.Wrap(err, "upload to blob storage")
}

// blobURL inserts blobName as a path segment ahead of the container URL's
// query string (the SAS token), e.g.
// https://acct.blob.core.windows.net/container?sas -> .../container/blobName?sas.
func (m *AzureMirror) blobURL(blobName string) (string, error) {
	u, err := url.Parse(m.containerURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + blobName
	return u.String(), nil
}
