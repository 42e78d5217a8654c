/*
Copyright © 2018 the metregrid authors.
This file is part of metregrid.

metregrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

metregrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with metregrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
)

// Upload copies the local file at localPath to the blob at dst, which
// must be in the format 'provider://bucket/key'.
func Upload(ctx context.Context, localPath, dst string) error {
	bucketName, key, err := splitURL(dst)
	if err != nil {
		return err
	}
	r, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", localPath, err)
	}
	defer r.Close()
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("cloud: opening bucket to upload file '%s': %v", dst, err)
	}
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: opening writer to upload file '%s': %v", dst, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: uploading file '%s' to '%s': %v", localPath, dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob '%s': %v", dst, err)
	}
	return nil
}

// Download copies the blob at src into directory dir and returns the
// path of the local copy, which has the same base name as the blob key.
func Download(ctx context.Context, src, dir string) (string, error) {
	bucketName, key, err := splitURL(src)
	if err != nil {
		return "", err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return "", fmt.Errorf("cloud: opening bucket to download file '%s': %v", src, err)
	}
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	defer r.Close()

	path := filepath.Join(dir, filepath.Base(key))
	w, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("cloud: creating file for download: %v", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("cloud: downloading '%s': %v", src, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("cloud: downloading '%s': %v", src, err)
	}
	return path, nil
}

// Join appends the given path elements to the blob directory dir.
func Join(dir string, elem ...string) string {
	return strings.TrimSuffix(dir, "/") + "/" + strings.Join(elem, "/")
}
