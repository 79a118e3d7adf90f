// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fingerprint computes cheap tamper-check digests for PKG files.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

const chunkSize = 64 * 1024

// File computes a 16-byte BLAKE2b digest over "<size>:<mtime_ns>", the
// first 64 KiB of the file and, for files larger than 64 KiB, the last
// 64 KiB. It is a shortcut check for duplicate detection, not the primary
// change detector.
func File(path string, size int64, mtimeNS int64) (string, error) {
	digest, err := blake2b.New(16, nil)
	if err != nil {
		return "", fmt.Errorf("blake2b init: %w", err)
	}
	fmt.Fprintf(digest, "%d:%d", size, mtimeNS)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, chunkSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("fingerprint read %s: %w", path, err)
	}
	digest.Write(head[:n])

	if size > chunkSize {
		tailSize := int64(chunkSize)
		if size < tailSize {
			tailSize = size
		}
		if _, err := f.Seek(size-tailSize, io.SeekStart); err != nil {
			return "", fmt.Errorf("fingerprint seek %s: %w", path, err)
		}
		tail := make([]byte, tailSize)
		n, err := io.ReadFull(f, tail)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("fingerprint read tail %s: %w", path, err)
		}
		digest.Write(tail[:n])
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}
