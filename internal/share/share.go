/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package share publishes end-to-end encrypted project snapshots and
// resolves their links. A share link carries the blob id and the
// decryption key in the URL fragment, so the key never reaches the
// store server.
package share

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	applog "organote/internal/log"
	"organote/internal/codec"
	"organote/internal/domain"
)

// FragmentPrefix starts the share payload inside a URL fragment:
// "#s=<blobID>,<key>".
const FragmentPrefix = "s="

// Fragment builds the URL fragment for a published snapshot.
func Fragment(blobID, key string) string {
	return FragmentPrefix + blobID + "," + key
}

// ParseFragment extracts the blob id and key from a URL fragment. The
// leading '#' may be present or already stripped. ok is false for
// fragments that are not share links.
func ParseFragment(frag string) (blobID, key string, ok bool) {
	frag = strings.TrimPrefix(frag, "#")
	if !strings.HasPrefix(frag, FragmentPrefix) {
		return "", "", false
	}
	rest := frag[len(FragmentPrefix):]
	i := strings.Index(rest, ",")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Uploader stores an opaque encrypted payload and returns its id.
type Uploader interface {
	UploadBlob(ctx context.Context, data []byte) (string, error)
}

// BlobFetcher retrieves a previously uploaded payload by id.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, id string) ([]byte, error)
}

// Service publishes snapshots through an Uploader.
type Service struct {
	uploads Uploader
}

// NewService wires a share publisher.
func NewService(uploads Uploader) *Service {
	return &Service{uploads: uploads}
}

// Publish encrypts a snapshot of the project with a fresh key, uploads
// it and returns the link fragment. Only assets the project's items
// still reference are included.
func (s *Service) Publish(ctx context.Context, p domain.Project, files codec.Files) (string, error) {
	l := applog.WithOperation(applog.WithComponent("share"), "publish").With(
		slog.String("project", p.ID),
	)

	key, err := codec.GenerateEncryptionKey()
	if err != nil {
		return "", fmt.Errorf("share: %w", err)
	}
	data, err := codec.EncodeGzip(p, codec.ReferencedFiles(p, files))
	if err != nil {
		return "", fmt.Errorf("share: %w", err)
	}
	sealed, err := codec.Encrypt(key, data)
	if err != nil {
		return "", fmt.Errorf("share: %w", err)
	}
	id, err := s.uploads.UploadBlob(ctx, sealed)
	if err != nil {
		return "", fmt.Errorf("share upload: %w", err)
	}
	l.Info("snapshot published", slog.String("blob", id), slog.Int("bytes", len(sealed)))
	return Fragment(id, key), nil
}

// Open resolves a share fragment: fetch, decrypt, decode. The blob
// remains opaque to the store server; the key comes from the fragment
// and is used only locally. A malformed fragment or a payload that
// fails authentication is a document defect, not a transport one, so
// it surfaces as a codec.DecodeError and loaders keep the currently
// open board.
func Open(ctx context.Context, fetch BlobFetcher, frag string) (*codec.Decoded, error) {
	id, key, ok := ParseFragment(frag)
	if !ok {
		return nil, &codec.DecodeError{Reason: fmt.Sprintf("malformed share fragment %q", frag)}
	}
	sealed, err := fetch.FetchBlob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("share fetch %s: %w", id, err)
	}
	data, err := codec.Decrypt(key, sealed)
	if err != nil {
		return nil, &codec.DecodeError{Reason: fmt.Sprintf("decrypt shared blob %s: %v", id, err)}
	}
	return codec.Decode(data)
}
