/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package codec converts between canonical Project values and the
// versioned interchange format used for local export files, share
// uploads and imports. The wire envelope is JSON, optionally gzip
// compressed, optionally AES-GCM encrypted for share links.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"organote/internal/domain"
)

const (
	// EnvelopeType tags every export so foreign files are rejected
	// instead of being half-imported.
	EnvelopeType = "organote"

	// CurrentVersion is the schema version this build writes.
	CurrentVersion = 4
)

// Files maps asset-store partition name to asset key to stored asset,
// the shape binary assets travel in alongside an export.
type Files map[string]map[string]domain.StoredAsset

// Envelope is the export wire format.
type Envelope struct {
	Type    string        `json:"type"`
	Version int           `json:"version"`
	Project wireProject   `json:"project"`
	Items   []domain.Item `json:"items,omitempty"`
	Files   Files         `json:"files,omitempty"`
}

// wireProject tolerates every historical project shape: items may be
// missing (current format carries them at the envelope level), a flat
// list, or the v1 id-keyed map; zoom may be absent.
type wireProject struct {
	ID           string          `json:"id"`
	Title        string          `json:"title,omitempty"`
	LastModified int64           `json:"lastModified"`
	Offset       wireViewport    `json:"offset"`
	Plugins      []string        `json:"plugins"`
	Items        json.RawMessage `json:"items,omitempty"`
}

type wireViewport struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// DecodeError marks input that is not a valid project export. Callers
// must abort the import without mutating any state.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode project export: " + e.Reason }

// Decoded is the result of a successful decode: the project at the
// current schema version plus any binary assets carried alongside.
// Files must be merged into the asset store before the project is
// handed to the state store.
type Decoded struct {
	Project domain.Project
	Files   Files
	Version int // schema version the input was encoded at
}

// Encode serializes a project (with the given carried assets) into the
// current-version envelope. Per the v4 format rule, files must already
// be restricted to assets referenced by the project's items; use
// ReferencedFiles for that.
func Encode(p domain.Project, files Files) ([]byte, error) {
	z := p.Offset.Z
	env := Envelope{
		Type:    EnvelopeType,
		Version: CurrentVersion,
		Project: wireProject{
			ID:           p.ID,
			Title:        p.Title,
			LastModified: p.LastModified,
			Offset:       wireViewport{X: p.Offset.X, Y: p.Offset.Y, Z: &z},
			Plugins:      append([]string{}, p.Plugins...),
		},
		Items: p.Items,
		Files: files,
	}
	if env.Items == nil {
		env.Items = []domain.Item{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// EncodeGzip is Encode followed by gzip compression, the on-disk and
// on-the-wire form of a .note.gz export.
func EncodeGzip(p domain.Project, files Files) ([]byte, error) {
	data, err := Encode(p, files)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses export bytes (gzip or plain JSON), validates the
// envelope and migrates the content to the current schema version.
func Decode(data []byte) (*Decoded, error) {
	plain, err := maybeGunzip(data)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	var env Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("parse envelope: %v", err)}
	}
	if env.Type != EnvelopeType {
		return nil, &DecodeError{Reason: fmt.Sprintf("unrecognized envelope type %q", env.Type)}
	}
	if env.Version <= 0 {
		return nil, &DecodeError{Reason: "missing envelope version"}
	}
	if env.Version > CurrentVersion {
		// future formats are rejected, not guessed
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported envelope version %d", env.Version)}
	}
	if env.Project.ID == "" {
		return nil, &DecodeError{Reason: "envelope has no project"}
	}

	dec, err := migrate(&env)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// ReferencedFiles narrows a full files mapping down to the assets the
// project's items actually reference, the v4 export rule that keeps
// orphaned uploads out of export files.
func ReferencedFiles(p domain.Project, all Files) Files {
	out := Files{}
	for _, ref := range p.AssetRefs() {
		partition, ok := all[ref.Partition]
		if !ok {
			continue
		}
		asset, ok := partition[ref.Key]
		if !ok {
			continue
		}
		if out[ref.Partition] == nil {
			out[ref.Partition] = map[string]domain.StoredAsset{}
		}
		out[ref.Partition][ref.Key] = asset
	}
	return out
}

var gzipMagic = []byte{0x1f, 0x8b}

func maybeGunzip(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return plain, nil
}
