/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Share payloads are AES-GCM encrypted with a key that only ever
// travels in the share link fragment, never to the blob service.
const (
	// EncryptionKeyBytes is the symmetric key size (AES-128).
	EncryptionKeyBytes = 16

	// IVLengthBytes is the GCM nonce size, generated fresh per
	// encryption and prefixed to the ciphertext.
	IVLengthBytes = 12

	// concatBuffersVersion is the framing format version written by
	// ConcatBuffers. Splitting never interprets it; unknown future
	// values must not break the splitter.
	concatBuffersVersion = 1

	// fixed-width header sizes of the framing. Protocol constants;
	// changing them breaks every existing share blob.
	versionHeaderBytes = 4
	chunkHeaderBytes   = 4
)

// ErrCiphertextTruncated is returned when a framed buffer is shorter
// than its length headers claim.
var ErrCiphertextTruncated = errors.New("encrypted payload truncated")

// GenerateEncryptionKey returns a fresh random key in the URL-safe
// encoding used inside share links.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, EncryptionKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate share key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// Encrypt seals the payload with AES-GCM under the given link key and
// returns the framed buffer: version header, then the IV chunk, then
// the ciphertext chunk.
func Encrypt(key string, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVLengthBytes)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	return ConcatBuffers(iv, sealed), nil
}

// Decrypt splits a framed buffer into IV and ciphertext and opens it.
// Any tampering (IV, ciphertext or tag) fails authentication; corrupt
// plaintext is never returned.
func Decrypt(key string, framed []byte) ([]byte, error) {
	chunks, err := SplitBuffers(framed)
	if err != nil {
		return nil, err
	}
	if len(chunks) < 2 {
		return nil, ErrCiphertextTruncated
	}
	iv, sealed := chunks[0], chunks[1]
	if len(iv) != IVLengthBytes {
		return nil, fmt.Errorf("unexpected iv length %d", len(iv))
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt share payload: %w", err)
	}
	return plain, nil
}

func newAEAD(key string) (cipher.AEAD, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("decode share key: %w", err)
	}
	if len(raw) != EncryptionKeyBytes {
		return nil, fmt.Errorf("share key must be %d bytes, got %d", EncryptionKeyBytes, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ConcatBuffers frames chunks into one buffer:
//
//	[version: 4 bytes] ([length: 4 bytes big-endian] [chunk])...
//
// The version chunk exists for backwards compatibility only; readers
// split purely on the fixed-width length headers.
func ConcatBuffers(chunks ...[]byte) []byte {
	size := versionHeaderBytes
	for _, c := range chunks {
		size += chunkHeaderBytes + len(c)
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, concatBuffersVersion)
	cursor := versionHeaderBytes
	for _, c := range chunks {
		binary.BigEndian.PutUint32(out[cursor:], uint32(len(c)))
		cursor += chunkHeaderBytes
		copy(out[cursor:], c)
		cursor += len(c)
	}
	return out
}

// SplitBuffers reverses ConcatBuffers. It skips the version header
// without interpreting it, so unknown future versions still split as
// long as the length-header layout holds.
func SplitBuffers(buf []byte) ([][]byte, error) {
	if len(buf) < versionHeaderBytes {
		return nil, ErrCiphertextTruncated
	}
	var chunks [][]byte
	cursor := versionHeaderBytes
	for cursor < len(buf) {
		if cursor+chunkHeaderBytes > len(buf) {
			return nil, ErrCiphertextTruncated
		}
		n := int(binary.BigEndian.Uint32(buf[cursor:]))
		cursor += chunkHeaderBytes
		if cursor+n > len(buf) {
			return nil, ErrCiphertextTruncated
		}
		chunks = append(chunks, buf[cursor:cursor+n])
		cursor += n
	}
	return chunks, nil
}
