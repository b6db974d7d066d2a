/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"organote/internal/codec"
	"organote/internal/domain"
	"organote/internal/plugin"
)

func TestWriteBoardPDF_CreatesFile(t *testing.T) {
	var imgBuf bytes.Buffer
	if err := png.Encode(&imgBuf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	p := domain.Project{
		ID:    "exp0001",
		Title: "Export Test",
		Items: []domain.Item{
			{ID: "i1", Type: "text-sticky", Offset: domain.Offset{X: 0, Y: 0}, Z: 0, Content: "a short note about the plan"},
			{ID: "i2", Type: "header", Offset: domain.Offset{X: 400, Y: -120}, Z: 1, Variant: 1, Content: "Heading"},
			{ID: "i3", Type: "still", Offset: domain.Offset{X: 100, Y: 300}, Z: 2, Src: "upload:images:k1"},
		},
	}
	files := codec.Files{
		"images": {"k1": {Type: "image/png", Name: "p.png", Data: imgBuf.Bytes()}},
	}

	out := filepath.Join(t.TempDir(), "exports", "board.pdf")
	err := WriteBoardPDF(p, files, plugin.Builtin(), out, OutlineOptions{IncludeText: true, IncludeNames: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	st, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() <= 0 {
		t.Fatalf("pdf file empty")
	}
}

func TestWriteBoardPDF_EmptyBoard(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.pdf")
	if err := WriteBoardPDF(domain.NewProject("e1"), nil, plugin.Builtin(), out, OutlineOptions{}); err != nil {
		t.Fatalf("export empty board: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six", 12)
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %v", lines)
	}
	for _, l := range lines {
		if len(l) > 12+6 {
			t.Fatalf("line too long: %q", l)
		}
	}
	if got := wrapText("", 12); len(got) != 0 {
		t.Fatalf("empty input produced %v", got)
	}
}
