/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders a board into portable documents. The PDF
// outline is a flattened snapshot: item footprints in stacking order,
// text payloads as vector text and uploaded images embedded.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"organote/internal/codec"
	"organote/internal/domain"
	"organote/internal/plugin"
)

// OutlineOptions controls PDF outline behavior. Units are points.
type OutlineOptions struct {
	PageW, PageH float64 // default A4 landscape
	Margin       float64
	IncludeText  bool // render item text payloads
	IncludeNames bool // label each footprint with its plugin type
}

// defaultItemSize stands in for plugins that report no footprint.
const defaultItemSize = 200.0

// WriteBoardPDF renders the project onto a single page, scaled so the
// whole board fits inside the margins. files supplies uploaded images
// for embedding; it may be nil to draw placeholders instead.
func WriteBoardPDF(p domain.Project, files codec.Files, reg *plugin.Registry, outPath string, opt OutlineOptions) error {
	if opt.PageW <= 0 || opt.PageH <= 0 {
		opt.PageW, opt.PageH = 842, 595
	}
	if opt.Margin <= 0 {
		opt.Margin = 36
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: opt.PageW, Ht: opt.PageH},
		OrientationStr: "",
	})
	title := p.Title
	if title == "" {
		title = "Untitled board"
	}
	pdf.SetTitle(title, false)
	pdf.SetAuthor("Organote", false)
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPageFormat("", gofpdf.SizeType{Wd: opt.PageW, Ht: opt.PageH})

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(opt.Margin, opt.Margin-12, title)

	items := make([]domain.Item, len(p.Items))
	copy(items, p.Items)
	// painter's order: lowest z first so overlaps match the board
	sort.SliceStable(items, func(i, j int) bool { return items[i].Z < items[j].Z })

	minX, minY, maxX, maxY := boardBounds(items, reg)
	scale := fitScale(maxX-minX, maxY-minY, opt.PageW-2*opt.Margin, opt.PageH-2*opt.Margin)

	pdf.SetDrawColor(60, 60, 60)
	pdf.SetFillColor(250, 249, 240)
	pdf.SetLineWidth(0.6)

	for _, it := range items {
		w, h := itemSize(it, reg)
		x := opt.Margin + (it.Offset.X-minX)*scale
		y := opt.Margin + (it.Offset.Y-minY)*scale
		w, h = w*scale, h*scale
		pdf.Rect(x, y, w, h, "FD")

		if img, ok := imageFor(it, files); ok {
			embedImage(pdf, it.ID, img, x, y, w, h)
		}

		pad := 4.0
		ty := y + pad + 8
		if opt.IncludeNames {
			pdf.SetFont("Helvetica", "I", 7)
			pdf.Text(x+pad, ty, it.Type)
			ty += 10
		}
		if opt.IncludeText {
			label := itemText(it)
			if label != "" {
				pdf.SetFont("Helvetica", "", 9)
				for _, line := range wrapText(label, int(w/5)) {
					if ty > y+h-pad {
						break
					}
					pdf.Text(x+pad, ty, line)
					ty += 11
				}
			}
		}
	}

	dir := filepath.Dir(outPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure out dir: %w", err)
		}
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func boardBounds(items []domain.Item, reg *plugin.Registry) (minX, minY, maxX, maxY float64) {
	if len(items) == 0 {
		return 0, 0, defaultItemSize, defaultItemSize
	}
	first := true
	for _, it := range items {
		w, h := itemSize(it, reg)
		if first {
			minX, minY = it.Offset.X, it.Offset.Y
			maxX, maxY = it.Offset.X+w, it.Offset.Y+h
			first = false
			continue
		}
		if it.Offset.X < minX {
			minX = it.Offset.X
		}
		if it.Offset.Y < minY {
			minY = it.Offset.Y
		}
		if it.Offset.X+w > maxX {
			maxX = it.Offset.X + w
		}
		if it.Offset.Y+h > maxY {
			maxY = it.Offset.Y + h
		}
	}
	return minX, minY, maxX, maxY
}

func fitScale(boardW, boardH, pageW, pageH float64) float64 {
	if boardW <= 0 || boardH <= 0 {
		return 1
	}
	sx, sy := pageW/boardW, pageH/boardH
	s := sx
	if sy < s {
		s = sy
	}
	if s > 1 {
		s = 1
	}
	return s
}

func itemSize(it domain.Item, reg *plugin.Registry) (float64, float64) {
	if reg != nil {
		if p, ok := reg.Lookup(it.Type); ok {
			d := p.DimensionsFor(it.Variant)
			if d.Width > 0 && d.Height > 0 {
				return d.Width, d.Height
			}
		}
	}
	return defaultItemSize, defaultItemSize
}

func itemText(it domain.Item) string {
	if it.Content != "" {
		return it.Content
	}
	return it.Title
}

// imageFor resolves an item's upload reference to an embeddable image.
func imageFor(it domain.Item, files codec.Files) (domain.StoredAsset, bool) {
	ref, ok := domain.ParseAssetRef(it.Src)
	if !ok || files == nil {
		return domain.StoredAsset{}, false
	}
	asset, ok := files[ref.Partition][ref.Key]
	if !ok || len(asset.Data) == 0 {
		return domain.StoredAsset{}, false
	}
	switch asset.Type {
	case "image/png", "image/jpeg", "image/gif":
		return asset, true
	}
	// webp and pdf payloads have no gofpdf decoder; footprint only
	return domain.StoredAsset{}, false
}

func embedImage(pdf *gofpdf.Fpdf, id string, asset domain.StoredAsset, x, y, w, h float64) {
	typ := strings.TrimPrefix(asset.Type, "image/")
	opts := gofpdf.ImageOptions{ImageType: typ, ReadDpi: false}
	pdf.RegisterImageOptionsReader(id, opts, bytes.NewReader(asset.Data))
	pdf.ImageOptions(id, x, y, w, h, false, opts, 0, "")
}

// wrapText splits s into rough lines of at most width characters,
// breaking on spaces. Enough for outline snippets; not typography.
func wrapText(s string, width int) []string {
	if width < 8 {
		width = 8
	}
	words := strings.Fields(s)
	var lines []string
	var cur string
	for _, w := range words {
		if cur == "" {
			cur = w
			continue
		}
		if len(cur)+1+len(w) > width {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}
