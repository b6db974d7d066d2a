/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package domain defines the core data model for the notes board:
// projects, board items, viewport transforms and stored binary assets.
package domain

import (
	"crypto/rand"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// LastModifiedUnsaved is the sentinel marking a project that has never
// been persisted. It is distinct from zero so a project persisted at
// epoch difference zero is still recognizable as saved.
const LastModifiedUnsaved int64 = -1

// AssetRefPrefix starts every asset reference stored in an item's Src
// field: "upload:<partition>:<key>".
const AssetRefPrefix = "upload:"

// Offset is a position in project-local (unscaled) coordinate space.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the board transform: pan offset plus zoom scale Z.
// The neutral transform is {0, 0, 1}.
type Viewport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Item is a single placeable board element. Type selects the plugin
// responsible for its behavior; items whose type has no registered
// plugin are inert but retained in storage.
type Item struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Offset  Offset `json:"offset"`
	Z       int    `json:"z"`
	Variant int    `json:"variant,omitempty"`

	// Payload fields of the built-in plugins.
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	Src     string `json:"src,omitempty"`

	// Props carries payload fields of plugins this build does not
	// know about, so re-exporting never drops them.
	Props map[string]any `json:"props,omitempty"`
}

// Project is the full persisted unit of work.
type Project struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	LastModified int64    `json:"lastModified"`
	Offset       Viewport `json:"offset"`
	// Plugins is a cache of the distinct non-required item types,
	// recomputed from Items on every persist. Never authoritative.
	Plugins []string `json:"plugins"`
	Items   []Item   `json:"items"`
}

// StoredAsset is an uploaded binary (image, PDF) kept in the asset
// store and referenced from an item's Src field.
type StoredAsset struct {
	Type string `json:"type"` // MIME type
	Name string `json:"name"`
	Data []byte `json:"data"`

	// Pixel dimensions, probed on write for image assets. Zero when
	// unknown or not applicable.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// AssetRef is a parsed "upload:<partition>:<key>" reference.
type AssetRef struct {
	Partition string
	Key       string
}

// String reassembles the reference in its stored form.
func (r AssetRef) String() string { return AssetRefPrefix + r.Partition + ":" + r.Key }

// ParseAssetRef splits an item Src value into its asset reference.
// The second return is false for inline or empty Src values.
func ParseAssetRef(src string) (AssetRef, bool) {
	if !strings.HasPrefix(src, AssetRefPrefix) {
		return AssetRef{}, false
	}
	rest := src[len(AssetRefPrefix):]
	i := strings.Index(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return AssetRef{}, false
	}
	return AssetRef{Partition: rest[:i], Key: rest[i+1:]}, true
}

// NewProject returns an empty project skeleton for the given id with a
// neutral viewport and the never-persisted sentinel.
func NewProject(id string) Project {
	return Project{
		ID:           id,
		LastModified: LastModifiedUnsaved,
		Offset:       Viewport{Z: 1},
		Plugins:      []string{},
		Items:        []Item{},
	}
}

// NeverPersist reports whether the project is in the state that must
// not be written to the repository: untitled and empty. Viewport
// changes on such a board stamp a modification time but still must
// not persist, so the timestamp plays no part here. This keeps
// abandoned empty boards out of the project list.
func (p Project) NeverPersist() bool {
	return p.Title == "" && len(p.Items) == 0
}

// HighestZ returns the maximum stacking order across items, or -1 for
// an empty board so the first created item lands at z 0.
func (p Project) HighestZ() int {
	max := -1
	for _, it := range p.Items {
		if it.Z > max {
			max = it.Z
		}
	}
	return max
}

// FindItem returns the index of the item with the given id, or -1.
func (p Project) FindItem(id string) int {
	for i, it := range p.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// PluginsOf derives the plugin cache from an item collection: the
// distinct item types minus the always-available required set, sorted
// for stable serialization.
func PluginsOf(items []Item, required map[string]bool) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, it := range items {
		if it.Type == "" || seen[it.Type] || required[it.Type] {
			continue
		}
		seen[it.Type] = true
		out = append(out, it.Type)
	}
	sort.Strings(out)
	return out
}

// AssetRefs collects the parsed references of every item whose Src is
// an upload reference. Used to restrict exports to live assets.
func (p Project) AssetRefs() []AssetRef {
	var refs []AssetRef
	for _, it := range p.Items {
		if ref, ok := ParseAssetRef(it.Src); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Clone returns a deep copy of the project. Items and Plugins are
// copied; Props maps are copied one level deep, which covers every
// payload shape the codec produces.
func (p Project) Clone() Project {
	out := p
	out.Plugins = append([]string(nil), p.Plugins...)
	out.Items = make([]Item, len(p.Items))
	for i, it := range p.Items {
		out.Items[i] = it
		if it.Props != nil {
			props := make(map[string]any, len(it.Props))
			for k, v := range it.Props {
				props[k] = v
			}
			out.Items[i].Props = props
		}
	}
	return out
}

// Now returns the current wall clock in the unit LastModified uses.
func Now() int64 { return time.Now().UnixMilli() }

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// NewProjectID generates a short opaque project id, usable as the
// shareable URL key.
func NewProjectID() string {
	b := make([]byte, 7)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for id generation
		panic("domain: read random: " + err.Error())
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])&63]
	}
	return string(b)
}

// itemAlias avoids recursion in Item's custom unmarshaller.
type itemAlias Item

// UnmarshalJSON keeps unknown payload fields: anything outside the
// declared schema lands in Props so a later export reproduces it.
func (it *Item) UnmarshalJSON(data []byte) error {
	var a itemAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"id": true, "type": true, "offset": true, "z": true,
		"variant": true, "content": true, "title": true, "src": true,
		"props": true,
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if a.Props == nil {
			a.Props = map[string]any{}
		}
		a.Props[k] = val
	}
	*it = Item(a)
	return nil
}

// MarshalJSON flattens Props back to top-level fields, the shape the
// original exporter used, so round-trips are lossless.
func (it Item) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(itemAlias(it))
	if err != nil {
		return nil, err
	}
	if len(it.Props) == 0 {
		return base, nil
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	delete(m, "props")
	for k, v := range it.Props {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}
