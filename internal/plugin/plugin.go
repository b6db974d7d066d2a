/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package plugin holds the capability-set contract for item types and
// the registry the rest of the system dispatches through. Rendering is
// a front-end concern; the core only consults names, required flags,
// placement dimensions and default payloads.
package plugin

import (
	"sort"
	"sync"

	"organote/internal/domain"
)

// Dimensions is the footprint used to center a new item in the
// visible viewport at creation time.
type Dimensions struct {
	Width  float64
	Height float64
}

// Plugin describes one item type. Variant-dependent behavior is
// expressed through the two funcs; nil means variant-independent.
type Plugin struct {
	Name        string
	DisplayName string
	Description string

	// Required plugins are always available and excluded from the
	// project's derived plugin cache.
	Required bool

	// Variants is the number of sub-styles (e.g. header levels).
	// Zero or one means the type has a single style.
	Variants int

	Dimensions   func(variant int) Dimensions
	DefaultProps func(variant int) domain.Item
}

// DimensionsFor resolves the placement footprint for a variant, zero
// when the plugin declares none (item lands at the world origin).
func (p Plugin) DimensionsFor(variant int) Dimensions {
	if p.Dimensions == nil {
		return Dimensions{}
	}
	return p.Dimensions(variant)
}

// Defaults resolves the initial payload fields for a variant.
func (p Plugin) Defaults(variant int) domain.Item {
	if p.DefaultProps == nil {
		return domain.Item{}
	}
	return p.DefaultProps(variant)
}

// Registry is the lookup table of known plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: map[string]Plugin{}}
}

// Register adds or replaces a plugin by name. Empty names are ignored.
func (r *Registry) Register(p Plugin) {
	if p.Name == "" {
		return
	}
	r.mu.Lock()
	r.plugins[p.Name] = p
	r.mu.Unlock()
}

// Lookup returns the plugin for an item type. Items whose type is not
// registered are inert; callers must treat ok == false as "skip".
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	p, ok := r.plugins[name]
	r.mu.RUnlock()
	return p, ok
}

// Names returns all registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Required returns the names of always-available plugins as a set,
// the shape domain.PluginsOf consumes.
func (r *Registry) Required() map[string]bool {
	r.mu.RLock()
	out := map[string]bool{}
	for name, p := range r.plugins {
		if p.Required {
			out[name] = true
		}
	}
	r.mu.RUnlock()
	return out
}

// Builtin returns a registry populated with the stock item types.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(Plugin{
		Name:        "text-sticky",
		DisplayName: "Sticky note",
		Required:    true,
		Variants:    4,
		Dimensions:  fixed(280, 210.5),
		DefaultProps: func(int) domain.Item {
			return domain.Item{Content: ""}
		},
	})
	r.Register(Plugin{
		Name:        "lined-paper",
		DisplayName: "Lined paper",
		Required:    true,
		Dimensions:  fixed(632, 680),
		DefaultProps: func(int) domain.Item {
			return domain.Item{Content: ""}
		},
	})
	r.Register(Plugin{
		Name:        "still",
		DisplayName: "Image",
		Required:    true,
		Dimensions:  fixed(416, 460),
		DefaultProps: func(int) domain.Item {
			return domain.Item{Title: "", Src: ""}
		},
	})
	r.Register(Plugin{
		Name:        "header",
		DisplayName: "Header",
		Variants:    3,
		Dimensions: func(variant int) Dimensions {
			// header levels shrink with the variant number
			switch variant {
			case 2:
				return Dimensions{Width: 360, Height: 56}
			case 3:
				return Dimensions{Width: 280, Height: 40}
			default:
				return Dimensions{Width: 480, Height: 72}
			}
		},
		DefaultProps: func(variant int) domain.Item {
			return domain.Item{Content: "", Variant: variant}
		},
	})
	r.Register(Plugin{
		Name:        "math",
		DisplayName: "Calculator",
		Dimensions:  fixed(320, 420),
	})
	r.Register(Plugin{
		Name:        "excalidraw",
		DisplayName: "Drawing",
		Dimensions:  fixed(640, 480),
	})
	r.Register(Plugin{
		Name:        "pdf",
		DisplayName: "PDF",
		Dimensions:  fixed(480, 640),
		DefaultProps: func(int) domain.Item {
			return domain.Item{Title: "", Src: ""}
		},
	})
	return r
}

func fixed(w, h float64) func(int) Dimensions {
	return func(int) Dimensions { return Dimensions{Width: w, Height: h} }
}
