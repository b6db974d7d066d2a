/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package board

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	applog "organote/internal/log"
	"organote/internal/domain"
	"organote/internal/plugin"
)

// AssetRemover cascades deletion of uploaded binaries when the items
// referencing them are removed.
type AssetRemover interface {
	DeleteRef(ctx context.Context, src string) error
}

// defaultCanvas is the board area used to center newly created items
// when the host has not reported its real dimensions.
var defaultCanvas = domain.Offset{X: 1280, Y: 800}

// Items performs the item lifecycle operations on a State.
type Items struct {
	state    *State
	registry *plugin.Registry
	assets   AssetRemover

	// Canvas is the visible board area in screen pixels, used to
	// place new items at the viewport center.
	Canvas domain.Offset
}

// NewItems wires the lifecycle manager. assets may be nil when no
// asset store backs the board (e.g. read-only shared views).
func NewItems(state *State, registry *plugin.Registry, assets AssetRemover) *Items {
	return &Items{state: state, registry: registry, assets: assets, Canvas: defaultCanvas}
}

// Create adds a new item of the given plugin type centered in the
// current viewport and on top of the stacking order. The plugin's
// variant defaults seed the payload fields.
func (m *Items) Create(ctx context.Context, typ string, variant int) (domain.Item, error) {
	p, ok := m.registry.Lookup(typ)
	if !ok {
		return domain.Item{}, fmt.Errorf("create item: unknown plugin %q", typ)
	}

	it := p.Defaults(variant)
	it.ID = uuid.NewString()
	it.Type = typ
	it.Variant = variant

	vp := m.state.Viewport()
	dims := p.DimensionsFor(variant)
	// screen center mapped back into project coordinates, shifted by
	// half the item footprint so the item ends up visually centered
	it.Offset = domain.Offset{
		X: (-vp.X+m.Canvas.X/2)/vp.Z - dims.Width/2,
		Y: (-vp.Y+m.Canvas.Y/2)/vp.Z - dims.Height/2,
	}

	err := m.state.Update(ctx, func(pr domain.Project) domain.Project {
		it.Z = pr.HighestZ() + 1
		pr.Items = append(pr.Items, it)
		return pr
	})
	if err != nil {
		return it, err
	}
	return it, nil
}

// Update applies fn to the item with the given id. A missing id is a
// silent no-op: the item may have been deleted between the caller's
// read and this write.
func (m *Items) Update(ctx context.Context, id string, fn func(domain.Item) domain.Item) error {
	return m.state.Update(ctx, func(pr domain.Project) domain.Project {
		i := pr.FindItem(id)
		if i < 0 {
			return pr
		}
		updated := fn(pr.Items[i])
		updated.ID = id // ids are immutable
		pr.Items[i] = updated
		return pr
	})
}

// Move repositions an item in project coordinates.
func (m *Items) Move(ctx context.Context, id string, to domain.Offset) error {
	return m.Update(ctx, id, func(it domain.Item) domain.Item {
		it.Offset = to
		return it
	})
}

// BringToFront raises the item above every other. Raising the item
// already on top commits nothing, so repeated clicks do not inflate z
// values or modification stamps.
func (m *Items) BringToFront(ctx context.Context, id string) error {
	pr := m.state.Current()
	i := pr.FindItem(id)
	if i < 0 {
		return nil
	}
	if top := pr.HighestZ(); pr.Items[i].Z == top {
		return nil
	}
	return m.state.Update(ctx, func(pr domain.Project) domain.Project {
		i := pr.FindItem(id)
		if i < 0 {
			return pr
		}
		pr.Items[i].Z = pr.HighestZ() + 1
		return pr
	})
}

// Delete removes the item and, when its Src is an upload reference,
// its stored asset. The asset goes first so a crash between the two
// steps leaves a dangling reference (recoverable, shows a placeholder)
// rather than an orphaned blob.
func (m *Items) Delete(ctx context.Context, id string) error {
	pr := m.state.Current()
	i := pr.FindItem(id)
	if i < 0 {
		return nil
	}
	if src := pr.Items[i].Src; m.assets != nil && src != "" {
		if err := m.assets.DeleteRef(ctx, src); err != nil {
			applog.WithComponent("board").Warn("cascade asset delete failed",
				slog.String("item", id), slog.Any("err", err))
		}
	}
	return m.state.Update(ctx, func(pr domain.Project) domain.Project {
		i := pr.FindItem(id)
		if i < 0 {
			return pr
		}
		pr.Items = append(pr.Items[:i], pr.Items[i+1:]...)
		return pr
	})
}
