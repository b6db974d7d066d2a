/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package codec

import (
	"encoding/json"
	"fmt"

	"organote/internal/domain"
)

// decodeState is the mutable intermediate a decode migrates in place.
type decodeState struct {
	version int
	env     *Envelope
	items   []domain.Item
}

// migration brings data at exactly `from` up to `from+1`. Steps must
// be idempotent when reapplied to already-migrated data.
type migration struct {
	from  int
	apply func(*decodeState) error
}

// migrations, in strictly increasing version order. A decode at or
// above CurrentVersion short-circuits all of them.
var migrations = []migration{
	{from: 1, apply: migrateItemsToList},
	{from: 2, apply: migrateV2},
	// v3 -> v4 restricts export files to referenced assets, an
	// export-time rule with no inbound transformation.
	{from: 3, apply: func(*decodeState) error { return nil }},
}

// migrateV2 brings a v2 envelope to v3. The id-keyed item form
// survived into some v2 exports, so the list normalization runs again
// before the zoom backfill; it is a no-op on already-flat input.
func migrateV2(st *decodeState) error {
	if err := migrateItemsToList(st); err != nil {
		return err
	}
	return migrateDefaultZoom(st)
}

func migrate(env *Envelope) (*Decoded, error) {
	st := &decodeState{version: env.Version, env: env}

	// Current-format envelopes carry items at the envelope level;
	// legacy ones inside the project record.
	if env.Items != nil {
		st.items = env.Items
	} else if len(env.Project.Items) > 0 {
		var items []domain.Item
		if err := json.Unmarshal(env.Project.Items, &items); err == nil {
			st.items = items
		} else {
			// leave raw; the v1 step decodes the id-keyed map form
			st.items = nil
		}
	}

	for _, m := range migrations {
		if st.version != m.from {
			continue
		}
		if err := m.apply(st); err != nil {
			return nil, err
		}
		st.version = m.from + 1
	}
	if st.version != CurrentVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("migration stopped at version %d", st.version)}
	}

	z := 1.0
	if env.Project.Offset.Z != nil {
		z = *env.Project.Offset.Z
	}
	if st.items == nil {
		st.items = []domain.Item{}
	}
	p := domain.Project{
		ID:           env.Project.ID,
		Title:        env.Project.Title,
		LastModified: env.Project.LastModified,
		Offset:       domain.Viewport{X: env.Project.Offset.X, Y: env.Project.Offset.Y, Z: z},
		Plugins:      env.Project.Plugins,
		Items:        st.items,
	}
	if p.Plugins == nil {
		p.Plugins = []string{}
	}
	return &Decoded{Project: p, Files: env.Files, Version: env.Version}, nil
}

// migrateItemsToList normalizes the id-keyed item mapping used before
// v3 into the flat canonical collection. Already-flat input passes
// through unchanged.
func migrateItemsToList(st *decodeState) error {
	if st.items != nil || len(st.env.Project.Items) == 0 {
		return nil
	}
	var keyed map[string]domain.Item
	if err := json.Unmarshal(st.env.Project.Items, &keyed); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("parse id-keyed item mapping: %v", err)}
	}
	items := make([]domain.Item, 0, len(keyed))
	for id, it := range keyed {
		if it.ID == "" {
			it.ID = id
		}
		items = append(items, it)
	}
	st.items = items
	return nil
}

// migrateDefaultZoom backfills the viewport zoom introduced in v3.
func migrateDefaultZoom(st *decodeState) error {
	if st.env.Project.Offset.Z == nil {
		z := 1.0
		st.env.Project.Offset.Z = &z
	}
	return nil
}
