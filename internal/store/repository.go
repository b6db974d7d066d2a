/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	applog "organote/internal/log"
	"organote/internal/domain"
)

// projectKeyPrefix namespaces project rows, matching the record keys
// of the storage format this repository evolved from.
const projectKeyPrefix = "project-"

// Repository persists Project records keyed by "project-<id>". Writes
// are last-write-wins at full-record granularity; field-level merging
// happens in the state store before persistence is triggered.
type Repository struct {
	store *Store
	// required yields the always-available plugin names, consulted
	// when the plugin cache is recomputed on every put.
	required func() map[string]bool
}

// NewRepository wraps a Store. required may be nil when no plugins are
// exempt from the derived plugin cache.
func NewRepository(s *Store, required func() map[string]bool) *Repository {
	if required == nil {
		required = func() map[string]bool { return nil }
	}
	return &Repository{store: s, required: required}
}

// List returns all stored projects, most recently modified first.
func (r *Repository) List(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT data FROM projects ORDER BY last_modified DESC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p domain.Project
		if err := json.Unmarshal(data, &p); err != nil {
			// a single corrupt row must not hide every other project
			applog.WithComponent("store").Warn("skipping corrupt project record", slog.Any("err", err))
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns the stored project for id. ok is false when absent; a
// missing id is not an error (it is simply a new project).
func (r *Repository) Get(ctx context.Context, id string) (domain.Project, bool, error) {
	var data []byte
	err := r.store.db.QueryRowContext(ctx,
		`SELECT data FROM projects WHERE key=?`, projectKeyPrefix+id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, false, nil
	}
	if err != nil {
		return domain.Project{}, false, fmt.Errorf("get project %s: %w", id, err)
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Project{}, false, fmt.Errorf("parse project %s: %w", id, err)
	}
	return p, true, nil
}

// Put writes the project record. The plugin cache is recomputed from
// the item collection first; whatever the caller left in Plugins is
// never trusted. Projects in the never-persist state are skipped so
// empty boards do not pollute the repository.
func (r *Repository) Put(ctx context.Context, p domain.Project) error {
	if p.ID == "" {
		return errors.New("project id is required")
	}
	if p.NeverPersist() {
		return nil
	}
	p.Plugins = domain.PluginsOf(p.Items, r.required())
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project %s: %w", p.ID, err)
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO projects(key, id, title, last_modified, data) VALUES(?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET id=excluded.id, title=excluded.title,
			last_modified=excluded.last_modified, data=excluded.data`,
		projectKeyPrefix+p.ID, p.ID, p.Title, p.LastModified, string(data))
	return wrapWriteErr(fmt.Sprintf("put project %s", p.ID), err)
}

// Delete removes the project record. The caller is responsible for
// first cascading deletion of every asset the project's items
// reference. Deleting an unknown id is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.store.db.ExecContext(ctx,
		`DELETE FROM projects WHERE key=?`, projectKeyPrefix+id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}
