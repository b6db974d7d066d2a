/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	// webp uploads are common for board images; register its decoder
	_ "golang.org/x/image/webp"

	"organote/internal/domain"
)

// ErrAssetMissing is returned when an item references an asset key
// with no corresponding store entry (e.g. after a partial import).
// Callers degrade to a placeholder; they must never crash on it.
var ErrAssetMissing = errors.New("asset not found")

// Assets is the partitioned binary blob store referenced from item
// Src fields via "upload:<partition>:<key>". Partitions are created
// lazily on first write.
type Assets struct {
	store *Store
}

// NewAssets wraps a Store.
func NewAssets(s *Store) *Assets { return &Assets{store: s} }

// Get returns the stored asset at partition/key, or ErrAssetMissing.
func (a *Assets) Get(ctx context.Context, partition, key string) (domain.StoredAsset, error) {
	var asset domain.StoredAsset
	err := a.store.db.QueryRowContext(ctx,
		`SELECT mime, name, data, w, h FROM assets WHERE partition=? AND key=?`,
		partition, key).Scan(&asset.Type, &asset.Name, &asset.Data, &asset.Width, &asset.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredAsset{}, fmt.Errorf("%s:%s: %w", partition, key, ErrAssetMissing)
	}
	if err != nil {
		return domain.StoredAsset{}, fmt.Errorf("get asset %s:%s: %w", partition, key, err)
	}
	return asset, nil
}

// Put upserts the asset at partition/key. Image assets get their
// pixel dimensions probed when the caller did not provide them.
func (a *Assets) Put(ctx context.Context, partition, key string, asset domain.StoredAsset) error {
	if partition == "" || key == "" {
		return errors.New("asset partition and key are required")
	}
	if asset.Width == 0 && asset.Height == 0 && strings.HasPrefix(asset.Type, "image/") && len(asset.Data) > 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}
	_, err := a.store.db.ExecContext(ctx,
		`INSERT INTO assets(partition, key, mime, name, data, w, h, updated_at) VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(partition, key) DO UPDATE SET mime=excluded.mime, name=excluded.name,
			data=excluded.data, w=excluded.w, h=excluded.h, updated_at=excluded.updated_at`,
		partition, key, asset.Type, asset.Name, asset.Data, asset.Width, asset.Height,
		time.Now().UTC().Format(time.RFC3339))
	return wrapWriteErr(fmt.Sprintf("put asset %s:%s", partition, key), err)
}

// Delete removes the asset at partition/key. Deleting a missing key
// is a no-op, which keeps item deletion safe to reorder against
// in-flight writes.
func (a *Assets) Delete(ctx context.Context, partition, key string) error {
	_, err := a.store.db.ExecContext(ctx,
		`DELETE FROM assets WHERE partition=? AND key=?`, partition, key)
	if err != nil {
		return fmt.Errorf("delete asset %s:%s: %w", partition, key, err)
	}
	return nil
}

// DeleteRef removes the asset an item Src references, if it is an
// upload reference at all. Inline values are left untouched.
func (a *Assets) DeleteRef(ctx context.Context, src string) error {
	ref, ok := domain.ParseAssetRef(src)
	if !ok {
		return nil
	}
	return a.Delete(ctx, ref.Partition, ref.Key)
}

// Partitions enumerates the partition names currently holding assets.
func (a *Assets) Partitions(ctx context.Context) ([]string, error) {
	rows, err := a.store.db.QueryContext(ctx,
		`SELECT DISTINCT partition FROM assets ORDER BY partition`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Export returns every stored asset grouped by partition, the shape
// carried in export files.
func (a *Assets) Export(ctx context.Context) (map[string]map[string]domain.StoredAsset, error) {
	rows, err := a.store.db.QueryContext(ctx,
		`SELECT partition, key, mime, name, data, w, h FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("export assets: %w", err)
	}
	defer rows.Close()
	out := map[string]map[string]domain.StoredAsset{}
	for rows.Next() {
		var partition, key string
		var asset domain.StoredAsset
		if err := rows.Scan(&partition, &key, &asset.Type, &asset.Name, &asset.Data, &asset.Width, &asset.Height); err != nil {
			return nil, err
		}
		if out[partition] == nil {
			out[partition] = map[string]domain.StoredAsset{}
		}
		out[partition][key] = asset
	}
	return out, rows.Err()
}

// Merge upserts every asset of an imported files mapping. Used by the
// loader before the imported project becomes visible, so no observer
// ever sees an item referencing an asset not yet written.
func (a *Assets) Merge(ctx context.Context, files map[string]map[string]domain.StoredAsset) error {
	for partition, entries := range files {
		for key, asset := range entries {
			if err := a.Put(ctx, partition, key, asset); err != nil {
				return err
			}
		}
	}
	return nil
}
