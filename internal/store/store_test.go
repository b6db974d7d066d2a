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
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"organote/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(DBPath(dir)); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenAcceptsAssetsOnFreshDatabase(t *testing.T) {
	s := openTestStore(t)
	err := NewAssets(s).Put(context.Background(), "images", "fresh", domain.StoredAsset{
		Type: "application/octet-stream", Data: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("Put on fresh database: %v", err)
	}
}

func TestOpenUpgradesSchemaOneDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(DBPath(dir)))
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	stmts := []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL,
			app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version VALUES(1, 1, 'old', '2025-01-01T00:00:00Z', '2025-01-01T00:00:00Z');`,
		`CREATE TABLE assets (partition TEXT NOT NULL, key TEXT NOT NULL, mime TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '', data BLOB, updated_at TEXT NOT NULL,
			PRIMARY KEY(partition, key));`,
		`INSERT INTO assets VALUES('images', 'legacy', 'image/png', '', x'00', '2025-01-01T00:00:00Z');`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("seed schema 1: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	assets := NewAssets(s)
	ctx := context.Background()
	if _, err := assets.Get(ctx, "images", "legacy"); err != nil {
		t.Fatalf("Get legacy asset after upgrade: %v", err)
	}
	err = assets.Put(ctx, "images", "post", domain.StoredAsset{
		Type: "image/png", Data: pngBytes(t, 4, 4),
	})
	if err != nil {
		t.Fatalf("Put after upgrade: %v", err)
	}
	var schema int
	if err := s.db.QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if schema != 2 {
		t.Fatalf("schema = %d, want 2", schema)
	}
}

func TestRepositoryPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, nil)
	ctx := context.Background()

	p := domain.Project{
		ID:           "ab12cd3",
		Title:        "storyboard",
		LastModified: 1700000000000,
		Offset:       domain.Viewport{X: 10, Y: -20, Z: 1.5},
		Items: []domain.Item{
			{ID: "i1", Type: "text-sticky", Z: 0, Content: "hi"},
		},
	}
	if err := repo.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := repo.Get(ctx, "ab12cd3")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != p.Title || got.Offset != p.Offset || len(got.Items) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRepositoryGetMissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, nil)
	_, ok, err := repo.Get(context.Background(), "nope999")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Fatal("missing project reported as present")
	}
}

func TestRepositorySkipsNeverPersistProjects(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, nil)
	ctx := context.Background()

	empty := domain.NewProject("fresh01")
	if err := repo.Put(ctx, empty); err != nil {
		t.Fatalf("Put empty: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "fresh01"); ok {
		t.Fatal("untitled empty project must not be persisted")
	}

	// a title alone is enough to make it persistable
	empty.Title = "now named"
	if err := repo.Put(ctx, empty); err != nil {
		t.Fatalf("Put titled: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "fresh01"); !ok {
		t.Fatal("titled project should persist")
	}
}

func TestRepositoryRecomputesPluginCache(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, func() map[string]bool {
		return map[string]bool{"text-sticky": true}
	})
	ctx := context.Background()

	p := domain.Project{
		ID:           "plug001",
		Title:        "p",
		LastModified: 1,
		Plugins:      []string{"stale", "garbage"},
		Items: []domain.Item{
			{ID: "a", Type: "math"},
			{ID: "b", Type: "text-sticky"},
			{ID: "c", Type: "math"},
		},
	}
	if err := repo.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, err := repo.Get(ctx, "plug001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Plugins) != 1 || got.Plugins[0] != "math" {
		t.Fatalf("plugin cache = %v, want [math]", got.Plugins)
	}
}

func TestRepositoryListOrdering(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, nil)
	ctx := context.Background()

	for _, p := range []domain.Project{
		{ID: "old0001", Title: "old", LastModified: 100},
		{ID: "new0001", Title: "new", LastModified: 300},
		{ID: "mid0001", Title: "mid", LastModified: 200},
	} {
		if err := repo.Put(ctx, p); err != nil {
			t.Fatalf("Put %s: %v", p.ID, err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	want := []string{"new0001", "mid0001", "old0001"}
	if len(ids) != len(want) {
		t.Fatalf("list = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("list order = %v, want %v", ids, want)
		}
	}
}

func TestRepositoryDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s, nil)
	ctx := context.Background()

	if err := repo.Put(ctx, domain.Project{ID: "del0001", Title: "x", LastModified: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Delete(ctx, "del0001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "del0001"); ok {
		t.Fatal("project survived delete")
	}
	if err := repo.Delete(ctx, "del0001"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	repo := NewRepository(s, nil)
	if err := repo.Put(ctx, domain.Project{ID: "keep001", Title: "kept", LastModified: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := NewRepository(s2, nil).Get(ctx, "keep001")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.Title != "kept" {
		t.Fatalf("title = %q", got.Title)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestAssetsPutProbesImageDimensions(t *testing.T) {
	s := openTestStore(t)
	assets := NewAssets(s)
	ctx := context.Background()

	data := pngBytes(t, 32, 48)
	err := assets.Put(ctx, "images", "k1", domain.StoredAsset{
		Type: "image/png", Name: "a.png", Data: data,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := assets.Get(ctx, "images", "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Width != 32 || got.Height != 48 {
		t.Fatalf("probed dimensions = %dx%d, want 32x48", got.Width, got.Height)
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatal("asset bytes altered by store")
	}
}

func TestAssetsGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := NewAssets(s).Get(context.Background(), "images", "absent")
	if !errors.Is(err, ErrAssetMissing) {
		t.Fatalf("err = %v, want ErrAssetMissing", err)
	}
}

func TestAssetsDeleteRef(t *testing.T) {
	s := openTestStore(t)
	assets := NewAssets(s)
	ctx := context.Background()

	if err := assets.Put(ctx, "images", "abc", domain.StoredAsset{Type: "application/pdf", Data: []byte{1}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := assets.DeleteRef(ctx, "upload:images:abc"); err != nil {
		t.Fatalf("DeleteRef: %v", err)
	}
	if _, err := assets.Get(ctx, "images", "abc"); !errors.Is(err, ErrAssetMissing) {
		t.Fatal("asset survived cascade delete")
	}

	// inline sources are not upload refs; deleting them touches nothing
	if err := assets.DeleteRef(ctx, "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("DeleteRef inline: %v", err)
	}
	// deleting an already-gone key is a no-op
	if err := assets.DeleteRef(ctx, "upload:images:abc"); err != nil {
		t.Fatalf("DeleteRef repeat: %v", err)
	}
}

func TestAssetsExportAndMerge(t *testing.T) {
	s := openTestStore(t)
	assets := NewAssets(s)
	ctx := context.Background()

	in := map[string]map[string]domain.StoredAsset{
		"images": {
			"k1": {Type: "image/png", Name: "a.png", Data: []byte{1, 2}},
			"k2": {Type: "image/png", Name: "b.png", Data: []byte{3}},
		},
		"pdfs": {
			"k3": {Type: "application/pdf", Name: "doc.pdf", Data: []byte{4, 5, 6}},
		},
	}
	if err := assets.Merge(ctx, in); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	parts, err := assets.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 2 || parts[0] != "images" || parts[1] != "pdfs" {
		t.Fatalf("partitions = %v", parts)
	}

	out, err := assets.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(out["images"]) != 2 || len(out["pdfs"]) != 1 {
		t.Fatalf("export shape = %v", out)
	}
	if !bytes.Equal(out["pdfs"]["k3"].Data, []byte{4, 5, 6}) {
		t.Fatal("exported bytes differ from stored bytes")
	}
}
