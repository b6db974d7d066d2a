/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package store provides the durable client-local storage: the project
// repository and the partitioned binary asset store, both backed by a
// single embedded SQLite database in the user data directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "organote/internal/log"
	"organote/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// DBFileName stores all local project/asset data under the data dir.
	DBFileName = "organote.sqlite"

	// schemaVersion tracks the local SQLite schema. Bump when you
	// perform breaking schema changes and add migrations.
	schemaVersion = 2
)

// ErrQuotaExceeded marks a local persistence write that failed because
// the device is out of space. Mutation paths must survive it: the
// in-memory state keeps the user's change, the failure is reported.
var ErrQuotaExceeded = errors.New("local storage quota exceeded")

// Store owns the embedded database shared by the project repository
// and the asset store.
type Store struct {
	db   *sql.DB
	path string
}

// DBPath returns the full path of the database file under dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFileName)
}

// Open ensures the local database exists at dataDir, opens it, enables
// WAL mode, and brings the schema up to date.
func Open(dataDir string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("store"), "open").With(
		slog.String("dir", dataDir),
	)
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		l.Error("create data dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := DBPath(dataDir)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// embedded usage; a single connection avoids writer contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}

	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	l.Info("local store ready", slog.String("path", path))
	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep existing schema for migrations; refresh app/timestamp
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureSchema creates the core tables if they do not exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		// Project records, keyed "project-<id>"; data is the full
		// canonical JSON record (last-write-wins per project).
		`CREATE TABLE IF NOT EXISTS projects (
			key           TEXT    PRIMARY KEY,
			id            TEXT    NOT NULL,
			title         TEXT,
			last_modified INTEGER NOT NULL,
			data          TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_last_modified ON projects(last_modified);`,

		// Uploaded binary assets, partitioned ("images", "pdfs", ...).
		// Partitions exist implicitly with their first row.
		`CREATE TABLE IF NOT EXISTS assets (
			partition  TEXT NOT NULL,
			key        TEXT NOT NULL,
			mime       TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			data       BLOB,
			w          INTEGER,
			h          INTEGER,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(partition, key)
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// never downgrade
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 2:
			// image dimensions for asset previews
			if err := ensureAssetDimensionColumns(ctx, db); err != nil {
				return fmt.Errorf("migration %d: %w", next, err)
			}
			if _, err := db.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("migration %d update version: %w", next, err)
			}
		default:
			// unknown future step; stop
		}
		cur = next
	}
	return nil
}

// ensureAssetDimensionColumns adds the w/h columns to databases
// created before schema 2; fresh databases get them from the base
// DDL. Safe to call repeatedly.
func ensureAssetDimensionColumns(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(assets);`)
	if err != nil {
		return fmt.Errorf("table_info assets: %w", err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		cols[name] = true
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	if !cols["w"] {
		if _, err := db.ExecContext(ctx, `ALTER TABLE assets ADD COLUMN w INTEGER DEFAULT 0`); err != nil {
			return fmt.Errorf("add w: %w", err)
		}
	}
	if !cols["h"] {
		if _, err := db.ExecContext(ctx, `ALTER TABLE assets ADD COLUMN h INTEGER DEFAULT 0`); err != nil {
			return fmt.Errorf("add h: %w", err)
		}
	}
	return nil
}

// wrapWriteErr maps out-of-space storage failures onto ErrQuotaExceeded
// so callers can report them without string matching.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "disk is full") || strings.Contains(err.Error(), "SQLITE_FULL") {
		return fmt.Errorf("%s: %w", op, ErrQuotaExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}
