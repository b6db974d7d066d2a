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
	"errors"
	"fmt"
	"log/slog"

	applog "organote/internal/log"
	"organote/internal/codec"
	"organote/internal/domain"
	"organote/internal/share"
)

// ProjectStore is the repository surface the loader needs: lookup for
// navigation by id, write-through so decoded snapshots become durable
// local boards. ok is false for ids never persisted.
type ProjectStore interface {
	Get(ctx context.Context, id string) (domain.Project, bool, error)
	Put(ctx context.Context, p domain.Project) error
}

// AssetMerger imports the binary assets of a decoded export before
// the project becomes visible.
type AssetMerger interface {
	Merge(ctx context.Context, files map[string]map[string]domain.StoredAsset) error
}

// URLFetcher retrieves an external export document.
type URLFetcher interface {
	FetchURL(ctx context.Context, url string) ([]byte, error)
}

// FetchError marks a network retrieval failure during load, as
// opposed to a malformed document (codec.DecodeError).
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return "fetch " + e.Source + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// Request describes one board-open navigation. At most one source
// field is honored; the precedence is Fragment, ExternalURL,
// ImportData, ProjectID, then a fresh board.
type Request struct {
	// Fragment is a share link fragment ("#s=<id>,<key>").
	Fragment string
	// ExternalURL points at a plain or gzipped export document.
	ExternalURL string
	// ImportData holds the bytes of a locally imported export file.
	ImportData []byte
	// ProjectID selects a board from the local repository; an
	// unknown id opens a fresh board under that id.
	ProjectID string

	// Viewport overrides, applied after the source resolves.
	ViewportX, ViewportY, ViewportZ *float64
	// Plugins to enable on top of whatever the board already uses.
	Plugins []string
}

// Loader resolves a Request into the live State.
type Loader struct {
	state   *State
	repo    ProjectStore
	assets  AssetMerger
	fetcher URLFetcher
	blobs   share.BlobFetcher
}

// NewLoader wires a loader. fetcher and blobs may be nil for an
// offline build; share and external loads then fail with FetchError.
func NewLoader(state *State, repo ProjectStore, assets AssetMerger, fetcher URLFetcher, blobs share.BlobFetcher) *Loader {
	return &Loader{state: state, repo: repo, assets: assets, fetcher: fetcher, blobs: blobs}
}

// Load resolves the request and installs the result as the open
// project. A malformed document (codec.DecodeError) leaves the
// current state untouched; fetch failures fall back to a blank board
// so the app stays usable. The failure is returned for reporting
// either way, and the loading flag is cleared on every path.
func (l *Loader) Load(ctx context.Context, req Request) (domain.Project, error) {
	l.state.SetLoading(true)
	defer l.state.SetLoading(false)

	logger := applog.WithOperation(applog.WithComponent("board"), "load")

	p, files, err := l.resolve(ctx, req)
	if err != nil {
		var decErr *codec.DecodeError
		if errors.As(err, &decErr) {
			logger.Warn("document rejected, keeping current board", slog.Any("err", err))
			return l.state.Current(), err
		}
		logger.Warn("load failed, opening blank board", slog.Any("err", err))
		id := req.ProjectID
		if id == "" {
			id = domain.NewProjectID()
		}
		p, files = domain.NewProject(id), nil
	}

	// merge assets first so no observer ever sees an item whose
	// reference has not been written yet
	if len(files) > 0 && l.assets != nil {
		if mergeErr := l.assets.Merge(ctx, files); mergeErr != nil {
			logger.Warn("asset merge incomplete", slog.Any("err", mergeErr))
			if err == nil {
				err = mergeErr
			}
		}
	}

	// a decoded snapshot becomes a durable local board right away, so
	// the id survives a reload once the share fragment or source URL
	// is gone from the navigation context
	decoded := req.Fragment != "" || req.ExternalURL != "" || len(req.ImportData) > 0
	if decoded && err == nil && l.repo != nil {
		if putErr := l.repo.Put(ctx, p); putErr != nil {
			logger.Warn("persist decoded board failed", slog.Any("err", putErr))
			err = putErr
		}
	}

	applyOverrides(&p, req)
	l.state.Load(p)
	if err == nil {
		logger.Info("board ready", slog.String("project", p.ID), slog.Int("items", len(p.Items)))
	}
	return p, err
}

func (l *Loader) resolve(ctx context.Context, req Request) (domain.Project, codec.Files, error) {
	switch {
	case req.Fragment != "":
		if l.blobs == nil {
			return domain.Project{}, nil, &FetchError{Source: "share", Err: fmt.Errorf("no blob store configured")}
		}
		dec, err := share.Open(ctx, l.blobs, req.Fragment)
		if err != nil {
			return domain.Project{}, nil, err
		}
		return decodedProject(dec), dec.Files, nil

	case req.ExternalURL != "":
		if l.fetcher == nil {
			return domain.Project{}, nil, &FetchError{Source: req.ExternalURL, Err: fmt.Errorf("no fetcher configured")}
		}
		data, err := l.fetcher.FetchURL(ctx, req.ExternalURL)
		if err != nil {
			return domain.Project{}, nil, &FetchError{Source: req.ExternalURL, Err: err}
		}
		dec, err := codec.Decode(data)
		if err != nil {
			return domain.Project{}, nil, err
		}
		return decodedProject(dec), dec.Files, nil

	case len(req.ImportData) > 0:
		dec, err := codec.Decode(req.ImportData)
		if err != nil {
			return domain.Project{}, nil, err
		}
		return decodedProject(dec), dec.Files, nil

	case req.ProjectID != "":
		p, ok, err := l.repo.Get(ctx, req.ProjectID)
		if err != nil {
			return domain.Project{}, nil, err
		}
		if !ok {
			// unknown ids open a fresh board; the id sticks so a
			// bookmarked link keeps pointing at the same board
			return domain.NewProject(req.ProjectID), nil, nil
		}
		return p, nil, nil

	default:
		return domain.NewProject(domain.NewProjectID()), nil, nil
	}
}

// decodedProject adopts a decoded export as a local board. The export
// keeps its own id so the repository entry and the navigation
// reference stay stable across reloads; only an export without an id
// gets a fresh one.
func decodedProject(dec *codec.Decoded) domain.Project {
	p := dec.Project
	if p.ID == "" {
		p.ID = domain.NewProjectID()
	}
	return p
}

func applyOverrides(p *domain.Project, req Request) {
	if req.ViewportX != nil {
		p.Offset.X = *req.ViewportX
	}
	if req.ViewportY != nil {
		p.Offset.Y = *req.ViewportY
	}
	if req.ViewportZ != nil {
		p.Offset.Z = *req.ViewportZ
	}
	for _, name := range req.Plugins {
		found := false
		for _, have := range p.Plugins {
			if have == name {
				found = true
				break
			}
		}
		if !found {
			p.Plugins = append(p.Plugins, name)
		}
	}
}
