/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package board holds the live in-memory editing state of one open
// project and the operations that mutate it: item lifecycle, viewport
// transforms and the project loader.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	applog "organote/internal/log"
	"organote/internal/domain"
	"organote/internal/store"
	"organote/internal/telemetry"
)

// PersistFunc writes the current project snapshot to durable storage.
// It is invoked after every committed mutation.
type PersistFunc func(ctx context.Context, p domain.Project) error

// State is the single source of truth for the open project. All reads
// return deep copies; all writes go through Update, which serializes
// mutations, stamps the modification time and triggers persistence.
type State struct {
	mu      sync.Mutex
	project domain.Project
	loading bool

	persist PersistFunc
	subs    map[int]func(domain.Project)
	nextSub int
}

// NewState returns a State around an empty placeholder project.
// persist may be nil for detached (e.g. read-only shared) boards.
func NewState(persist PersistFunc) *State {
	if persist == nil {
		persist = func(context.Context, domain.Project) error { return nil }
	}
	return &State{
		project: domain.NewProject(""),
		persist: persist,
		subs:    map[int]func(domain.Project){},
	}
}

// Load replaces the whole project without stamping a modification:
// opening a board is not an edit. Subscribers are notified.
func (s *State) Load(p domain.Project) {
	s.mu.Lock()
	s.project = p.Clone()
	snapshot := s.project.Clone()
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, snapshot)
}

// Update applies fn to a copy of the project, commits the result,
// stamps LastModified and persists. When persistence fails the
// committed in-memory state is kept so the user's edit survives; the
// error is returned for reporting.
func (s *State) Update(ctx context.Context, fn func(domain.Project) domain.Project) error {
	s.mu.Lock()
	next := fn(s.project.Clone())
	next.LastModified = domain.Now()
	s.project = next
	snapshot := next.Clone()
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, snapshot)
	if err := s.persist(ctx, snapshot); err != nil {
		applog.WithComponent("board").Warn("persist after update failed",
			slog.String("project", snapshot.ID), slog.Any("err", err))
		if errors.Is(err, store.ErrQuotaExceeded) {
			telemetry.StorageFailure("quota")
		} else {
			telemetry.StorageFailure("write")
		}
		return err
	}
	return nil
}

// Current returns a deep copy of the open project.
func (s *State) Current() domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.Clone()
}

// Viewport returns the current board transform.
func (s *State) Viewport() domain.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.Offset
}

// SetViewport commits a pan/zoom change.
func (s *State) SetViewport(ctx context.Context, v domain.Viewport) error {
	return s.Update(ctx, func(p domain.Project) domain.Project {
		p.Offset = v
		return p
	})
}

// SetTitle renames the project.
func (s *State) SetTitle(ctx context.Context, title string) error {
	return s.Update(ctx, func(p domain.Project) domain.Project {
		p.Title = title
		return p
	})
}

// Items returns a deep copy of the item collection.
func (s *State) Items() []domain.Item {
	return s.Current().Items
}

// HighestZ returns the top of the stacking order, -1 when empty.
func (s *State) HighestZ() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.HighestZ()
}

// EnabledPlugins derives the non-required plugin names currently in
// use on the board.
func (s *State) EnabledPlugins(required map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.PluginsOf(s.project.Items, required)
}

// SetLoading flips the loading flag shown while a board resolves.
func (s *State) SetLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// Loading reports whether a load is in flight.
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe registers fn to run after every commit. The returned func
// unsubscribes; it is safe to call more than once.
func (s *State) Subscribe(fn func(domain.Project)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// subscribers snapshots the callback set; callers hold s.mu.
func (s *State) subscribers() []func(domain.Project) {
	out := make([]func(domain.Project), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(domain.Project), p domain.Project) {
	for _, fn := range subs {
		fn(p)
	}
}
