/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"organote/internal/blob"
	"organote/internal/board"
	"organote/internal/codec"
	"organote/internal/config"
	"organote/internal/crash"
	"organote/internal/domain"
	"organote/internal/export"
	applog "organote/internal/log"
	"organote/internal/plugin"
	"organote/internal/share"
	"organote/internal/store"
	"organote/internal/version"
)

func usage() {
	fmt.Println("Organote — local-first notes board")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  organote version|-v|--version          Show version")
	fmt.Println("  organote list                           List local projects")
	fmt.Println("  organote new <title>                    Create a project")
	fmt.Println("  organote open <id>                      Open a project and print a summary")
	fmt.Println("  organote delete <id>                    Delete a project and its assets")
	fmt.Println("  organote export <id> <file>             Write a gzipped export file")
	fmt.Println("  organote export-pdf <id> <file>         Write a PDF outline of the board")
	fmt.Println("  organote import <file>                  Import an export file as a local project")
	fmt.Println("  organote share <id>                     Publish an encrypted snapshot, print the link fragment")
	fmt.Println("  organote open-share <fragment>          Resolve a share link and import it locally")
	fmt.Println("  organote set-token <token>              Store the blob store upload token in the OS keychain")
	fmt.Println("  organote store-server                   Run the blob store server")
	fmt.Println("  organote store-cleanup                  Remove expired blobs from the store database")
}

// env owns the handles every local subcommand needs.
type env struct {
	cfg    config.AppConfig
	token  string
	st     *store.Store
	repo   *store.Repository
	assets *store.Assets
	reg    *plugin.Registry
}

func openEnv(l *slog.Logger) (*env, error) {
	cfg, token, err := config.Load()
	if err != nil {
		return nil, err
	}
	dataDir, err := config.DataDir(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}
	reg := plugin.Builtin()
	l.Debug("local store open", slog.String("dir", dataDir))
	return &env{
		cfg:    cfg,
		token:  token,
		st:     st,
		repo:   store.NewRepository(st, reg.Required),
		assets: store.NewAssets(st),
		reg:    reg,
	}, nil
}

func (e *env) Close() {
	if e != nil && e.st != nil {
		_ = e.st.Close()
	}
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	defer crash.Recover("", nil)

	args := os.Args
	if len(args) < 2 {
		usage()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println("Organote", version.String())
		return

	case "list":
		e := mustEnv(l)
		defer e.Close()
		projects, err := e.repo.List(ctx)
		if err != nil {
			fail(l, "list failed", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet.")
			return
		}
		for _, p := range projects {
			title := p.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %-30s  %d items  %s\n", p.ID, title, len(p.Items),
				time.UnixMilli(p.LastModified).Format("2006-01-02 15:04"))
		}
		return

	case "new":
		if len(args) < 3 {
			fmt.Println("new requires <title>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		p := domain.NewProject(domain.NewProjectID())
		p.Title = args[2]
		p.LastModified = domain.Now()
		if err := e.repo.Put(ctx, p); err != nil {
			fail(l, "create failed", err)
		}
		fmt.Println("Created project", p.ID)
		return

	case "open":
		if len(args) < 3 {
			fmt.Println("open requires <id>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		state := board.NewState(nil)
		loader := board.NewLoader(state, e.repo, e.assets, nil, nil)
		p, err := loader.Load(ctx, board.Request{ProjectID: args[2]})
		if err != nil {
			fail(l, "open failed", err)
		}
		printSummary(p)
		return

	case "delete":
		if len(args) < 3 {
			fmt.Println("delete requires <id>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		p, ok, err := e.repo.Get(ctx, args[2])
		if err != nil {
			fail(l, "delete failed", err)
		}
		if ok {
			for _, ref := range p.AssetRefs() {
				if err := e.assets.Delete(ctx, ref.Partition, ref.Key); err != nil {
					l.Warn("asset delete failed", slog.String("ref", ref.String()), slog.Any("err", err))
				}
			}
		}
		if err := e.repo.Delete(ctx, args[2]); err != nil {
			fail(l, "delete failed", err)
		}
		fmt.Println("Deleted", args[2])
		return

	case "export":
		if len(args) < 4 {
			fmt.Println("export requires <id> and <file>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		p, files := mustProjectWithAssets(ctx, l, e, args[2])
		data, err := codec.EncodeGzip(p, codec.ReferencedFiles(p, files))
		if err != nil {
			fail(l, "export failed", err)
		}
		if err := os.WriteFile(args[3], data, 0o644); err != nil {
			fail(l, "export failed", err)
		}
		fmt.Printf("Exported %s (%d bytes) to %s\n", p.ID, len(data), args[3])
		return

	case "export-pdf":
		if len(args) < 4 {
			fmt.Println("export-pdf requires <id> and <file>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		p, files := mustProjectWithAssets(ctx, l, e, args[2])
		err := export.WriteBoardPDF(p, codec.ReferencedFiles(p, files), e.reg, args[3],
			export.OutlineOptions{IncludeText: true, IncludeNames: true})
		if err != nil {
			fail(l, "pdf export failed", err)
		}
		fmt.Println("Wrote", args[3])
		return

	case "import":
		if len(args) < 3 {
			fmt.Println("import requires <file>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		data, err := os.ReadFile(args[2])
		if err != nil {
			fail(l, "import failed", err)
		}
		p, err := importLocally(ctx, e, data)
		if err != nil {
			fail(l, "import failed", err)
		}
		fmt.Println("Imported as project", p.ID)
		printSummary(p)
		return

	case "share":
		if len(args) < 3 {
			fmt.Println("share requires <id>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		p, files := mustProjectWithAssets(ctx, l, e, args[2])
		client := blob.NewClient(e.cfg.Store.BaseURL, e.token)
		frag, err := share.NewService(client).Publish(ctx, p, files)
		if err != nil {
			fail(l, "share failed", err)
		}
		fmt.Println("Share fragment:")
		fmt.Println("#" + frag)
		return

	case "open-share":
		if len(args) < 3 {
			fmt.Println("open-share requires <fragment>")
			usage()
			os.Exit(2)
		}
		e := mustEnv(l)
		defer e.Close()
		client := blob.NewClient(e.cfg.Store.BaseURL, e.token)
		dec, err := share.Open(ctx, client, args[2])
		if err != nil {
			fail(l, "open share failed", err)
		}
		p := dec.Project
		p.ID = domain.NewProjectID()
		p.LastModified = domain.Now()
		if err := e.assets.Merge(ctx, dec.Files); err != nil {
			fail(l, "open share failed", err)
		}
		if err := e.repo.Put(ctx, p); err != nil {
			fail(l, "open share failed", err)
		}
		fmt.Println("Imported shared board as project", p.ID)
		printSummary(p)
		return

	case "set-token":
		if len(args) < 3 {
			fmt.Println("set-token requires <token>")
			usage()
			os.Exit(2)
		}
		cfg, _, err := config.Load()
		if err != nil {
			fail(l, "set-token failed", err)
		}
		if err := config.Save(cfg, args[2]); err != nil {
			fail(l, "set-token failed", err)
		}
		fmt.Println("Token stored in OS keychain.")
		return

	case "store-server":
		if err := blob.ListenAndServe(blob.LoadServerConfig()); err != nil {
			fail(l, "store server failed", err)
		}
		return

	case "store-cleanup":
		srv, err := blob.NewServer(ctx, blob.LoadServerConfig())
		if err != nil {
			fail(l, "store cleanup failed", err)
		}
		defer srv.Close()
		n, err := srv.CleanupExpired(ctx)
		if err != nil {
			fail(l, "store cleanup failed", err)
		}
		fmt.Printf("Removed %d expired blobs.\n", n)
		return

	default:
		usage()
		os.Exit(2)
	}
}

func fail(l *slog.Logger, msg string, err error) {
	l.Error(msg, slog.Any("err", err))
	fmt.Println("Error:", err)
	os.Exit(1)
}

func mustEnv(l *slog.Logger) *env {
	e, err := openEnv(l)
	if err != nil {
		fail(l, "startup failed", err)
	}
	return e
}

func mustProjectWithAssets(ctx context.Context, l *slog.Logger, e *env, id string) (domain.Project, codec.Files) {
	p, ok, err := e.repo.Get(ctx, id)
	if err != nil {
		fail(l, "load failed", err)
	}
	if !ok {
		fail(l, "load failed", fmt.Errorf("no project with id %s", id))
	}
	files, err := e.assets.Export(ctx)
	if err != nil {
		fail(l, "load failed", err)
	}
	return p, codec.Files(files)
}

func importLocally(ctx context.Context, e *env, data []byte) (domain.Project, error) {
	dec, err := codec.Decode(data)
	if err != nil {
		return domain.Project{}, err
	}
	p := dec.Project
	if p.ID == "" {
		p.ID = domain.NewProjectID()
	}
	p.LastModified = domain.Now()
	// assets first so the stored project never references missing keys
	if err := e.assets.Merge(ctx, dec.Files); err != nil {
		return domain.Project{}, err
	}
	if err := e.repo.Put(ctx, p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func printSummary(p domain.Project) {
	title := p.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("Project: %s\n", title)
	fmt.Printf("ID: %s\n", p.ID)
	fmt.Printf("Items: %d\n", len(p.Items))
	if len(p.Plugins) > 0 {
		fmt.Printf("Plugins: %v\n", p.Plugins)
	}
	if p.LastModified != domain.LastModifiedUnsaved {
		fmt.Printf("Last modified: %s\n", time.UnixMilli(p.LastModified).Format(time.RFC3339))
	}
}
