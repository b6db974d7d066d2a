/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns panics into crash reports plus a recovery
// snapshot of the open board, so a crash never loses more than the
// last keystroke.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "organote/internal/log"
	"organote/internal/codec"
	"organote/internal/domain"
	"organote/internal/telemetry"
	"organote/internal/version"
)

// exitFn allows testing Recover without terminating the test process.
var exitFn = os.Exit

// SnapshotFunc returns the open project and its assets for the
// recovery file. nil means no board is open.
type SnapshotFunc func() (domain.Project, codec.Files)

// Recover captures a panic, logs it with the stack, writes a crash
// report and a gzipped export of the open board next to it, then
// exits non-zero.
//
// Usage: defer crash.Recover(dataDir, snapshot)
func Recover(dataDir string, snapshot SnapshotFunc) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(dataDir, r, stack)
		if snapshot != nil {
			if path, err := writeRecoverySnapshot(dataDir, snapshot); err != nil {
				l.Error("recovery snapshot failed", slog.Any("err", err))
			} else if path != "" {
				l.Info("recovery snapshot written", slog.String("path", path))
			}
		}

		fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath)
		fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
		exitFn(2)
	}
}

func crashDir(dataDir string) string {
	if dataDir == "" {
		return os.TempDir()
	}
	dir := filepath.Join(dataDir, "crashes")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func writeReport(dataDir string, panicVal any, stack []byte) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(crashDir(dataDir), fmt.Sprintf("crash-%s.log", stamp))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Organote Crash Report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	// optionally upload anonymized crash report (opt-in via env)
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}

// writeRecoverySnapshot exports the open board in the regular export
// format, so recovery is a normal import.
func writeRecoverySnapshot(dataDir string, snapshot SnapshotFunc) (string, error) {
	p, files := snapshot()
	if p.ID == "" && len(p.Items) == 0 {
		return "", nil
	}
	data, err := codec.EncodeGzip(p, codec.ReferencedFiles(p, files))
	if err != nil {
		return "", err
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(crashDir(dataDir), fmt.Sprintf("recovery-%s-%s.organote.gz", p.ID, stamp))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
