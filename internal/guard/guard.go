// Package guard implements snapshot/restore protection for a fixed set
// of paths in the agent's working tree.
//
// The guard is a detective control, not a preventive one: the agent is
// free to write anywhere during a run, and drift on protected paths is
// repaired after the fact from the snapshot. Keeping it corrective keeps
// the agent sandbox simple; strict filesystem isolation is a deliberate
// non-feature.
package guard

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// entry is one captured file: its content, or the fact it was absent.
type entry struct {
	content []byte
	exists  bool
}

// Snapshot captures the state of every protected file at run start.
type Snapshot struct {
	root  string
	files map[string]entry
	dirs  []string
}

// Guard snapshots and restores a fixed protected-path set under root.
// Entries may name files or directories; directories are protected
// recursively, including against files created inside them later.
type Guard struct {
	root      string
	protected []string
}

// New creates a Guard for the given working tree root.
func New(root string, protected []string) *Guard {
	return &Guard{root: root, protected: protected}
}

// Snapshot reads the current content (or records the absence) of each
// protected path. Filesystem reads only.
func (g *Guard) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{root: g.root, files: make(map[string]entry)}

	for _, rel := range g.protected {
		abs := filepath.Join(g.root, rel)
		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			snap.files[filepath.ToSlash(rel)] = entry{exists: false}
			continue
		}
		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			snap.dirs = append(snap.dirs, filepath.ToSlash(rel))
			if err := snap.captureDir(abs, rel); err != nil {
				return nil, err
			}
			continue
		}

		data, err := os.ReadFile(abs) //nolint:gosec // G304: path comes from the configured protected set
		if err != nil {
			return nil, err
		}
		snap.files[filepath.ToSlash(rel)] = entry{content: data, exists: true}
	}

	return snap, nil
}

// captureDir records every regular file under abs, keyed relative to the root.
func (s *Snapshot) captureDir(abs, rel string) error {
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, readErr := os.ReadFile(path) //nolint:gosec // G304: walked under a protected dir
		if readErr != nil {
			return readErr
		}
		sub, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(filepath.Join(rel, sub))
		s.files[key] = entry{content: data, exists: true}
		return nil
	})
}

// Restore rewrites every drifted path back to its snapshot state and
// returns the relative paths actually restored (empty if nothing
// drifted). Files created inside protected directories are deleted.
// Per-path failures are logged and skipped; they never abort the rest
// of the restoration.
func (g *Guard) Restore(snap *Snapshot) []string {
	var restored []string

	for rel, e := range snap.files {
		abs := filepath.Join(snap.root, filepath.FromSlash(rel))
		current, err := os.ReadFile(abs) //nolint:gosec // G304: path comes from the snapshot
		exists := err == nil

		switch {
		case e.exists && (!exists || !bytes.Equal(current, e.content)):
			if writeErr := writeFile(abs, e.content); writeErr != nil {
				slog.Error("guard restore failed", "path", rel, "error", writeErr)
				continue
			}
			restored = append(restored, rel)
		case !e.exists && exists:
			if rmErr := os.Remove(abs); rmErr != nil {
				slog.Error("guard restore failed", "path", rel, "error", rmErr)
				continue
			}
			restored = append(restored, rel)
		}
	}

	// Delete files that appeared inside protected directories after the snapshot.
	for _, dir := range snap.dirs {
		abs := filepath.Join(snap.root, filepath.FromSlash(dir))
		_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil //nolint:nilerr // best-effort walk
			}
			sub, relErr := filepath.Rel(snap.root, path)
			if relErr != nil {
				return nil
			}
			key := filepath.ToSlash(sub)
			if _, known := snap.files[key]; known {
				return nil
			}
			if rmErr := os.Remove(path); rmErr != nil {
				slog.Error("guard restore failed", "path", key, "error", rmErr)
				return nil
			}
			restored = append(restored, key)
			return nil
		})
	}

	sort.Strings(restored)
	return restored
}

func writeFile(abs string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, content, 0o644) //nolint:gosec // G306: tree files are world-readable source
}

// Preamble renders the edit-policy text prepended to every prompt. It
// enumerates the editable surface; enforcement itself is the restore
// pass above.
func Preamble(editable []string) string {
	var b strings.Builder
	b.WriteString("You may ONLY edit the following files and directories:\n")
	for _, p := range editable {
		b.WriteString("  - ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("Never create, modify, or delete any other file in this project. ")
	b.WriteString("Do not touch API routes, library code, configuration, or the database.\n\n")
	return b.String()
}
