// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package paths turns configured source, include and exclude entries into
// absolute filesystem paths for the archive phase.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/drivebackup/internal/logging"
)

// DatabaseSource is the source name that selects the database dump file.
const DatabaseSource = "database"

// Resolver resolves paths against a fixed base directory.
type Resolver struct {
	// BaseDir is the root that relative entries resolve against.
	BaseDir string

	// SourcePaths maps named sources to (usually relative) directories.
	SourcePaths map[string]string

	// DumpPath is the database dump file, selected by DatabaseSource.
	DumpPath string
}

// NewResolver creates a Resolver.
func NewResolver(baseDir string, sourcePaths map[string]string, dumpPath string) *Resolver {
	return &Resolver{
		BaseDir:     filepath.Clean(baseDir),
		SourcePaths: sourcePaths,
		DumpPath:    dumpPath,
	}
}

// Absolute resolves p against the base directory and collapses ./ and ../
// segments. Absolute inputs are only cleaned.
func (r *Resolver) Absolute(p string) string {
	p = filepath.FromSlash(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.BaseDir, p)
}

// IsSubdir reports whether dir is a strict subdirectory of of. Both must be
// existing directories; anything else (files, missing paths) is never a subdir.
func IsSubdir(dir, of string) bool {
	if !isDir(dir) || !isDir(of) {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(of), filepath.Clean(dir))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// ResolveSources maps the selected source names and the include list to a
// deduplicated list of absolute paths. A source that is a subdirectory of
// another selected source is dropped, except the database dump.
func (r *Resolver) ResolveSources(selected, include []string) []string {
	var resolved []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		resolved = append(resolved, p)
	}

	for _, name := range selected {
		if name == DatabaseSource {
			add(r.DumpPath)
			continue
		}
		rel, ok := r.SourcePaths[name]
		if !ok {
			logging.Warn().Str("source", name).Msg("Unknown backup source, skipping")
			continue
		}
		add(r.Absolute(rel))
	}
	for _, inc := range include {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		add(r.Absolute(inc))
	}

	pruned := make([]string, 0, len(resolved))
	for _, candidate := range resolved {
		if candidate == r.DumpPath || !coveredByAnother(candidate, resolved) {
			pruned = append(pruned, candidate)
			continue
		}
		logging.Debug().Str("path", candidate).Msg("Dropping source contained in another source")
	}
	return pruned
}

func coveredByAnother(candidate string, all []string) bool {
	for _, other := range all {
		if other != candidate && IsSubdir(candidate, other) {
			return true
		}
	}
	return false
}

// ExcludeSet is the resolved exclude list.
type ExcludeSet struct {
	// Names are bare entries (no separator) matched against any path's base name.
	// Shell patterns such as "*.log" are allowed.
	Names []string

	// Paths are absolute paths excluded together with everything below them.
	Paths []string
}

// ResolveExcludes resolves the exclude list. The private directory is always
// added so the archive never contains its own storage.
func (r *Resolver) ResolveExcludes(excludes []string, privateDir string) ExcludeSet {
	var set ExcludeSet
	seen := make(map[string]bool)

	for _, e := range excludes {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.ContainsAny(e, `/\`) {
			if !seen["name:"+e] {
				seen["name:"+e] = true
				set.Names = append(set.Names, e)
			}
			continue
		}
		p := r.Absolute(e)
		if !seen[p] {
			seen[p] = true
			set.Paths = append(set.Paths, p)
		}
	}

	if privateDir != "" {
		p := r.Absolute(privateDir)
		if !seen[p] {
			set.Paths = append(set.Paths, p)
		}
	}
	return set
}

// Match reports whether path is excluded.
func (s ExcludeSet) Match(path string) bool {
	path = filepath.Clean(path)
	base := filepath.Base(path)
	for _, name := range s.Names {
		if name == base {
			return true
		}
		if ok, err := filepath.Match(name, base); err == nil && ok {
			return true
		}
	}
	for _, p := range s.Paths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
