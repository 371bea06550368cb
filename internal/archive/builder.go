// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
builder.go - Backup Archive Creation

Builds a single tar.gz archive from a list of absolute source paths.

Archive Structure:

	{title}-{job id}.tar.gz
	├── dump.sql            (a file source is stored under its base name)
	├── wp-content/         (a directory source is stored under its base name)
	│   ├── plugins/...
	│   └── uploads/...
	└── ...

Excludes apply to everything found while walking a source, never to the
source roots themselves. The archive is written to a ".part" file and renamed
into place, so a killed process never leaves a truncated archive at dest.
*/

//nolint:staticcheck // File documentation, not package doc
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/paths"
)

// Result describes a finished archive.
type Result struct {
	Path     string
	Size     int64
	Files    int
	Checksum string
}

// Builder creates compressed tar archives.
type Builder struct {
	// CompressionLevel is a compress/gzip level, used as given.
	// NewBuilder sets gzip.DefaultCompression.
	CompressionLevel int
}

// NewBuilder creates a Builder with default compression.
func NewBuilder() *Builder {
	return &Builder{CompressionLevel: gzip.DefaultCompression}
}

// archiveWriters holds the writer chain file -> hash -> gzip -> tar.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
	sum       func() string
}

// Close closes all writers in reverse order, returning the first error encountered
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

//nolint:gosec // G304: path is derived from the configured backup folder
func (b *Builder) setupWriters(path string) (*archiveWriters, error) {
	outFile, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	h := sha256.New()
	gzWriter, err := gzip.NewWriterLevel(io.MultiWriter(outFile, h), b.CompressionLevel)
	if err != nil {
		outFile.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	tw := tar.NewWriter(gzWriter)
	return &archiveWriters{
		tarWriter: tw,
		closers:   []io.Closer{outFile, gzWriter, tw},
		sum:       func() string { return hex.EncodeToString(h.Sum(nil)) },
	}, nil
}

// Build archives sources into dest, skipping anything matched by excludes.
// Missing sources are logged and skipped; an archive with no entries is an error.
func (b *Builder) Build(ctx context.Context, sources []string, dest string, excludes paths.ExcludeSet) (result Result, err error) {
	if len(sources) == 0 {
		return Result{}, fmt.Errorf("no sources to archive")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return Result{}, fmt.Errorf("failed to create archive directory: %w", err)
	}

	partPath := dest + ".part"
	aw, err := b.setupWriters(partPath)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		closeErr := aw.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(partPath) //nolint:errcheck // Best effort cleanup
		}
	}()

	used := make(map[string]int)
	files := 0
	for _, src := range sources {
		info, statErr := os.Stat(src)
		if statErr != nil {
			logging.Warn().Err(statErr).Str("source", src).Msg("Archive source unavailable, skipping")
			continue
		}

		prefix := uniqueName(filepath.Base(src), used)
		if !info.IsDir() {
			if err := addFile(ctx, aw.tarWriter, src, prefix, info); err != nil {
				return Result{}, err
			}
			files++
			continue
		}

		n, walkErr := addTree(ctx, aw.tarWriter, src, prefix, excludes)
		if walkErr != nil {
			return Result{}, walkErr
		}
		files += n
	}

	if files == 0 {
		return Result{}, fmt.Errorf("nothing to archive: all sources missing or excluded")
	}

	// flush tar and gzip so the checksum and size cover the whole file
	if err := aw.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to finalize archive: %w", err)
	}
	aw.closers = nil

	if err := os.Rename(partPath, dest); err != nil {
		return Result{}, fmt.Errorf("failed to move archive into place: %w", err)
	}

	st, err := os.Stat(dest)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat archive: %w", err)
	}

	return Result{
		Path:     dest,
		Size:     st.Size(),
		Files:    files,
		Checksum: aw.sum(),
	}, nil
}

func uniqueName(name string, used map[string]int) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	return name + "-" + strconv.Itoa(used[name])
}

func addTree(ctx context.Context, tw *tar.Writer, root, prefix string, excludes paths.ExcludeSet) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logging.Warn().Err(walkErr).Str("path", path).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if path != root && excludes.Match(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		info, err := d.Info()
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Skipping path that vanished during walk")
			return nil
		}

		switch {
		case d.IsDir():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", path, err)
			}
			hdr.Name = name + "/"
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("failed to write tar header for %s: %w", path, err)
			}
			return nil
		case info.Mode().IsRegular():
			if err := addFile(ctx, tw, path, name, info); err != nil {
				return err
			}
			count++
			return nil
		default:
			// sockets, devices and symlinks are not archived
			return nil
		}
	})
	return count, err
}

//nolint:gosec // G304: path comes from walking a configured source
func addFile(ctx context.Context, tw *tar.Writer, path, name string, info fs.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", path, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	if _, err := io.CopyN(tw, file, info.Size()); err != nil {
		return fmt.Errorf("failed to copy %s to archive: %w", path, err)
	}
	return nil
}
