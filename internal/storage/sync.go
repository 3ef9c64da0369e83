// Package storage stages model weights from object storage onto local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"evalprep/internal/common/fsutil"
	"evalprep/internal/executil"
)

// SchemeS3 prefixes object-storage model identifiers.
const SchemeS3 = "s3://"

// IsRemote reports whether modelID points at object storage.
func IsRemote(modelID string) bool {
	return strings.HasPrefix(modelID, SchemeS3)
}

// SyncSource turns a prefix into the wildcard source s5cmd expects:
// "s3://b/m" and "s3://b/m/" both become "s3://b/m/*".
func SyncSource(modelID string) string {
	if !strings.HasSuffix(modelID, "/") {
		modelID += "/"
	}
	return modelID + "*"
}

// emptySyncError reports a sync that succeeded but left nothing on disk.
type emptySyncError struct{ src, dst string }

func (e emptySyncError) Error() string {
	return fmt.Sprintf("sync of %s produced no files in %s", e.src, e.dst)
}

// IsEmptySync reports whether err is a sync that copied no files.
func IsEmptySync(err error) bool {
	var e emptySyncError
	return errors.As(err, &e)
}

// Syncer copies object-storage prefixes with s5cmd.
type Syncer struct {
	Runner executil.Runner
	Tool   string // s5cmd binary, defaults to "s5cmd"
	Log    zerolog.Logger
	// SkipVerify disables the post-sync file check (dry runs).
	SkipVerify bool
}

// Sync returns the local path the model should be read from. Identifiers that
// are not object-storage URIs are returned unchanged without running anything.
func (s *Syncer) Sync(ctx context.Context, modelID, dst string) (string, error) {
	if !IsRemote(modelID) {
		return modelID, nil
	}
	tool := s.Tool
	if tool == "" {
		tool = "s5cmd"
	}
	if !s.SkipVerify {
		if err := fsutil.EnsureDir(dst); err != nil {
			return "", err
		}
	}
	src := SyncSource(modelID)
	s.Log.Info().Str("src", src).Str("dst", dst).Msg("syncing model from object storage")
	c := executil.Cmd{Path: tool, Args: []string{"sync", src, dst}, Stream: true}
	if err := s.Runner.Run(ctx, c); err != nil {
		return "", fmt.Errorf("sync %s: %w", modelID, err)
	}
	if s.SkipVerify {
		return dst, nil
	}
	n, size, err := fsutil.CountFiles(dst)
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", dst, err)
	}
	if n == 0 {
		return "", emptySyncError{src: src, dst: dst}
	}
	s.Log.Info().Int("files", n).Str("size", humanize.Bytes(uint64(size))).Str("dst", dst).Msg("sync complete")
	return dst, nil
}
