// Package merge folds adapter weights into their base model by driving an
// external Python helper.
package merge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"evalprep/internal/common/fsutil"
	"evalprep/internal/executil"
	"evalprep/internal/registry"
	"evalprep/pkg/types"
)

//go:embed merge_adapter.py
var helperScript []byte

// Options describes one merge.
type Options struct {
	AdapterPath   string
	OutputDir     string
	DType         string // torch dtype name, e.g. float16
	MaxShardSize  string // e.g. 10GB
	SaveTokenizer bool
}

// noShardsError reports a merge that exited cleanly without writing weights.
type noShardsError struct{ dir string }

func (e noShardsError) Error() string { return "merge wrote no safetensors shards to " + e.dir }

// IsNoShards reports whether err is a merge that produced no weight files.
func IsNoShards(err error) bool {
	var e noShardsError
	return errors.As(err, &e)
}

// Merger runs the merge helper.
type Merger struct {
	Runner executil.Runner
	Python string // defaults to "python3"
	Script string // optional helper override; the embedded helper is used when empty
	Env    map[string]string
	Log    zerolog.Logger
	// SkipVerify disables output inspection (dry runs).
	SkipVerify bool
}

// Args renders the helper arguments for opts.
func Args(script string, opts Options) []string {
	args := []string{
		script,
		"--adapter", opts.AdapterPath,
		"--output", opts.OutputDir,
		"--dtype", opts.DType,
		"--max-shard-size", opts.MaxShardSize,
	}
	if opts.SaveTokenizer {
		args = append(args, "--save-tokenizer")
	}
	return args
}

// Merge runs the helper and returns the inspected merged checkpoint.
func (m *Merger) Merge(ctx context.Context, opts Options) (types.Checkpoint, error) {
	if opts.DType == "" {
		opts.DType = "float16"
	}
	if opts.MaxShardSize == "" {
		opts.MaxShardSize = "10GB"
	}
	python := m.Python
	if python == "" {
		python = "python3"
	}
	script := m.Script
	if script == "" {
		path, cleanup, err := writeHelper()
		if err != nil {
			return types.Checkpoint{}, err
		}
		defer cleanup()
		script = path
	}
	if !m.SkipVerify {
		if err := fsutil.EnsureDir(opts.OutputDir); err != nil {
			return types.Checkpoint{}, err
		}
	}

	m.Log.Info().
		Str("adapter", opts.AdapterPath).
		Str("output", opts.OutputDir).
		Str("dtype", opts.DType).
		Str("max_shard_size", opts.MaxShardSize).
		Msg("merging adapter into base model")
	c := executil.Cmd{Path: python, Args: Args(script, opts), Env: m.Env, Stream: true}
	if err := m.Runner.Run(ctx, c); err != nil {
		return types.Checkpoint{}, fmt.Errorf("merge %s: %w", opts.AdapterPath, err)
	}
	if m.SkipVerify {
		return types.Checkpoint{Dir: opts.OutputDir}, nil
	}
	cp, err := registry.Inspect(opts.OutputDir)
	if err != nil {
		return cp, fmt.Errorf("inspect merged model: %w", err)
	}
	if len(cp.Shards) == 0 {
		return cp, noShardsError{dir: cp.Dir}
	}
	m.Log.Info().Int("shards", len(cp.Shards)).Str("dir", cp.Dir).Msg("merged model saved")
	return cp, nil
}

func writeHelper() (string, func(), error) {
	dir, err := os.MkdirTemp("", "evalprep-merge-")
	if err != nil {
		return "", nil, fmt.Errorf("create helper dir: %w", err)
	}
	path := filepath.Join(dir, "merge_adapter.py")
	if err := os.WriteFile(path, helperScript, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("write merge helper: %w", err)
	}
	return path, func() { os.RemoveAll(dir) }, nil
}
