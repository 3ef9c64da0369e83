package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"evalprep/internal/executil"
)

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"s3://bucket/model":      true,
		"s3://bucket/model/":     true,
		"meta-llama/Llama-3-8B":  false,
		"/opt/ml/input/model":    false,
		"S3://bucket/upper-case": false,
		"":                       false,
	}
	for in, want := range cases {
		if got := IsRemote(in); got != want {
			t.Fatalf("IsRemote(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSyncSource(t *testing.T) {
	if got := SyncSource("s3://b/m"); got != "s3://b/m/*" {
		t.Fatalf("got %q", got)
	}
	if got := SyncSource("s3://b/m/"); got != "s3://b/m/*" {
		t.Fatalf("got %q", got)
	}
}

func TestSync_LocalIDUntouched(t *testing.T) {
	called := false
	s := &Syncer{Runner: executil.FuncRunner(func(ctx context.Context, c executil.Cmd) error {
		called = true
		return nil
	}), Log: zerolog.Nop()}
	got, err := s.Sync(context.Background(), "meta-llama/Llama-3-8B", t.TempDir())
	if err != nil || got != "meta-llama/Llama-3-8B" {
		t.Fatalf("Sync = %q, %v", got, err)
	}
	if called {
		t.Fatalf("runner must not be called for non-remote ids")
	}
}

func TestSync_RewritesToStagingDir(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "model")
	var got executil.Cmd
	s := &Syncer{Tool: "/usr/local/bin/s5cmd", Log: zerolog.Nop(), Runner: executil.FuncRunner(func(ctx context.Context, c executil.Cmd) error {
		got = c
		return os.WriteFile(filepath.Join(dst, "config.json"), []byte("{}"), 0o644)
	})}
	path, err := s.Sync(context.Background(), "s3://bucket/run-1", dst)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if path != dst {
		t.Fatalf("path = %q, want %q", path, dst)
	}
	if got.Path != "/usr/local/bin/s5cmd" || len(got.Args) != 3 || got.Args[0] != "sync" || got.Args[1] != "s3://bucket/run-1/*" || got.Args[2] != dst {
		t.Fatalf("unexpected command: %+v", got)
	}
}

func TestSync_FailureIsReported(t *testing.T) {
	s := &Syncer{Log: zerolog.Nop(), Runner: executil.FuncRunner(func(ctx context.Context, c executil.Cmd) error {
		return &executil.ExitError{Cmd: c.Path, Code: 1}
	})}
	_, err := s.Sync(context.Background(), "s3://bucket/run-1", t.TempDir())
	if err == nil {
		t.Fatalf("expected error")
	}
	if code, ok := executil.ExitCode(err); !ok || code != 1 {
		t.Fatalf("expected exit code 1 in chain, got %d,%v", code, ok)
	}
}

func TestSync_EmptyDestination(t *testing.T) {
	s := &Syncer{Log: zerolog.Nop(), Runner: executil.FuncRunner(func(ctx context.Context, c executil.Cmd) error { return nil })}
	_, err := s.Sync(context.Background(), "s3://bucket/empty", t.TempDir())
	if !IsEmptySync(err) {
		t.Fatalf("expected empty sync error, got %v", err)
	}
	if errors.Unwrap(err) != nil {
		t.Fatalf("empty sync error should be a leaf")
	}
	if !IsEmptySync(fmt.Errorf("acquire: %w", err)) {
		t.Fatalf("wrapped empty sync not recognized")
	}
}

func TestSync_SkipVerify(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "never-created")
	s := &Syncer{Log: zerolog.Nop(), SkipVerify: true, Runner: executil.FuncRunner(func(ctx context.Context, c executil.Cmd) error { return nil })}
	path, err := s.Sync(context.Background(), "s3://bucket/m", dst)
	if err != nil || path != dst {
		t.Fatalf("Sync = %q, %v", path, err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("dry run must not create %s", dst)
	}
}
