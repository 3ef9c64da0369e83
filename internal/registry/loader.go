package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"evalprep/internal/common/fsutil"
	"evalprep/pkg/types"
)

const (
	// AdapterConfigFile marks a directory as holding adapter weights.
	AdapterConfigFile = "adapter_config.json"
	// IndexFile maps tensor names to shards for split safetensors checkpoints.
	IndexFile = "model.safetensors.index.json"
)

// Inspect scans dir (non-recursively) and describes the checkpoint it holds.
func Inspect(dir string) (types.Checkpoint, error) {
	var cp types.Checkpoint
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return cp, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return cp, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return cp, fmt.Errorf("read dir: %w", err)
	}
	cp.Dir = abs
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		cp.Files = append(cp.Files, name)
		switch {
		case name == IndexFile:
			cp.Index = name
		case name == AdapterConfigFile:
			cp.Adapter = true
		case strings.HasSuffix(strings.ToLower(name), ".safetensors"):
			cp.Shards = append(cp.Shards, name)
		}
	}
	sort.Strings(cp.Files)
	sort.Strings(cp.Shards)
	if cp.Adapter {
		bm, err := readBaseModel(filepath.Join(abs, AdapterConfigFile))
		if err != nil {
			return cp, err
		}
		cp.BaseModel = bm
	}
	return cp, nil
}

// IsAdapterDir reports whether dir is a local directory holding adapter weights.
func IsAdapterDir(dir string) bool {
	return fsutil.PathExists(filepath.Join(dir, AdapterConfigFile))
}

func readBaseModel(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var ac struct {
		BaseModel string `json:"base_model_name_or_path"`
	}
	if err := json.Unmarshal(b, &ac); err != nil {
		return "", fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return ac.BaseModel, nil
}
