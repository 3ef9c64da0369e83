package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "staging:\n  model_dir: /data/model\neval:\n  tensor_parallel_size: 2\n  gpu_memory_utilization: 0.5\n  trust_remote_code: false\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Staging.ModelDir != "/data/model" || cfg.Eval.TensorParallelSize != 2 || cfg.Eval.GPUMemoryUtilization != 0.5 || cfg.Eval.TrustRemoteCode {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// untouched keys keep defaults
	if cfg.Staging.MergedDir != "/tmp/merged_model" || cfg.Eval.Backend != "vllm" || cfg.Merge.MaxShardSize != "10GB" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"eval":{"backend":"hf","output_path":"/out/"},"tools":{"lm_eval":"/opt/bin/lm_eval"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Eval.Backend != "hf" || cfg.Eval.OutputPath != "/out/" || cfg.Tools.LMEval != "/opt/bin/lm_eval" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Eval.TensorParallelSize != 8 || cfg.Tools.S5cmd != "s5cmd" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "[merge]\ndtype = \"bfloat16\"\nmax_shard_size = \"5GB\"\n\n[eval.extra_model_args]\nmax_model_len = \"4096\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Merge.DType != "bfloat16" || cfg.Merge.MaxShardSize != "5GB" || cfg.Eval.ExtraModelArgs["max_model_len"] != "4096" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.Merge.SaveTokenizer {
		t.Fatalf("save_tokenizer default lost")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Eval.TensorParallelSize = 0
	cfg.Eval.GPUMemoryUtilization = 1.5
	cfg.Staging.ModelDir = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"tensor_parallel_size", "gpu_memory_utilization", "staging.model_dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}
