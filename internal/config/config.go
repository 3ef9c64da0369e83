package config

import (
	"errors"
	"fmt"
)

// Config holds every tunable of an evaluation run. Command-line flags carry the
// per-run inputs (model, tasks, adapter flag); this struct carries the rest.
type Config struct {
	Staging StagingConfig `json:"staging" yaml:"staging" toml:"staging"`
	Eval    EvalConfig    `json:"eval" yaml:"eval" toml:"eval"`
	Merge   MergeConfig   `json:"merge" yaml:"merge" toml:"merge"`
	Hub     HubConfig     `json:"hub" yaml:"hub" toml:"hub"`
	Tools   ToolsConfig   `json:"tools" yaml:"tools" toml:"tools"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`
	Status  StatusConfig  `json:"status" yaml:"status" toml:"status"`
}

// StagingConfig names the fixed local directories weights are staged in.
type StagingConfig struct {
	ModelDir  string `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	MergedDir string `json:"merged_dir" yaml:"merged_dir" toml:"merged_dir"`
}

// EvalConfig parameterizes the evaluation harness invocation.
type EvalConfig struct {
	Backend              string            `json:"backend" yaml:"backend" toml:"backend"`
	TensorParallelSize   int               `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	DType                string            `json:"dtype" yaml:"dtype" toml:"dtype"`
	GPUMemoryUtilization float64           `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	TrustRemoteCode      bool              `json:"trust_remote_code" yaml:"trust_remote_code" toml:"trust_remote_code"`
	BatchSize            string            `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	OutputPath           string            `json:"output_path" yaml:"output_path" toml:"output_path"`
	ExtraModelArgs       map[string]string `json:"extra_model_args,omitempty" yaml:"extra_model_args,omitempty" toml:"extra_model_args,omitempty"`
	ExtraArgs            []string          `json:"extra_args,omitempty" yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
}

// MergeConfig controls the adapter merge helper.
type MergeConfig struct {
	DType         string `json:"dtype" yaml:"dtype" toml:"dtype"`
	MaxShardSize  string `json:"max_shard_size" yaml:"max_shard_size" toml:"max_shard_size"`
	SaveTokenizer bool   `json:"save_tokenizer" yaml:"save_tokenizer" toml:"save_tokenizer"`
	// Script overrides the embedded merge helper with a file on disk.
	Script string `json:"script,omitempty" yaml:"script,omitempty" toml:"script,omitempty"`
}

// HubConfig points at the model hub.
type HubConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	TokenPath string `json:"token_path,omitempty" yaml:"token_path,omitempty" toml:"token_path,omitempty"`
	RepoType  string `json:"repo_type" yaml:"repo_type" toml:"repo_type"`
}

// ToolsConfig names the external executables, resolved through PATH.
type ToolsConfig struct {
	S5cmd  string `json:"s5cmd" yaml:"s5cmd" toml:"s5cmd"`
	LMEval string `json:"lm_eval" yaml:"lm_eval" toml:"lm_eval"`
	HFCLI  string `json:"huggingface_cli" yaml:"huggingface_cli" toml:"huggingface_cli"`
	Python string `json:"python" yaml:"python" toml:"python"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

type MetricsConfig struct {
	Textfile       string `json:"textfile,omitempty" yaml:"textfile,omitempty" toml:"textfile,omitempty"`
	PushgatewayURL string `json:"pushgateway_url,omitempty" yaml:"pushgateway_url,omitempty" toml:"pushgateway_url,omitempty"`
	Job            string `json:"job" yaml:"job" toml:"job"`
}

type StatusConfig struct {
	Addr        string   `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`
}

// Default returns the configuration the tool runs with when no file is given.
func Default() Config {
	return Config{
		Staging: StagingConfig{
			ModelDir:  "/tmp/model",
			MergedDir: "/tmp/merged_model",
		},
		Eval: EvalConfig{
			Backend:              "vllm",
			TensorParallelSize:   8,
			DType:                "auto",
			GPUMemoryUtilization: 0.90,
			TrustRemoteCode:      true,
			BatchSize:            "auto",
			OutputPath:           "/opt/ml/model/",
		},
		Merge: MergeConfig{
			DType:         "float16",
			MaxShardSize:  "10GB",
			SaveTokenizer: true,
		},
		Hub: HubConfig{
			Endpoint: "https://huggingface.co",
			RepoType: "model",
		},
		Tools: ToolsConfig{
			S5cmd:  "s5cmd",
			LMEval: "lm_eval",
			HFCLI:  "huggingface-cli",
			Python: "python3",
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Job: "evalprep"},
	}
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Staging.ModelDir == "" {
		errs = append(errs, errors.New("staging.model_dir is empty"))
	}
	if c.Staging.MergedDir == "" {
		errs = append(errs, errors.New("staging.merged_dir is empty"))
	}
	if c.Eval.Backend == "" {
		errs = append(errs, errors.New("eval.backend is empty"))
	}
	if c.Eval.TensorParallelSize <= 0 {
		errs = append(errs, fmt.Errorf("eval.tensor_parallel_size must be positive, got %d", c.Eval.TensorParallelSize))
	}
	if c.Eval.GPUMemoryUtilization <= 0 || c.Eval.GPUMemoryUtilization > 1 {
		errs = append(errs, fmt.Errorf("eval.gpu_memory_utilization must be in (0,1], got %g", c.Eval.GPUMemoryUtilization))
	}
	if c.Eval.OutputPath == "" {
		errs = append(errs, errors.New("eval.output_path is empty"))
	}
	if c.Tools.LMEval == "" {
		errs = append(errs, errors.New("tools.lm_eval is empty"))
	}
	return errors.Join(errs...)
}
