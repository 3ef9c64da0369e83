// Package harness builds and runs the external evaluation command.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"evalprep/internal/config"
	"evalprep/internal/executil"
)

// ModelArg is one key=value pair of the --model_args option.
type ModelArg struct {
	Key   string
	Value string
}

// ModelArgs returns the model arguments in the order the harness receives them:
// the fixed keys first, then configured extras sorted by key.
func ModelArgs(cfg config.EvalConfig, pretrained string) []ModelArg {
	args := []ModelArg{
		{"pretrained", pretrained},
		{"tensor_parallel_size", strconv.Itoa(cfg.TensorParallelSize)},
		{"dtype", cfg.DType},
		{"gpu_memory_utilization", formatFloat(cfg.GPUMemoryUtilization)},
		{"trust_remote_code", pyBool(cfg.TrustRemoteCode)},
	}
	keys := make([]string, 0, len(cfg.ExtraModelArgs))
	for k := range cfg.ExtraModelArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, ModelArg{k, cfg.ExtraModelArgs[k]})
	}
	return args
}

// FormatModelArgs joins args as "k=v,k=v".
func FormatModelArgs(args []ModelArg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Key + "=" + a.Value
	}
	return strings.Join(parts, ",")
}

// Build returns the evaluation command. tasks is passed through verbatim.
func Build(cfg config.EvalConfig, tool, pretrained, tasks string) executil.Cmd {
	if tool == "" {
		tool = "lm_eval"
	}
	args := []string{
		"--model=" + cfg.Backend,
		"--model_args=" + FormatModelArgs(ModelArgs(cfg, pretrained)),
		"--tasks=" + tasks,
		"--batch_size=" + cfg.BatchSize,
		"--output_path=" + cfg.OutputPath,
	}
	args = append(args, cfg.ExtraArgs...)
	return executil.Cmd{Path: tool, Args: args}
}

// evalFailedError reports a harness run that exited non-zero.
type evalFailedError struct {
	code int
	err  error
}

func (e evalFailedError) Error() string {
	return fmt.Sprintf("evaluation failed with exit code %d", e.code)
}

func (e evalFailedError) Unwrap() error { return e.err }

// IsEvalFailed reports whether err is a non-zero harness exit.
func IsEvalFailed(err error) bool {
	var e evalFailedError
	return errors.As(err, &e)
}

// Harness runs evaluations.
type Harness struct {
	Runner executil.Runner
	Config config.EvalConfig
	Tool   string
	Env    map[string]string
	Log    zerolog.Logger
}

// Run blocks until the harness exits. The returned command is the one that ran.
func (h *Harness) Run(ctx context.Context, pretrained, tasks string) (executil.Cmd, error) {
	c := Build(h.Config, h.Tool, pretrained, tasks)
	c.Env = h.Env
	h.Log.Info().Str("cmd", c.String()).Msg("running command")
	err := h.Runner.Run(ctx, c)
	if err == nil {
		return c, nil
	}
	if code, ok := executil.ExitCode(err); ok {
		return c, evalFailedError{code: code, err: err}
	}
	return c, fmt.Errorf("run evaluation: %w", err)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
