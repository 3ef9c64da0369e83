package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"evalprep/internal/pipeline"
)

// version is overridden at build time with -ldflags "-X evalprep/internal/cli.version=...".
var version = "dev"

const defaultEnvFile = ".env"

// settings are the values collected from the command line.
type settings struct {
	opts pipeline.Options

	configPath      string
	envFile         string
	logLevel        string
	logFormat       string
	statusAddr      string
	metricsTextfile string
	pushgateway     string
}

// usageError marks failures that should exit with code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

// normalizeFlag makes --model-id and --model_id the same flag.
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// buildRootCmd constructs the command tree. run receives the parsed settings.
func buildRootCmd(stdout, stderr io.Writer, run func(cmd *cobra.Command, s *settings, args []string) error) *cobra.Command {
	s := &settings{}
	root := &cobra.Command{
		Use:   "evalprep",
		Short: "Stage, optionally merge, and evaluate a language model checkpoint",
		Long: "evalprep logs into the model hub, syncs weights from object storage, merges a\n" +
			"LoRA adapter when asked, and runs the evaluation harness on the result.",
		Example: "  evalprep --model_id s3://bucket/run-1 --tasks mmlu,hellaswag\n" +
			"  evalprep --model_id s3://bucket/adapter --is_lora --repository_id org/merged --tasks arc_easy",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{
			UnknownFlags: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, s, args)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})

	f := root.Flags()
	f.SetNormalizeFunc(normalizeFlag)
	f.StringVar(&s.opts.ModelID, "model_id", "", "Model identifier: hub id, local path, or s3:// prefix (required)")
	f.StringVar(&s.opts.HFToken, "hf_token", "", "Hub access token; login is skipped when empty")
	f.StringVar(&s.opts.Tasks, "tasks", "", "Comma-separated evaluation task list, passed to the harness verbatim (required)")
	f.BoolVar(&s.opts.IsLoRA, "is_lora", false, "Treat the model as a LoRA adapter and merge it before evaluation")
	f.StringVar(&s.opts.Email, "email", "", "Notification address, recorded in the job status")
	f.StringVar(&s.opts.RepositoryID, "repository_id", "", "Hub repository to upload the merged model to")

	f.StringVar(&s.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	f.StringVar(&s.envFile, "env_file", defaultEnvFile, "Load environment variables from this file; a missing default file is ignored")
	f.StringVar(&s.logLevel, "log_level", "", "Log level: debug|info|warn|error (defaults EVALPREP_LOG_LEVEL or info)")
	f.StringVar(&s.logFormat, "log_format", "", "Log format: console|json")
	f.BoolVar(&s.opts.DryRun, "dry_run", false, "Print the commands that would run without executing them")
	f.StringVar(&s.statusAddr, "status_addr", "", "Serve job status and metrics on this address, e.g. :9090")
	f.StringVar(&s.metricsTextfile, "metrics_textfile", "", "Write metrics in textfile-collector format to this path after the run")
	f.StringVar(&s.pushgateway, "pushgateway", "", "Push metrics to this Pushgateway URL after the run")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "evalprep %s\n", version)
			return err
		},
	})
	return root
}

// unknownFlags lists the flags in args that fs does not define. The parser
// ignores them; the caller only warns.
func unknownFlags(fs *pflag.FlagSet, args []string) []string {
	var out []string
	for _, a := range args {
		if a == "--" {
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			continue
		}
		name := strings.TrimLeft(a, "-")
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			continue
		}
		if strings.HasPrefix(a, "--") {
			if fs.Lookup(name) == nil {
				out = append(out, a)
			}
			continue
		}
		if len(name) == 1 && fs.ShorthandLookup(name) != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}
