// Package cli is the evalprep command line: flag parsing, wiring of the
// pipeline's collaborators, and exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"evalprep/internal/config"
	"evalprep/internal/executil"
	"evalprep/internal/harness"
	"evalprep/internal/httpapi"
	"evalprep/internal/hub"
	"evalprep/internal/logging"
	"evalprep/internal/merge"
	"evalprep/internal/metrics"
	"evalprep/internal/pipeline"
	"evalprep/internal/storage"
)

// Test seams.
var (
	fnRun          = run
	fnBuildDeps    = buildDeps
	fnStartStatus  = httpapi.Start
	metricsTimeout = 10 * time.Second
)

// Main returns an exit code for use by cmd/evalprep.
func Main() int { return MainWithArgs(os.Args[1:]) }

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns 0 on success, 1 when the run fails and 2 on usage errors.
func MainWithArgs(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRootCmd(stdout, stderr, func(cmd *cobra.Command, s *settings, rest []string) error {
		cfg, err := resolveConfig(s)
		if err != nil {
			return usageError{err: err}
		}
		if s.opts.HFToken == "" {
			s.opts.HFToken = os.Getenv("HF_TOKEN")
		}
		log := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
		for _, f := range unknownFlags(cmd.Flags(), args) {
			log.Warn().Str("flag", f).Msg("ignoring unknown flag")
		}
		if len(rest) > 0 {
			log.Warn().Strs("args", rest).Msg("ignoring positional arguments")
		}
		return fnRun(cmd.Context(), runEnv{cfg: cfg, opts: s.opts, log: log, stdout: stdout})
	})
	if len(args) == 0 {
		_ = root.Help()
		return 2
	}
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintln(stderr, "run 'evalprep --help' for usage")
		return 2
	}
	// run has already logged the failure
	return 1
}

// resolveConfig layers defaults, the config file, the environment (including
// an optional env file) and flags, in that order.
func resolveConfig(s *settings) (config.Config, error) {
	cfg := config.Default()
	if err := config.LoadDotEnv(s.envFile, s.envFile != defaultEnvFile); err != nil {
		return cfg, err
	}
	if s.configPath != "" {
		var err error
		if cfg, err = config.Load(s.configPath); err != nil {
			return cfg, err
		}
	}
	config.ApplyEnv(&cfg)
	if s.logLevel != "" {
		cfg.Log.Level = s.logLevel
	}
	if s.logFormat != "" {
		cfg.Log.Format = s.logFormat
	}
	if s.statusAddr != "" {
		cfg.Status.Addr = s.statusAddr
	}
	if s.metricsTextfile != "" {
		cfg.Metrics.Textfile = s.metricsTextfile
	}
	if s.pushgateway != "" {
		cfg.Metrics.PushgatewayURL = s.pushgateway
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type runEnv struct {
	cfg    config.Config
	opts   pipeline.Options
	log    zerolog.Logger
	stdout io.Writer
}

// run executes one job with the status server and metrics export around it.
func run(ctx context.Context, env runEnv) error {
	rec := metrics.New()
	tracker := pipeline.NewTracker()

	if addr := env.cfg.Status.Addr; addr != "" {
		srv, err := fnStartStatus(tracker, rec, httpapi.Options{
			Addr:        addr,
			CORSOrigins: env.cfg.Status.CORSOrigins,
			Log:         env.log.With().Str("component", "status").Logger(),
		})
		if err != nil {
			env.log.Error().Err(err).Str("addr", addr).Msg("start status server")
			return fmt.Errorf("start status server: %w", err)
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				env.log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	deps := fnBuildDeps(env)
	deps.Metrics = rec
	deps.Events = pipeline.MultiPublisher{tracker, deps.Events}
	deps.Log = env.log

	res, err := pipeline.New(env.cfg, deps).Run(ctx, env.opts)
	exportMetrics(env.cfg.Metrics, rec, env.log)
	if err != nil {
		ev := env.log.Error().Err(err)
		if step, ok := pipeline.FailedStep(err); ok {
			ev = ev.Str("step", step)
		}
		if code, ok := executil.ExitCode(err); ok {
			ev = ev.Int("exit_code", code)
		}
		ev.Msg("run failed")
		return err
	}
	ev := env.log.Info().Str("model_path", res.ModelPath).Str("output_path", env.cfg.Eval.OutputPath)
	if res.UploadURL != "" {
		ev = ev.Str("upload_url", res.UploadURL)
	}
	ev.Msg("evaluation complete")
	return nil
}

// buildDeps wires the real collaborators. Dry runs swap the process runner for
// one that only prints commands.
func buildDeps(env runEnv) pipeline.Deps {
	cfg, log := env.cfg, env.log
	var runner executil.Runner = &executil.ExecRunner{Log: log}
	if env.opts.DryRun {
		runner = &executil.DryRunner{Log: log, Out: env.stdout}
	}
	childEnv := hubEnv(cfg.Hub)
	return pipeline.Deps{
		Auth: hub.NewClient(cfg.Hub.Endpoint, cfg.Hub.TokenPath, log.With().Str("component", "hub").Logger()),
		Acquirer: &storage.Syncer{
			Runner:     runner,
			Tool:       cfg.Tools.S5cmd,
			Log:        log.With().Str("component", "storage").Logger(),
			SkipVerify: env.opts.DryRun,
		},
		Merger: &merge.Merger{
			Runner:     runner,
			Python:     cfg.Tools.Python,
			Script:     cfg.Merge.Script,
			Env:        childEnv,
			Log:        log.With().Str("component", "merge").Logger(),
			SkipVerify: env.opts.DryRun,
		},
		Uploader: &hub.Uploader{
			Runner:   runner,
			CLI:      cfg.Tools.HFCLI,
			Endpoint: cfg.Hub.Endpoint,
			RepoType: cfg.Hub.RepoType,
			Token:    env.opts.HFToken,
			Log:      log.With().Str("component", "upload").Logger(),
		},
		Evaluator: &harness.Harness{
			Runner: runner,
			Config: cfg.Eval,
			Tool:   cfg.Tools.LMEval,
			Env:    childEnv,
			Log:    log.With().Str("component", "harness").Logger(),
		},
	}
}

// hubEnv points child processes at the same hub endpoint and token file the
// login step used.
func hubEnv(h config.HubConfig) map[string]string {
	env := map[string]string{}
	if h.Endpoint != "" {
		env["HF_ENDPOINT"] = h.Endpoint
	}
	if h.TokenPath != "" {
		env["HF_TOKEN_PATH"] = h.TokenPath
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func exportMetrics(cfg config.MetricsConfig, rec *metrics.Recorder, log zerolog.Logger) {
	if cfg.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Textfile); err != nil {
			log.Warn().Err(err).Msg("metrics textfile")
		} else {
			log.Debug().Str("path", cfg.Textfile).Msg("metrics written")
		}
	}
	if cfg.PushgatewayURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
		defer cancel()
		if err := rec.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
			log.Warn().Err(err).Msg("metrics push")
		} else {
			log.Debug().Str("url", cfg.PushgatewayURL).Msg("metrics pushed")
		}
	}
}
