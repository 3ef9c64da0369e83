// Package pipeline sequences one evaluation run: validate the arguments, log
// into the hub, stage the weights, optionally merge and upload an adapter,
// then hand the model to the evaluation harness.
//
// Every external effect goes through one of the small interfaces below so the
// sequencing can be exercised without the real tools installed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"evalprep/internal/common/fsutil"
	"evalprep/internal/config"
	"evalprep/internal/executil"
	"evalprep/internal/hub"
	"evalprep/internal/merge"
	"evalprep/internal/metrics"
	"evalprep/internal/registry"
	"evalprep/internal/storage"
	"evalprep/pkg/types"
)

// Options are the per-run inputs taken from the command line.
type Options struct {
	ModelID      string
	HFToken      string
	Tasks        string
	IsLoRA       bool
	Email        string
	RepositoryID string
	DryRun       bool
}

// Authenticator logs into the hub.
type Authenticator interface {
	Login(ctx context.Context, token string) (hub.WhoAmI, error)
}

// Acquirer stages a model identifier onto local disk and returns the path to use.
type Acquirer interface {
	Sync(ctx context.Context, modelID, dst string) (string, error)
}

// Merger folds an adapter into its base model.
type Merger interface {
	Merge(ctx context.Context, opts merge.Options) (types.Checkpoint, error)
}

// Uploader starts a background upload owned by the returned task.
type Uploader interface {
	Start(ctx context.Context, folder, repoID string, onDone func(url string, err error)) *hub.UploadTask
}

// Evaluator runs the evaluation harness.
type Evaluator interface {
	Run(ctx context.Context, pretrained, tasks string) (executil.Cmd, error)
}

// Deps wires the pipeline to its collaborators. Metrics and Events are optional.
type Deps struct {
	Auth      Authenticator
	Acquirer  Acquirer
	Merger    Merger
	Uploader  Uploader
	Evaluator Evaluator
	Metrics   *metrics.Recorder
	Events    EventPublisher
	Log       zerolog.Logger
}

// Result describes a finished run.
type Result struct {
	// ModelPath is what the harness was pointed at.
	ModelPath   string
	Merged      *types.Checkpoint
	EvalCommand executil.Cmd
	UploadURL   string
}

// Pipeline runs evaluation jobs.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	events EventPublisher
	log    zerolog.Logger
}

// New returns a Pipeline for cfg.
func New(cfg config.Config, deps Deps) *Pipeline {
	ev := deps.Events
	if ev == nil {
		ev = noopPublisher{}
	}
	return &Pipeline{cfg: cfg, deps: deps, events: ev, log: deps.Log}
}

// Run executes one job. A background upload, if started, is always joined
// before Run returns. An evaluation failure takes precedence over an upload
// failure.
func (p *Pipeline) Run(ctx context.Context, opts Options) (res Result, err error) {
	p.events.Publish(Event{Name: EventRunStart, Fields: map[string]any{
		"model_id": opts.ModelID, "tasks": opts.Tasks, "email": opts.Email,
	}})
	defer func() {
		fields := map[string]any{"model_path": res.ModelPath}
		if err != nil {
			fields["error"] = err.Error()
		}
		p.events.Publish(Event{Name: EventRunDone, Fields: fields})
	}()

	if err := p.step(StepValidate, nil, func() error { return validate(opts) }); err != nil {
		return res, err
	}
	if opts.Email != "" {
		p.log.Debug().Str("email", opts.Email).Msg("notification email accepted; results are not mailed")
	}

	switch {
	case opts.HFToken == "":
		p.skip(StepLogin, "no token", "")
	case opts.DryRun:
		p.skip(StepLogin, "dry run", "")
	default:
		if err := p.step(StepLogin, nil, func() error {
			_, err := p.deps.Auth.Login(ctx, opts.HFToken)
			return err
		}); err != nil {
			return res, err
		}
	}

	modelPath, err := fsutil.ExpandHome(opts.ModelID)
	if err != nil {
		return res, stepError{step: StepAcquire, err: err}
	}
	if storage.IsRemote(modelPath) {
		fields := map[string]any{}
		if err := p.step(StepAcquire, fields, func() error {
			local, err := p.deps.Acquirer.Sync(ctx, modelPath, p.cfg.Staging.ModelDir)
			if err != nil {
				return err
			}
			modelPath = local
			fields["model_path"] = local
			return nil
		}); err != nil {
			return res, err
		}
	} else {
		p.skip(StepAcquire, "model id is not an object-storage path", modelPath)
	}
	p.checkAdapterFlag(modelPath, opts)

	var upload *hub.UploadTask
	if opts.IsLoRA {
		fields := map[string]any{}
		if err := p.step(StepMerge, fields, func() error {
			cp, err := p.deps.Merger.Merge(ctx, merge.Options{
				AdapterPath:   modelPath,
				OutputDir:     p.cfg.Staging.MergedDir,
				DType:         p.cfg.Merge.DType,
				MaxShardSize:  p.cfg.Merge.MaxShardSize,
				SaveTokenizer: p.cfg.Merge.SaveTokenizer,
			})
			if err != nil {
				return err
			}
			res.Merged = &cp
			modelPath = p.cfg.Staging.MergedDir
			fields["model_path"] = modelPath
			return nil
		}); err != nil {
			return res, err
		}
		if opts.RepositoryID != "" {
			upload = p.startUpload(ctx, modelPath, opts.RepositoryID)
		} else {
			p.log.Info().Msg("no repository id; merged model will not be uploaded")
		}
	} else {
		p.skip(StepMerge, "not an adapter", "")
	}
	res.ModelPath = modelPath

	evalErr := p.step(StepEvaluate, nil, func() error {
		cmd, err := p.deps.Evaluator.Run(ctx, modelPath, opts.Tasks)
		res.EvalCommand = cmd
		p.recordExitCode(err)
		return err
	})

	if upload != nil {
		p.log.Info().Str("repo", upload.RepoID).Msg("waiting for upload to finish")
		url, uerr := upload.Wait()
		res.UploadURL = url
		if uerr != nil && evalErr == nil {
			return res, fmt.Errorf("upload: %w", uerr)
		}
	}
	return res, evalErr
}

func validate(opts Options) error {
	var errs []error
	if strings.TrimSpace(opts.ModelID) == "" {
		errs = append(errs, ErrMissingModelID)
	}
	if strings.TrimSpace(opts.Tasks) == "" {
		errs = append(errs, ErrMissingTasks)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) startUpload(ctx context.Context, folder, repoID string) *hub.UploadTask {
	p.events.Publish(Event{Name: EventUploadStart, Fields: map[string]any{"repo_id": repoID}})
	return p.deps.Uploader.Start(ctx, folder, repoID, func(url string, err error) {
		fields := map[string]any{"repo_id": repoID, "url": url}
		status := types.StateSucceeded
		if err != nil {
			status = types.StateFailed
			fields["error"] = err.Error()
			p.log.Error().Err(err).Str("repo", repoID).Msg("upload failed")
		} else {
			p.log.Info().Str("url", url).Msg("uploaded to hub")
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveUpload(status)
		}
		p.events.Publish(Event{Name: EventUploadDone, Fields: fields})
	})
}

// checkAdapterFlag warns when a local directory disagrees with --is_lora. The
// flag always wins.
func (p *Pipeline) checkAdapterFlag(modelPath string, opts Options) {
	if opts.DryRun || !fsutil.IsDir(modelPath) {
		return
	}
	isAdapter := registry.IsAdapterDir(modelPath)
	switch {
	case isAdapter && !opts.IsLoRA:
		p.log.Warn().Str("path", modelPath).Msg("directory contains adapter_config.json but --is_lora is not set; evaluating as a full model")
	case !isAdapter && opts.IsLoRA:
		p.log.Warn().Str("path", modelPath).Msg("--is_lora is set but no adapter_config.json was found")
	}
}

func (p *Pipeline) recordExitCode(err error) {
	if p.deps.Metrics == nil {
		return
	}
	if err == nil {
		p.deps.Metrics.SetEvalExitCode(0)
		return
	}
	if code, ok := executil.ExitCode(err); ok {
		p.deps.Metrics.SetEvalExitCode(code)
	}
}

// step runs fn as the named step, publishing start/done/failed events and
// recording its duration. fields are attached to the done event.
func (p *Pipeline) step(name string, fields map[string]any, fn func() error) error {
	p.events.Publish(Event{Name: EventStepStart, Step: name})
	log := p.log.With().Str("step", name).Logger()
	log.Debug().Msg("step start")
	start := time.Now()
	err := fn()
	d := time.Since(start)

	out := map[string]any{"duration": d}
	for k, v := range fields {
		out[k] = v
	}
	status := types.StateSucceeded
	if err != nil {
		status = types.StateFailed
		out["error"] = err.Error()
		p.events.Publish(Event{Name: EventStepFailed, Step: name, Fields: out})
		log.Error().Err(err).Dur("dur", d).Msg("step failed")
	} else {
		p.events.Publish(Event{Name: EventStepDone, Step: name, Fields: out})
		log.Info().Dur("dur", d).Msg("step done")
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveStep(name, status, d)
	}
	if err != nil {
		return stepError{step: name, err: err}
	}
	return nil
}

func (p *Pipeline) skip(name, reason, modelPath string) {
	fields := map[string]any{"reason": reason}
	if modelPath != "" {
		fields["model_path"] = modelPath
	}
	p.events.Publish(Event{Name: EventStepSkipped, Step: name, Fields: fields})
	p.log.Debug().Str("step", name).Str("reason", reason).Msg("step skipped")
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveStep(name, types.StateSkipped, 0)
	}
}
