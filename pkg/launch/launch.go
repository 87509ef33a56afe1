// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package launch orders the stages of one training-job launch: resolve
// identity, build and publish the image, stage the source bundle, assemble
// the job specification, submit, await. Strictly sequential; the resolved
// identity is threaded through read-only.
package launch

import (
	"context"
	"strings"
	"time"

	"mltrain-toolkit/pkg/cloudenv"
	"mltrain-toolkit/pkg/imagebuilder"
	"mltrain-toolkit/pkg/jobspec"
	"mltrain-toolkit/pkg/launcher"
	"mltrain-toolkit/pkg/logging"
	"mltrain-toolkit/pkg/registry"
	"mltrain-toolkit/pkg/sourcebundle"

	"github.com/pkg/errors"
)

// Stage names used to prefix errors so the caller always knows which stage
// failed.
const (
	stageResolve   = "environment resolution"
	stageValidate  = "job validation"
	stageImage     = "image build/publish"
	stageStage     = "source staging"
	stageConfigure = "job configuration"
	stageSubmit    = "job submission"
	stageAwait     = "job execution"
)

// Options collects everything one launch needs. Zero values fall back to
// documented defaults where one exists.
type Options struct {
	EntryPoint string
	Source     string

	BaseImage      string
	RepositoryName string
	Platform       string
	TagPolicy      registry.TagPolicy

	ComputeType     jobspec.ComputeType
	InstanceCount   int
	Hyperparameters map[string]interface{}
	Tags            map[string]string

	// StagingLocation is the s3://bucket/prefix bundles and, by default,
	// outputs live under.
	StagingLocation string
	// OutputLocation overrides the default <StagingLocation>/output.
	OutputLocation string

	// RoleName is the execution role the job assumes; a bare name is
	// qualified with the resolved account.
	RoleName string

	// JobName pins an exact remote job name. Empty means a unique name
	// derived from BaseJobName.
	JobName     string
	BaseJobName string

	PollInterval time.Duration
	NoWait       bool
}

// Outcome reports what a launch produced.
type Outcome struct {
	JobName string
	Handle  launcher.JobHandle
	// Result is zero when the launch did not wait for completion.
	Result launcher.Result
}

func (o Options) outputLocation() string {
	if o.OutputLocation != "" {
		return o.OutputLocation
	}
	return strings.TrimSuffix(o.StagingLocation, "/") + "/output"
}

func (o Options) baseJobName() string {
	if o.BaseJobName != "" {
		return o.BaseJobName
	}
	return o.RepositoryName
}

// Execute runs the launch pipeline end to end.
func Execute(ctx context.Context, opts Options) (Outcome, error) {
	params := jobspec.Params{
		EntryPoint:      opts.EntryPoint,
		ComputeType:     opts.ComputeType,
		InstanceCount:   opts.InstanceCount,
		Hyperparameters: opts.Hyperparameters,
		Tags:            opts.Tags,
		OutputLocation:  opts.outputLocation(),
	}
	// Validation runs before any remote call; a bad configuration must
	// not create partial remote state.
	if err := params.Validate(); err != nil {
		return Outcome{}, errors.Wrap(err, stageValidate)
	}
	if strings.HasPrefix(opts.Source, "s3://") {
		err := &jobspec.InvalidConfigError{
			Field: "source",
			Msg:   "a staged s3:// bundle cannot serve as the image build context; pass a local directory or fetchable URI",
		}
		return Outcome{}, errors.Wrap(err, stageValidate)
	}

	cfg, err := cloudenv.LoadConfig(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageResolve)
	}
	identity, err := cloudenv.NewResolver(cfg).Resolve(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageResolve)
	}
	logging.Info("Launching as account %s in %s", identity.AccountID, identity.Region)

	// A remote source is fetched once and serves as both the image build
	// context and the bundle directory.
	sourceDir := opts.Source
	if sourcebundle.IsRemote(opts.Source) {
		dir, cleanup, err := sourcebundle.Fetch(ctx, opts.Source)
		if err != nil {
			return Outcome{}, errors.Wrap(err, stageStage)
		}
		defer cleanup()
		sourceDir = dir
	}

	imageRef, err := imagebuilder.BuildAndPublish(ctx, registry.NewClient(cfg), imagebuilder.Options{
		BaseImage:      opts.BaseImage,
		ContextDir:     sourceDir,
		RepositoryName: opts.RepositoryName,
		Platform:       opts.Platform,
		Identity:       identity,
		TagPolicy:      opts.TagPolicy,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageImage)
	}

	bundle, err := sourcebundle.NewStager(cfg).Stage(ctx, sourcebundle.Options{
		Source:          sourceDir,
		StagingLocation: opts.StagingLocation,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageStage)
	}

	params.Image = imageRef
	params.SourceBundle = bundle.URI
	if bundle.GitCommit != "" {
		tags := make(map[string]string, len(params.Tags)+1)
		for k, v := range params.Tags {
			tags[k] = v
		}
		tags["source-commit"] = bundle.GitCommit
		params.Tags = tags
	}

	spec, err := jobspec.Build(params)
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageConfigure)
	}

	roleARN := cloudenv.ExecutionRoleARN(identity, opts.RoleName)
	l := launcher.New(launcher.NewSageMakerService(cfg, roleARN), opts.PollInterval)

	jobName := opts.JobName
	if jobName == "" {
		jobName = launcher.JobName(opts.baseJobName())
	}

	handle, err := l.Submit(ctx, spec, jobName)
	if err != nil {
		return Outcome{}, errors.Wrap(err, stageSubmit)
	}

	outcome := Outcome{JobName: jobName, Handle: handle}
	if opts.NoWait {
		logging.Info("Submitted job %q; not waiting for completion", jobName)
		return outcome, nil
	}

	result, err := l.AwaitCompletion(ctx, handle)
	if err != nil {
		return outcome, errors.Wrap(err, stageAwait)
	}
	outcome.Result = result
	return outcome, nil
}
