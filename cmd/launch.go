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

package cmd

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"mltrain-toolkit/pkg/jobspec"
	"mltrain-toolkit/pkg/launch"
	"mltrain-toolkit/pkg/launcher"
	"mltrain-toolkit/pkg/launchfile"
	"mltrain-toolkit/pkg/logging"
	"mltrain-toolkit/pkg/registry"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	launchFilePath  string
	entryPoint      string
	source          string
	baseImage       string
	repositoryName  string
	platform        string
	tagPolicy       string
	computeType     string
	instanceCount   int
	hyperparameters []string
	jobTags         []string
	stagingLocation string
	outputLocation  string
	roleName        string
	jobName         string
	baseJobName     string
	pollInterval    time.Duration
	noWait          bool
)

func init() {
	rootCmd.AddCommand(launchCmd)

	launchCmd.Flags().StringVarP(&launchFilePath, "file", "f", "", "Path to a YAML launch file. Flags override file values.")
	launchCmd.Flags().StringVar(&entryPoint, "entry-point", "", "Training script the job runs (e.g., train.py). Required.")
	launchCmd.Flags().StringVarP(&source, "source", "s", "", "Source directory or fetchable URI (git::, https://). Required.")
	launchCmd.Flags().StringVar(&baseImage, "base-image", "", "Base image the training image is built upon. Required.")
	launchCmd.Flags().StringVarP(&repositoryName, "repository", "r", "", "Registry repository for the training image; created if absent. Required.")
	launchCmd.Flags().StringVar(&platform, "platform", "linux/amd64", "Target platform for the image build (e.g., 'linux/amd64').")
	launchCmd.Flags().StringVar(&tagPolicy, "tag-policy", string(registry.PolicyOverwrite), "Image tag policy: 'overwrite' reuses the latest tag, 'content' derives the tag from the image digest.")
	launchCmd.Flags().StringVar(&computeType, "compute-type", "", "Compute shape: cpu-small, cpu-large, gpu-small, or gpu-large. Required.")
	launchCmd.Flags().IntVar(&instanceCount, "instance-count", 1, "Number of training instances.")
	launchCmd.Flags().StringArrayVarP(&hyperparameters, "hyperparameter", "H", nil, "Hyperparameter as key=value; repeatable. Passed to the entry script as flat arguments.")
	launchCmd.Flags().StringArrayVar(&jobTags, "tag", nil, "Tag as key=value; repeatable.")
	launchCmd.Flags().StringVar(&stagingLocation, "staging-location", "", "s3://bucket/prefix for the source bundle and default output. Required.")
	launchCmd.Flags().StringVar(&outputLocation, "output-location", "", "Artifact output URI. Defaults to <staging-location>/output.")
	launchCmd.Flags().StringVar(&roleName, "role", "", "Execution role name or full ARN the job assumes. Required.")
	launchCmd.Flags().StringVar(&jobName, "job-name", "", "Exact remote job name. Collides with existing jobs; by default a unique name is generated instead.")
	launchCmd.Flags().StringVar(&baseJobName, "base-job-name", "", "Base for generated job names. Defaults to the repository name.")
	launchCmd.Flags().DurationVar(&pollInterval, "poll-interval", 30*time.Second, "How often to poll job status while waiting.")
	launchCmd.Flags().BoolVar(&noWait, "no-wait", false, "Submit the job and exit without waiting for completion.")
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Builds the training image and launches a managed training job.",
	Long: `The 'launch' command packages a training script into a container image,
pushes it to the account's registry, stages the source bundle, and submits a
managed training job. Unless --no-wait is given it blocks until the job
reaches a terminal state and prints the output artifact location.`,
	Run:          runLaunchCmd,
	SilenceUsage: true,
}

func runLaunchCmd(cmd *cobra.Command, args []string) {
	opts, err := buildLaunchOptions(cmd)
	if err != nil {
		logging.Fatal("%v", err)
	}

	outcome, err := launch.Execute(context.Background(), opts)
	if err != nil {
		var failure *launcher.RemoteJobFailure
		if errors.As(err, &failure) {
			color.Red("Job %s failed: %s", outcome.JobName, failure.Reason)
			if failure.OutputLocation != "" {
				logging.Info("Partial output may exist at %s", failure.OutputLocation)
			}
			os.Exit(1)
		}
		logging.Fatal("mltrain launch failed: %v", err)
	}

	if opts.NoWait {
		color.Green("Job %s submitted", outcome.JobName)
		return
	}
	color.Green("Job %s succeeded", outcome.JobName)
	cmd.Println(outcome.Result.OutputLocation)
}

func buildLaunchOptions(cmd *cobra.Command) (launch.Options, error) {
	var lf launchfile.LaunchFile
	if launchFilePath != "" {
		loaded, err := launchfile.Load(afero.NewOsFs(), launchFilePath)
		if err != nil {
			return launch.Options{}, err
		}
		lf = loaded
	}

	pick := func(flag, flagValue, fileValue string) string {
		if cmd.Flags().Changed(flag) || fileValue == "" {
			return flagValue
		}
		return fileValue
	}

	entryPoint = pick("entry-point", entryPoint, lf.EntryPoint)
	source = pick("source", source, lf.Source)
	baseImage = pick("base-image", baseImage, lf.BaseImage)
	repositoryName = pick("repository", repositoryName, lf.Repository)
	platform = pick("platform", platform, lf.Platform)
	tagPolicy = pick("tag-policy", tagPolicy, lf.TagPolicy)
	computeType = pick("compute-type", computeType, lf.ComputeType)
	stagingLocation = pick("staging-location", stagingLocation, lf.StagingLocation)
	outputLocation = pick("output-location", outputLocation, lf.OutputLocation)
	roleName = pick("role", roleName, lf.Role)
	jobName = pick("job-name", jobName, lf.JobName)
	if !cmd.Flags().Changed("instance-count") && lf.InstanceCount != 0 {
		instanceCount = lf.InstanceCount
	}

	for _, required := range []struct{ name, value string }{
		{"entry-point", entryPoint},
		{"source", source},
		{"base-image", baseImage},
		{"repository", repositoryName},
		{"compute-type", computeType},
		{"staging-location", stagingLocation},
		{"role", roleName},
	} {
		if required.value == "" {
			return launch.Options{}, errors.New("--" + required.name + " must be provided (flag or launch file)")
		}
	}

	ct, err := jobspec.ParseComputeType(computeType)
	if err != nil {
		return launch.Options{}, err
	}
	policy, err := registry.ParseTagPolicy(tagPolicy)
	if err != nil {
		return launch.Options{}, err
	}

	hp := make(map[string]interface{}, len(lf.Hyperparameters)+len(hyperparameters))
	for k, v := range lf.Hyperparameters {
		hp[k] = v
	}
	flagHP, err := parseKeyValues(hyperparameters)
	if err != nil {
		return launch.Options{}, err
	}
	for k, v := range flagHP {
		hp[k] = v
	}

	tags := make(map[string]string, len(lf.Tags)+len(jobTags))
	for k, v := range lf.Tags {
		tags[k] = v
	}
	flagTags, err := parseKeyValues(jobTags)
	if err != nil {
		return launch.Options{}, err
	}
	for k, v := range flagTags {
		tags[k] = v
	}

	return launch.Options{
		EntryPoint:      entryPoint,
		Source:          source,
		BaseImage:       baseImage,
		RepositoryName:  repositoryName,
		Platform:        platform,
		TagPolicy:       policy,
		ComputeType:     ct,
		InstanceCount:   instanceCount,
		Hyperparameters: hp,
		Tags:            tags,
		StagingLocation: stagingLocation,
		OutputLocation:  outputLocation,
		RoleName:        roleName,
		JobName:         jobName,
		BaseJobName:     baseJobName,
		PollInterval:    pollInterval,
		NoWait:          noWait,
	}, nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.New("expected key=value, got " + pair)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
