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

package launcher

import (
	"context"
	"errors"
	"fmt"

	"mltrain-toolkit/pkg/jobspec"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

// Reserved hyperparameter keys the platform's script-mode containers read to
// locate and run the entry script.
const (
	programKey         = "sagemaker_program"
	submitDirectoryKey = "sagemaker_submit_directory"
)

// instanceTypes maps the launcher's compute shapes to concrete training
// instance types.
var instanceTypes = map[jobspec.ComputeType]smtypes.TrainingInstanceType{
	jobspec.CPUSmall: smtypes.TrainingInstanceTypeMlM5Xlarge,
	jobspec.CPULarge: smtypes.TrainingInstanceTypeMlM54xlarge,
	jobspec.GPUSmall: smtypes.TrainingInstanceTypeMlG4dnXlarge,
	jobspec.GPULarge: smtypes.TrainingInstanceTypeMlP38xlarge,
}

type sageMakerAPI interface {
	CreateTrainingJob(ctx context.Context, params *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	StopTrainingJob(ctx context.Context, params *sagemaker.StopTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StopTrainingJobOutput, error)
}

// SageMakerService runs jobs on the managed training platform.
type SageMakerService struct {
	api     sageMakerAPI
	roleARN string

	volumeSizeGB      int32
	maxRuntimeSeconds int32
}

// NewSageMakerService returns a service submitting jobs under the given
// execution role.
func NewSageMakerService(cfg aws.Config, roleARN string) *SageMakerService {
	return newSageMakerService(sagemaker.NewFromConfig(cfg), roleARN)
}

// NewSageMakerServiceWithAPI is used by tests to inject a fake API.
func NewSageMakerServiceWithAPI(api sageMakerAPI, roleARN string) *SageMakerService {
	return newSageMakerService(api, roleARN)
}

func newSageMakerService(api sageMakerAPI, roleARN string) *SageMakerService {
	return &SageMakerService{
		api:               api,
		roleARN:           roleARN,
		volumeSizeGB:      50,
		maxRuntimeSeconds: 24 * 60 * 60,
	}
}

// Submit creates the training job. The entry point and source bundle travel
// as reserved hyperparameters per the platform's script-mode contract; user
// hyperparameters pass through as flat string pairs.
func (s *SageMakerService) Submit(ctx context.Context, spec jobspec.JobSpec, jobName string) (JobHandle, error) {
	instanceType, ok := instanceTypes[spec.ComputeType]
	if !ok {
		return JobHandle{}, &SubmissionError{Err: fmt.Errorf("no instance type mapping for compute type %q", spec.ComputeType)}
	}

	hyperparameters := make(map[string]string, len(spec.Hyperparameters)+2)
	for k, v := range spec.Hyperparameters {
		hyperparameters[k] = v
	}
	hyperparameters[programKey] = spec.EntryPoint
	hyperparameters[submitDirectoryKey] = spec.SourceBundle

	tags := make([]smtypes.Tag, 0, len(spec.Tags))
	for k, v := range spec.Tags {
		tags = append(tags, smtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	out, err := s.api.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(jobName),
		RoleArn:         aws.String(s.roleARN),
		AlgorithmSpecification: &smtypes.AlgorithmSpecification{
			TrainingImage:     aws.String(spec.Image.String()),
			TrainingInputMode: smtypes.TrainingInputModeFile,
		},
		HyperParameters: hyperparameters,
		ResourceConfig: &smtypes.ResourceConfig{
			InstanceType:   instanceType,
			InstanceCount:  aws.Int32(int32(spec.InstanceCount)),
			VolumeSizeInGB: aws.Int32(s.volumeSizeGB),
		},
		OutputDataConfig: &smtypes.OutputDataConfig{
			S3OutputPath: aws.String(spec.OutputLocation),
		},
		StoppingCondition: &smtypes.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(s.maxRuntimeSeconds),
		},
		Tags: tags,
	})
	if err != nil {
		var inUse *smtypes.ResourceInUse
		if errors.As(err, &inUse) {
			return JobHandle{}, &DuplicateJobError{Name: jobName, Err: err}
		}
		return JobHandle{}, &SubmissionError{Err: err}
	}

	return JobHandle{Name: jobName, ARN: aws.ToString(out.TrainingJobArn)}, nil
}

// Status reads the job's current state.
func (s *SageMakerService) Status(ctx context.Context, handle JobHandle) (StatusReport, error) {
	out, err := s.api.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(handle.Name),
	})
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		State:  mapState(out.TrainingJobStatus, out.SecondaryStatus),
		Reason: aws.ToString(out.FailureReason),
	}

	// Prefer the collected artifact location; fall back to the declared
	// output path so a failed job still exposes partial output.
	if out.ModelArtifacts != nil && aws.ToString(out.ModelArtifacts.S3ModelArtifacts) != "" {
		report.OutputLocation = aws.ToString(out.ModelArtifacts.S3ModelArtifacts)
	} else if out.OutputDataConfig != nil {
		report.OutputLocation = aws.ToString(out.OutputDataConfig.S3OutputPath)
	}

	return report, nil
}

// Stop requests termination. The platform stops the job asynchronously.
func (s *SageMakerService) Stop(ctx context.Context, handle JobHandle) error {
	_, err := s.api.StopTrainingJob(ctx, &sagemaker.StopTrainingJobInput{
		TrainingJobName: aws.String(handle.Name),
	})
	if err != nil {
		return fmt.Errorf("failed to stop job %q: %w", handle.Name, err)
	}
	return nil
}

func mapState(status smtypes.TrainingJobStatus, secondary smtypes.SecondaryStatus) JobState {
	switch status {
	case smtypes.TrainingJobStatusCompleted:
		return StateSucceeded
	case smtypes.TrainingJobStatusFailed:
		return StateFailed
	case smtypes.TrainingJobStatusStopping:
		return StateStopping
	case smtypes.TrainingJobStatusStopped:
		return StateStopped
	case smtypes.TrainingJobStatusInProgress:
		switch secondary {
		case smtypes.SecondaryStatusStarting, smtypes.SecondaryStatusPending,
			smtypes.SecondaryStatusLaunchingMlInstances, smtypes.SecondaryStatusPreparingTrainingStack,
			smtypes.SecondaryStatusDownloading, smtypes.SecondaryStatusDownloadingTrainingImage:
			return StatePending
		default:
			return StateRunning
		}
	default:
		return StatePending
	}
}
