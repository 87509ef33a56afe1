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
	"testing"

	"mltrain-toolkit/pkg/jobspec"
	"mltrain-toolkit/pkg/registry"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

type fakeSageMaker struct {
	createInput *sagemaker.CreateTrainingJobInput
	createErr   error
	describeOut *sagemaker.DescribeTrainingJobOutput
	stopCalled  bool
}

func (f *fakeSageMaker) CreateTrainingJob(ctx context.Context, params *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error) {
	f.createInput = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &sagemaker.CreateTrainingJobOutput{
		TrainingJobArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:training-job/" + aws.ToString(params.TrainingJobName)),
	}, nil
}

func (f *fakeSageMaker) DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
	return f.describeOut, nil
}

func (f *fakeSageMaker) StopTrainingJob(ctx context.Context, params *sagemaker.StopTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StopTrainingJobOutput, error) {
	f.stopCalled = true
	return &sagemaker.StopTrainingJobOutput{}, nil
}

func testSpec() jobspec.JobSpec {
	spec, err := jobspec.Build(jobspec.Params{
		EntryPoint:   "train.py",
		SourceBundle: "s3://mltrain-staging/jobs/gcmc/source.tar.gz",
		Image: registry.ImageReference{
			RegistryHost:   "123456789012.dkr.ecr.us-east-1.amazonaws.com",
			RepositoryName: "gcmc-training",
			Tag:            "latest",
		},
		ComputeType:   jobspec.GPULarge,
		InstanceCount: 1,
		Hyperparameters: map[string]interface{}{
			"data_name": "ml-1m",
			"save_dir":  "/opt/ml/model/",
		},
		OutputLocation: "s3://mltrain-staging/jobs/gcmc/output",
	})
	if err != nil {
		panic(err)
	}
	return spec
}

func TestSubmitBuildsCreateInput(t *testing.T) {
	fake := &fakeSageMaker{}
	svc := NewSageMakerServiceWithAPI(fake, "arn:aws:iam::123456789012:role/TrainingExecutionRole")

	handle, err := svc.Submit(context.Background(), testSpec(), "gcmc-train-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle.Name != "gcmc-train-1" {
		t.Errorf("handle.Name = %q", handle.Name)
	}
	if handle.ARN == "" {
		t.Error("handle.ARN is empty")
	}

	in := fake.createInput
	if got := aws.ToString(in.AlgorithmSpecification.TrainingImage); got != "123456789012.dkr.ecr.us-east-1.amazonaws.com/gcmc-training:latest" {
		t.Errorf("TrainingImage = %q", got)
	}
	if in.ResourceConfig.InstanceType != smtypes.TrainingInstanceTypeMlP38xlarge {
		t.Errorf("InstanceType = %q, want ml.p3.8xlarge", in.ResourceConfig.InstanceType)
	}
	if aws.ToInt32(in.ResourceConfig.InstanceCount) != 1 {
		t.Errorf("InstanceCount = %d, want 1", aws.ToInt32(in.ResourceConfig.InstanceCount))
	}
	if got := in.HyperParameters["data_name"]; got != "ml-1m" {
		t.Errorf("hyperparameter data_name = %q, want ml-1m", got)
	}
	if got := in.HyperParameters[programKey]; got != "train.py" {
		t.Errorf("reserved program hyperparameter = %q, want train.py", got)
	}
	if got := in.HyperParameters[submitDirectoryKey]; got != "s3://mltrain-staging/jobs/gcmc/source.tar.gz" {
		t.Errorf("reserved submit-directory hyperparameter = %q", got)
	}
}

func TestSubmitMapsDuplicateName(t *testing.T) {
	fake := &fakeSageMaker{createErr: &smtypes.ResourceInUse{}}
	svc := NewSageMakerServiceWithAPI(fake, "role")

	_, err := svc.Submit(context.Background(), testSpec(), "gcmc-train-1")
	var dup *DuplicateJobError
	if !errors.As(err, &dup) {
		t.Fatalf("Submit error = %v, want DuplicateJobError", err)
	}
	if dup.Name != "gcmc-train-1" {
		t.Errorf("DuplicateJobError.Name = %q", dup.Name)
	}
}

func TestSubmitMapsRejection(t *testing.T) {
	fake := &fakeSageMaker{createErr: &smtypes.ResourceLimitExceeded{}}
	svc := NewSageMakerServiceWithAPI(fake, "role")

	_, err := svc.Submit(context.Background(), testSpec(), "gcmc-train-1")
	var rejected *SubmissionError
	if !errors.As(err, &rejected) {
		t.Fatalf("Submit error = %v, want SubmissionError", err)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    smtypes.TrainingJobStatus
		secondary smtypes.SecondaryStatus
		want      JobState
	}{
		{"provisioning", smtypes.TrainingJobStatusInProgress, smtypes.SecondaryStatusStarting, StatePending},
		{"downloading", smtypes.TrainingJobStatusInProgress, smtypes.SecondaryStatusDownloading, StatePending},
		{"training", smtypes.TrainingJobStatusInProgress, smtypes.SecondaryStatusTraining, StateRunning},
		{"completed", smtypes.TrainingJobStatusCompleted, smtypes.SecondaryStatusCompleted, StateSucceeded},
		{"failed", smtypes.TrainingJobStatusFailed, smtypes.SecondaryStatusFailed, StateFailed},
		{"stopping", smtypes.TrainingJobStatusStopping, smtypes.SecondaryStatusStopping, StateStopping},
		{"stopped", smtypes.TrainingJobStatusStopped, smtypes.SecondaryStatusStopped, StateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapState(tt.status, tt.secondary); got != tt.want {
				t.Errorf("mapState(%s, %s) = %s, want %s", tt.status, tt.secondary, got, tt.want)
			}
		})
	}
}

func TestStatusPrefersModelArtifacts(t *testing.T) {
	fake := &fakeSageMaker{describeOut: &sagemaker.DescribeTrainingJobOutput{
		TrainingJobStatus: smtypes.TrainingJobStatusCompleted,
		ModelArtifacts: &smtypes.ModelArtifacts{
			S3ModelArtifacts: aws.String("s3://bucket/output/model.tar.gz"),
		},
		OutputDataConfig: &smtypes.OutputDataConfig{
			S3OutputPath: aws.String("s3://bucket/output"),
		},
	}}
	svc := NewSageMakerServiceWithAPI(fake, "role")

	report, err := svc.Status(context.Background(), JobHandle{Name: "gcmc-train-1"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.OutputLocation != "s3://bucket/output/model.tar.gz" {
		t.Errorf("OutputLocation = %q, want model artifacts path", report.OutputLocation)
	}
}

func TestStatusFailedKeepsPartialOutput(t *testing.T) {
	fake := &fakeSageMaker{describeOut: &sagemaker.DescribeTrainingJobOutput{
		TrainingJobStatus: smtypes.TrainingJobStatusFailed,
		FailureReason:     aws.String("AlgorithmError: loss diverged"),
		OutputDataConfig: &smtypes.OutputDataConfig{
			S3OutputPath: aws.String("s3://bucket/output"),
		},
	}}
	svc := NewSageMakerServiceWithAPI(fake, "role")

	report, err := svc.Status(context.Background(), JobHandle{Name: "gcmc-train-1"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.State != StateFailed {
		t.Errorf("State = %s, want Failed", report.State)
	}
	if report.Reason == "" {
		t.Error("failure reason not surfaced")
	}
	if report.OutputLocation != "s3://bucket/output" {
		t.Errorf("partial OutputLocation = %q", report.OutputLocation)
	}
}
