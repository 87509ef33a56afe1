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

package jobspec

import (
	"errors"
	"testing"

	"mltrain-toolkit/pkg/registry"

	"github.com/google/go-cmp/cmp"
)

func validParams() Params {
	return Params{
		EntryPoint:   "train.py",
		SourceBundle: "s3://mltrain-staging/jobs/gcmc/source.tar.gz",
		Image: registry.ImageReference{
			RegistryHost:   "123456789012.dkr.ecr.us-east-1.amazonaws.com",
			RepositoryName: "gcmc-training",
			Tag:            "latest",
		},
		ComputeType:   GPULarge,
		InstanceCount: 1,
		Hyperparameters: map[string]interface{}{
			"data_name": "ml-1m",
			"save_dir":  "/opt/ml/model/",
		},
		Tags:           map[string]string{"team": "recsys"},
		OutputLocation: "s3://mltrain-staging/jobs/gcmc/output",
	}
}

func TestBuildIsIdentityMapping(t *testing.T) {
	p := validParams()

	spec, err := Build(p)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	want := JobSpec{
		EntryPoint:    p.EntryPoint,
		SourceBundle:  p.SourceBundle,
		Image:         p.Image,
		ComputeType:   p.ComputeType,
		InstanceCount: p.InstanceCount,
		Hyperparameters: map[string]string{
			"data_name": "ml-1m",
			"save_dir":  "/opt/ml/model/",
		},
		Tags:           map[string]string{"team": "recsys"},
		OutputLocation: p.OutputLocation,
	}
	if diff := cmp.Diff(want, spec); diff != "" {
		t.Errorf("Build mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsInstanceCount(t *testing.T) {
	for _, count := range []int{0, -1, -100} {
		p := validParams()
		p.InstanceCount = count

		spec, err := Build(p)
		var invalid *InvalidConfigError
		if !errors.As(err, &invalid) {
			t.Errorf("Build(instance_count=%d) error = %v, want InvalidConfigError", count, err)
		}
		if diff := cmp.Diff(JobSpec{}, spec); diff != "" {
			t.Errorf("Build(instance_count=%d) produced a partial spec:\n%s", count, diff)
		}
	}
}

func TestBuildRejectsUnknownComputeType(t *testing.T) {
	p := validParams()
	p.ComputeType = ComputeType("tpu-pod")

	_, err := Build(p)
	var unsupported *UnsupportedComputeTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Build error = %v, want UnsupportedComputeTypeError", err)
	}
	if unsupported.Value != "tpu-pod" {
		t.Errorf("error value = %q, want %q", unsupported.Value, "tpu-pod")
	}
}

func TestBuildRejectsNestedHyperparameters(t *testing.T) {
	p := validParams()
	p.Hyperparameters = map[string]interface{}{
		"optimizer": map[string]interface{}{"lr": 0.01},
	}

	_, err := Build(p)
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("Build error = %v, want InvalidConfigError", err)
	}
}

func TestBuildRejectsNonURIOutputLocation(t *testing.T) {
	p := validParams()
	p.OutputLocation = "/tmp/output"

	var invalid *InvalidConfigError
	if _, err := Build(p); !errors.As(err, &invalid) {
		t.Fatalf("Build error = %v, want InvalidConfigError", err)
	}
}

func TestFlattenScalars(t *testing.T) {
	spec, err := Build(Params{
		EntryPoint:    "train.py",
		Image:         registry.ImageReference{RegistryHost: "h", RepositoryName: "r", Tag: "t"},
		ComputeType:   CPUSmall,
		InstanceCount: 2,
		Hyperparameters: map[string]interface{}{
			"epochs":        30,
			"learning_rate": 0.01,
			"use_features":  true,
			"data_name":     "ml-1m",
		},
		OutputLocation: "s3://bucket/output",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := map[string]string{
		"epochs":        "30",
		"learning_rate": "0.01",
		"use_features":  "true",
		"data_name":     "ml-1m",
	}
	if diff := cmp.Diff(want, spec.Hyperparameters); diff != "" {
		t.Errorf("flattened hyperparameters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseComputeType(t *testing.T) {
	tests := []struct {
		in      string
		want    ComputeType
		wantErr bool
	}{
		{"gpu-large", GPULarge, false},
		{"cpu-small", CPUSmall, false},
		{"gpu-xlarge", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseComputeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseComputeType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseComputeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
