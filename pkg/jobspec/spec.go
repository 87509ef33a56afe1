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

// Package jobspec assembles and validates the specification of one training
// job. Construction is pure: no I/O, and a failed build produces no partial
// object.
package jobspec

import (
	"fmt"
	"strconv"
	"strings"

	"mltrain-toolkit/pkg/registry"
)

// ComputeType is the compute shape the job runs on. The concrete instance
// type behind each shape is an execution-backend concern.
type ComputeType string

const (
	CPUSmall ComputeType = "cpu-small"
	CPULarge ComputeType = "cpu-large"
	GPUSmall ComputeType = "gpu-small"
	GPULarge ComputeType = "gpu-large"
)

var computeTypes = map[ComputeType]bool{
	CPUSmall: true,
	CPULarge: true,
	GPUSmall: true,
	GPULarge: true,
}

// ParseComputeType validates a compute type value.
func ParseComputeType(s string) (ComputeType, error) {
	ct := ComputeType(s)
	if !computeTypes[ct] {
		return "", &UnsupportedComputeTypeError{Value: s}
	}
	return ct, nil
}

// InvalidConfigError indicates a job parameter failed validation.
type InvalidConfigError struct {
	Field string
	Msg   string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid job configuration: %s: %s", e.Field, e.Msg)
}

// UnsupportedComputeTypeError indicates an unrecognized compute shape.
type UnsupportedComputeTypeError struct {
	Value string
}

func (e *UnsupportedComputeTypeError) Error() string {
	keys := make([]string, 0, len(computeTypes))
	for k := range computeTypes {
		keys = append(keys, string(k))
	}
	return fmt.Sprintf("unsupported compute type %q (supported: %s)", e.Value, strings.Join(keys, ", "))
}

// Params are the raw inputs to Build. Hyperparameter values may be any
// scalar; nested structures are rejected because hyperparameters reach the
// entry script as flat command-line-style key/value arguments.
type Params struct {
	EntryPoint      string
	SourceBundle    string
	Image           registry.ImageReference
	ComputeType     ComputeType
	InstanceCount   int
	Hyperparameters map[string]interface{}
	Tags            map[string]string
	OutputLocation  string
}

// JobSpec is the validated, immutable specification submitted as one unit.
type JobSpec struct {
	EntryPoint      string
	SourceBundle    string
	Image           registry.ImageReference
	ComputeType     ComputeType
	InstanceCount   int
	Hyperparameters map[string]string
	Tags            map[string]string
	OutputLocation  string
}

// Validate checks the parameters without constructing anything. Callers run
// it before any remote work so configuration mistakes never create partial
// remote state.
func (p Params) Validate() error {
	if p.EntryPoint == "" {
		return &InvalidConfigError{Field: "entry_point", Msg: "must not be empty"}
	}
	if p.InstanceCount < 1 {
		return &InvalidConfigError{
			Field: "instance_count",
			Msg:   fmt.Sprintf("must be >= 1, got %d", p.InstanceCount),
		}
	}
	if !computeTypes[p.ComputeType] {
		return &UnsupportedComputeTypeError{Value: string(p.ComputeType)}
	}
	if p.OutputLocation == "" {
		return &InvalidConfigError{Field: "output_location", Msg: "must not be empty"}
	}
	if !strings.Contains(p.OutputLocation, "://") {
		return &InvalidConfigError{
			Field: "output_location",
			Msg:   fmt.Sprintf("%q is not a URI", p.OutputLocation),
		}
	}
	_, err := flatten(p.Hyperparameters)
	return err
}

// Build validates params and returns the job specification. Field values are
// carried over unchanged apart from hyperparameter flattening.
func Build(p Params) (JobSpec, error) {
	if err := p.Validate(); err != nil {
		return JobSpec{}, err
	}

	hyperparameters, err := flatten(p.Hyperparameters)
	if err != nil {
		return JobSpec{}, err
	}

	tags := make(map[string]string, len(p.Tags))
	for k, v := range p.Tags {
		tags[k] = v
	}

	return JobSpec{
		EntryPoint:      p.EntryPoint,
		SourceBundle:    p.SourceBundle,
		Image:           p.Image,
		ComputeType:     p.ComputeType,
		InstanceCount:   p.InstanceCount,
		Hyperparameters: hyperparameters,
		Tags:            tags,
		OutputLocation:  p.OutputLocation,
	}, nil
}

// flatten converts hyperparameter values to plain strings. Only scalars are
// representable as command-line-style arguments.
func flatten(in map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for key, value := range in {
		if key == "" {
			return nil, &InvalidConfigError{Field: "hyperparameters", Msg: "empty key"}
		}
		s, err := flattenValue(value)
		if err != nil {
			return nil, &InvalidConfigError{
				Field: "hyperparameters",
				Msg:   fmt.Sprintf("value for %q %v", key, err),
			}
		}
		out[key] = s
	}
	return out, nil
}

func flattenValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case nil:
		return "", fmt.Errorf("is nil")
	default:
		return "", fmt.Errorf("has non-scalar type %T", v)
	}
}
