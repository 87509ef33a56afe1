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

// Package launchfile reads a YAML description of a launch. Command-line
// flags override anything set here.
package launchfile

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// LaunchFile mirrors the launch command's flag surface.
type LaunchFile struct {
	EntryPoint      string                 `yaml:"entry_point"`
	Source          string                 `yaml:"source"`
	BaseImage       string                 `yaml:"base_image"`
	Repository      string                 `yaml:"repository"`
	Platform        string                 `yaml:"platform"`
	TagPolicy       string                 `yaml:"tag_policy"`
	ComputeType     string                 `yaml:"compute_type"`
	InstanceCount   int                    `yaml:"instance_count"`
	Hyperparameters map[string]interface{} `yaml:"hyperparameters"`
	Tags            map[string]string      `yaml:"tags"`
	StagingLocation string                 `yaml:"staging_location"`
	OutputLocation  string                 `yaml:"output_location"`
	Role            string                 `yaml:"role"`
	JobName         string                 `yaml:"job_name"`
}

// Load reads and strictly decodes a launch file; unknown keys are errors so
// typos do not silently drop configuration.
func Load(fsys afero.Fs, path string) (LaunchFile, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return LaunchFile{}, fmt.Errorf("failed to read launch file %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var lf LaunchFile
	if err := decoder.Decode(&lf); err != nil {
		return LaunchFile{}, fmt.Errorf("failed to parse launch file %q: %w", path, err)
	}
	return lf, nil
}
