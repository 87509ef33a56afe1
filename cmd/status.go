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

	"mltrain-toolkit/pkg/cloudenv"
	"mltrain-toolkit/pkg/launcher"
	"mltrain-toolkit/pkg/logging"

	"github.com/spf13/cobra"
)

var statusJobName string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusJobName, "job-name", "", "Name of the training job to inspect.")
	cobra.CheckErr(statusCmd.MarkFlagRequired("job-name"))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reports the current state of a training job.",
	Run:   runStatusCmd,
}

func runStatusCmd(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, err := cloudenv.LoadConfig(ctx)
	if err != nil {
		logging.Fatal("%v", err)
	}

	l := launcher.New(launcher.NewSageMakerService(cfg, ""), 0)
	report, err := l.Status(ctx, launcher.JobHandle{Name: statusJobName})
	if err != nil {
		logging.Fatal("failed to read status of job %q: %v", statusJobName, err)
	}

	cmd.Printf("%s: %s\n", statusJobName, report.State)
	if report.Reason != "" {
		cmd.Printf("reason: %s\n", report.Reason)
	}
	if report.State.Terminal() && report.OutputLocation != "" {
		cmd.Printf("output: %s\n", report.OutputLocation)
	}
}
