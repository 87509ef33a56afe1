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

var stopJobName string

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().StringVar(&stopJobName, "job-name", "", "Name of the training job to stop.")
	cobra.CheckErr(stopCmd.MarkFlagRequired("job-name"))
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Requests that a running training job stop.",
	Long: `The 'stop' command asks the service to stop a training job. Stopping is
advisory; the job winds down asynchronously and may still write partial
output before it reaches the Stopped state.`,
	Run: runStopCmd,
}

func runStopCmd(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, err := cloudenv.LoadConfig(ctx)
	if err != nil {
		logging.Fatal("%v", err)
	}

	l := launcher.New(launcher.NewSageMakerService(cfg, ""), 0)
	if err := l.Stop(ctx, launcher.JobHandle{Name: stopJobName}); err != nil {
		logging.Fatal("failed to stop job %q: %v", stopJobName, err)
	}
	logging.Info("Stop requested for job %q", stopJobName)
}
