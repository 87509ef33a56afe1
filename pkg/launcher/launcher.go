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

// Package launcher submits job specifications to a remote execution service
// and observes them until a terminal state. The launcher has no control over
// remote scheduling; it only watches status transitions.
package launcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mltrain-toolkit/pkg/jobspec"
	"mltrain-toolkit/pkg/logging"

	"github.com/google/uuid"
)

// JobState is the observed state of a remote job. Transitions are monotonic:
// Pending -> Running -> {Succeeded | Failed | Stopped}.
type JobState string

const (
	StatePending   JobState = "Pending"
	StateRunning   JobState = "Running"
	StateStopping  JobState = "Stopping"
	StateSucceeded JobState = "Succeeded"
	StateFailed    JobState = "Failed"
	StateStopped   JobState = "Stopped"
)

var stateRank = map[JobState]int{
	StatePending:   0,
	StateRunning:   1,
	StateStopping:  2,
	StateSucceeded: 3,
	StateFailed:    3,
	StateStopped:   3,
}

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateStopped
}

// JobHandle identifies a submitted job. Opaque to callers; never mutated.
type JobHandle struct {
	Name string
	ARN  string
}

// StatusReport is one observation of a remote job.
type StatusReport struct {
	State          JobState
	Reason         string
	OutputLocation string
}

// Result is the terminal outcome of a job.
type Result struct {
	Status         JobState
	OutputLocation string
}

// SubmissionError indicates the execution service rejected the spec.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission rejected: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// DuplicateJobError indicates a job with the same name already exists.
type DuplicateJobError struct {
	Name string
	Err  error
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("a job named %q already exists", e.Name)
}

func (e *DuplicateJobError) Unwrap() error { return e.Err }

// RemoteJobFailure carries the remote-reported failure reason and whatever
// partial output location exists.
type RemoteJobFailure struct {
	Reason         string
	OutputLocation string
}

func (e *RemoteJobFailure) Error() string {
	return fmt.Sprintf("remote job failed: %s", e.Reason)
}

// ExecutionService is the remote platform that schedules and runs jobs.
type ExecutionService interface {
	Submit(ctx context.Context, spec jobspec.JobSpec, jobName string) (JobHandle, error)
	Status(ctx context.Context, handle JobHandle) (StatusReport, error)
	Stop(ctx context.Context, handle JobHandle) error
}

const defaultPollInterval = 30 * time.Second

// Launcher drives one job through submit and await.
type Launcher struct {
	service      ExecutionService
	pollInterval time.Duration
}

// New returns a Launcher polling at the given interval; zero means the
// default.
func New(service ExecutionService, pollInterval time.Duration) *Launcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Launcher{service: service, pollInterval: pollInterval}
}

// JobName derives a collision-free job name from a base name. Names are
// unique per invocation so concurrent launches never collide in the remote
// job-name namespace; pass an exact name to Submit to opt out.
func JobName(base string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", base, time.Now().Format("2006-01-02-15-04-05"), suffix)
}

// Submit sends the spec to the execution service. Non-blocking; fails fast
// if the spec is rejected.
func (l *Launcher) Submit(ctx context.Context, spec jobspec.JobSpec, jobName string) (JobHandle, error) {
	logging.Info("Submitting training job %q (image %s, %d x %s)", jobName, spec.Image, spec.InstanceCount, spec.ComputeType)
	handle, err := l.service.Submit(ctx, spec, jobName)
	if err != nil {
		return JobHandle{}, err
	}
	logging.Info("Job %q accepted", handle.Name)
	return handle, nil
}

// AwaitCompletion blocks until the job reaches a terminal state. The wait is
// unbounded from the launcher's point of view; cancel the context to give
// up. Cancellation also sends a best-effort stop request, which the remote
// service may honor with arbitrary delay.
//
// On Succeeded the result carries the output artifact location. On Failed
// (or Stopped) the returned error is a RemoteJobFailure preserving the
// remote reason and any partial output.
func (l *Launcher) AwaitCompletion(ctx context.Context, handle JobHandle) (Result, error) {
	last := StatePending
	logging.Info("Waiting for job %q (status %s)", handle.Name, last)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		report, err := l.service.Status(ctx, handle)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read status of job %q: %w", handle.Name, err)
		}

		// Guard against out-of-order observations from the remote
		// service so callers only ever see forward transitions.
		if stateRank[report.State] > stateRank[last] {
			logging.Info("Job %q: %s -> %s", handle.Name, last, report.State)
			last = report.State
		}

		if last.Terminal() {
			return l.terminalResult(handle, report)
		}

		select {
		case <-ctx.Done():
			l.stopBestEffort(handle)
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Launcher) terminalResult(handle JobHandle, report StatusReport) (Result, error) {
	switch report.State {
	case StateSucceeded:
		return Result{Status: StateSucceeded, OutputLocation: report.OutputLocation}, nil
	case StateStopped:
		reason := report.Reason
		if reason == "" {
			reason = "job was stopped before completion"
		}
		return Result{}, &RemoteJobFailure{Reason: reason, OutputLocation: report.OutputLocation}
	default:
		return Result{}, &RemoteJobFailure{Reason: report.Reason, OutputLocation: report.OutputLocation}
	}
}

// stopBestEffort asks the service to stop the job. Advisory only: the
// remote job may keep running after this returns.
func (l *Launcher) stopBestEffort(handle JobHandle) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.service.Stop(stopCtx, handle); err != nil {
		logging.Error("Best-effort stop of job %q failed: %v", handle.Name, err)
		return
	}
	logging.Info("Requested stop of job %q", handle.Name)
}

// Stop requests termination of a running job. Best effort.
func (l *Launcher) Stop(ctx context.Context, handle JobHandle) error {
	return l.service.Stop(ctx, handle)
}

// Status reads the current state of a job once.
func (l *Launcher) Status(ctx context.Context, handle JobHandle) (StatusReport, error) {
	return l.service.Status(ctx, handle)
}
