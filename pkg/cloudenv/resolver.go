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

// Package cloudenv resolves the caller's cloud identity (account and region)
// from the ambient credential chain. Every downstream component receives the
// resolved Identity explicitly; nothing reads ambient state twice.
package cloudenv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Identity describes the account and region a launch runs against.
// Resolved once per run and treated as read-only afterwards.
type Identity struct {
	AccountID string
	Region    string
}

// AuthenticationError indicates no valid credentials could be discovered.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("no valid cloud credentials discovered: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConfigurationError indicates the environment is missing required
// configuration, such as a region.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

type callerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Resolver resolves the caller's Identity. Safe to call repeatedly; the
// result does not change within a run.
type Resolver struct {
	api    callerIdentityAPI
	region string
}

// LoadConfig loads the default credential/config chain once per run; the
// result is shared by every component that talks to the cloud.
func LoadConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, &AuthenticationError{Err: err}
	}
	return cfg, nil
}

// NewResolver returns a Resolver bound to the loaded config.
func NewResolver(cfg aws.Config) *Resolver {
	return &Resolver{
		api:    sts.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

// NewResolverWithClient is used by tests to inject a fake caller-identity API.
func NewResolverWithClient(api callerIdentityAPI, region string) *Resolver {
	return &Resolver{api: api, region: region}
}

// Resolve returns the caller's account and region.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	if r.region == "" {
		return Identity{}, &ConfigurationError{Msg: "no region configured; set AWS_REGION or a profile region"}
	}

	out, err := r.api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, &AuthenticationError{Err: err}
	}

	return Identity{
		AccountID: aws.ToString(out.Account),
		Region:    r.region,
	}, nil
}

// ExecutionRoleARN builds the ARN of the IAM role the training job assumes.
// roleName may itself be a full ARN, in which case it is returned unchanged.
func ExecutionRoleARN(id Identity, roleName string) string {
	if len(roleName) > 4 && roleName[:4] == "arn:" {
		return roleName
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", id.AccountID, roleName)
}
