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

package cloudenv

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type fakeCallerIdentity struct {
	account string
	err     error
	calls   int
}

func (f *fakeCallerIdentity) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

func TestResolve(t *testing.T) {
	fake := &fakeCallerIdentity{account: "123456789012"}
	r := NewResolverWithClient(fake, "us-east-1")

	id, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if id.AccountID != "123456789012" {
		t.Errorf("AccountID = %q, want %q", id.AccountID, "123456789012")
	}
	if id.Region != "us-east-1" {
		t.Errorf("Region = %q, want %q", id.Region, "us-east-1")
	}
}

func TestResolveIsRepeatable(t *testing.T) {
	fake := &fakeCallerIdentity{account: "123456789012"}
	r := NewResolverWithClient(fake, "us-east-1")

	first, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first != second {
		t.Errorf("Resolve not stable: %+v vs %+v", first, second)
	}
}

func TestResolveMissingRegion(t *testing.T) {
	r := NewResolverWithClient(&fakeCallerIdentity{account: "123456789012"}, "")

	_, err := r.Resolve(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Resolve error = %v, want ConfigurationError", err)
	}
}

func TestResolveNoCredentials(t *testing.T) {
	r := NewResolverWithClient(&fakeCallerIdentity{err: errors.New("no credential providers")}, "us-east-1")

	_, err := r.Resolve(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Resolve error = %v, want AuthenticationError", err)
	}
}

func TestExecutionRoleARN(t *testing.T) {
	id := Identity{AccountID: "123456789012", Region: "us-east-1"}

	got := ExecutionRoleARN(id, "TrainingExecutionRole")
	want := "arn:aws:iam::123456789012:role/TrainingExecutionRole"
	if got != want {
		t.Errorf("ExecutionRoleARN = %q, want %q", got, want)
	}

	full := "arn:aws:iam::999999999999:role/Custom"
	if got := ExecutionRoleARN(id, full); got != full {
		t.Errorf("ExecutionRoleARN passthrough = %q, want %q", got, full)
	}
}
