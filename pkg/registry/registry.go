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

// Package registry addresses and manages the account's container registry.
// Repository creation is create-if-absent: launching twice against the same
// repository name must not fail.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"mltrain-toolkit/pkg/cloudenv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecr "github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/google/go-containerregistry/pkg/authn"
)

// TagPolicy controls how pushed images are tagged. Overwrite reuses a fixed
// tag (last write wins across concurrent launches); content-addressed tags
// derive from the image digest and never collide.
type TagPolicy string

const (
	PolicyOverwrite        TagPolicy = "overwrite"
	PolicyContentAddressed TagPolicy = "content"

	// DefaultTag is the fixed tag used under PolicyOverwrite.
	DefaultTag = "latest"
)

// ParseTagPolicy validates a tag policy flag value.
func ParseTagPolicy(s string) (TagPolicy, error) {
	switch TagPolicy(s) {
	case PolicyOverwrite, PolicyContentAddressed:
		return TagPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown tag policy %q, expected %q or %q", s, PolicyOverwrite, PolicyContentAddressed)
	}
}

// ImageReference is a fully-qualified pushed image address.
type ImageReference struct {
	RegistryHost   string
	RepositoryName string
	Tag            string
}

// String renders the reference as host/repository:tag.
func (r ImageReference) String() string {
	return fmt.Sprintf("%s/%s:%s", r.RegistryHost, r.RepositoryName, r.Tag)
}

// Host returns the account's registry endpoint.
func Host(id cloudenv.Identity) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", id.AccountID, id.Region)
}

// Reference builds the fully-qualified reference for a repository and tag in
// the account's registry.
func Reference(id cloudenv.Identity, repositoryName, tag string) ImageReference {
	return ImageReference{
		RegistryHost:   Host(id),
		RepositoryName: repositoryName,
		Tag:            tag,
	}
}

// AuthError indicates registry authentication failed. Fatal, not retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("registry authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type ecrAPI interface {
	DescribeRepositories(ctx context.Context, params *awsecr.DescribeRepositoriesInput, optFns ...func(*awsecr.Options)) (*awsecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *awsecr.CreateRepositoryInput, optFns ...func(*awsecr.Options)) (*awsecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(ctx context.Context, params *awsecr.GetAuthorizationTokenInput, optFns ...func(*awsecr.Options)) (*awsecr.GetAuthorizationTokenOutput, error)
}

// Client manages repositories and credentials in the account's registry.
type Client struct {
	api ecrAPI
}

// NewClient returns a Client backed by the account's registry API.
func NewClient(cfg aws.Config) *Client {
	return &Client{api: awsecr.NewFromConfig(cfg)}
}

// NewClientWithAPI is used by tests to inject a fake registry API.
func NewClientWithAPI(api ecrAPI) *Client {
	return &Client{api: api}
}

// RepositoryExists reports whether the named repository exists.
func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.DescribeRepositories(ctx, &awsecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		var notFound *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe repository %q: %w", name, err)
	}
	return true, nil
}

// EnsureRepository creates the named repository if it does not exist.
// A repository that already exists is success, not an error.
func (c *Client) EnsureRepository(ctx context.Context, name string) error {
	exists, err := c.RepositoryExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = c.api.CreateRepository(ctx, &awsecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
	})
	if err != nil {
		// A concurrent launch may have created it between the check and
		// the create; that still satisfies the contract.
		var alreadyExists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &alreadyExists) {
			return nil
		}
		return fmt.Errorf("failed to create repository %q: %w", name, err)
	}
	return nil
}

// Authenticate exchanges the caller's credentials for a registry
// authenticator usable for pushes.
func (c *Client) Authenticate(ctx context.Context) (authn.Authenticator, error) {
	out, err := c.api.GetAuthorizationToken(ctx, &awsecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return nil, &AuthError{Err: errors.New("authorization token response was empty")}
	}

	token := aws.ToString(out.AuthorizationData[0].AuthorizationToken)
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("malformed authorization token: %w", err)}
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, &AuthError{Err: errors.New("authorization token missing username separator")}
	}

	return authn.FromConfig(authn.AuthConfig{
		Username: parts[0],
		Password: parts[1],
	}), nil
}
