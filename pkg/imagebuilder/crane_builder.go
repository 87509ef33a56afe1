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

// Package imagebuilder builds the training image by appending the build
// context as a layer on top of a base image and pushes it to the account's
// registry. No container daemon is involved.
package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mltrain-toolkit/pkg/cloudenv"
	"mltrain-toolkit/pkg/registry"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
)

// defaultIgnorePatterns are always excluded from the build context.
var defaultIgnorePatterns = []string{
	".git",
	"__pycache__",
	"*.pyc",
	".ipynb_checkpoints",
	"node_modules",
	"*.log",
	"tmp/",
	".DS_Store",
}

const defaultPushAttempts = 4

// BuildError indicates the build context or base image is unusable.
// Fatal, never retried.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("image build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// PushError indicates the push to the destination registry failed.
// Transient failures are retried with backoff before being surfaced.
type PushError struct {
	Err       error
	Transient bool
}

func (e *PushError) Error() string {
	if e.Transient {
		return fmt.Sprintf("image push failed (transient): %v", e.Err)
	}
	return fmt.Sprintf("image push failed: %v", e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// Options configures one build-and-publish run.
type Options struct {
	BaseImage      string
	ContextDir     string
	RepositoryName string
	Platform       string
	Identity       cloudenv.Identity
	TagPolicy      registry.TagPolicy

	// PushAttempts bounds the retry loop for transient push failures.
	// Zero means the default.
	PushAttempts int
}

// registryClient is the slice of the registry surface the builder needs.
type registryClient interface {
	EnsureRepository(ctx context.Context, name string) error
	Authenticate(ctx context.Context) (authn.Authenticator, error)
}

// BuildAndPublish builds the training image and pushes it, returning the
// fully-qualified reference of the pushed image. The destination repository
// is created if absent. A failure mid-push may leave a partial upload; a
// subsequent push overwrites it.
func BuildAndPublish(ctx context.Context, reg registryClient, opts Options) (registry.ImageReference, error) {
	platform, err := parsePlatform(opts.Platform)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: err}
	}

	logrus.Infof("Building image for %s on top of %s", opts.RepositoryName, opts.BaseImage)

	matcher, err := readIgnorePatterns(opts.ContextDir)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: err}
	}

	contextTarPath, err := createFilteredTar(opts.ContextDir, matcher)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: err}
	}
	defer os.Remove(contextTarPath)

	contextLayer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(contextTarPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: fmt.Errorf("failed to create layer from build context: %w", err)}
	}

	baseRef, err := name.ParseReference(opts.BaseImage)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: fmt.Errorf("invalid base image reference %q: %w", opts.BaseImage, err)}
	}
	baseImg, err := crane.Pull(baseRef.String(), crane.WithPlatform(&platform), crane.WithContext(ctx))
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: fmt.Errorf("failed to pull base image %q: %w", opts.BaseImage, err)}
	}

	img, err := mutate.AppendLayers(baseImg, contextLayer)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: fmt.Errorf("failed to append build context layer: %w", err)}
	}

	tag, err := resolveTag(img, opts.TagPolicy)
	if err != nil {
		return registry.ImageReference{}, &BuildError{Err: err}
	}
	ref := registry.Reference(opts.Identity, opts.RepositoryName, tag)

	if err := reg.EnsureRepository(ctx, opts.RepositoryName); err != nil {
		return registry.ImageReference{}, err
	}

	auth, err := reg.Authenticate(ctx)
	if err != nil {
		return registry.ImageReference{}, err
	}

	if err := pushWithRetry(ctx, img, ref, auth, &platform, opts.pushAttempts()); err != nil {
		return registry.ImageReference{}, err
	}

	logrus.Infof("Image pushed to %s", ref)
	return ref, nil
}

func (o Options) pushAttempts() int {
	if o.PushAttempts > 0 {
		return o.PushAttempts
	}
	return defaultPushAttempts
}

// resolveTag applies the configured tag policy. Under the content-addressed
// policy the tag is derived from the image digest, so concurrent launches
// can never observe a stale image behind a shared tag.
func resolveTag(img v1.Image, policy registry.TagPolicy) (string, error) {
	switch policy {
	case registry.PolicyContentAddressed:
		digest, err := img.Digest()
		if err != nil {
			return "", fmt.Errorf("failed to compute image digest: %w", err)
		}
		return digest.Hex[:12], nil
	case registry.PolicyOverwrite, "":
		return registry.DefaultTag, nil
	default:
		return "", fmt.Errorf("unknown tag policy %q", policy)
	}
}

func pushWithRetry(ctx context.Context, img v1.Image, ref registry.ImageReference, auth authn.Authenticator, platform *v1.Platform, attempts int) error {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := crane.Push(img, ref.String(),
			crane.WithAuth(auth),
			crane.WithPlatform(platform),
			crane.WithContext(ctx))
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return &PushError{Err: err}
		}
		if attempt == attempts {
			break
		}

		logrus.Warnf("Push attempt %d/%d failed (%v), retrying in %s", attempt, attempts, err, backoff)
		select {
		case <-ctx.Done():
			return &PushError{Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return &PushError{Err: lastErr, Transient: true}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a
// v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}, nil
}

// readIgnorePatterns combines the default exclusions with the build
// context's .dockerignore, if present.
func readIgnorePatterns(dir string) (*patternmatcher.PatternMatcher, error) {
	patterns := make([]string, len(defaultIgnorePatterns))
	copy(patterns, defaultIgnorePatterns)

	ignorePath := filepath.Join(dir, ".dockerignore")
	if _, err := os.Stat(ignorePath); err == nil {
		file, err := os.Open(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", ignorePath, err)
		}
		defer file.Close()

		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", ignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %q: %w", ignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// processTarEntry writes a single file or directory into the context tarball.
func processTarEntry(tarWriter *tar.Writer, sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher, path string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}

	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", path, err)
	}
	if relPath == "." {
		return nil
	}

	// patternmatcher expects directories to carry a trailing slash.
	relPathSlash := filepath.ToSlash(relPath)
	if info.IsDir() && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}

	ignored, err := ignoreMatcher.MatchesOrParentMatches(relPathSlash)
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", path, err)
	}
	if ignored {
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	header, err := tar.FileInfoHeader(info, relPath)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", path, err)
	}
	header.Name = relPath

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", path, err)
	}

	if info.Mode().IsRegular() {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file %q: %w", path, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to write file content for %q: %w", path, err)
		}
	}

	return nil
}

func createFilteredTar(sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher) (string, error) {
	tmpFile, err := os.CreateTemp("", "mltrain-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	defer tmpFile.Close()

	gzipWriter := gzip.NewWriter(tmpFile)
	tarWriter := tar.NewWriter(gzipWriter)

	logrus.Debugf("Packing build context from %s into %s", sourceDir, tmpFile.Name())

	var walkErr error
	defer func() {
		if closeErr := tarWriter.Close(); closeErr != nil && walkErr == nil {
			walkErr = fmt.Errorf("failed to close tar writer: %w", closeErr)
		}
		if closeErr := gzipWriter.Close(); closeErr != nil && walkErr == nil {
			walkErr = fmt.Errorf("failed to close gzip writer: %w", closeErr)
		}
	}()

	walkErr = filepath.Walk(sourceDir, func(path string, info fs.FileInfo, err error) error {
		return processTarEntry(tarWriter, sourceDir, ignoreMatcher, path, info, err)
	})

	if walkErr != nil {
		os.Remove(tmpFile.Name())
		return "", walkErr
	}

	return tmpFile.Name(), nil
}
