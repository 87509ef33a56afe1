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

// Package sourcebundle stages the training script and its neighbors where
// the execution service can reach them: local directories are packed into a
// tar.gz and uploaded to the staging location, remote sources are fetched
// first, and an already-staged bundle URI passes through untouched.
package sourcebundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mltrain-toolkit/pkg/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-git/go-git/v5"
	"github.com/hashicorp/go-getter"
	"github.com/spf13/afero"
)

const bundleFileName = "source.tar.gz"

// Bundle describes a staged source bundle.
type Bundle struct {
	// URI is where the execution service reads the bundle from.
	URI string
	// GitCommit is the source work tree's HEAD commit, if the source came
	// from a git work tree. Recorded as a provenance tag on the job.
	GitCommit string
}

// Options configures one staging run.
type Options struct {
	// Source is a local directory, a fetchable URI (git::, https://), or
	// an already-staged s3:// bundle.
	Source string
	// StagingLocation is the s3://bucket/prefix the bundle uploads under.
	StagingLocation string
}

type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Stager packs and uploads source bundles.
type Stager struct {
	fs       afero.Fs
	uploader uploaderAPI
}

// NewStager returns a Stager uploading through the given object-storage
// config.
func NewStager(cfg aws.Config) *Stager {
	return &Stager{
		fs:       afero.NewOsFs(),
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}
}

// NewStagerWithBackend is used by tests to inject a filesystem and uploader.
func NewStagerWithBackend(fsys afero.Fs, uploader uploaderAPI) *Stager {
	return &Stager{fs: fsys, uploader: uploader}
}

// Stage materializes the source as a bundle URI the execution service can
// read.
func (s *Stager) Stage(ctx context.Context, opts Options) (Bundle, error) {
	if strings.HasPrefix(opts.Source, "s3://") {
		logging.Debug("Source %s is already staged", opts.Source)
		return Bundle{URI: opts.Source}, nil
	}

	dir := opts.Source
	if isRemote(opts.Source) {
		fetched, err := fetchRemote(ctx, opts.Source)
		if err != nil {
			return Bundle{}, err
		}
		defer os.RemoveAll(fetched)
		dir = fetched
	}

	commit := headCommit(dir)

	archive, err := packTarGz(s.fs, dir)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to pack source bundle from %q: %w", dir, err)
	}

	bucket, keyPrefix, err := parseS3URI(opts.StagingLocation)
	if err != nil {
		return Bundle{}, fmt.Errorf("invalid staging location: %w", err)
	}
	key := path.Join(keyPrefix, bundleFileName)

	logging.Info("Uploading source bundle to s3://%s/%s", bucket, key)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(archive),
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to upload source bundle: %w", err)
	}

	return Bundle{
		URI:       fmt.Sprintf("s3://%s/%s", bucket, key),
		GitCommit: commit,
	}, nil
}

// IsRemote reports whether the source must be fetched before use.
func IsRemote(src string) bool {
	return isRemote(src)
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "git::") || strings.Contains(src, "://")
}

// Fetch downloads a remote source tree into a temporary directory and
// returns it along with a cleanup function.
func Fetch(ctx context.Context, src string) (string, func(), error) {
	dir, err := fetchRemote(ctx, src)
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// fetchRemote downloads a remote source tree into a temporary directory.
func fetchRemote(ctx context.Context, src string) (string, error) {
	dst, err := os.MkdirTemp("", "mltrain-source-*")
	if err != nil {
		return "", fmt.Errorf("failed to create fetch directory: %w", err)
	}

	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeAny,
	}
	if err := client.Get(); err != nil {
		os.RemoveAll(dst)
		return "", fmt.Errorf("failed to fetch source %q: %w", src, err)
	}
	return dst, nil
}

// headCommit returns the HEAD commit of the work tree containing dir, or ""
// when the source is not under git.
func headCommit(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// packTarGz writes the directory's files into an in-memory gzip tarball.
// The .git directory never travels with the bundle.
func packTarGz(fsys afero.Fs, root string) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	err := afero.Walk(fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", p, err)
		}
		if relPath == "." {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, relPath)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %q: %w", p, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %q: %w", p, err)
		}

		file, err := fsys.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %q: %w", p, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to write content of %q: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", fmt.Errorf("%q is not an s3:// URI", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("%q has no bucket", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		key = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, key, nil
}
