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

package imagebuilder

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"mltrain-toolkit/pkg/registry"

	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/moby/patternmatcher"
)

// Wrapper to simulate logic in processTarEntry
func testShouldIgnore(t *testing.T, matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) bool {
	relPathSlash := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}
	ignored, err := matcher.MatchesOrParentMatches(relPathSlash)
	if err != nil {
		t.Errorf("MatchesOrParentMatches error: %v", err)
	}
	return ignored
}

func TestPatternMatcherIntegration(t *testing.T) {
	tests := []struct {
		name           string
		ignorePatterns []string
		path           string
		isDir          bool
		wantIgnored    bool
	}{
		{
			name:           "Simple match",
			ignorePatterns: []string{"*.log"},
			path:           "train.log",
			isDir:          false,
			wantIgnored:    true,
		},
		{
			name:           "Simple mismatch",
			ignorePatterns: []string{"*.log"},
			path:           "train.py",
			isDir:          false,
			wantIgnored:    false,
		},
		{
			name:           "Directory match",
			ignorePatterns: []string{"__pycache__"},
			path:           "__pycache__",
			isDir:          true,
			wantIgnored:    true,
		},
		{
			name:           "Negation",
			ignorePatterns: []string{"*.log", "!keep.log"},
			path:           "keep.log",
			isDir:          false,
			wantIgnored:    false,
		},
		{
			name:           "Double star",
			ignorePatterns: []string{"**/*.pyc"},
			path:           "model/layers/gcn.pyc",
			isDir:          false,
			wantIgnored:    true,
		},
		{
			name:           "Nested file in ignored directory",
			ignorePatterns: []string{"data/"},
			path:           "data/ml-1m.zip",
			isDir:          false,
			wantIgnored:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := patternmatcher.New(tt.ignorePatterns)
			if err != nil {
				t.Fatalf("failed to create matcher: %v", err)
			}

			got := testShouldIgnore(t, matcher, tt.path, tt.isDir)
			if got != tt.wantIgnored {
				t.Errorf("testShouldIgnore(%q, isDir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.wantIgnored)
			}
		})
	}
}

func TestParsePlatform(t *testing.T) {
	p, err := parsePlatform("linux/amd64")
	if err != nil {
		t.Fatalf("parsePlatform: %v", err)
	}
	if p.OS != "linux" || p.Architecture != "amd64" {
		t.Errorf("parsePlatform = %s/%s, want linux/amd64", p.OS, p.Architecture)
	}

	if _, err := parsePlatform("linux"); err == nil {
		t.Error("parsePlatform accepted a platform without an architecture")
	}
}

func TestResolveTag(t *testing.T) {
	tag, err := resolveTag(empty.Image, registry.PolicyOverwrite)
	if err != nil {
		t.Fatalf("resolveTag(overwrite): %v", err)
	}
	if tag != registry.DefaultTag {
		t.Errorf("overwrite tag = %q, want %q", tag, registry.DefaultTag)
	}

	tag, err = resolveTag(empty.Image, registry.PolicyContentAddressed)
	if err != nil {
		t.Fatalf("resolveTag(content): %v", err)
	}
	if len(tag) != 12 {
		t.Errorf("content-addressed tag %q has length %d, want 12", tag, len(tag))
	}
	if tag == registry.DefaultTag {
		t.Errorf("content-addressed tag must not be %q", registry.DefaultTag)
	}

	if _, err := resolveTag(empty.Image, registry.TagPolicy("versioned")); err == nil {
		t.Error("resolveTag accepted an unknown policy")
	}
}

func TestIsTransient(t *testing.T) {
	if isTransient(context.Canceled) {
		t.Error("context cancellation classified as transient")
	}
	if isTransient(errors.New("manifest invalid")) {
		t.Error("permanent registry rejection classified as transient")
	}
	if !isTransient(io.ErrUnexpectedEOF) {
		t.Error("truncated upload not classified as transient")
	}
}
