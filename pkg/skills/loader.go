// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills discovers agent skills and exposes them as tools with
// progressive disclosure: the model sees name and description up front
// and pulls the full instructions only when it invokes the skill.
package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jllopis/mneme/pkg/memory"
	"github.com/jllopis/mneme/pkg/telemetry"
)

// Subdir is the skills directory name under the agent dot directory.
const Subdir = "skills"

// ManifestName is the per-skill manifest file name.
const ManifestName = "SKILL.md"

// UserDir returns the user-scope skills root for a home directory.
func UserDir(home string) string {
	return filepath.Join(home, memory.DotDir, Subdir)
}

// ProjectDir returns the project-scope skills root for a working
// directory.
func ProjectDir(workingDir string) string {
	return filepath.Join(workingDir, memory.DotDir, Subdir)
}

// Loader discovers skills across the user and project layers. A project
// skill replaces a user skill with the same name. A broken skill is
// skipped with a warning; discovery itself never fails.
type Loader struct {
	userDir    string
	projectDir string
	logger     *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger for skip warnings.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader builds a Loader over the two layer roots. Either root may
// be empty or missing.
func NewLoader(userDir, projectDir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		userDir:    userDir,
		projectDir: projectDir,
		logger:     telemetry.Component("skills"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load scans both layers and returns the merged skill set sorted by
// name. The project layer is scanned second so its skills win.
func (l *Loader) Load() []SkillSpec {
	byName := make(map[string]SkillSpec)
	l.scan(l.userDir, memory.ScopeUser, byName)
	l.scan(l.projectDir, memory.ScopeProject, byName)

	out := make([]SkillSpec, 0, len(byName))
	for _, spec := range byName {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *Loader) scan(root string, source memory.Scope, into map[string]SkillSpec) {
	if root == "" {
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		// A layer without a skills directory is the normal case.
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), ManifestName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		spec, err := LoadFile(path)
		if err != nil {
			l.logger.Warn("skills.load.skip",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		spec.Source = source
		into[spec.Name] = spec
	}
}
