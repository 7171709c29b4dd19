// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the layered persistent memory for agents:
// plain markdown files resolved per scope, composed into the session
// prompt, and appended to when the operator gives durable feedback.
package memory

import (
	"path/filepath"
	"time"
)

// Scope identifies a memory layer.
type Scope string

const (
	// ScopeUser is the per-operator layer, shared by every project the
	// same assistant id runs in.
	ScopeUser Scope = "user"
	// ScopeProject is the per-working-directory layer.
	ScopeProject Scope = "project"
)

const (
	// DotDir is the agent dot directory name.
	DotDir = ".mneme"
	// FileName is the memory file name within a scope directory.
	FileName = "agent.md"
)

// Record is one resolved memory layer.
type Record struct {
	Scope   Scope
	Path    string
	Text    string
	ModTime time.Time
}

// Context holds the two resolved memory blocks for prompt composition.
// The blocks are composed side by side, never merged.
type Context struct {
	UserBlock    string
	ProjectBlock string
}

// UserPath returns the user-scope memory file path for an assistant id.
func UserPath(home, assistantID string) string {
	return filepath.Join(home, DotDir, assistantID, FileName)
}

// ProjectCandidates returns the ordered project-scope candidate paths
// for a working directory. The first existing candidate wins and the
// loser is never read.
func ProjectCandidates(workingDir string) []string {
	return []string{
		filepath.Join(workingDir, DotDir, FileName),
		filepath.Join(workingDir, FileName),
	}
}

// ExistsFunc reports whether a path exists. Injectable so candidate
// selection is testable without a filesystem.
type ExistsFunc func(path string) bool

// FirstExisting returns the first candidate for which exists reports
// true, or "" when none do.
func FirstExisting(candidates []string, exists ExistsFunc) string {
	for _, c := range candidates {
		if exists(c) {
			return c
		}
	}
	return ""
}
