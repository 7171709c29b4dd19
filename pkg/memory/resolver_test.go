// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/errors"
)

func testAgentConfig(workingDir string) config.AgentConfig {
	return config.AgentConfig{
		AssistantID:  "mneme",
		WorkingDir:   workingDir,
		EnableMemory: true,
	}
}

func TestFirstExisting(t *testing.T) {
	candidates := []string{"/a/agent.md", "/b/agent.md", "/c/agent.md"}

	exists := func(path string) bool { return path == "/b/agent.md" || path == "/c/agent.md" }
	if got := FirstExisting(candidates, exists); got != "/b/agent.md" {
		t.Errorf("expected first existing /b/agent.md, got %q", got)
	}

	none := func(string) bool { return false }
	if got := FirstExisting(candidates, none); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestUserPathLayout(t *testing.T) {
	got := UserPath("/home/ana", "mneme")
	want := filepath.Join("/home/ana", ".mneme", "mneme", "agent.md")
	if got != want {
		t.Errorf("UserPath = %q, want %q", got, want)
	}
}

func TestResolveUserScope(t *testing.T) {
	home := t.TempDir()
	path := UserPath(home, "mneme")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("remember the teapot\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := NewResolver(WithHome(home))
	text, err := r.Resolve(context.Background(), ScopeUser, testAgentConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if text != "remember the teapot\n" {
		t.Errorf("unexpected user memory: %q", text)
	}
}

func TestResolveMissingFileIsEmpty(t *testing.T) {
	r := NewResolver(WithHome(t.TempDir()))
	cfg := testAgentConfig(t.TempDir())

	for _, scope := range []Scope{ScopeUser, ScopeProject} {
		text, err := r.Resolve(context.Background(), scope, cfg)
		if err != nil {
			t.Errorf("scope %s: expected no error for missing file, got %v", scope, err)
		}
		if text != "" {
			t.Errorf("scope %s: expected empty text, got %q", scope, text)
		}
	}
}

func TestResolveProjectPrefersDotDir(t *testing.T) {
	wd := t.TempDir()
	preferred := filepath.Join(wd, DotDir, FileName)
	fallback := filepath.Join(wd, FileName)

	if err := os.MkdirAll(filepath.Dir(preferred), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(preferred, []byte("dotdir wins"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(fallback, []byte("never read"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := NewResolver(WithHome(t.TempDir()))
	text, err := r.Resolve(context.Background(), ScopeProject, testAgentConfig(wd))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if text != "dotdir wins" {
		t.Errorf("expected preferred candidate content, got %q", text)
	}
}

func TestResolveProjectFallbackCandidate(t *testing.T) {
	wd := t.TempDir()
	fallback := filepath.Join(wd, FileName)
	if err := os.WriteFile(fallback, []byte("root agent.md"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := NewResolver(WithHome(t.TempDir()))
	text, err := r.Resolve(context.Background(), ScopeProject, testAgentConfig(wd))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if text != "root agent.md" {
		t.Errorf("expected fallback content, got %q", text)
	}
}

func TestResolveInvalidUTF8(t *testing.T) {
	wd := t.TempDir()
	path := filepath.Join(wd, FileName)
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x20, 0x80}, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := NewResolver(WithHome(t.TempDir()))
	text, err := r.Resolve(context.Background(), ScopeProject, testAgentConfig(wd))
	if text != "" {
		t.Errorf("expected empty text for invalid encoding, got %q", text)
	}
	if !errors.IsCode(err, errors.CodeMalformedMemory) {
		t.Errorf("expected CodeMalformedMemory diagnostic, got %v", err)
	}
}

func TestResolveContextNeverFails(t *testing.T) {
	wd := t.TempDir()
	if err := os.WriteFile(filepath.Join(wd, FileName), []byte{0xff, 0x80}, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := NewResolver(WithHome(t.TempDir()))
	mc := r.ResolveContext(context.Background(), testAgentConfig(wd))
	if mc.UserBlock != "" || mc.ProjectBlock != "" {
		t.Errorf("expected degraded context to be empty, got %+v", mc)
	}
}

func TestTargetPathProject(t *testing.T) {
	wd := t.TempDir()
	r := NewResolver(WithHome(t.TempDir()))
	cfg := testAgentConfig(wd)

	// Nothing exists yet: the preferred candidate is the target.
	want := filepath.Join(wd, DotDir, FileName)
	if got := r.TargetPath(ScopeProject, cfg); got != want {
		t.Errorf("TargetPath = %q, want %q", got, want)
	}

	// An established fallback file keeps receiving writes.
	fallback := filepath.Join(wd, FileName)
	if err := os.WriteFile(fallback, []byte("existing"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := r.TargetPath(ScopeProject, cfg); got != fallback {
		t.Errorf("TargetPath = %q, want %q", got, fallback)
	}
}
