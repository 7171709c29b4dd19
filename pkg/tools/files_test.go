// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/mneme/pkg/errors"
)

func testWorkspace(t *testing.T) *workspace {
	t.Helper()
	ws, err := newWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return ws
}

func callTool(t *testing.T, d Descriptor, args string) (string, error) {
	t.Helper()
	return d.Handler(context.Background(), json.RawMessage(args))
}

func TestWorkspaceResolveRejectsEscapes(t *testing.T) {
	ws := testWorkspace(t)

	if _, err := ws.resolve("../outside.txt"); err == nil {
		t.Error("parent traversal should be rejected")
	}
	if _, err := ws.resolve("/etc/passwd"); err == nil {
		t.Error("absolute path should be rejected")
	}
	if _, err := ws.resolve("nested/../inside.txt"); err != nil {
		t.Errorf("clean in-tree path rejected: %v", err)
	}
}

func TestReadFileTool(t *testing.T) {
	ws := testWorkspace(t)
	content := "line one\nline two\nline three"
	if err := os.WriteFile(filepath.Join(ws.root, "notes.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := callTool(t, ReadFileTool(ws), `{"path":"notes.txt"}`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != content {
		t.Errorf("content = %q, want %q", out, content)
	}
}

func TestReadFileToolPagination(t *testing.T) {
	ws := testWorkspace(t)
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	if err := os.WriteFile(filepath.Join(ws.root, "big.txt"), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := callTool(t, ReadFileTool(ws), `{"path":"big.txt","offset":2,"limit":3}`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(out, "line 2\nline 3\nline 4") {
		t.Errorf("window = %q, want lines 2-4", out)
	}
	if !strings.Contains(out, "offset=5") {
		t.Errorf("continuation hint missing: %q", out)
	}
}

func TestReadFileToolMissing(t *testing.T) {
	ws := testWorkspace(t)
	_, err := callTool(t, ReadFileTool(ws), `{"path":"absent.txt"}`)
	if !errors.IsCode(err, errors.CodeToolFailure) {
		t.Fatalf("err = %v, want tool failure", err)
	}
}

func TestListDirTool(t *testing.T) {
	ws := testWorkspace(t)
	if err := os.MkdirAll(filepath.Join(ws.root, "sub"), 0o755); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(ws.root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	out, err := callTool(t, ListDirTool(ws), `{}`)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "a.txt\nb.txt\nsub/" {
		t.Errorf("listing = %q, want sorted entries with dir marker", out)
	}
}

func TestListDirToolEmpty(t *testing.T) {
	ws := testWorkspace(t)
	out, err := callTool(t, ListDirTool(ws), `{}`)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "(empty directory)" {
		t.Errorf("empty listing = %q", out)
	}
}

func TestWriteFileTool(t *testing.T) {
	ws := testWorkspace(t)

	out, err := callTool(t, WriteFileTool(ws), `{"path":"docs/new.md","content":"hello\n"}`)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "created") {
		t.Errorf("result = %q, want created", out)
	}
	data, err := os.ReadFile(filepath.Join(ws.root, "docs", "new.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}

	out, err = callTool(t, WriteFileTool(ws), `{"path":"docs/new.md","content":"changed"}`)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !strings.Contains(out, "overwrote") {
		t.Errorf("result = %q, want overwrote", out)
	}
}

func TestEditFileTool(t *testing.T) {
	ws := testWorkspace(t)
	seed := func(content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(ws.root, "main.go"), []byte(content), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	t.Run("unique replacement", func(t *testing.T) {
		seed("package main\n\nfunc main() {}\n")
		out, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"func main() {}","new_str":"func main() { run() }"}`)
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !strings.Contains(out, "replaced 1") {
			t.Errorf("result = %q", out)
		}
		data, _ := os.ReadFile(filepath.Join(ws.root, "main.go"))
		if !strings.Contains(string(data), "run()") {
			t.Errorf("edit not applied: %q", data)
		}
	})

	t.Run("ambiguous without replace_all", func(t *testing.T) {
		seed("x = 1\nx = 1\n")
		_, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"x = 1","new_str":"x = 2"}`)
		if !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Fatalf("err = %v, want invalid input for ambiguous match", err)
		}
	})

	t.Run("replace_all", func(t *testing.T) {
		seed("x = 1\nx = 1\n")
		out, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"x = 1","new_str":"x = 2","replace_all":true}`)
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !strings.Contains(out, "replaced 2") {
			t.Errorf("result = %q", out)
		}
		data, _ := os.ReadFile(filepath.Join(ws.root, "main.go"))
		if strings.Contains(string(data), "x = 1") {
			t.Errorf("occurrences left behind: %q", data)
		}
	})

	t.Run("create via empty old_str", func(t *testing.T) {
		out, err := callTool(t, EditFileTool(ws), `{"path":"fresh.txt","old_str":"","new_str":"born"}`)
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !strings.Contains(out, "created") {
			t.Errorf("result = %q", out)
		}
		data, _ := os.ReadFile(filepath.Join(ws.root, "fresh.txt"))
		if string(data) != "born" {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("empty old_str on existing file", func(t *testing.T) {
		seed("already here\n")
		_, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"","new_str":"clobber"}`)
		if !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Fatalf("err = %v, want invalid input for blind create over existing file", err)
		}
	})

	t.Run("old_str not found", func(t *testing.T) {
		seed("nothing here\n")
		_, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"ghost","new_str":"real"}`)
		if !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Fatalf("err = %v, want invalid input", err)
		}
	})

	t.Run("identical old and new", func(t *testing.T) {
		_, err := callTool(t, EditFileTool(ws), `{"path":"main.go","old_str":"same","new_str":"same"}`)
		if !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Fatalf("err = %v, want invalid input", err)
		}
	})
}
