// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"strings"
	"testing"
)

func TestComposeDisabledIsExactlyBase(t *testing.T) {
	base := "  raw base prompt\nwith odd whitespace  \n"
	got := Compose(MemoryBlocks{User: "u", Project: "p"}, base, UsageDocs, false)
	if got != base {
		t.Errorf("disabled compose must return base verbatim, got %q", got)
	}
	if strings.Contains(got, UserMemoryOpen) || strings.Contains(got, ProjectMemoryOpen) {
		t.Error("disabled compose must not contain memory markers")
	}
}

func TestComposeEmitsMarkersWhenEmpty(t *testing.T) {
	got := Compose(MemoryBlocks{}, "base", "docs", true)

	for _, marker := range []string{UserMemoryOpen, UserMemoryClose, ProjectMemoryOpen, ProjectMemoryClose} {
		if !strings.Contains(got, marker) {
			t.Errorf("missing marker %q in composed prompt", marker)
		}
	}
	if !strings.Contains(got, UserMemoryOpen+"\n"+UserMemoryClose) {
		t.Errorf("empty user section should collapse to adjacent markers, got %q", got)
	}
}

func TestComposeOrder(t *testing.T) {
	got := Compose(MemoryBlocks{User: "likes green", Project: "uses spaces"}, "BASE", "DOCS", true)

	idxUser := strings.Index(got, UserMemoryOpen)
	idxProject := strings.Index(got, ProjectMemoryOpen)
	idxBase := strings.Index(got, "BASE")
	idxDocs := strings.Index(got, "DOCS")

	if idxUser < 0 || idxProject < 0 || idxBase < 0 || idxDocs < 0 {
		t.Fatalf("composed prompt missing sections: %q", got)
	}
	if !(idxUser < idxProject && idxProject < idxBase && idxBase < idxDocs) {
		t.Errorf("sections out of order: user=%d project=%d base=%d docs=%d",
			idxUser, idxProject, idxBase, idxDocs)
	}
}

func TestComposeWrapsContent(t *testing.T) {
	got := Compose(MemoryBlocks{User: "tabs not spaces\n", Project: "run make lint"}, "base", "", true)

	if !strings.Contains(got, UserMemoryOpen+"\ntabs not spaces\n"+UserMemoryClose) {
		t.Errorf("user block not wrapped as expected: %q", got)
	}
	if !strings.Contains(got, ProjectMemoryOpen+"\nrun make lint\n"+ProjectMemoryClose) {
		t.Errorf("project block not wrapped as expected: %q", got)
	}
}

func TestComposeDeterministic(t *testing.T) {
	blocks := MemoryBlocks{User: "a", Project: "b"}
	first := Compose(blocks, "base", "docs", true)
	second := Compose(blocks, "base", "docs", true)
	if first != second {
		t.Error("compose must be deterministic for identical inputs")
	}
}

func TestEnvBlock(t *testing.T) {
	got := EnvBlock("/tmp/project")
	if !strings.Contains(got, "Working directory: /tmp/project") {
		t.Errorf("env block missing working dir: %q", got)
	}
}
