// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
)

const (
	defaultReadLimit   = 200
	maxToolOutputBytes = 24_000
	truncationSentinel = "\n-- truncated --"
)

// workspace roots every file tool at the working directory. Relative
// paths only; traversal and symlink escapes are rejected.
type workspace struct {
	root string
}

func newWorkspace(root string) (*workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("resolve working dir %s", root), err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &workspace{root: abs}, nil
}

// resolve maps a tool-supplied relative path to an absolute path inside
// the workspace.
func (w *workspace) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.New(errors.CodeInvalidInput, "absolute paths are not allowed", nil)
	}
	cleaned := filepath.Clean(rel)
	if cleaned == "" {
		cleaned = "."
	}
	candidate := filepath.Join(w.root, cleaned)

	// Best effort symlink resolution: the leaf may not exist yet, so
	// fall back to resolving the deepest existing parent.
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	} else if resolvedParent, err := filepath.EvalSymlinks(filepath.Dir(candidate)); err == nil {
		candidate = filepath.Join(resolvedParent, filepath.Base(candidate))
	}

	relToRoot, err := filepath.Rel(w.root, candidate)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("path %q resolves outside the working directory", rel), nil)
	}
	return candidate, nil
}

func capOutput(s string) string {
	if len(s) <= maxToolOutputBytes {
		return s
	}
	return s[:maxToolOutputBytes] + truncationSentinel
}

// ReadFileInput addresses a file relative to the working directory.
type ReadFileInput struct {
	Path   string `json:"path" jsonschema_description:"Relative file path inside the working directory."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Line offset (0-based) to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum lines to return from offset (default 200)."`
}

var readFileSchema = GenerateSchema[ReadFileInput]()

// ReadFileTool reads a file and paginates by lines so results stay
// small enough for the context window.
func ReadFileTool(ws *workspace) Descriptor {
	return Descriptor{
		Name:        "read_file",
		Description: "Read a text file addressed by a relative path inside the working directory. Paginate large files with offset/limit.",
		Schema:      readFileSchema,
		Risk:        governance.RiskBenign,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in ReadFileInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "read_file: invalid arguments", err)
			}
			if in.Path == "" {
				return "", errors.New(errors.CodeInvalidInput, "read_file: path is required", nil)
			}
			target, err := ws.resolve(in.Path)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("read_file: %s", in.Path), err)
			}

			limit := in.Limit
			if limit <= 0 {
				limit = defaultReadLimit
			}
			offset := in.Offset
			if offset < 0 {
				offset = 0
			}
			lines := strings.Split(string(data), "\n")
			if offset > len(lines) {
				offset = len(lines)
			}
			end := offset + limit
			if end > len(lines) {
				end = len(lines)
			}
			out := strings.Join(lines[offset:end], "\n")
			if end < len(lines) {
				out += fmt.Sprintf("\n-- %d more lines; continue with offset=%d --", len(lines)-end, end)
			}
			return capOutput(out), nil
		},
	}
}

// ListDirInput addresses a directory relative to the working directory.
type ListDirInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Relative directory path (default: the working directory itself)."`
}

var listDirSchema = GenerateSchema[ListDirInput]()

// ListDirTool lists one directory level, sorted, directories marked
// with a trailing slash.
func ListDirTool(ws *workspace) Descriptor {
	return Descriptor{
		Name:        "list_dir",
		Description: "List the entries of a directory inside the working directory (non-recursive).",
		Schema:      listDirSchema,
		Risk:        governance.RiskBenign,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in ListDirInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "list_dir: invalid arguments", err)
			}
			rel := in.Path
			if rel == "" {
				rel = "."
			}
			target, err := ws.resolve(rel)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(target)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("list_dir: %s", rel), err)
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return capOutput(strings.Join(names, "\n")), nil
		},
	}
}

// WriteFileInput creates or replaces a file.
type WriteFileInput struct {
	Path    string `json:"path" jsonschema_description:"Relative file path inside the working directory."`
	Content string `json:"content" jsonschema_description:"Full content to write."`
}

var writeFileSchema = GenerateSchema[WriteFileInput]()

// WriteFileTool writes the full content, creating parent directories
// as needed.
func WriteFileTool(ws *workspace) Descriptor {
	return Descriptor{
		Name:        "write_file",
		Description: "Create or overwrite a file inside the working directory with the given content.",
		Schema:      writeFileSchema,
		Risk:        governance.RiskSensitive,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in WriteFileInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "write_file: invalid arguments", err)
			}
			if in.Path == "" {
				return "", errors.New(errors.CodeInvalidInput, "write_file: path is required", nil)
			}
			target, err := ws.resolve(in.Path)
			if err != nil {
				return "", err
			}
			action := "created"
			if _, err := os.Stat(target); err == nil {
				action = "overwrote"
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("write_file: %s", in.Path), err)
			}
			if err := os.WriteFile(target, []byte(in.Content), 0o644); err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("write_file: %s", in.Path), err)
			}
			return fmt.Sprintf("%s %s (%d bytes)", action, in.Path, len(in.Content)), nil
		},
	}
}

// EditFileInput replaces text inside an existing file, or creates a
// new file when old_str is empty.
type EditFileInput struct {
	Path       string `json:"path" jsonschema_description:"Relative file path inside the working directory."`
	OldStr     string `json:"old_str" jsonschema_description:"Exact text to replace. Empty to create a new file with new_str as content."`
	NewStr     string `json:"new_str" jsonschema_description:"Replacement text."`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema_description:"Replace every occurrence instead of requiring a unique match."`
}

var editFileSchema = GenerateSchema[EditFileInput]()

// EditFileTool replaces old_str with new_str. Without replace_all the
// match must be unique so an edit never lands somewhere unexpected.
func EditFileTool(ws *workspace) Descriptor {
	return Descriptor{
		Name:        "edit_file",
		Description: "Replace text in a file inside the working directory. With an empty old_str and a new path, creates the file.",
		Schema:      editFileSchema,
		Risk:        governance.RiskSensitive,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in EditFileInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "edit_file: invalid arguments", err)
			}
			if in.Path == "" {
				return "", errors.New(errors.CodeInvalidInput, "edit_file: path is required", nil)
			}
			if in.OldStr == in.NewStr {
				return "", errors.New(errors.CodeInvalidInput, "edit_file: old_str and new_str must differ", nil)
			}
			target, err := ws.resolve(in.Path)
			if err != nil {
				return "", err
			}

			data, err := os.ReadFile(target)
			if os.IsNotExist(err) && in.OldStr == "" {
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("edit_file: %s", in.Path), err)
				}
				if err := os.WriteFile(target, []byte(in.NewStr), 0o644); err != nil {
					return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("edit_file: %s", in.Path), err)
				}
				return fmt.Sprintf("created %s", in.Path), nil
			}
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("edit_file: %s", in.Path), err)
			}
			if in.OldStr == "" {
				return "", errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("edit_file: %s already exists, pass old_str to modify it", in.Path), nil)
			}

			content := string(data)
			count := strings.Count(content, in.OldStr)
			if count == 0 {
				return "", errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("edit_file: old_str not found in %s", in.Path), nil)
			}
			if count > 1 && !in.ReplaceAll {
				return "", errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("edit_file: old_str appears %d times in %s, pass replace_all to replace every occurrence", count, in.Path), nil)
			}

			replaced := 1
			if in.ReplaceAll {
				content = strings.ReplaceAll(content, in.OldStr, in.NewStr)
				replaced = count
			} else {
				content = strings.Replace(content, in.OldStr, in.NewStr, 1)
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("edit_file: %s", in.Path), err)
			}
			return fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, in.Path), nil
		},
	}
}
