// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt composes the session system prompt from resolved
// memory blocks, base instructions, and the memory usage documentation.
package prompt

import (
	"strings"
)

// Markers wrapping the memory sections. Always emitted when memory is
// enabled, even for empty blocks, so the prompt shape is stable.
const (
	UserMemoryOpen     = "<user_memory>"
	UserMemoryClose    = "</user_memory>"
	ProjectMemoryOpen  = "<project_memory>"
	ProjectMemoryClose = "</project_memory>"
)

// MemoryBlocks is the composer's view of resolved memory. The two
// blocks stay side by side and are never merged.
type MemoryBlocks struct {
	User    string
	Project string
}

// Compose builds the system prompt. With memory disabled the result is
// exactly basePrompt, byte for byte. Otherwise the fixed order is: user
// memory section, project memory section, base instructions, usage
// documentation. Precedence of project over user content is advisory,
// stated in the usage docs; the composer only orders text.
func Compose(blocks MemoryBlocks, basePrompt, usageDocs string, enableMemory bool) string {
	if !enableMemory {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(wrap(UserMemoryOpen, UserMemoryClose, blocks.User))
	b.WriteString("\n\n")
	b.WriteString(wrap(ProjectMemoryOpen, ProjectMemoryClose, blocks.Project))
	if basePrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(basePrompt)
	}
	if usageDocs != "" {
		b.WriteString("\n\n")
		b.WriteString(usageDocs)
	}
	return b.String()
}

func wrap(open, end, content string) string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return open + "\n" + end
	}
	return open + "\n" + content + "\n" + end
}

// EnvBlock describes the working directory to the model. Appended to
// the base prompt by the runtime.
func EnvBlock(workingDir string) string {
	return "<env>\nWorking directory: " + workingDir + "\n</env>\n\n" +
		"All file paths in tool calls are resolved against this directory. " +
		"Prefer relative paths inside it."
}

// DefaultBasePrompt is the stock instruction block used when the caller
// does not supply one.
const DefaultBasePrompt = `You are an AI assistant that helps with coding, research, and analysis tasks.

Be concise and direct. Take action when asked, but do not surprise the
operator with unrequested actions. When you run non-trivial shell
commands, briefly explain what they do. After editing a file, stop;
do not narrate the change unless asked.`

// UsageDocs is the fixed memory usage documentation appended after the
// base instructions whenever memory is enabled.
const UsageDocs = `## Memory

Two persistent memory blocks precede these instructions: <user_memory>
holds durable preferences of the operator across all projects, and
<project_memory> holds conventions of the current project. Both are
plain notes; either may be empty.

When both speak to the same question, prefer the project block.

When the operator states a durable preference or correction (for
example "always", "never", "remember", "I prefer", "from now on"), it
is persisted automatically and will be present in future sessions.
Treat remembered notes as more reliable than general knowledge for
topics they cover.`
