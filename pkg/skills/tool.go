// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package skills

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
	"github.com/jllopis/mneme/pkg/tools"
)

// resourceSubdirs are the conventional resource locations inside a
// skill directory.
var resourceSubdirs = []string{"scripts", "references", "assets"}

// SkillInput is the invocation shape shared by every skill tool.
type SkillInput struct {
	Action   string `json:"action,omitempty" jsonschema:"enum=activate,enum=load_resource,enum=list_resources" jsonschema_description:"activate returns the skill instructions (default), load_resource reads one bundled file, list_resources lists bundled files."`
	Resource string `json:"resource,omitempty" jsonschema_description:"Relative path of the bundled file to read (for load_resource)."`
}

var skillSchema = tools.GenerateSchema[SkillInput]()

// Tool exposes one skill as a registry descriptor. The definition the
// model sees carries only the name and description; the body comes back
// when the skill is activated.
func Tool(spec SkillSpec) tools.Descriptor {
	return tools.Descriptor{
		Name:        spec.Name,
		Description: spec.Description,
		Schema:      skillSchema,
		Risk:        governance.RiskBenign,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in SkillInput
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", errors.New(errors.CodeInvalidInput,
						fmt.Sprintf("%s: invalid arguments", spec.Name), err)
				}
			}
			switch in.Action {
			case "", "activate":
				return activate(spec), nil
			case "list_resources":
				return formatResources(listResources(spec.Dir)), nil
			case "load_resource":
				return loadResource(spec, in.Resource)
			default:
				return activate(spec), nil
			}
		},
	}
}

// Tools maps a loaded skill set to descriptors.
func Tools(specs []SkillSpec) []tools.Descriptor {
	out := make([]tools.Descriptor, len(specs))
	for i, spec := range specs {
		out[i] = Tool(spec)
	}
	return out
}

func activate(spec SkillSpec) string {
	var b strings.Builder
	b.WriteString(spec.Body)
	if resources := listResources(spec.Dir); len(resources) > 0 {
		b.WriteString("\n\nBundled resources (pass action=load_resource with the path):\n")
		for _, r := range resources {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func listResources(dir string) []string {
	var resources []string
	for _, subdir := range resourceSubdirs {
		entries, err := os.ReadDir(filepath.Join(dir, subdir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				resources = append(resources, filepath.Join(subdir, entry.Name()))
			}
		}
	}
	sort.Strings(resources)
	return resources
}

func formatResources(resources []string) string {
	if len(resources) == 0 {
		return "(no bundled resources)"
	}
	return strings.Join(resources, "\n")
}

func loadResource(spec SkillSpec, resource string) (string, error) {
	if resource == "" {
		return "", errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("%s: resource path is required", spec.Name), nil)
	}
	cleaned := filepath.Clean(resource)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("%s: resource %q is outside the skill directory", spec.Name, resource), nil)
	}
	data, err := os.ReadFile(filepath.Join(spec.Dir, cleaned))
	if err != nil {
		return "", errors.New(errors.CodeToolFailure,
			fmt.Sprintf("%s: resource %s", spec.Name, resource), err)
	}
	return string(data), nil
}
