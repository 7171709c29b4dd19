package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/memory"
)

// runMemory inspects and manages the layered memory files.
func runMemory(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: mneme memory <show|path|clear>"))
	}
	resolver := memory.NewResolver()

	switch args[0] {
	case "show":
		cmd := flag.NewFlagSet("memory show", flag.ContinueOnError)
		scope := cmd.String("scope", "", "Memory scope (user|project)")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		scopes, err := parseScopes(*scope)
		if err != nil {
			fatal(err)
		}
		type entry struct {
			Scope   string `json:"scope"`
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		entries := make([]entry, 0, len(scopes))
		for _, sc := range scopes {
			record, err := resolver.ResolveRecord(ctx, sc, cfg.Agent)
			if err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
			entries = append(entries, entry{
				Scope:   string(sc),
				Path:    resolver.TargetPath(sc, cfg.Agent),
				Content: record.Text,
			})
		}
		if global.JSON {
			printJSON(entries)
			return
		}
		for _, e := range entries {
			fmt.Printf("== %s (%s)\n", e.Scope, e.Path)
			if strings.TrimSpace(e.Content) == "" {
				fmt.Println("(empty)")
			} else {
				fmt.Println(strings.TrimRight(e.Content, "\n"))
			}
		}
	case "path":
		cmd := flag.NewFlagSet("memory path", flag.ContinueOnError)
		scope := cmd.String("scope", "", "Memory scope (user|project)")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		scopes, err := parseScopes(*scope)
		if err != nil {
			fatal(err)
		}
		type entry struct {
			Scope  string `json:"scope"`
			Path   string `json:"path"`
			Exists bool   `json:"exists"`
		}
		entries := make([]entry, 0, len(scopes))
		for _, sc := range scopes {
			path := resolver.TargetPath(sc, cfg.Agent)
			exists := false
			if path != "" {
				if _, err := os.Stat(path); err == nil {
					exists = true
				}
			}
			entries = append(entries, entry{Scope: string(sc), Path: path, Exists: exists})
		}
		if global.JSON {
			printJSON(entries)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "SCOPE", "PATH", "EXISTS")
		for _, e := range entries {
			writeRow(writer, e.Scope, e.Path, fmt.Sprintf("%t", e.Exists))
		}
		_ = writer.Flush()
	case "clear":
		cmd := flag.NewFlagSet("memory clear", flag.ContinueOnError)
		scope := cmd.String("scope", "", "Memory scope (user|project), required")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if strings.TrimSpace(*scope) == "" {
			fatal(fmt.Errorf("usage: mneme memory clear --scope <user|project>"))
		}
		scopes, err := parseScopes(*scope)
		if err != nil {
			fatal(err)
		}
		sc := scopes[0]
		path := resolver.TargetPath(sc, cfg.Agent)
		if path == "" {
			fatal(fmt.Errorf("cannot resolve %s memory path", sc))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fatal(err)
		}
		fmt.Printf("cleared %s memory (%s)\n", sc, path)
	default:
		fatal(fmt.Errorf("unknown memory command %q", args[0]))
	}
}

func parseScopes(value string) ([]memory.Scope, error) {
	switch strings.TrimSpace(value) {
	case "":
		return []memory.Scope{memory.ScopeUser, memory.ScopeProject}, nil
	case string(memory.ScopeUser):
		return []memory.Scope{memory.ScopeUser}, nil
	case string(memory.ScopeProject):
		return []memory.Scope{memory.ScopeProject}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q (want user or project)", value)
	}
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}
