package main

import (
	"context"
	"testing"
	"time"
)

func TestParseGlobalFlags(t *testing.T) {
	t.Setenv("MNEME_CONFIG", "")

	tests := []struct {
		name     string
		args     []string
		wantCfg  string
		wantJSON bool
		wantTO   time.Duration
		wantRest []string
		wantErr  bool
	}{
		{name: "empty", args: nil},
		{name: "command only", args: []string{"chat"}, wantRest: []string{"chat"}},
		{name: "config then command", args: []string{"--config", "mneme.yaml", "run", "hi"}, wantCfg: "mneme.yaml", wantRest: []string{"run", "hi"}},
		{name: "equals forms", args: []string{"--config=mneme.yaml", "--timeout=30s", "chat"}, wantCfg: "mneme.yaml", wantTO: 30 * time.Second, wantRest: []string{"chat"}},
		{name: "json", args: []string{"--json", "version"}, wantJSON: true, wantRest: []string{"version"}},
		{name: "terminator", args: []string{"--json", "--", "--config"}, wantJSON: true, wantRest: []string{"--config"}},
		{name: "subcommand flags pass through", args: []string{"memory", "show", "--scope", "user"}, wantRest: []string{"memory", "show", "--scope", "user"}},
		{name: "missing config value", args: []string{"--config"}, wantErr: true},
		{name: "bad timeout", args: []string{"--timeout", "soon"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseGlobalFlags: %v", err)
			}
			if flags.ConfigPath != tt.wantCfg {
				t.Errorf("ConfigPath = %q, want %q", flags.ConfigPath, tt.wantCfg)
			}
			if flags.JSON != tt.wantJSON {
				t.Errorf("JSON = %v, want %v", flags.JSON, tt.wantJSON)
			}
			if flags.Timeout != tt.wantTO {
				t.Errorf("Timeout = %v, want %v", flags.Timeout, tt.wantTO)
			}
			if len(rest) != len(tt.wantRest) {
				t.Fatalf("rest = %v, want %v", rest, tt.wantRest)
			}
			for i := range rest {
				if rest[i] != tt.wantRest[i] {
					t.Errorf("rest[%d] = %q, want %q", i, rest[i], tt.wantRest[i])
				}
			}
		})
	}
}

func TestParseGlobalFlagsHelp(t *testing.T) {
	t.Setenv("MNEME_CONFIG", "")
	for _, arg := range []string{"-h", "--help"} {
		flags, rest, err := parseGlobalFlags([]string{arg, "chat"})
		if err != nil {
			t.Fatalf("parseGlobalFlags(%s): %v", arg, err)
		}
		if !flags.Help {
			t.Errorf("%s should set Help", arg)
		}
		if rest != nil {
			t.Errorf("%s should consume remaining args, got %v", arg, rest)
		}
	}
}

func TestParseGlobalFlagsEnvDefault(t *testing.T) {
	t.Setenv("MNEME_CONFIG", "/etc/mneme.yaml")

	flags, _, err := parseGlobalFlags([]string{"chat"})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if flags.ConfigPath != "/etc/mneme.yaml" {
		t.Errorf("ConfigPath = %q, want env default", flags.ConfigPath)
	}

	flags, _, err = parseGlobalFlags([]string{"--config", "local.yaml", "chat"})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if flags.ConfigPath != "local.yaml" {
		t.Errorf("ConfigPath = %q, flag should override env", flags.ConfigPath)
	}
}

func TestParseScopes(t *testing.T) {
	scopes, err := parseScopes("")
	if err != nil {
		t.Fatalf("parseScopes(\"\"): %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("empty scope should mean both, got %v", scopes)
	}

	scopes, err = parseScopes("user")
	if err != nil || len(scopes) != 1 || string(scopes[0]) != "user" {
		t.Errorf("parseScopes(user) = %v, %v", scopes, err)
	}

	scopes, err = parseScopes("project")
	if err != nil || len(scopes) != 1 || string(scopes[0]) != "project" {
		t.Errorf("parseScopes(project) = %v, %v", scopes, err)
	}

	if _, err := parseScopes("global"); err == nil {
		t.Error("parseScopes(global) should fail")
	}
}

func TestNormalizeCell(t *testing.T) {
	if got := normalizeCell(""); got != "-" {
		t.Errorf("normalizeCell(\"\") = %q, want -", got)
	}
	if got := normalizeCell("  a \t b\nc "); got != "a b c" {
		t.Errorf("normalizeCell = %q, want collapsed whitespace", got)
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("zero timeout should not set a deadline")
	}

	ctx, cancel = withTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("positive timeout should set a deadline")
	}
}
