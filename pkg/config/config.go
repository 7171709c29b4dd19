// Package config loads Mneme configuration from defaults, an optional YAML
// file, and MNEME_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/mneme/pkg/errors"
)

type Config struct {
	Agent        AgentConfig        `koanf:"agent"`
	Model        ModelConfig        `koanf:"model"`
	Approval     ApprovalConfig     `koanf:"approval"`
	Conversation ConversationConfig `koanf:"conversation"`
	MCP          MCPConfig          `koanf:"mcp"`
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// AgentConfig is the per-session agent configuration. It is read once at
// agent construction and immutable afterwards.
type AgentConfig struct {
	AssistantID     string `koanf:"assistant_id"`
	WorkingDir      string `koanf:"working_dir"`
	AutoApprove     bool   `koanf:"auto_approve"`
	EnableShell     bool   `koanf:"enable_shell"`
	EnableSubagents bool   `koanf:"enable_subagents"`
	EnableMemory    bool   `koanf:"enable_memory"`
	EnableSkills    bool   `koanf:"enable_skills"`
	MaxTurns        int    `koanf:"max_turns"`
}

type ModelConfig struct {
	Endpoint       string        `koanf:"endpoint"`
	Name           string        `koanf:"name"`
	Temperature    float64       `koanf:"temperature"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
}

type ApprovalConfig struct {
	// Timeout bounds each operator wait. Zero means wait until the
	// operator decides or the session context is cancelled.
	Timeout time.Duration `koanf:"timeout"`
	// JournalPath enables the SQLite decision journal when non-empty.
	JournalPath   string        `koanf:"journal_path"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type ConversationConfig struct {
	Store  string `koanf:"store"` // memory, sqlite
	Path   string `koanf:"path"`
	Window int    `koanf:"window"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one stdio MCP server whose tools are imported
// into the registry. Sensitive marks every imported tool as requiring
// approval.
type MCPServerConfig struct {
	Name      string   `koanf:"name"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	Env       []string `koanf:"env"`
	Sensitive bool     `koanf:"sensitive"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration from defaults, then the YAML file at path (when
// non-empty), then MNEME_-prefixed environment variables
// (MNEME_MODEL_ENDPOINT -> model.endpoint).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("load config file %s", path), err)
		}
	}

	// Only the first underscore separates the section from the key, so
	// MNEME_AGENT_AUTO_APPROVE maps to agent.auto_approve.
	if err := k.Load(env.Provider("MNEME_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "MNEME_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "load environment overrides", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "unmarshal config", err)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("agent.assistant_id", "mneme")
	k.Set("agent.working_dir", ".")
	k.Set("agent.auto_approve", false)
	k.Set("agent.enable_shell", true)
	k.Set("agent.enable_subagents", true)
	k.Set("agent.enable_memory", true)
	k.Set("agent.enable_skills", true)
	k.Set("agent.max_turns", 50)

	k.Set("model.endpoint", "http://localhost:11434")
	k.Set("model.name", "qwen2.5:7b")
	k.Set("model.temperature", 0.7)
	k.Set("model.request_timeout", "120s")
	k.Set("model.max_retries", 3)
	k.Set("model.retry_delay", "500ms")

	k.Set("approval.timeout", "0s")
	k.Set("approval.journal_path", "")
	k.Set("approval.sweep_interval", "30s")

	k.Set("conversation.store", "memory")
	k.Set("conversation.path", "")
	k.Set("conversation.window", 200)

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)
}

// Validate checks invariants that must hold before any session starts.
// Violations are CodeConfig errors and fatal at construction.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Model.Endpoint) == "" {
		return errors.New(errors.CodeConfig, "model.endpoint is required", nil)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New(errors.CodeConfig, "model.name is required", nil)
	}
	switch c.Conversation.Store {
	case "", "memory", "sqlite":
	default:
		return errors.New(errors.CodeConfig,
			fmt.Sprintf("conversation.store %q is not one of memory, sqlite", c.Conversation.Store), nil)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return errors.New(errors.CodeConfig,
			fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format), nil)
	}
	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp":
	default:
		return errors.New(errors.CodeConfig,
			fmt.Sprintf("telemetry.exporter %q is not one of stdout, otlp", c.Telemetry.Exporter), nil)
	}
	for _, srv := range c.MCP.Servers {
		if strings.TrimSpace(srv.Name) == "" {
			return errors.New(errors.CodeConfig, "mcp server name is required", nil)
		}
		if strings.TrimSpace(srv.Command) == "" {
			return errors.New(errors.CodeConfig,
				fmt.Sprintf("mcp server %q: command is required", srv.Name), nil)
		}
	}
	return nil
}

// Validate checks the agent section. AssistantID feeds the user-scope
// memory path, so it must be non-empty whenever memory is enabled and must
// never contain path separators.
func (a AgentConfig) Validate() error {
	if a.EnableMemory && strings.TrimSpace(a.AssistantID) == "" {
		return errors.New(errors.CodeConfig, "agent.assistant_id is required when memory is enabled", nil)
	}
	if id := a.AssistantID; id != "" {
		if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return errors.New(errors.CodeConfig,
				fmt.Sprintf("agent.assistant_id %q must be a plain directory name", id), nil)
		}
	}
	if strings.TrimSpace(a.WorkingDir) == "" {
		return errors.New(errors.CodeConfig, "agent.working_dir is required", nil)
	}
	if a.MaxTurns < 1 {
		return errors.New(errors.CodeConfig, "agent.max_turns must be at least 1", nil)
	}
	return nil
}
