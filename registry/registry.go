// Package registry maps sub-agent names to the profiles used to build them.
//
// A profile names the LLM provider, model and system prompt for one kind of
// sub-agent. The registry resolves the agent_name an orchestrator submits
// with, and doubles as the worker's agent builder: task metadata
// (system_prompt, config_name) is forwarded verbatim and resolved here.
//
// Profiles load from a TOML file:
//
//	poll_interval = "100ms"
//	tasks_dir = "./tasks"
//
//	[agents.researcher]
//	provider = "anthropic"
//	model = "claude-sonnet-4-20250514"
//	api_key = "..."
//	max_tokens = 4096
//	system_prompt = "You are a careful researcher."
//
// API keys omitted from the file fall back to the provider's standard
// environment variable (ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY).
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/taskbroker/llm"
	"github.com/vinayprograms/taskbroker/worker"
)

// Common errors.
var (
	// ErrAgentNotFound indicates no profile is registered under the name.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidProfile indicates a profile is missing required fields.
	ErrInvalidProfile = errors.New("invalid agent profile")
)

// Profile describes one kind of sub-agent.
type Profile struct {
	// Name is the agent name used at the tool surface.
	Name string `toml:"-"`

	// Provider selects the LLM backend; inferred from Model when empty.
	Provider string `toml:"provider"`

	// Model is the model identifier.
	Model string `toml:"model"`

	// APIKey overrides the provider's environment variable.
	APIKey string `toml:"api_key"`

	// MaxTokens is the generation limit (default 4096).
	MaxTokens int `toml:"max_tokens"`

	// SystemPrompt primes the sub-agent.
	SystemPrompt string `toml:"system_prompt"`
}

// Validate checks that the profile can produce a provider.
func (p *Profile) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("%w: %s: model is required", ErrInvalidProfile, p.Name)
	}
	return nil
}

// Config is the top-level TOML configuration.
type Config struct {
	// PollInterval is the broker's dispatch/wait cadence.
	PollInterval time.Duration `toml:"-"`

	// TasksDir enables the durable file store when non-empty.
	TasksDir string `toml:"tasks_dir"`

	// ArchiveDir enables the searchable task archive when non-empty.
	ArchiveDir string `toml:"archive_dir"`

	// Agents holds the named sub-agent profiles.
	Agents map[string]Profile `toml:"agents"`
}

// rawConfig carries the string form of duration fields through TOML.
type rawConfig struct {
	PollInterval string             `toml:"poll_interval"`
	TasksDir     string             `toml:"tasks_dir"`
	ArchiveDir   string             `toml:"archive_dir"`
	Agents       map[string]Profile `toml:"agents"`
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	cfg := &Config{
		TasksDir:   raw.TasksDir,
		ArchiveDir: raw.ArchiveDir,
		Agents:     raw.Agents,
	}

	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval %q: %w", raw.PollInterval, err)
		}
		cfg.PollInterval = d
	}

	return cfg, nil
}

// Registry resolves agent names to profiles and builds agents for the
// worker. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	// newProvider builds LLM providers; replaceable in tests.
	newProvider func(llm.Config) (llm.Provider, error)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		profiles:    make(map[string]*Profile),
		newProvider: llm.NewProvider,
	}
}

// FromConfig creates a registry pre-populated with the config's profiles.
func FromConfig(cfg *Config) (*Registry, error) {
	r := New()
	for name, p := range cfg.Agents {
		profile := p
		profile.Name = name
		if err := r.Register(&profile); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *p
	r.profiles[p.Name] = &clone
	return nil
}

// Lookup returns the profile registered under name.
func (r *Registry) Lookup(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return nil, ErrAgentNotFound
	}

	clone := *p
	return &clone, nil
}

// Names returns all registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAgent implements worker.AgentBuilder. The configName selects the
// profile; the systemPrompt, when non-empty, overrides the profile's own.
// Both arrive verbatim from task metadata.
func (r *Registry) BuildAgent(systemPrompt, configName string) (worker.Agent, error) {
	profile, err := r.Lookup(configName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, configName)
	}

	maxTokens := profile.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	apiKey := profile.APIKey
	if apiKey == "" {
		apiKey = apiKeyFromEnv(profile)
	}

	provider, err := r.newProvider(llm.Config{
		Provider:  profile.Provider,
		Model:     profile.Model,
		APIKey:    apiKey,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}

	system := profile.SystemPrompt
	if systemPrompt != "" {
		system = systemPrompt
	}

	return &providerAgent{provider: provider, system: system}, nil
}

// providerAgent adapts an llm.Provider to the worker's Agent capability.
type providerAgent struct {
	provider llm.Provider
	system   string
}

// Run implements worker.Agent.
func (a *providerAgent) Run(ctx context.Context, prompt string) (string, llm.Usage, error) {
	resp, err := a.provider.Generate(ctx, llm.Request{
		System: a.system,
		Prompt: prompt,
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// apiKeyFromEnv returns the standard environment variable value for the
// profile's provider.
func apiKeyFromEnv(p *Profile) string {
	provider := p.Provider
	if provider == "" {
		provider = llm.InferProviderFromModel(p.Model)
	}
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return os.Getenv(strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY")
	}
}
