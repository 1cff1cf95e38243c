package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptforge/gateway/pkg/models"
)

// Config holds all gateway configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	DBPath    string           `yaml:"db_path"`
	Providers []ProviderConfig `yaml:"providers"`
	Cache     CacheConfig      `yaml:"cache"`
	Budget    BudgetConfig     `yaml:"budget"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Replay    ReplayConfig     `yaml:"replay"`
}

// ProviderConfig defines an upstream AI backend.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	ID              string  `yaml:"id"`
	Type            string  `yaml:"type"`
	URL             string  `yaml:"url"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Category        string  `yaml:"category"`
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
	MaxTokens       int     `yaml:"max_tokens"`
	MinTemperature  float64 `yaml:"min_temperature"`
	MaxTemperature  float64 `yaml:"max_temperature"`
	Disabled        bool    `yaml:"disabled"`
}

// Descriptor converts provider config to a capability descriptor, filling in
// capability defaults where the config is silent.
func (p ProviderConfig) Descriptor() models.ProviderDescriptor {
	d := models.ProviderDescriptor{
		ID:             p.ID,
		Model:          p.Model,
		Category:       models.ProviderCategory(p.Category),
		Pricing:        models.Pricing{PromptPer1K: p.PromptPer1K, CompletionPer1K: p.CompletionPer1K},
		MaxTokens:      p.MaxTokens,
		MinTemperature: p.MinTemperature,
		MaxTemperature: p.MaxTemperature,
		Enabled:        !p.Disabled,
	}
	if d.Category == "" {
		d.Category = models.CategoryGeneral
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = models.MaxTokensCap
	}
	if d.MaxTemperature == 0 {
		d.MaxTemperature = models.MaxTemperature
	}
	return d
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// BudgetConfig controls cost-budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// DispatchConfig holds the two distinct timeouts: the per-call provider
// timeout and the overall request timeout that must accommodate one retry.
type DispatchConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ReplayConfig controls idempotency claim handling.
type ReplayConfig struct {
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "gateway.db",
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		Budget: BudgetConfig{
			Enabled: true,
		},
		Dispatch: DispatchConfig{
			CallTimeout:    30 * time.Second,
			RequestTimeout: 35 * time.Second,
		},
		Replay: ReplayConfig{
			ClaimTTL: 5 * time.Minute,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
