// Package config loads runtime settings and agency definitions.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Providers supported by the model setting.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Settings are the runtime knobs of the agency binary.
type Settings struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	// OpenAIBaseURL points the OpenAI provider at a compatible endpoint.
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	TavilyAPIKey  string `mapstructure:"tavily_api_key"`

	DataDir    string `mapstructure:"data_dir"`
	ReportsDir string `mapstructure:"reports_dir"`
	FilesDir   string `mapstructure:"files_dir"`

	// Agency is a built-in definition name or a path to a YAML file.
	Agency         string `mapstructure:"agency"`
	ClarifierRole  string `mapstructure:"clarifier_role"`
	ResearcherRole string `mapstructure:"researcher_role"`

	MinReportChars      int `mapstructure:"min_report_chars"`
	ClarificationRounds int `mapstructure:"clarification_rounds"`
	MaxTurns            int `mapstructure:"max_turns"`

	Debug bool   `mapstructure:"debug"`
	Addr  string `mapstructure:"addr"`
}

// envBindings maps keys to environment variables that do not follow the
// AGENCY_<KEY> convention.
var envBindings = map[string][]string{
	"gemini_api_key":  {"AGENCY_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"openai_api_key":  {"AGENCY_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"openai_base_url": {"AGENCY_OPENAI_BASE_URL", "OPENAI_BASE_URL"},
	"tavily_api_key":  {"AGENCY_TAVILY_API_KEY", "TAVILY_API_KEY"},
}

// NewViper returns a viper instance with defaults and environment bindings.
// When configFile is non-empty it must exist; otherwise agency.yaml in the
// working directory is read if present.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("data_dir", "data")
	v.SetDefault("reports_dir", "reports")
	v.SetDefault("files_dir", "files")
	v.SetDefault("agency", "deep")
	v.SetDefault("min_report_chars", 100)
	v.SetDefault("clarification_rounds", 1)
	v.SetDefault("max_turns", 25)
	v.SetDefault("addr", ":8080")
	// Keys without a real default still need one so Unmarshal sees their
	// environment overrides.
	v.SetDefault("model", "")
	v.SetDefault("clarifier_role", "")
	v.SetDefault("researcher_role", "")
	v.SetDefault("debug", false)

	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("agency")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates settings.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if f := v.ConfigFileUsed(); f != "" {
		slog.Debug("Loaded config file", "path", f)
	}
	return &s, nil
}

// Validate checks settings that cannot be defaulted.
func (s *Settings) Validate() error {
	switch s.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", s.Provider, ProviderGemini, ProviderOpenAI)
	}
	if s.MinReportChars < 0 {
		return errors.New("min_report_chars must not be negative")
	}
	if s.ClarificationRounds < 0 {
		return errors.New("clarification_rounds must not be negative")
	}
	return nil
}

// APIKey returns the key of the selected provider.
func (s *Settings) APIKey() string {
	if s.Provider == ProviderOpenAI {
		return s.OpenAIAPIKey
	}
	return s.GeminiAPIKey
}

// DefaultModel is the model used by agents that do not name one: the model
// override when set, otherwise a per-provider default.
func (s *Settings) DefaultModel() string {
	if s.Model != "" {
		return s.Model
	}
	if s.Provider == ProviderOpenAI {
		return "gpt-4.1"
	}
	return "gemini-2.5-flash"
}

// DBPath is the SQLite database location.
func (s *Settings) DBPath() string {
	return filepath.Join(s.DataDir, "agency.db")
}
