package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultProvider        = "mistral"
	DefaultBaseURL         = "https://api.mistral.ai/v1"
	DefaultModel           = "mistral-large-latest"
	DefaultTimeoutSeconds  = 60
	DefaultTemperature     = 0.2
	DefaultMaxTokens       = 1024
	DefaultMaxToolCalls    = 6
	DefaultLanguage        = "en"
	DefaultGenericBasename = "weekly_analysis_v1"
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8460
)

// Config is the process-wide configuration, constructed once at startup
// and passed into component constructors. Core logic never reads it
// ambiently.
type Config struct {
	Server   ServerConfig   `json:"server"`
	DB       DBConfig       `json:"db"`
	Provider ProviderConfig `json:"provider"`
	LLM      LLMConfig      `json:"llm"`
	Debug    bool           `json:"debug"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DBConfig struct {
	Path string `json:"path"`
}

type ProviderConfig struct {
	Name           string `json:"name"` // "mistral", "openai" or "echo"
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type LLMConfig struct {
	Temperature             float64 `json:"temperature"`
	MaxTokens               int     `json:"maxTokens"`
	MaxToolCalls            int     `json:"maxToolCalls"`
	ToolsEnabled            bool    `json:"toolsEnabled"`
	DefaultLanguage         string  `json:"defaultLanguage"`
	UserLanguage            string  `json:"userLanguage,omitempty"`
	PromptsDir              string  `json:"promptsDir"`
	GenericPromptBasename   string  `json:"genericPromptBasename"`
	PrivatePromptBasename   string  `json:"privatePromptBasename,omitempty"`
	PrivateTemplateBasename string  `json:"privateTemplateBasename,omitempty"`
}

func DefaultConfig() *Config {
	dir := ConfigDir()
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		DB: DBConfig{
			Path: filepath.Join(dir, "data", "trainos.db"),
		},
		Provider: ProviderConfig{
			Name:           DefaultProvider,
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		LLM: LLMConfig{
			Temperature:           DefaultTemperature,
			MaxTokens:             DefaultMaxTokens,
			MaxToolCalls:          DefaultMaxToolCalls,
			ToolsEnabled:          true,
			DefaultLanguage:       DefaultLanguage,
			PromptsDir:            filepath.Join(dir, "prompts"),
			GenericPromptBasename: DefaultGenericBasename,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".trainos")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load reads the config file at path (ConfigPath() when blank), then
// applies environment overrides. A missing file is not an error; defaults
// apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("TRAINOS_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("MISTRAL_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Name == DefaultProvider {
			cfg.Provider.Name = "openai"
		}
	}
	if name := os.Getenv("TRAINOS_PROVIDER"); name != "" {
		cfg.Provider.Name = name
	}
	if url := os.Getenv("TRAINOS_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("TRAINOS_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if path := os.Getenv("TRAINOS_DB_PATH"); path != "" {
		cfg.DB.Path = path
	}
	if dir := os.Getenv("TRAINOS_PROMPTS_DIR"); dir != "" {
		cfg.LLM.PromptsDir = dir
	}
	if lang := os.Getenv("TRAINOS_LANGUAGE"); lang != "" {
		cfg.LLM.UserLanguage = lang
	}
	if port := os.Getenv("TRAINOS_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if debug := os.Getenv("TRAINOS_DEBUG"); debug != "" {
		if parsed, err := strconv.ParseBool(debug); err == nil {
			cfg.Debug = parsed
		}
	}

	return cfg, nil
}
