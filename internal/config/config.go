package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Duration is a custom type that handles JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// EngineSettings configures one OpenAI-compatible translation provider.
type EngineSettings struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// Engine is the translation settings surface: two selectable providers
// plus the language pair and style applied to either.
type Engine struct {
	Active           string         `json:"active"`
	Doubao           EngineSettings `json:"doubao"`
	SiliconFlow      EngineSettings `json:"siliconflow"`
	SourceLang       string         `json:"source_lang"`
	TargetLang       string         `json:"target_lang"`
	TranslationStyle string         `json:"translation_style"`
}

// ActiveEngine resolves the currently selected provider into one flat
// view. Callers never look at the per-provider fields directly.
type ActiveEngine struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Style      string `json:"style"`
}

type Config struct {
	Server struct {
		Port         int      `json:"port"`
		ReadTimeout  Duration `json:"read_timeout"`
		WriteTimeout Duration `json:"write_timeout"`
	} `json:"server"`

	Engine Engine `json:"engine"`

	App struct {
		TempDir   string `json:"temp_dir"`
		OutputDir string `json:"output_dir"`
		CacheDir  string `json:"cache_dir"`
	} `json:"app"`
}

func New() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration{30 * time.Second}
	cfg.Server.WriteTimeout = Duration{120 * time.Second}

	cfg.Engine.Active = "siliconflow"
	cfg.Engine.Doubao = EngineSettings{
		Endpoint: "https://ark.cn-beijing.volces.com/api/v3",
		Model:    "doubao-1-5-pro-32k-250115",
	}
	cfg.Engine.SiliconFlow = EngineSettings{
		Endpoint: "https://api.siliconflow.cn/v1",
		Model:    "Qwen/Qwen2.5-7B-Instruct",
	}
	cfg.Engine.SourceLang = "auto"
	cfg.Engine.TargetLang = "zh"
	cfg.Engine.TranslationStyle = "natural"

	cfg.App.TempDir = "tmp"
	cfg.App.OutputDir = "output"
	cfg.App.CacheDir = "cache"

	return cfg
}

// ActiveEngine returns the resolved settings of the selected provider.
func (c *Config) ActiveEngine() ActiveEngine {
	settings := c.Engine.SiliconFlow
	name := "siliconflow"
	if c.Engine.Active == "doubao" {
		settings = c.Engine.Doubao
		name = "doubao"
	}
	return ActiveEngine{
		Name:       name,
		BaseURL:    settings.Endpoint,
		APIKey:     settings.APIKey,
		Model:      settings.Model,
		SourceLang: c.Engine.SourceLang,
		TargetLang: c.Engine.TargetLang,
		Style:      c.Engine.TranslationStyle,
	}
}

func (c *Config) LoadFromFile(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) SaveToFile(filepath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0644)
}

func (c *Config) LoadFromEnv() {
	if apiKey := os.Getenv("DOUBAO_API_KEY"); apiKey != "" {
		c.Engine.Doubao.APIKey = apiKey
	}
	if apiKey := os.Getenv("SILICONFLOW_API_KEY"); apiKey != "" {
		c.Engine.SiliconFlow.APIKey = apiKey
	}
	if engine := os.Getenv("TRANSLATION_ENGINE"); engine != "" {
		c.Engine.Active = engine
	}
	if lang := os.Getenv("TARGET_LANG"); lang != "" {
		c.Engine.TargetLang = lang
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if tempDir := os.Getenv("TEMP_DIR"); tempDir != "" {
		c.App.TempDir = tempDir
	}
	if outputDir := os.Getenv("OUTPUT_DIR"); outputDir != "" {
		c.App.OutputDir = outputDir
	}
	if cacheDir := os.Getenv("CACHE_DIR"); cacheDir != "" {
		c.App.CacheDir = cacheDir
	}
}

// Load loads configuration with the following priority:
// 1. Command line flags (handled in main.go)
// 2. Environment variables
// 3. Configuration file (config.json)
// 4. Default values
func Load(configPath string) (*Config, error) {
	cfg := New()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}
	}

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	cfg.LoadFromEnv()

	return cfg, nil
}

// GetConfigPath returns the path to the config file: config.json in the
// same directory as the executable, falling back to the working directory.
func GetConfigPath() string {
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		return filepath.Join(execDir, "config.json")
	}

	if pwd, err := os.Getwd(); err == nil {
		return filepath.Join(pwd, "config.json")
	}

	return "config.json"
}
