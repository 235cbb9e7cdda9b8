package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Env:          "development",
		DefaultModel: "mock:echo",
		Models: []ModelConfig{
			{ID: "mock:echo", Engine: EngineConfig{Type: EngineMock}},
		},
	}
}

// Load reads TL_CONFIG_PATH (JSON, or YAML for .yaml/.yml), falling back to
// ./config/models.{json,yaml} and then to a single mock route.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("TL_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"models.json", "models.yaml", "models.yml"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		loaded, err := Parse(b, filepath.Ext(cfgPath))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
		cfg = loaded
	}

	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_MODEL")); v != "" {
		cfg.DefaultModel = v
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes; ext selects YAML (".yaml", ".yml") or JSON.
func Parse(b []byte, ext string) (*Config, error) {
	var loaded Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &loaded); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(b, &loaded); err != nil {
			return nil, err
		}
	}
	if err := loaded.normalize(); err != nil {
		return nil, err
	}
	return &loaded, nil
}

func (cfg *Config) normalize() error {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if len(cfg.Models) == 0 {
		return errors.New("config must define at least one model")
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return errors.New("model id is required")
		}
		if strings.TrimSpace(m.UpstreamModel) == "" {
			m.UpstreamModel = UpstreamName(m.ID)
		}

		m.Engine.Type = strings.ToLower(strings.TrimSpace(m.Engine.Type))
		m.Engine.BaseURL = strings.TrimRight(strings.TrimSpace(m.Engine.BaseURL), "/")
		m.Engine.ChatCompletionsPath = strings.TrimSpace(m.Engine.ChatCompletionsPath)
		if m.Engine.APIKey == "" && m.Engine.APIKeyEnv != "" {
			m.Engine.APIKey = strings.TrimSpace(os.Getenv(m.Engine.APIKeyEnv))
		}
		if m.RateLimit.RPS < 0 || m.RateLimit.Burst < 0 {
			return fmt.Errorf("model %q invalid rate_limit", m.ID)
		}
		if m.RateLimit.RPS > 0 && m.RateLimit.Burst == 0 {
			m.RateLimit.Burst = 1
		}

		switch m.Engine.Type {
		case EngineMock:
		case "openai_http", EngineOAIHTTP:
			m.Engine.Type = EngineOAIHTTP
			if m.Engine.BaseURL == "" {
				return fmt.Errorf("model %q (oai_http) missing engine.base_url", m.ID)
			}
			if m.Engine.ChatCompletionsPath == "" {
				m.Engine.ChatCompletionsPath = "/v1/chat/completions"
			}
		case EngineOpenAI:
			if m.Engine.APIKey == "" {
				return fmt.Errorf("model %q (openai) missing engine.api_key", m.ID)
			}
		case "":
			return fmt.Errorf("model %q missing engine.type", m.ID)
		default:
			return fmt.Errorf("model %q unsupported engine.type %q", m.ID, m.Engine.Type)
		}
		if m.Engine.Timeout.Duration <= 0 && m.Engine.Type != EngineMock {
			m.Engine.Timeout = Duration{Duration: 120 * time.Second}
		}
	}
	cfg.DefaultModel = strings.TrimSpace(cfg.DefaultModel)
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = cfg.Models[0].ID
	}
	return nil
}

// UpstreamName strips a "provider:" prefix from a public model id.
func UpstreamName(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, ":"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}
