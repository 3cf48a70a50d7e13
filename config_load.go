package librarian

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/amarack/librarian/plugin"
)

// configSchema constrains config documents before they are decoded into
// Config, so a typoed key or mistyped value fails loading with a pointed
// message instead of being silently dropped.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "dispatch_timeout": {"type": "string"},
    "circuit_breaker": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "failure_threshold": {"type": "integer", "minimum": 0},
        "success_threshold": {"type": "integer", "minimum": 0},
        "timeout": {"type": "string"}
      }
    },
    "rate_limit": {
      "type": "object",
      "additionalProperties": false,
      "required": ["requests_per_second"],
      "properties": {
        "requests_per_second": {"type": "number", "exclusiveMinimum": 0},
        "burst": {"type": "number", "minimum": 0}
      }
    },
    "plugins": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "stage"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "stage": {"enum": ["before_request", "after_request", "on_error"]},
          "enabled": {"type": "boolean"},
          "config": {"type": "object"}
        }
      }
    }
  }
}`

var compiledConfigSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// LoadConfig reads, schema-validates, and parses a config file.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var doc interface{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		// Round-trip through JSON so schema validation sees the same value
		// kinds regardless of source format.
		jsonData, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalising YAML config: %w", err)
		}
		data = jsonData
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := compiledConfigSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig validates a Config for correctness beyond what the schema
// can express.
func ValidateConfig(cfg Config) error {
	if cfg.DispatchTimeout != "" {
		d, err := time.ParseDuration(cfg.DispatchTimeout)
		if err != nil {
			return fmt.Errorf("invalid dispatch_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("dispatch_timeout must be positive, got %s", cfg.DispatchTimeout)
		}
	}

	if cb := cfg.CircuitBreaker; cb != nil && cb.Timeout != "" {
		if _, err := time.ParseDuration(cb.Timeout); err != nil {
			return fmt.Errorf("invalid circuit_breaker.timeout: %w", err)
		}
	}

	if rl := cfg.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if rl.Burst < 0 {
			return fmt.Errorf("rate_limit.burst must not be negative")
		}
	}

	for _, pc := range cfg.Plugins {
		if pc.Name == "" {
			return fmt.Errorf("plugin name is required")
		}
		switch plugin.Stage(pc.Stage) {
		case plugin.StageBeforeRequest, plugin.StageAfterRequest, plugin.StageOnError:
		default:
			return fmt.Errorf("plugin %s: unknown stage %q", pc.Name, pc.Stage)
		}
	}

	return nil
}
