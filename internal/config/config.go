package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const FileName = "cadreline.yml"

// Config models cadreline.yml.
type Config struct {
	Policy struct {
		// BlockHighSeverityConflicts turns HIGH severity conflicts at a target unit
		// into validation failures instead of advisory snapshot entries.
		BlockHighSeverityConflicts bool `yaml:"block_high_severity_conflicts"`
	} `yaml:"policy"`
	Retry struct {
		MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=20"`
		BaseDelay   time.Duration `yaml:"base_delay" validate:"min=0"`
	} `yaml:"retry"`
	Audit struct {
		Mode      string `yaml:"mode" validate:"oneof=all db log off"`
		QueueSize int    `yaml:"queue_size" validate:"min=0"`

		// InlineTimeout bounds audit writes made on the caller's goroutine.
		InlineTimeout time.Duration `yaml:"inline_timeout" validate:"min=0"`
	} `yaml:"audit"`
	Hierarchy struct {
		MaxDepth int `yaml:"max_depth" validate:"min=1,max=4096"`
	} `yaml:"hierarchy"`
	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=json console"`
	} `yaml:"log"`
	Server struct {
		Addr             string `yaml:"addr" validate:"required"`
		BasePath         string `yaml:"base_path" validate:"required,startswith=/"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads the workspace config, falling back to defaults when the file is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := fe.Namespace()
			if i := strings.Index(field, "."); i >= 0 {
				field = field[i+1:]
			}
			return fmt.Errorf("config.%s fails %s %s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys missing from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const defaultTemplate = `policy:
  block_high_severity_conflicts: false

retry:
  max_attempts: 4
  base_delay: 50ms

audit:
  # all: store + log, db: store only, log: log only, off: disabled
  mode: all
  # 0 writes every event before Emit returns
  queue_size: 256
  # cap on a write made by the caller when the queue is full
  inline_timeout: 250ms

hierarchy:
  max_depth: 64

log:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_actor_header: true
`
