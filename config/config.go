// Package config provides configuration management for the Ainu chat server.
// Configuration is layered: built-in defaults, then an optional YAML file
// (with ${VAR} expansion), then environment variables. The result is
// normalized and validated once at startup and never changes afterwards.
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultUpstreamURL is the Groq OpenAI-compatible chat completions endpoint.
const DefaultUpstreamURL = "https://api.groq.com/openai/v1/chat/completions"

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Persona  PersonaConfig  `yaml:"persona"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Notices collects normalization changes made during loading so the
	// caller can report them once a logger exists.
	Notices []string `yaml:"-"`
}

// ServerConfig holds settings for the inbound HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds the whole handler, so it must exceed the upstream
	// timeout or slow completions are cut off mid-response (default: 90s)
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxHeaderBytes limits request header size (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout is how long in-flight requests get on shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// UpstreamConfig describes the LLM provider endpoint.
type UpstreamConfig struct {
	// URL is the full chat completions endpoint
	URL string `yaml:"url" env:"UPSTREAM_URL" validate:"required,url"`

	// APIKey is the bearer token. It is only ever read from the environment.
	APIKey string `yaml:"-" env:"GROQ_API_KEY" validate:"required"`

	// Timeout bounds a single upstream call (default: 60s)
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" validate:"gt=0"`
}

// PersonaConfig is the fixed prompt context applied to every request.
type PersonaConfig struct {
	// SystemPreamble is sent as the system message on every request
	SystemPreamble string `yaml:"system_preamble" env:"PERSONA_SYSTEM_PREAMBLE" validate:"required"`

	// ModelID is the upstream model identifier
	ModelID string `yaml:"model_id" env:"MODEL_ID" validate:"required"`

	// MaxTokens caps the completion length
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS" validate:"gte=1"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=json text"`
}

// DefaultConfig returns the built-in configuration. It is missing only the
// API key, which must come from GROQ_API_KEY.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:     DefaultUpstreamURL,
			Timeout: 60 * time.Second,
		},
		Persona: PersonaConfig{
			SystemPreamble: "You are Ainu, a helpful AI assistant.",
			ModelID:        "llama-3.3-70b-versatile",
			MaxTokens:      1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load loads configuration from an io.Reader containing YAML.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults, decode YAML on top
	cfg := DefaultConfig()
	if strings.TrimSpace(expanded) != "" {
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	return finish(cfg)
}

// FromEnv builds configuration from the defaults and the environment only.
func FromEnv() (*Config, error) {
	return finish(DefaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto each section. Unset
// variables leave the existing values alone.
func (c *Config) applyEnv() error {
	for _, section := range []interface{}{&c.Server, &c.Upstream, &c.Persona, &c.Logging} {
		if err := env.Parse(section); err != nil {
			return err
		}
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars resolves ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string. A bare $ is
// left alone so literal prices and shell snippets survive in the preamble.
func expandEnvVars(s string) (string, error) {
	if strings.Contains(envRef.ReplaceAllString(s, ""), "${") {
		return "", fmt.Errorf("unterminated variable reference")
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		key := envRef.FindStringSubmatch(ref)[1]
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}), nil
}

// Normalize trims the model ID and the API key. Providers reject either with
// stray whitespace, and any change is recorded in Notices rather than applied
// silently. The key itself never appears in a notice.
func (c *Config) Normalize() {
	trimmed := strings.TrimSpace(c.Persona.ModelID)
	if trimmed != c.Persona.ModelID {
		c.Notices = append(c.Notices,
			fmt.Sprintf("persona.model_id %q had surrounding whitespace; using %q", c.Persona.ModelID, trimmed))
		c.Persona.ModelID = trimmed
	}

	key := strings.TrimSpace(c.Upstream.APIKey)
	if key != c.Upstream.APIKey {
		c.Notices = append(c.Notices, "GROQ_API_KEY had surrounding whitespace; trimmed")
		c.Upstream.APIKey = key
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			if envName := fld.Tag.Get("env"); envName != "" {
				return envName
			}
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var msgs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !asValidationErrors(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
	}

	// A write timeout at or below the upstream timeout cuts the connection
	// before the handler can answer a slow completion with its 500.
	if c.Server.WriteTimeout != 0 && c.Server.WriteTimeout <= c.Upstream.Timeout {
		msgs = append(msgs, fmt.Sprintf("server.write_timeout (%s) must exceed upstream.timeout (%s)",
			c.Server.WriteTimeout, c.Upstream.Timeout))
	}

	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// describe renders a field error without echoing its value, since the API
// key goes through the same path.
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}
