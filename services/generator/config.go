// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/DeviceForge/pkg/logging"
	"github.com/AleutianAI/DeviceForge/services/generator/conversation"
	"github.com/AleutianAI/DeviceForge/services/generator/handlers"
	"github.com/AleutianAI/DeviceForge/services/generator/middleware"
	"github.com/AleutianAI/DeviceForge/services/generator/pipeline"
	"github.com/AleutianAI/DeviceForge/services/generator/registry"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

const (
	// DefaultPort is the port the desktop front end connects to.
	DefaultPort = 17991

	// DefaultAPIKeyFile is the secret mount checked when no key is set.
	DefaultAPIKeyFile = "/run/secrets/deviceforge_api_key"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DEVICEFORGE_"

	// TraceExporterOTLP ships spans to an OTLP/gRPC collector.
	TraceExporterOTLP = "otlp"

	// TraceExporterStdout writes spans as JSON, for local debugging.
	TraceExporterStdout = "stdout"
)

// =============================================================================
// Configuration
// =============================================================================

// Config is the complete service configuration.
//
// # Description
//
// Built by LoadConfig from, in increasing precedence: DefaultConfig, a
// YAML file, and DEVICEFORGE_* environment variables. The API key falls
// back from the file to DEVICEFORGE_API_KEY to the secret file.
type Config struct {
	Server         ServerConfig           `yaml:"server" json:"server"`
	LLM            LLMConfig              `yaml:"llm" json:"llm"`
	Stages         StagesConfig           `yaml:"stages" json:"stages"`
	Progress       pipeline.ProgressTable `yaml:"progress" json:"progress"`
	Prompts        pipeline.Prompts       `yaml:"prompts" json:"prompts"`
	Conversation   ConversationConfig     `yaml:"conversation" json:"conversation"`
	Connections    ConnectionsConfig      `yaml:"connections" json:"connections"`
	Telemetry      TelemetryConfig        `yaml:"telemetry" json:"telemetry"`
	Logging        logging.Config         `yaml:"logging" json:"logging"`
	CategoriesPath string                 `yaml:"categories_path" json:"categories_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode" json:"gin_mode" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
	KeepAlive       time.Duration `yaml:"keep_alive" json:"keep_alive" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

// LLMConfig configures the upstream model service.
type LLMConfig struct {
	BaseURL           string            `yaml:"base_url" json:"base_url" validate:"required,url"`
	Model             string            `yaml:"model" json:"model" validate:"required"`
	APIKey            string            `yaml:"api_key" json:"api_key"`
	APIKeyFile        string            `yaml:"api_key_file" json:"api_key_file"`
	Temperature       float32           `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxTokens         int               `yaml:"max_tokens" json:"max_tokens" validate:"min=1"`
	MaxRetries        int               `yaml:"max_retries" json:"max_retries" validate:"min=1,max=10"`
	Timeout           time.Duration     `yaml:"timeout" json:"timeout" validate:"min=0"`
	RequestsPerSecond float64           `yaml:"requests_per_second" json:"requests_per_second" validate:"min=0"`
	ExtraHeaders      map[string]string `yaml:"extra_headers" json:"extra_headers"`
}

// StagesConfig holds the per-stage sampling settings.
type StagesConfig struct {
	DeviceList   pipeline.StageParams `yaml:"device_list" json:"device_list"`
	DeviceDetail pipeline.StageParams `yaml:"device_detail" json:"device_detail"`
	Recommend    pipeline.StageParams `yaml:"recommend" json:"recommend"`
}

// ConversationConfig bounds the memory of one run.
type ConversationConfig struct {
	MaxTurns  int `yaml:"max_turns" json:"max_turns" validate:"min=1"`
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=1"`
}

// ConnectionsConfig configures the connection registry.
type ConnectionsConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	ReapInterval time.Duration `yaml:"reap_interval" json:"reap_interval" validate:"gt=0"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	Tracing      bool   `yaml:"tracing" json:"tracing"`
	Exporter     string `yaml:"exporter" json:"exporter" validate:"omitempty,oneof=otlp stdout"`
	OTelEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint" validate:"required_if=Tracing true Exporter otlp"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
	Metrics      bool   `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			GinMode:         "release",
			AllowedOrigins:  append([]string(nil), middleware.DefaultAllowedOrigins...),
			KeepAlive:       handlers.DefaultKeepAliveInterval,
			ShutdownTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:     llm.DefaultBaseURL,
			Model:       llm.DefaultModel,
			APIKeyFile:  DefaultAPIKeyFile,
			Temperature: 0.7,
			MaxTokens:   2000,
			MaxRetries:  llm.DefaultMaxRetries,
			Timeout:     120 * time.Second,
		},
		Stages: StagesConfig{
			DeviceList:   pc.DeviceList,
			DeviceDetail: pc.DeviceDetail,
			Recommend:    pc.Recommend,
		},
		Progress: pc.Progress,
		Prompts:  pc.Prompts,
		Conversation: ConversationConfig{
			MaxTurns:  conversation.DefaultMaxTurns,
			MaxTokens: conversation.DefaultMaxTokens,
		},
		Connections: ConnectionsConfig{
			Timeout:      registry.DefaultTimeout,
			ReapInterval: registry.DefaultReapInterval,
		},
		Telemetry: TelemetryConfig{
			Exporter:     TraceExporterOTLP,
			OTelEndpoint: "localhost:4317",
			ServiceName:  "deviceforge",
			Metrics:      true,
		},
		Logging: logging.Config{Level: "info", Service: "deviceforge"},
	}
}

// =============================================================================
// Loading
// =============================================================================

// LoadConfig builds the effective configuration.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Unreadable or malformed file, bad environment value, or a
//     validation failure.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveAPIKey(os.Getenv, os.ReadFile); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays data on cfg. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies DEVICEFORGE_* variables.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	env := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	setInt := func(name string, dst *int) {
		if v, ok := env(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v, ok := env(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := env(name); ok {
			*dst = v
		}
	}

	setInt("PORT", &cfg.Server.Port)
	setString("GIN_MODE", &cfg.Server.GinMode)
	if v, ok := env("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	setString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("LLM_MODEL", &cfg.LLM.Model)
	setString("API_KEY_FILE", &cfg.LLM.APIKeyFile)
	setInt("LLM_MAX_RETRIES", &cfg.LLM.MaxRetries)
	setDuration("LLM_TIMEOUT", &cfg.LLM.Timeout)
	setInt("MAX_HISTORY_LENGTH", &cfg.Conversation.MaxTurns)
	setInt("MAX_CONTEXT_TOKENS", &cfg.Conversation.MaxTokens)
	setDuration("CONNECTION_TIMEOUT", &cfg.Connections.Timeout)
	setDuration("REAP_INTERVAL", &cfg.Connections.ReapInterval)
	setBool("TRACING", &cfg.Telemetry.Tracing)
	setString("TRACE_EXPORTER", &cfg.Telemetry.Exporter)
	setString("OTEL_ENDPOINT", &cfg.Telemetry.OTelEndpoint)
	setBool("METRICS", &cfg.Telemetry.Metrics)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setBool("LOG_JSON", &cfg.Logging.JSON)
	setString("LOG_DIR", &cfg.Logging.Dir)
	setString("CATEGORIES_PATH", &cfg.CategoriesPath)

	return errors.Join(errs...)
}

// resolveAPIKey fills LLM.APIKey from DEVICEFORGE_API_KEY and then from
// the secret file when it is still empty. A missing secret file is not an
// error; the key is checked when the client is built.
func (c *Config) resolveAPIKey(getenv func(string) string, readFile func(string) ([]byte, error)) error {
	if strings.TrimSpace(c.LLM.APIKey) != "" {
		c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
		return nil
	}
	if key := strings.TrimSpace(getenv(EnvPrefix + "API_KEY")); key != "" {
		c.LLM.APIKey = key
		return nil
	}
	if c.LLM.APIKeyFile == "" {
		return nil
	}
	data, err := readFile(c.LLM.APIKeyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read the API key file: %w", err)
	}
	c.LLM.APIKey = strings.TrimSpace(string(data))
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// Validation and views
// =============================================================================

var configValidate = validator.New()

// Validate checks field ranges and the progress table.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Progress.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Masked returns a copy safe to print: the API key keeps only its last
// four characters.
func (c Config) Masked() Config {
	out := c
	out.LLM.APIKey = maskSecret(c.LLM.APIKey)
	if len(c.LLM.ExtraHeaders) > 0 {
		out.LLM.ExtraHeaders = make(map[string]string, len(c.LLM.ExtraHeaders))
		for k, v := range c.LLM.ExtraHeaders {
			out.LLM.ExtraHeaders[k] = maskSecret(v)
		}
	}
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// YAML renders the configuration as YAML.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OpenAI returns the upstream client configuration.
func (c Config) OpenAI() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		BaseURL:            c.LLM.BaseURL,
		Model:              c.LLM.Model,
		APIKey:             c.LLM.APIKey,
		DefaultTemperature: c.LLM.Temperature,
		DefaultMaxTokens:   c.LLM.MaxTokens,
		MaxRetries:         c.LLM.MaxRetries,
		Timeout:            c.LLM.Timeout,
		RequestsPerSecond:  c.LLM.RequestsPerSecond,
		ExtraHeaders:       c.LLM.ExtraHeaders,
	}
}

// Pipeline returns the orchestrator configuration.
func (c Config) Pipeline() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Progress = c.Progress
	pc.Prompts = c.Prompts
	pc.DeviceList = c.Stages.DeviceList
	pc.DeviceDetail = c.Stages.DeviceDetail
	pc.Recommend = c.Stages.Recommend
	pc.Session.MaxTurns = c.Conversation.MaxTurns
	pc.Session.MaxTokens = c.Conversation.MaxTokens
	return pc
}
