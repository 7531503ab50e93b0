// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for fedquery.
//
// Configuration is read from a TOML file, then overridden from FEDQUERY_*
// environment variables, then defaulted and validated.
//
// Configuration sources (in order of precedence):
//   - Environment variables (FEDQUERY_*)
//   - ~/.fedquery/config.toml (or --config)
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/fedquery/internal/catalog"
	"github.com/jeranaias/fedquery/internal/generator"
	"github.com/jeranaias/fedquery/internal/offline"
	"github.com/jeranaias/fedquery/internal/ollama"
	"github.com/jeranaias/fedquery/internal/security"
	"github.com/jeranaias/fedquery/internal/util"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FEDQUERY"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete fedquery configuration.
type Config struct {
	// DataDir holds the store files. Relative store paths resolve against it.
	DataDir string `toml:"data_dir"`

	// Stores maps store names to their files. Empty means the default plant
	// catalog under DataDir.
	Stores map[string]StoreConfig `toml:"stores,omitempty"`

	// Offline restricts the generator and the HTTP listener to localhost.
	Offline bool `toml:"offline"`

	Generator GeneratorConfig `toml:"generator"`
	Ollama    OllamaConfig    `toml:"ollama"`
	GenAI     GenAIConfig     `toml:"genai"`
	Executor  ExecutorConfig  `toml:"executor"`
	Server    ServerConfig    `toml:"server"`
	Audit     AuditConfig     `toml:"audit"`
	Log       LogConfig       `toml:"log"`
}

// StoreConfig describes one store file.
type StoreConfig struct {
	Path string `toml:"path"`
	// Capability required to attach the store. Empty only for the base.
	Capability string `toml:"capability,omitempty"`
	Base       bool   `toml:"base,omitempty"`
	// Expose limits the tables shown to the generator.
	Expose []string `toml:"expose,omitempty"`
}

// GeneratorConfig selects the query generator.
type GeneratorConfig struct {
	// Backend is "ollama", "genai" or "static".
	Backend string `toml:"backend"`
	// RowLimit is the row-count hint in the prompt.
	RowLimit int `toml:"row_limit"`
	// RPS limits generator calls per second; 0 disables.
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
	// StaticQuery is the text returned by the static backend.
	StaticQuery string `toml:"static_query,omitempty"`
}

// OllamaConfig contains local Ollama configuration.
type OllamaConfig struct {
	URL         string `toml:"url"`
	Model       string `toml:"model"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// GenAIConfig contains Gemini configuration.
type GenAIConfig struct {
	APIKey  string `toml:"api_key,omitempty"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url,omitempty"`
}

// ExecutorConfig bounds query execution.
type ExecutorConfig struct {
	// MaxRows caps returned rows; -1 means no cap.
	MaxRows     int `toml:"max_rows"`
	TimeoutSecs int `toml:"timeout_secs"`
}

// ServerConfig configures `fedquery serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string `toml:"token,omitempty"`
	// RateLimit is requests per minute per client IP; 0 disables.
	RateLimit           int `toml:"rate_limit"`
	ReadTimeoutSecs     int `toml:"read_timeout_secs"`
	WriteTimeoutSecs    int `toml:"write_timeout_secs"`
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs"`
}

// AuditConfig controls the audit log.
type AuditConfig struct {
	Enabled bool `toml:"enabled"`
	// Path is empty for ~/.fedquery/audit.log.
	Path      string `toml:"path,omitempty"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is console or json.
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".fedquery"
	}
	return &Config{
		DataDir: filepath.Join(dir, "data"),
		Generator: GeneratorConfig{
			Backend:  generator.BackendOllama,
			RowLimit: generator.DefaultRowLimit,
			Burst:    1,
		},
		Ollama: OllamaConfig{
			URL:         ollama.DefaultBaseURL,
			Model:       ollama.DefaultModel,
			TimeoutSecs: 60,
		},
		GenAI: GenAIConfig{
			Model: generator.DefaultGenAIModel,
		},
		Executor: ExecutorConfig{
			MaxRows:     1000,
			TimeoutSecs: 30,
		},
		Server: ServerConfig{
			Addr:                "127.0.0.1:8787",
			RateLimit:           60,
			ReadTimeoutSecs:     15,
			WriteTimeoutSecs:    120,
			ShutdownTimeoutSecs: 10,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxSizeMB: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults fills zero values that have a meaningful default. Explicit
// settings are left alone.
func (c *Config) SetDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Generator.Backend == "" {
		c.Generator.Backend = d.Generator.Backend
	}
	if c.Generator.RowLimit == 0 {
		c.Generator.RowLimit = d.Generator.RowLimit
	}
	if c.Generator.Burst == 0 {
		c.Generator.Burst = d.Generator.Burst
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = d.Ollama.Model
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = d.Ollama.TimeoutSecs
	}
	if c.GenAI.Model == "" {
		c.GenAI.Model = d.GenAI.Model
	}
	if c.Executor.MaxRows == 0 {
		c.Executor.MaxRows = d.Executor.MaxRows
	}
	if c.Executor.TimeoutSecs == 0 {
		c.Executor.TimeoutSecs = d.Executor.TimeoutSecs
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}
	if c.Audit.MaxSizeMB == 0 {
		c.Audit.MaxSizeMB = d.Audit.MaxSizeMB
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.fedquery.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".fedquery"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600. It may hold API
// keys and the server token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the configuration at path (the default path when empty). A
// missing file yields the defaults. Environment overrides, defaults and
// validation are applied in that order.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are an error so a
// typo does not silently fall back to a default.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Save writes the configuration to path (the default path when empty) with
// 0600 permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# fedquery configuration file\n")
	buf.WriteString("# Generated by fedquery - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// envOverrides lists the variables read by ApplyEnvOverrides. Pointer
// fields distinguish "unset" from a zero value.
type envOverrides struct {
	DataDir      string   `envconfig:"DATA_DIR"`
	Generator    string   `envconfig:"GENERATOR"`
	RowLimit     *int     `envconfig:"ROW_LIMIT"`
	OllamaURL    string   `envconfig:"OLLAMA_URL"`
	OllamaModel  string   `envconfig:"OLLAMA_MODEL"`
	GenAIKey     string   `envconfig:"GENAI_API_KEY"`
	GenAIModel   string   `envconfig:"GENAI_MODEL"`
	MaxRows      *int     `envconfig:"MAX_ROWS"`
	QueryTimeout *int     `envconfig:"QUERY_TIMEOUT_SECS"`
	ServerAddr   string   `envconfig:"SERVER_ADDR"`
	ServerToken  string   `envconfig:"SERVER_TOKEN"`
	RateLimit    *int     `envconfig:"RATE_LIMIT"`
	Offline      *bool    `envconfig:"OFFLINE"`
	AuditEnabled *bool    `envconfig:"AUDIT_ENABLED"`
	AuditPath    string   `envconfig:"AUDIT_PATH"`
	LogLevel     string   `envconfig:"LOG_LEVEL"`
	LogFormat    string   `envconfig:"LOG_FORMAT"`
}

// ApplyEnvOverrides applies FEDQUERY_* environment variables:
//   - FEDQUERY_DATA_DIR: overrides data_dir
//   - FEDQUERY_OFFLINE: overrides offline
//   - FEDQUERY_GENERATOR: overrides generator.backend
//   - FEDQUERY_OLLAMA_URL / FEDQUERY_OLLAMA_MODEL: override ollama.*
//   - FEDQUERY_GENAI_API_KEY / FEDQUERY_GENAI_MODEL: override genai.*
//   - FEDQUERY_MAX_ROWS, FEDQUERY_QUERY_TIMEOUT_SECS: override executor.*
//   - FEDQUERY_SERVER_ADDR, FEDQUERY_SERVER_TOKEN, FEDQUERY_RATE_LIMIT
//   - FEDQUERY_AUDIT_ENABLED, FEDQUERY_AUDIT_PATH
//   - FEDQUERY_LOG_LEVEL, FEDQUERY_LOG_FORMAT
func (c *Config) ApplyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	setString(&c.DataDir, env.DataDir)
	setString(&c.Generator.Backend, env.Generator)
	setString(&c.Ollama.URL, env.OllamaURL)
	setString(&c.Ollama.Model, env.OllamaModel)
	setString(&c.GenAI.APIKey, env.GenAIKey)
	setString(&c.GenAI.Model, env.GenAIModel)
	setString(&c.Server.Addr, env.ServerAddr)
	setString(&c.Server.Token, env.ServerToken)
	setString(&c.Audit.Path, env.AuditPath)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)

	if env.RowLimit != nil {
		c.Generator.RowLimit = *env.RowLimit
	}
	if env.MaxRows != nil {
		c.Executor.MaxRows = *env.MaxRows
	}
	if env.QueryTimeout != nil {
		c.Executor.TimeoutSecs = *env.QueryTimeout
	}
	if env.RateLimit != nil {
		c.Server.RateLimit = *env.RateLimit
	}
	if env.Offline != nil {
		c.Offline = *env.Offline
	}
	if env.AuditEnabled != nil {
		c.Audit.Enabled = *env.AuditEnabled
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Stores
	if len(c.Stores) > 0 {
		bases := 0
		for _, name := range c.storeNames() {
			s := c.Stores[name]
			field := "stores." + name
			if s.Path == "" {
				add(field+".path", "is required")
			}
			if s.Base {
				bases++
				if s.Capability != "" {
					add(field+".capability", "base store cannot require a capability")
				}
				continue
			}
			if !security.KnownCapability(security.Capability(s.Capability)) {
				add(field+".capability", "unknown capability '%s'", s.Capability)
			}
		}
		if bases != 1 {
			add("stores", "exactly one store must be marked base, found %d", bases)
		}
	}

	// Generator
	switch c.Generator.Backend {
	case generator.BackendOllama, generator.BackendGenAI, generator.BackendStatic:
	default:
		add("generator.backend", "invalid backend '%s', must be one of: ollama, genai, static", c.Generator.Backend)
	}
	if c.Generator.RowLimit < 0 {
		add("generator.row_limit", "cannot be negative")
	}
	if c.Generator.RPS < 0 {
		add("generator.rps", "cannot be negative")
	}
	if c.Generator.Burst < 0 {
		add("generator.burst", "cannot be negative")
	}

	// Ollama
	if u, err := url.Parse(c.Ollama.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("ollama.url", "invalid URL '%s'", c.Ollama.URL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("ollama.url", "scheme must be http or https")
	}
	if c.Ollama.TimeoutSecs < 0 {
		add("ollama.timeout_secs", "cannot be negative")
	}

	// Executor
	if c.Executor.MaxRows < -1 {
		add("executor.max_rows", "must be -1 (no cap) or positive")
	}
	if c.Executor.TimeoutSecs < 0 {
		add("executor.timeout_secs", "cannot be negative")
	}

	// Server
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "cannot be negative")
	}

	// Offline
	if c.Offline {
		if c.Generator.Backend == generator.BackendGenAI {
			add("generator.backend", "genai is a cloud backend and cannot be used with offline = true")
		}
		if err := offline.CheckURL(c.Ollama.URL, true); errors.Is(err, offline.ErrNonLocalhost) {
			add("ollama.url", "must be localhost when offline = true")
		}
		if err := offline.CheckListenAddr(c.Server.Addr, true); err != nil {
			add("server.addr", "%v", err)
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

func (c *Config) storeNames() []string {
	names := make([]string, 0, len(c.Stores))
	for name := range c.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogSpecs returns the store specs to load. Configured stores are
// ordered by name (the catalog moves the base to the front); relative paths
// resolve against DataDir.
func (c *Config) CatalogSpecs() ([]catalog.Spec, error) {
	dataDir, err := util.ResolvePath(c.DataDir, "")
	if err != nil {
		return nil, fmt.Errorf("data_dir: %w", err)
	}
	if len(c.Stores) == 0 {
		return catalog.DefaultSpecs(dataDir), nil
	}

	specs := make([]catalog.Spec, 0, len(c.Stores))
	for _, name := range c.storeNames() {
		s := c.Stores[name]
		path, err := util.ResolvePath(s.Path, dataDir)
		if err != nil {
			return nil, fmt.Errorf("stores.%s.path: %w", name, err)
		}
		specs = append(specs, catalog.Spec{
			Name:       name,
			Path:       path,
			Capability: security.Capability(s.Capability),
			Base:       s.Base,
			Expose:     s.Expose,
		})
	}
	return specs, nil
}

// GeneratorConfig returns the settings for generator.New.
func (c *Config) GeneratorConfig() generator.Config {
	return generator.Config{
		Backend: c.Generator.Backend,
		Ollama: ollama.ClientConfig{
			BaseURL:      c.Ollama.URL,
			Timeout:      time.Duration(c.Ollama.TimeoutSecs) * time.Second,
			DefaultModel: c.Ollama.Model,
		},
		GenAI: generator.GenAIConfig{
			APIKey:  c.GenAI.APIKey,
			Model:   c.GenAI.Model,
			BaseURL: c.GenAI.BaseURL,
		},
		StaticText: c.Generator.StaticQuery,
		RPS:        c.Generator.RPS,
		Burst:      c.Generator.Burst,
	}
}

// QueryTimeout returns the executor timeout.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSecs) * time.Second
}

// AuditMaxSize returns the audit rotation size in bytes.
func (c *Config) AuditMaxSize() int64 {
	return int64(c.Audit.MaxSizeMB) * 1024 * 1024
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g.
// "ollama.model").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks struct fields by their TOML tag names. Map sections such as
// stores are not addressable this way.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct || field.Kind() == reflect.Map {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("toml")
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// setFieldValue sets a reflect.Value from a value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := tagName(f)
			if name == "" || name == "-" {
				continue
			}
			switch f.Type.Kind() {
			case reflect.Struct:
				walk(f.Type, prefix+name+".")
			case reflect.Map:
			default:
				keys = append(keys, prefix+name)
			}
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Masked returns a copy with secrets masked, safe to print.
func (c *Config) Masked() *Config {
	clone := *c
	if clone.GenAI.APIKey != "" {
		clone.GenAI.APIKey = maskSecret(clone.GenAI.APIKey)
	}
	if clone.Server.Token != "" {
		clone.Server.Token = maskSecret(clone.Server.Token)
	}
	return &clone
}

// String renders the configuration as TOML with secrets masked.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Masked()); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
