package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/diagrammer/internal/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIAGRAMMER_"

// Duration is a time.Duration that reads and writes "30s" style strings.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all diagrammer configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	LLMProvider           string   `json:"llm_provider" validate:"oneof=mock openai gemini"`
	LLMModel              string   `json:"llm_model"`
	LLMAPIKey             string   `json:"llm_api_key,omitempty"`
	VaultKey              string   `json:"-"` // environment only; unlocks a sealed llm_api_key
	LLMBaseURL            string   `json:"llm_base_url,omitempty" validate:"omitempty,url"`
	LLMTemperature        float32  `json:"llm_temperature" validate:"gte=0,lte=2"`
	GenerationTemperature float32  `json:"generation_temperature" validate:"gte=0,lte=2"`
	LLMMaxTokens          int      `json:"llm_max_tokens" validate:"gte=64,lte=131072"`
	MockDelay             Duration `json:"mock_delay"`

	MaxAttempts             int      `json:"max_attempts" validate:"gte=1,lte=10"`
	AttemptTimeout          Duration `json:"attempt_timeout" validate:"gt=0"`
	RateLimitPerSecond      float64  `json:"rate_limit_per_second" validate:"gte=0"`
	BreakerFailureThreshold int      `json:"breaker_failure_threshold" validate:"gte=1"`
	BreakerCooldown         Duration `json:"breaker_cooldown" validate:"gt=0"`

	DiagramDirection string              `json:"diagram_direction" validate:"oneof=LR TB"`
	DiagramFormat    string              `json:"diagram_format" validate:"oneof=png svg dot mermaid"`
	VocabularyFile   string              `json:"vocabulary_file,omitempty" validate:"omitempty,file"`
	PromptsFile      string              `json:"prompts_file,omitempty" validate:"omitempty,file"`
	Policies         []string            `json:"policies,omitempty" validate:"dive,oneof=no_self_loops max_nodes labeled_connections"`
	CustomPolicies   []validation.Policy `json:"custom_policies,omitempty" validate:"dive"`
	ReadyRule        string              `json:"ready_rule,omitempty"`

	DBPath         string   `json:"db_path"`
	EventRetention Duration `json:"event_retention" validate:"gte=0"`

	ListenAddr            string   `json:"listen_addr" validate:"required"`
	CORSOrigins           []string `json:"cors_origins,omitempty"`
	APIKeyHeader          string   `json:"api_key_header" validate:"required"`
	AllowedAPIKeys        []string `json:"allowed_api_keys,omitempty"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests" validate:"gte=1"`
	ConversationTTL       Duration `json:"conversation_ttl" validate:"gt=0"`
	LogLevel              string   `json:"log_level" validate:"oneof=debug info warn warning error"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLMProvider:             "mock",
		LLMTemperature:          0.7,
		GenerationTemperature:   0.3,
		LLMMaxTokens:            4096,
		MaxAttempts:             3,
		AttemptTimeout:          Duration(30 * time.Second),
		BreakerFailureThreshold: 5,
		BreakerCooldown:         Duration(30 * time.Second),
		DiagramDirection:        "LR",
		DiagramFormat:           "png",
		DBPath:                  filepath.Join(Dir(), "diagrammer.db"),
		EventRetention:          Duration(7 * 24 * time.Hour),
		ListenAddr:              ":8000",
		APIKeyHeader:            "X-API-Key",
		MaxConcurrentRequests:   100,
		ConversationTTL:         Duration(30 * time.Minute),
		LogLevel:                "info",
	}
}

// Dir is the data directory holding settings.json and the event log.
func Dir() string {
	if v := os.Getenv(EnvPrefix + "HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".diagrammer"
	}
	return filepath.Join(home, ".diagrammer")
}

// SettingsPath is the location of the JSON settings file.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load layers defaults, the settings file at path (skipped if missing) and
// environment overrides. An empty path uses SettingsPath. The result is not
// validated; call Validate after applying flags.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = SettingsPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON to path, creating the directory.
func Save(cfg Config, path string) error {
	if path == "" {
		path = SettingsPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports all failures at once.
// A non-mock provider needs either an API key or a vault passphrase; the key
// is then resolved from the vault at startup.
func (c Config) Validate() error {
	var msgs []string
	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if c.LLMProvider != "mock" && c.LLMAPIKey == "" && c.VaultKey == "" {
		msgs = append(msgs, fmt.Sprintf("Config.LLMAPIKey is required for provider %q unless %sVAULT_KEY is set", c.LLMProvider, EnvPrefix))
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg from DIAGRAMMER_* variables. Keys mirror the JSON
// names in upper case.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := map[string]*string{
		"LLM_PROVIDER":      &cfg.LLMProvider,
		"LLM_MODEL":         &cfg.LLMModel,
		"LLM_API_KEY":       &cfg.LLMAPIKey,
		"VAULT_KEY":         &cfg.VaultKey,
		"LLM_BASE_URL":      &cfg.LLMBaseURL,
		"DIAGRAM_DIRECTION": &cfg.DiagramDirection,
		"DIAGRAM_FORMAT":    &cfg.DiagramFormat,
		"VOCABULARY_FILE":   &cfg.VocabularyFile,
		"PROMPTS_FILE":      &cfg.PromptsFile,
		"READY_RULE":        &cfg.ReadyRule,
		"DB_PATH":           &cfg.DBPath,
		"LISTEN_ADDR":       &cfg.ListenAddr,
		"API_KEY_HEADER":    &cfg.APIKeyHeader,
		"LOG_LEVEL":         &cfg.LogLevel,
	}
	for k, p := range str {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			*p = v
		}
	}

	ints := map[string]*int{
		"LLM_MAX_TOKENS":            &cfg.LLMMaxTokens,
		"MAX_ATTEMPTS":              &cfg.MaxAttempts,
		"BREAKER_FAILURE_THRESHOLD": &cfg.BreakerFailureThreshold,
		"MAX_CONCURRENT_REQUESTS":   &cfg.MaxConcurrentRequests,
	}
	for k, p := range ints {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, k, err)
			}
			*p = n
		}
	}

	floats := map[string]func(float64){
		"LLM_TEMPERATURE":        func(f float64) { cfg.LLMTemperature = float32(f) },
		"GENERATION_TEMPERATURE": func(f float64) { cfg.GenerationTemperature = float32(f) },
		"RATE_LIMIT_PER_SECOND":  func(f float64) { cfg.RateLimitPerSecond = f },
	}
	for k, set := range floats {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, k, err)
			}
			set(f)
		}
	}

	durations := map[string]*Duration{
		"MOCK_DELAY":       &cfg.MockDelay,
		"ATTEMPT_TIMEOUT":  &cfg.AttemptTimeout,
		"BREAKER_COOLDOWN": &cfg.BreakerCooldown,
		"EVENT_RETENTION":  &cfg.EventRetention,
		"CONVERSATION_TTL": &cfg.ConversationTTL,
	}
	for k, p := range durations {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, k, err)
			}
			*p = Duration(d)
		}
	}

	lists := map[string]*[]string{
		"POLICIES":         &cfg.Policies,
		"CORS_ORIGINS":     &cfg.CORSOrigins,
		"ALLOWED_API_KEYS": &cfg.AllowedAPIKeys,
	}
	for k, p := range lists {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			*p = splitList(v)
		}
	}
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

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.LLMAPIKey != "" {
		c.LLMAPIKey = "****"
	}
	if c.VaultKey != "" {
		c.VaultKey = "****"
	}
	if len(c.AllowedAPIKeys) > 0 {
		c.AllowedAPIKeys = []string{fmt.Sprintf("(%d keys)", len(c.AllowedAPIKeys))}
	}
	return c
}
