package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harrison/plangate/internal/models"
)

// Environment variables read by the env layer.
const (
	EnvEnabled               = "PLANGATE_ENABLED"
	EnvMode                  = "PLANGATE_MODE"
	EnvAutoApproveThreshold  = "PLANGATE_AUTO_APPROVE_THRESHOLD"
	EnvFullRequiredThreshold = "PLANGATE_FULL_REQUIRED_THRESHOLD"
	EnvMetricsEnabled        = "PLANGATE_METRICS_ENABLED"
	EnvLogLevel              = "PLANGATE_LOG_LEVEL"
)

// Loader resolves configuration from, in increasing priority:
// built-in defaults, an optional override file (YAML or TOML), environment
// variables (optionally seeded from a .env file) and transient overrides.
//
// Each layer is merged onto the result of the previous ones and validated as
// a whole. A layer that cannot be read, parsed or validated is dropped and
// reported as a ConfigurationError; the layers before it stay in effect.
type Loader struct {
	path      string
	envFile   string
	lookupEnv func(string) (string, bool)
	overrides []override
}

type override struct {
	path  string
	value interface{}
}

// NewLoader creates a Loader for the override file at path. An empty path or
// a missing file means no file layer.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnvFile sets a .env file whose entries act as environment variables.
// Real environment variables take precedence over entries in the file.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// WithLookupEnv replaces the environment lookup, mainly for tests.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// SetOverride registers a transient override for a dotted key path such as
// "thresholds.python.auto_approve". Overrides apply in registration order.
func (l *Loader) SetOverride(path string, value interface{}) {
	l.overrides = append(l.overrides, override{path: path, value: value})
}

// ParseOverride splits "key=value" and decodes value as a YAML scalar or
// flow sequence, so "5" becomes a number and "[a, b]" a list.
func ParseOverride(s string) (string, interface{}, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q, expected key=value", s)
	}
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		return key, raw, nil
	}
	return key, value, nil
}

// Load resolves the configuration. It always returns a usable Config; the
// second return value lists the layers that were discarded.
func (l *Loader) Load() (*Config, []*models.ConfigurationError) {
	var warnings []*models.ConfigurationError
	merged := map[string]interface{}{}
	cfg := DefaultConfig()

	apply := func(source string, layer map[string]interface{}, err error) {
		if err != nil {
			warnings = append(warnings, asConfigurationError(source, err))
			return
		}
		if len(layer) == 0 {
			return
		}
		candidate := deepMerge(deepCopy(merged), layer)
		next, err := build(candidate)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			warnings = append(warnings, &models.ConfigurationError{Source: source, Err: err})
			return
		}
		merged = candidate
		cfg = next
	}

	if l.path != "" {
		layer, err := readFileLayer(l.path)
		apply(l.path, layer, err)
	}

	envLayer, err := l.envLayer()
	apply("env", envLayer, err)

	overrideLayer := map[string]interface{}{}
	for _, o := range l.overrides {
		setPath(overrideLayer, o.path, o.value)
	}
	apply("override", overrideLayer, nil)

	return cfg, warnings
}

// LoadConfig loads the file at path over the defaults without env or
// transient layers. A missing file yields the defaults; a malformed one is
// returned as a ConfigurationError alongside the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg, warnings := NewLoader(path).WithLookupEnv(func(string) (string, bool) { return "", false }).Load()
	if len(warnings) > 0 {
		return cfg, warnings[0]
	}
	return cfg, nil
}

func asConfigurationError(source string, err error) *models.ConfigurationError {
	if ce, ok := err.(*models.ConfigurationError); ok {
		return ce
	}
	return &models.ConfigurationError{Source: source, Err: err}
}

// readFileLayer parses the override file by extension. A missing file is
// not an error.
func readFileLayer(path string) (map[string]interface{}, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	layer := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &layer); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file: %w", err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return layer, nil
}

// envLayer builds a layer from PLANGATE_* variables.
func (l *Loader) envLayer() (map[string]interface{}, error) {
	fileVars := map[string]string{}
	if l.envFile != "" {
		if _, err := os.Stat(l.envFile); err == nil {
			vars, err := godotenv.Read(l.envFile)
			if err != nil {
				return nil, &models.ConfigurationError{Source: l.envFile, Err: err}
			}
			fileVars = vars
		}
	}

	get := func(name string) (string, bool) {
		if v, ok := l.lookupEnv(name); ok && v != "" {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok && v != ""
	}

	layer := map[string]interface{}{}
	bools := []struct{ env, path string }{
		{EnvEnabled, "enabled"},
		{EnvMetricsEnabled, "metrics.enabled"},
	}
	for _, b := range bools {
		if v, ok := get(b.env); ok {
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, &models.ConfigurationError{Source: "env", Key: b.env, Err: err}
			}
			setPath(layer, b.path, parsed)
		}
	}

	floats := []struct{ env, path string }{
		{EnvAutoApproveThreshold, "thresholds.default.auto_approve"},
		{EnvFullRequiredThreshold, "thresholds.default.full_required"},
	}
	for _, f := range floats {
		if v, ok := get(f.env); ok {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &models.ConfigurationError{Source: "env", Key: f.env, Err: err}
			}
			setPath(layer, f.path, parsed)
		}
	}

	if v, ok := get(EnvMode); ok {
		setPath(layer, "mode", strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := get(EnvLogLevel); ok {
		setPath(layer, "log_level", strings.ToLower(strings.TrimSpace(v)))
	}

	return layer, nil
}

// rawConfig mirrors Config with pointer scalars so key presence is visible.
type rawConfig struct {
	Enabled  *bool    `yaml:"enabled"`
	Mode     *string  `yaml:"mode"`
	MaxScore *float64 `yaml:"max_score"`
	LogLevel *string  `yaml:"log_level"`
	DataDir  *string  `yaml:"data_dir"`
	Metrics  struct {
		Enabled   *bool   `yaml:"enabled"`
		Path      *string `yaml:"path"`
		IndexPath *string `yaml:"index_path"`
	} `yaml:"metrics"`
	Thresholds      map[string]ThresholdTable `yaml:"thresholds"`
	Weights         map[string]float64        `yaml:"weights"`
	Saturation      map[string]float64        `yaml:"saturation"`
	Timeouts        map[string]float64        `yaml:"timeouts"`
	ForceTriggers   map[string][]string       `yaml:"force_triggers"`
	RiskKeywords    map[string][]string       `yaml:"risk_keywords"`
	PatternKeywords map[string][]string       `yaml:"pattern_keywords"`
	ReviewWeights   map[string]float64        `yaml:"review_weights"`
}

// build decodes a merged layer map over the defaults.
func build(layer map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(layer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged layers: %w", err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if raw.Mode != nil {
		cfg.Mode = models.Mode(strings.ToLower(*raw.Mode))
	}
	if raw.MaxScore != nil {
		cfg.MaxScore = *raw.MaxScore
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(*raw.LogLevel)
	}
	if raw.DataDir != nil {
		cfg.DataDir = *raw.DataDir
	}
	if raw.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *raw.Metrics.Enabled
	}
	if raw.Metrics.Path != nil {
		cfg.Metrics.Path = *raw.Metrics.Path
	}
	if raw.Metrics.IndexPath != nil {
		cfg.Metrics.IndexPath = *raw.Metrics.IndexPath
	}

	for stack, table := range raw.Thresholds {
		key := strings.ToLower(strings.TrimSpace(stack))
		merged := cfg.Thresholds[key]
		if table.AutoApprove != nil {
			merged.AutoApprove = table.AutoApprove
		}
		if table.FullRequired != nil {
			merged.FullRequired = table.FullRequired
		}
		if table.ReviewApprove != nil {
			merged.ReviewApprove = table.ReviewApprove
		}
		if table.ReviewReject != nil {
			merged.ReviewReject = table.ReviewReject
		}
		cfg.Thresholds[key] = merged
	}

	for k, v := range raw.Weights {
		cfg.Weights[k] = v
	}
	for k, v := range raw.Saturation {
		cfg.Saturation[k] = v
	}
	for k, v := range raw.Timeouts {
		cfg.Timeouts[k] = v
	}
	for k, v := range raw.ForceTriggers {
		cfg.ForceTriggers[k] = v
	}
	for k, v := range raw.RiskKeywords {
		cfg.RiskKeywords[k] = v
	}
	for k, v := range raw.PatternKeywords {
		cfg.PatternKeywords[k] = v
	}
	if len(raw.ReviewWeights) > 0 {
		cfg.ReviewWeights = raw.ReviewWeights
	}

	return cfg, nil
}

// setPath stores value under a dotted key path, creating nested maps.
func setPath(m map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// deepMerge merges src into dst; nested maps merge, everything else replaces.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			dst[k] = deepMerge(map[string]interface{}{}, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	return deepMerge(map[string]interface{}{}, m)
}
