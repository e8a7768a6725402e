package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harrison/plangate/internal/models"
)

// Factor names understood by the complexity calculator.
const (
	FactorFiles        = "files"
	FactorDependencies = "dependencies"
	FactorRisk         = "risk"
	FactorPatterns     = "patterns"
	FactorSize         = "size"
)

// Timeout names with built-in defaults.
const (
	TimeoutArchitecturalReview = "architectural_review"
	TimeoutHumanCheckpoint     = "human_checkpoint"
	TimeoutSessionInactivity   = "session_inactivity"
)

// DefaultStack is the threshold table consulted when a stack has no entry of its own.
const DefaultStack = "default"

// Built-in threshold values, used when neither the stack table nor the
// default table sets a key.
const (
	DefaultAutoApprove   = 4.0
	DefaultFullRequired  = 7.0
	DefaultReviewApprove = 80.0
	DefaultReviewReject  = 50.0
	DefaultMaxScore      = 10.0
)

// ThresholdTable holds per-stack routing thresholds. Nil fields fall back
// to the default table and then to the built-in values.
type ThresholdTable struct {
	AutoApprove   *float64 `yaml:"auto_approve,omitempty"`
	FullRequired  *float64 `yaml:"full_required,omitempty"`
	ReviewApprove *float64 `yaml:"review_approve,omitempty"`
	ReviewReject  *float64 `yaml:"review_reject,omitempty"`
}

// Thresholds is a fully resolved threshold table.
type Thresholds struct {
	AutoApprove   float64
	FullRequired  float64
	ReviewApprove float64
	ReviewReject  float64
}

// MetricsConfig controls the metrics event log.
type MetricsConfig struct {
	// Enabled turns recording on; queries work either way
	Enabled bool `yaml:"enabled"`

	// Path of the JSONL event log, relative paths resolve against the data directory
	Path string `yaml:"path"`

	// IndexPath of the SQLite read model
	IndexPath string `yaml:"index_path"`
}

// Config is the merged plangate configuration. It is built once by Loader
// and treated as read-only afterwards.
type Config struct {
	// Enabled gates review routing; a disabled config routes like mode never
	Enabled bool `yaml:"enabled"`

	// Mode is never, auto or always
	Mode models.Mode `yaml:"mode"`

	// MaxScore caps the aggregate complexity score
	MaxScore float64 `yaml:"max_score"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// DataDir overrides the data directory when PLANGATE_HOME is unset
	DataDir string `yaml:"data_dir"`

	Metrics MetricsConfig `yaml:"metrics"`

	// Thresholds maps a stack name (or "default") to its threshold table
	Thresholds map[string]ThresholdTable `yaml:"thresholds"`

	// Weights maps a complexity factor to its weight
	Weights map[string]float64 `yaml:"weights"`

	// Saturation maps a complexity factor to the raw value above which it stops growing
	Saturation map[string]float64 `yaml:"saturation"`

	// Timeouts maps a phase name to seconds
	Timeouts map[string]float64 `yaml:"timeouts"`

	// ForceTriggers maps a trigger category to its keyword list
	ForceTriggers map[string][]string `yaml:"force_triggers"`

	// RiskKeywords maps a risk category to its keyword list
	RiskKeywords map[string][]string `yaml:"risk_keywords"`

	// PatternKeywords maps a sophistication level (moderate, advanced) to pattern names
	PatternKeywords map[string][]string `yaml:"pattern_keywords"`

	// ReviewWeights maps an architectural principle to its share of the review score
	ReviewWeights map[string]float64 `yaml:"review_weights"`
}

func float64Ptr(v float64) *float64 { return &v }

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Mode:     models.ModeAuto,
		MaxScore: DefaultMaxScore,
		LogLevel: "info",
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "metrics/events.jsonl",
			IndexPath: "metrics/index.db",
		},
		Thresholds: map[string]ThresholdTable{
			DefaultStack: {
				AutoApprove:   float64Ptr(DefaultAutoApprove),
				FullRequired:  float64Ptr(DefaultFullRequired),
				ReviewApprove: float64Ptr(DefaultReviewApprove),
				ReviewReject:  float64Ptr(DefaultReviewReject),
			},
		},
		Weights: map[string]float64{
			FactorFiles:        3,
			FactorDependencies: 2,
			FactorRisk:         3,
			FactorPatterns:     2,
			FactorSize:         1,
		},
		Saturation: map[string]float64{
			FactorFiles:        9,
			FactorDependencies: 5,
			FactorRisk:         4,
			FactorPatterns:     2,
			FactorSize:         1000,
		},
		Timeouts: map[string]float64{
			TimeoutArchitecturalReview: 300,
			TimeoutHumanCheckpoint:     1800,
			TimeoutSessionInactivity:   3600,
		},
		ForceTriggers: map[string][]string{
			string(models.TriggerSecurityKeywords): {
				"authentication", "authorization", "auth", "security", "password",
				"token", "jwt", "oauth", "encryption", "crypto",
			},
			string(models.TriggerSchemaChanges): {
				"migration", "schema", "alter table", "create table", "drop table",
				"database", "db migration",
			},
			string(models.TriggerBreakingChanges): {
				"breaking change", "breaking api", "remove endpoint", "delete endpoint",
				"rename endpoint", "change contract", "modify response", "modify request",
				"api version",
			},
		},
		RiskKeywords: map[string][]string{
			"security": {
				"authentication", "authorization", "auth", "security", "permission",
				"password", "token", "jwt", "oauth", "encryption", "crypto", "signing",
			},
			"data_integrity": {
				"migration", "schema", "alter table", "create table", "drop table",
				"database", "transaction", "acid", "consistency",
			},
			"external_integration": {
				"api", "external", "third-party", "integration", "webhook",
				"http client", "rest", "graphql", "grpc",
			},
			"performance": {
				"performance", "optimization", "caching", "scaling", "load",
				"throughput", "latency", "real-time", "streaming",
			},
		},
		PatternKeywords: map[string][]string{
			"moderate": {"strategy", "observer", "decorator", "command", "chain"},
			"advanced": {"saga", "cqrs", "event sourcing", "mediator", "specification"},
		},
		ReviewWeights: map[string]float64{
			"solid_principles": 0.30,
			"dry_principle":    0.25,
			"yagni_principle":  0.25,
			"testability":      0.20,
		},
	}
}

// IsEnabled reports whether review routing is enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetMode returns the routing mode. A disabled configuration always
// reports ModeNever; an unknown mode falls back to auto.
func (c *Config) GetMode() models.Mode {
	if !c.Enabled {
		return models.ModeNever
	}
	if m, ok := models.ParseMode(string(c.Mode)); ok {
		return m
	}
	return models.ModeAuto
}

// GetMaxScore returns the aggregate score cap.
func (c *Config) GetMaxScore() float64 {
	if c.MaxScore <= 0 {
		return DefaultMaxScore
	}
	return c.MaxScore
}

// ResolveThresholds resolves each threshold key independently: the stack's
// own table first, then the default table, then the built-in value.
// Unknown and empty stacks use the default table.
func (c *Config) ResolveThresholds(stack string) Thresholds {
	stackTable := c.Thresholds[strings.ToLower(strings.TrimSpace(stack))]
	defaultTable := c.Thresholds[DefaultStack]

	pick := func(get func(ThresholdTable) *float64, builtin float64) float64 {
		if v := get(stackTable); v != nil {
			return *v
		}
		if v := get(defaultTable); v != nil {
			return *v
		}
		return builtin
	}

	return Thresholds{
		AutoApprove:   pick(func(t ThresholdTable) *float64 { return t.AutoApprove }, DefaultAutoApprove),
		FullRequired:  pick(func(t ThresholdTable) *float64 { return t.FullRequired }, DefaultFullRequired),
		ReviewApprove: pick(func(t ThresholdTable) *float64 { return t.ReviewApprove }, DefaultReviewApprove),
		ReviewReject:  pick(func(t ThresholdTable) *float64 { return t.ReviewReject }, DefaultReviewReject),
	}
}

// GetThreshold maps an architectural review score (0-100) to its
// second-stage verdict using the stack-resolved review thresholds:
// at or above review_approve is auto_approve, at or above review_reject is
// approve_with_recommendations, anything lower is reject.
func (c *Config) GetThreshold(score float64, stack string) models.Decision {
	t := c.ResolveThresholds(stack)
	switch {
	case score >= t.ReviewApprove:
		return models.DecisionAutoApprove
	case score >= t.ReviewReject:
		return models.DecisionApproveWithRecommendations
	default:
		return models.DecisionReject
	}
}

// GetTimeout returns the named timeout, falling back to the built-in value.
// Unknown names without a configured value return 0.
func (c *Config) GetTimeout(name string) time.Duration {
	secs, ok := c.Timeouts[name]
	if !ok {
		secs = DefaultConfig().Timeouts[name]
	}
	return time.Duration(secs * float64(time.Second))
}

// GetWeights returns a copy of the factor weights, built-in weights filling gaps.
func (c *Config) GetWeights() map[string]float64 {
	return mergeFloats(DefaultConfig().Weights, c.Weights)
}

// GetSaturation returns the saturation point for factor.
func (c *Config) GetSaturation(factor string) float64 {
	if v, ok := c.Saturation[factor]; ok && v > 0 {
		return v
	}
	return DefaultConfig().Saturation[factor]
}

// Keywords returns the force-trigger keyword list for category.
func (c *Config) Keywords(category string) []string {
	return lookupList(c.ForceTriggers, DefaultConfig().ForceTriggers, category)
}

// RiskCategories returns the configured risk categories in sorted order.
func (c *Config) RiskCategories() []string {
	return sortedKeys(c.RiskKeywords, DefaultConfig().RiskKeywords)
}

// RiskKeywordsFor returns the keyword list for one risk category.
func (c *Config) RiskKeywordsFor(category string) []string {
	return lookupList(c.RiskKeywords, DefaultConfig().RiskKeywords, category)
}

// PatternKeywordsFor returns the pattern names for a sophistication level.
func (c *Config) PatternKeywordsFor(level string) []string {
	return lookupList(c.PatternKeywords, DefaultConfig().PatternKeywords, level)
}

// GetReviewWeights returns a copy of the architectural review weights.
func (c *Config) GetReviewWeights() map[string]float64 {
	if len(c.ReviewWeights) == 0 {
		return mergeFloats(DefaultConfig().ReviewWeights, nil)
	}
	return mergeFloats(nil, c.ReviewWeights)
}

// MetricsEnabled reports whether metrics events should be recorded.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if _, ok := models.ParseMode(string(c.Mode)); !ok {
		return fmt.Errorf("invalid mode %q, must be one of: never, auto, always", c.Mode)
	}

	if c.MaxScore <= 0 {
		return fmt.Errorf("max_score must be > 0, got %v", c.MaxScore)
	}

	if c.LogLevel != "" {
		switch c.LogLevel {
		case "trace", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
		}
	}

	for stack := range c.Thresholds {
		t := c.ResolveThresholds(stack)
		if t.AutoApprove < 0 || t.AutoApprove > c.MaxScore {
			return fmt.Errorf("thresholds.%s.auto_approve must be within [0, %v], got %v", stack, c.MaxScore, t.AutoApprove)
		}
		if t.FullRequired < 0 || t.FullRequired > c.MaxScore {
			return fmt.Errorf("thresholds.%s.full_required must be within [0, %v], got %v", stack, c.MaxScore, t.FullRequired)
		}
		if t.AutoApprove > t.FullRequired {
			return fmt.Errorf("thresholds.%s.auto_approve (%v) must not exceed full_required (%v)", stack, t.AutoApprove, t.FullRequired)
		}
		if t.ReviewReject < 0 || t.ReviewApprove > 100 || t.ReviewReject > t.ReviewApprove {
			return fmt.Errorf("thresholds.%s review thresholds must satisfy 0 <= review_reject (%v) <= review_approve (%v) <= 100", stack, t.ReviewReject, t.ReviewApprove)
		}
	}

	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weights.%s must be >= 0, got %v", name, w)
		}
	}
	for name, s := range c.Saturation {
		if s <= 0 {
			return fmt.Errorf("saturation.%s must be > 0, got %v", name, s)
		}
	}
	for name, secs := range c.Timeouts {
		if secs < 0 {
			return fmt.Errorf("timeouts.%s must be >= 0, got %v", name, secs)
		}
	}
	for name, w := range c.ReviewWeights {
		if w < 0 {
			return fmt.Errorf("review_weights.%s must be >= 0, got %v", name, w)
		}
	}
	for _, table := range []struct {
		key   string
		lists map[string][]string
	}{
		{"force_triggers", c.ForceTriggers},
		{"risk_keywords", c.RiskKeywords},
		{"pattern_keywords", c.PatternKeywords},
	} {
		for name, words := range table.lists {
			for _, w := range words {
				if strings.TrimSpace(w) == "" {
					return fmt.Errorf("%s.%s contains an empty keyword", table.key, name)
				}
			}
		}
	}

	return nil
}

func mergeFloats(base, overlay map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func lookupList(m, defaults map[string][]string, key string) []string {
	if v, ok := m[key]; ok {
		return append([]string(nil), v...)
	}
	return append([]string(nil), defaults[key]...)
}

func sortedKeys(m, defaults map[string][]string) []string {
	src := m
	if len(src) == 0 {
		src = defaults
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
