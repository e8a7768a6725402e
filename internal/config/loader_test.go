package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/models"
)

func noEnv(string) (string, bool) { return "", false }

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, warnings := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).WithLookupEnv(noEnv).Load()

	assert.Empty(t, warnings)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plangate.yaml", `
mode: always
metrics:
  enabled: false
thresholds:
  default:
    auto_approve: 3
  Python:
    full_required: 6
weights:
  files: 4
timeouts:
  session_inactivity: 60
force_triggers:
  hotfix: [urgent]
unknown_key:
  nested: true
`)

	cfg, warnings := NewLoader(path).WithLookupEnv(noEnv).Load()
	require.Empty(t, warnings)

	assert.Equal(t, models.ModeAlways, cfg.GetMode())
	assert.False(t, cfg.MetricsEnabled())
	assert.Equal(t, 3.0, cfg.ResolveThresholds("go").AutoApprove)
	assert.Equal(t, 7.0, cfg.ResolveThresholds("go").FullRequired, "unset keys keep built-in defaults")
	assert.Equal(t, 6.0, cfg.ResolveThresholds("python").FullRequired)
	assert.Equal(t, 4.0, cfg.GetWeights()[FactorFiles])
	assert.Equal(t, 2.0, cfg.GetWeights()[FactorDependencies])
	assert.Equal(t, []string{"urgent"}, cfg.Keywords("hotfix"))
	assert.Contains(t, cfg.Keywords(string(models.TriggerSecurityKeywords)), "jwt")
	assert.Equal(t, 60.0, cfg.GetTimeout(TimeoutSessionInactivity).Seconds())
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plangate.toml", `
mode = "never"
max_score = 20

[thresholds.default]
auto_approve = 5
full_required = 12

[review_weights]
solid_principles = 1.0
`)

	cfg, warnings := NewLoader(path).WithLookupEnv(noEnv).Load()
	require.Empty(t, warnings)

	assert.Equal(t, models.ModeNever, cfg.GetMode())
	assert.Equal(t, 20.0, cfg.GetMaxScore())
	assert.Equal(t, 12.0, cfg.ResolveThresholds("").FullRequired)
	assert.Equal(t, map[string]float64{"solid_principles": 1.0}, cfg.GetReviewWeights())
}

func TestLoad_MalformedFileFailsClosed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plangate.yaml", "mode: [unterminated\n")

	cfg, warnings := NewLoader(path).WithLookupEnv(noEnv).Load()

	require.Len(t, warnings, 1)
	assert.Equal(t, path, warnings[0].Source)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidLayerIsDiscardedWhole(t *testing.T) {
	dir := t.TempDir()
	// valid weight next to an invalid threshold: neither may leak through
	path := writeFile(t, dir, "plangate.yaml", `
weights:
  files: 5
thresholds:
  default:
    auto_approve: 9
    full_required: 2
`)

	cfg, warnings := NewLoader(path).WithLookupEnv(noEnv).Load()

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Error(), "auto_approve")
	assert.Equal(t, 3.0, cfg.GetWeights()[FactorFiles])
	assert.Equal(t, 4.0, cfg.ResolveThresholds("").AutoApprove)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plangate.yaml", `
mode: always
thresholds:
  default:
    auto_approve: 2
`)

	loader := NewLoader(path).WithLookupEnv(envFrom(map[string]string{
		EnvMode:                 "auto",
		EnvAutoApproveThreshold: "3",
	}))
	loader.SetOverride("thresholds.default.auto_approve", 5)

	cfg, warnings := loader.Load()
	require.Empty(t, warnings)

	assert.Equal(t, models.ModeAuto, cfg.GetMode(), "env beats file")
	assert.Equal(t, 5.0, cfg.ResolveThresholds("").AutoApprove, "override beats env")
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "PLANGATE_METRICS_ENABLED=false\nPLANGATE_MODE=always\n")

	loader := NewLoader("").WithEnvFile(envPath).WithLookupEnv(envFrom(map[string]string{
		EnvMode: "never",
	}))
	cfg, warnings := loader.Load()
	require.Empty(t, warnings)

	assert.False(t, cfg.MetricsEnabled())
	assert.Equal(t, models.ModeNever, cfg.GetMode(), "process environment beats .env entries")
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	loader := NewLoader("").WithLookupEnv(envFrom(map[string]string{
		EnvEnabled: "maybe",
	}))
	cfg, warnings := loader.Load()

	require.Len(t, warnings, 1)
	assert.Equal(t, EnvEnabled, warnings[0].Key)
	assert.True(t, cfg.IsEnabled())
}

func TestLoad_InvalidOverrideKeepsEarlierLayers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plangate.yaml", "mode: always\n")

	loader := NewLoader(path).WithLookupEnv(noEnv)
	loader.SetOverride("mode", "sometimes")

	cfg, warnings := loader.Load()
	require.Len(t, warnings, 1)
	assert.Equal(t, "override", warnings[0].Source)
	assert.Equal(t, models.ModeAlways, cfg.GetMode())
}

func TestParseOverride(t *testing.T) {
	tests := []struct {
		in      string
		key     string
		value   interface{}
		wantErr bool
	}{
		{in: "thresholds.go.auto_approve=5", key: "thresholds.go.auto_approve", value: 5},
		{in: "enabled=false", key: "enabled", value: false},
		{in: "mode=always", key: "mode", value: "always"},
		{in: "force_triggers.hotfix=[urgent, p0]", key: "force_triggers.hotfix", value: []interface{}{"urgent", "p0"}},
		{in: "data_dir=", key: "data_dir", value: ""},
		{in: "novalue", wantErr: true},
		{in: "=5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			key, value, err := ParseOverride(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yml", "log_level: debug\n")
	bad := writeFile(t, dir, "bad.yml", "log_level: shouting\n")

	cfg, err := LoadConfig(good)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	cfg, err = LoadConfig(bad)
	require.Error(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestGetHome(t *testing.T) {
	envHome := filepath.Join(t.TempDir(), "env-home")
	t.Setenv(EnvHome, envHome)

	home, err := GetHome("/ignored")
	require.NoError(t, err)
	assert.Equal(t, envHome, home)
	assert.DirExists(t, envHome)

	t.Setenv(EnvHome, "")
	dataDir := filepath.Join(t.TempDir(), "data")
	home, err = GetHome(dataDir)
	require.NoError(t, err)
	assert.Equal(t, dataDir, home)

	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(home, "metrics", "events.jsonl"), cfg.MetricsLogPath(home))
	cfg.Metrics.IndexPath = "/abs/index.db"
	assert.Equal(t, "/abs/index.db", cfg.MetricsIndexPath(home))
}
