package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aegis-community/internal/antinuke"

	"go.uber.org/zap/zapcore"
)

func TestDefaultAntiNukeMatchesEnginePolicy(t *testing.T) {
	policy, err := DefaultConfig().AntiNuke.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	defaults := antinuke.DefaultPolicy()
	for action, rule := range defaults.Rules {
		if policy.Rules[action] != rule {
			t.Fatalf("%s: expected %+v, got %+v", action, rule, policy.Rules[action])
		}
	}
	if policy.Escalation[2].Duration != 10*time.Minute {
		t.Fatalf("expected mute duration to survive conversion, got %s", policy.Escalation[2].Duration)
	}
}

func TestAntiNukePolicyRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig().AntiNuke
	cfg.Rules["channel_create"] = RuleSettings{Limit: 0, WindowSeconds: 10}
	if _, err := cfg.Policy(); !errors.Is(err, antinuke.ErrInvalidRuleConfig) {
		t.Fatalf("expected invalid rule config, got %v", err)
	}

	cfg = DefaultConfig().AntiNuke
	cfg.Rules["emoji_delete"] = RuleSettings{Limit: 1, WindowSeconds: 10}
	if _, err := cfg.Policy(); !errors.Is(err, antinuke.ErrInvalidRuleConfig) {
		t.Fatalf("expected unknown action to be rejected, got %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
log_level: debug
snapshots:
  retention: 3
antinuke:
  contain_seconds: 30
  rules:
    channel_create:
      limit: 2
      window_seconds: 10
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DATA_DIR", dir)
	t.Setenv("RULE_PRESET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != dir || cfg.LogLevel != "debug" || cfg.Snapshots.Retention != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	policy, err := cfg.AntiNuke.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if rule := policy.Rules[antinuke.ActionChannelCreate]; rule.Limit != 2 || rule.Window != 10*time.Second {
		t.Fatalf("file rule not applied: %+v", rule)
	}
	if policy.Rules[antinuke.ActionRoleDelete].Limit != 2 {
		t.Fatalf("defaults for other rules were lost")
	}
	if policy.ContainWindow != 30*time.Second {
		t.Fatalf("expected 30s contain window, got %s", policy.ContainWindow)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestPresetScalesLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RulePreset = "high"
	applyPreset(&cfg)
	if cfg.AntiNuke.Rules["channel_create"].Limit != 1 || cfg.AntiNuke.Rules["bot_add"].Limit != 1 {
		t.Fatalf("unexpected high preset limits %+v", cfg.AntiNuke.Rules)
	}

	cfg = DefaultConfig()
	cfg.RulePreset = "low"
	applyPreset(&cfg)
	if cfg.AntiNuke.Rules["channel_delete"].Limit != 4 {
		t.Fatalf("unexpected low preset limit %d", cfg.AntiNuke.Rules["channel_delete"].Limit)
	}
}

func TestBuildLoggerFallsBackToInfo(t *testing.T) {
	logger, err := BuildLogger("verbose")
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug should be disabled for unknown level")
	}
}

func TestParseLevelClampsToSupportedLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" WARN ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"fatal":  zapcore.InfoLevel,
		"":       zapcore.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestLoadPlaybookSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
playbook:
  lockdown_minutes: 5
  min_level: 3
  slowmode_seconds: 0
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Playbook.Enabled || !cfg.Playbook.DenySend {
		t.Fatalf("expected playbook defaults to survive, got %+v", cfg.Playbook)
	}
	if cfg.Playbook.Duration() != 5*time.Minute || cfg.Playbook.MinLevel != 3 || cfg.Playbook.SlowmodeSeconds != 0 {
		t.Fatalf("file playbook not applied: %+v", cfg.Playbook)
	}

	t.Setenv("PLAYBOOK_MIN_LEVEL", "9")
	if _, err := Load(); err == nil {
		t.Fatalf("expected out of range min level to be rejected")
	}
}
