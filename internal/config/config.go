package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"aegis-community/internal/antinuke"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string         `yaml:"discord_token"`
	DataDir           string         `yaml:"data_dir"`
	DatabaseURL       string         `yaml:"database_url"`
	LogLevel          string         `yaml:"log_level"`
	DefaultLogChannel string         `yaml:"default_log_channel"`
	RetentionDays     int            `yaml:"retention_days"`
	RulePreset        string         `yaml:"rule_preset"`
	Health            HealthConfig   `yaml:"health"`
	Snapshots         SnapshotConfig `yaml:"snapshots"`
	AntiNuke          AntiNukeConfig `yaml:"antinuke"`
	Playbook          PlaybookConfig `yaml:"playbook"`
	Notifications     NotifyConfig   `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SnapshotConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	Retention       int `yaml:"retention"`
}

func (s SnapshotConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// PlaybookConfig drives the guild lockdown that follows a severe decision.
type PlaybookConfig struct {
	Enabled         bool `yaml:"enabled"`
	LockdownMinutes int  `yaml:"lockdown_minutes"`
	MinLevel        int  `yaml:"min_level"`
	DenySend        bool `yaml:"deny_send"`
	SlowmodeSeconds int  `yaml:"slowmode_seconds"`
}

func (p PlaybookConfig) Duration() time.Duration {
	return time.Duration(p.LockdownMinutes) * time.Minute
}

type RuleSettings struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

type EscalationSettings struct {
	Action          string `yaml:"action"`
	DurationSeconds int    `yaml:"duration_seconds"`
}

// AntiNukeConfig holds the process-wide defaults new guilds start from.
type AntiNukeConfig struct {
	Enabled           bool                       `yaml:"enabled"`
	ContainSeconds    int                        `yaml:"contain_seconds"`
	Rules             map[string]RuleSettings    `yaml:"rules"`
	Severity          map[string]int             `yaml:"severity"`
	Escalation        map[int]EscalationSettings `yaml:"escalation"`
	ProtectedSeverity map[string]int             `yaml:"protected_severity"`
}

type NotifyConfig struct {
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
	Success int `yaml:"success"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:       "/data/aegis",
		LogLevel:      "info",
		RetentionDays: 14,
		RulePreset:    "medium",
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Snapshots:     SnapshotConfig{IntervalSeconds: 900, Retention: antinuke.DefaultSnapshotCapacity},
		AntiNuke:      defaultAntiNuke(),
		Playbook:      PlaybookConfig{Enabled: true, LockdownMinutes: 10, MinLevel: 4, DenySend: true, SlowmodeSeconds: 30},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
				Success: 0x22C55E,
			},
		},
	}
}

func defaultAntiNuke() AntiNukeConfig {
	policy := antinuke.DefaultPolicy()
	cfg := AntiNukeConfig{
		Enabled:           policy.Enabled,
		Rules:             make(map[string]RuleSettings, len(policy.Rules)),
		Severity:          make(map[string]int, len(policy.Severity)),
		Escalation:        make(map[int]EscalationSettings, len(policy.Escalation)),
		ProtectedSeverity: make(map[string]int),
	}
	for action, rule := range policy.Rules {
		cfg.Rules[string(action)] = RuleSettings{Limit: rule.Limit, WindowSeconds: int(rule.Window / time.Second)}
	}
	for action, level := range policy.Severity {
		cfg.Severity[string(action)] = int(level)
	}
	for level, step := range policy.Escalation {
		cfg.Escalation[int(level)] = EscalationSettings{Action: string(step.Action), DurationSeconds: int(step.Duration / time.Second)}
	}
	return cfg
}

// Policy converts the defaults into a validated engine policy.
func (a AntiNukeConfig) Policy() (antinuke.Policy, error) {
	policy := antinuke.Policy{
		Version:       antinuke.PolicyVersion,
		Enabled:       a.Enabled,
		Rules:         make(map[antinuke.ActionType]antinuke.RuleConfig, len(a.Rules)),
		Severity:      make(map[antinuke.ActionType]antinuke.Level, len(a.Severity)),
		Escalation:    make(antinuke.EscalationTable, len(a.Escalation)),
		ContainWindow: time.Duration(a.ContainSeconds) * time.Second,
	}
	for _, key := range sortedKeys(a.Rules) {
		action, ok := antinuke.ParseAction(key)
		if !ok {
			return antinuke.Policy{}, fmt.Errorf("%w: unknown action %q", antinuke.ErrInvalidRuleConfig, key)
		}
		rule := a.Rules[key]
		policy.Rules[action] = antinuke.RuleConfig{Limit: rule.Limit, Window: time.Duration(rule.WindowSeconds) * time.Second}
	}
	for _, key := range sortedKeys(a.Severity) {
		action, ok := antinuke.ParseAction(key)
		if !ok {
			return antinuke.Policy{}, fmt.Errorf("%w: unknown action %q", antinuke.ErrInvalidRuleConfig, key)
		}
		policy.Severity[action] = antinuke.Level(a.Severity[key])
	}
	for level, step := range a.Escalation {
		policy.Escalation[antinuke.Level(level)] = antinuke.EscalationStep{
			Action:   antinuke.Punishment(strings.ToLower(step.Action)),
			Duration: time.Duration(step.DurationSeconds) * time.Second,
		}
	}
	if len(a.ProtectedSeverity) > 0 {
		policy.ProtectedSeverity = make(map[antinuke.ResourceType]antinuke.Level, len(a.ProtectedSeverity))
		for key, level := range a.ProtectedSeverity {
			kind, ok := antinuke.ParseResourceType(key)
			if !ok {
				return antinuke.Policy{}, fmt.Errorf("%w: unknown resource type %q", antinuke.ErrInvalidRuleConfig, key)
			}
			policy.ProtectedSeverity[kind] = antinuke.Level(level)
		}
	}
	if err := policy.Validate(); err != nil {
		return antinuke.Policy{}, err
	}
	return policy, nil
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	applyPreset(&cfg)
	if cfg.Snapshots.Retention <= 0 {
		cfg.Snapshots.Retention = antinuke.DefaultSnapshotCapacity
	}
	if cfg.Playbook.LockdownMinutes <= 0 {
		cfg.Playbook.LockdownMinutes = 10
	}
	if cfg.Playbook.MinLevel < int(antinuke.LevelMin) || cfg.Playbook.MinLevel > int(antinuke.LevelMax) {
		return Config{}, fmt.Errorf("playbook min_level %d out of range", cfg.Playbook.MinLevel)
	}
	if _, err := cfg.AntiNuke.Policy(); err != nil {
		return Config{}, fmt.Errorf("antinuke defaults: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DataDir = envString("DATA_DIR", cfg.DataDir)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Snapshots.IntervalSeconds = envInt("SNAPSHOT_INTERVAL_SECONDS", cfg.Snapshots.IntervalSeconds)
	cfg.Snapshots.Retention = envInt("SNAPSHOT_RETENTION", cfg.Snapshots.Retention)
	cfg.AntiNuke.Enabled = envBool("ANTINUKE_ENABLED", cfg.AntiNuke.Enabled)
	cfg.AntiNuke.ContainSeconds = envInt("ANTINUKE_CONTAIN_SECONDS", cfg.AntiNuke.ContainSeconds)
	cfg.Playbook.Enabled = envBool("PLAYBOOK_ENABLED", cfg.Playbook.Enabled)
	cfg.Playbook.LockdownMinutes = envInt("PLAYBOOK_LOCKDOWN_MINUTES", cfg.Playbook.LockdownMinutes)
	cfg.Playbook.MinLevel = envInt("PLAYBOOK_MIN_LEVEL", cfg.Playbook.MinLevel)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
	cfg.Notifications.EmbedColors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.Notifications.EmbedColors.Success)
}

// BuildLogger returns a JSON production logger. Levels other than debug,
// info, warn and error fall back to info.
func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil || lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

// applyPreset scales every rule limit: low doubles them, high halves them.
// Limits never drop below one.
func applyPreset(cfg *Config) {
	for key, rule := range cfg.AntiNuke.Rules {
		switch cfg.RulePreset {
		case "low":
			rule.Limit *= 2
		case "high":
			rule.Limit = max(1, rule.Limit/2)
		}
		cfg.AntiNuke.Rules[key] = rule
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
