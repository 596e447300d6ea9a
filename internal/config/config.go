// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `resmeter:` root key in YAML.
type GlobalConfig struct {
	Capture    CaptureConfig    `mapstructure:"capture"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Decoder    DecoderConfig    `mapstructure:"decoder"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Server     ServerConfig     `mapstructure:"server"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Reporters  []ReporterConfig `mapstructure:"reporters"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects a capture plugin. Options are passed to the plugin's Init verbatim.
type CaptureConfig struct {
	Type        string         `mapstructure:"type"` // pcap | afpacket | file
	Interface   string         `mapstructure:"interface"`
	File        string         `mapstructure:"file"`
	BPFFilter   string         `mapstructure:"bpf_filter"`
	SnapLen     int            `mapstructure:"snap_len"`
	Promiscuous bool           `mapstructure:"promiscuous"`
	QueueSize   int            `mapstructure:"queue_size"`
	Options     map[string]any `mapstructure:"options"`
}

// PluginOptions merges the typed fields into the free-form option map.
func (c CaptureConfig) PluginOptions() map[string]any {
	opts := make(map[string]any, len(c.Options)+5)
	for k, v := range c.Options {
		opts[k] = v
	}
	if c.Interface != "" {
		opts["interface"] = c.Interface
	}
	if c.File != "" {
		opts["file"] = c.File
	}
	if c.BPFFilter != "" {
		opts["bpf_filter"] = c.BPFFilter
	}
	if c.SnapLen > 0 {
		opts["snap_len"] = c.SnapLen
	}
	opts["promiscuous"] = c.Promiscuous
	return opts
}

// ─── Stream reconstruction ───

// ReassemblyConfig tunes the server stream reconstructor.
type ReassemblyConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SegmentTTL    time.Duration `mapstructure:"segment_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Identifiers   []string      `mapstructure:"identifiers"` // signature | login_return | uplink
}

// ─── Frame decoding ───

// DecoderConfig tunes frame splitting and decoding.
type DecoderConfig struct {
	MaxFrameSize  int    `mapstructure:"max_frame_size"`
	MaxDepth      int    `mapstructure:"max_depth"`
	ServiceID     uint64 `mapstructure:"service_id"`
	Decompression string `mapstructure:"decompression"` // zstd | none
}

// ─── Statistics ───

// StatsConfig tunes the aggregation engine.
type StatsConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	UseCaptureTime bool          `mapstructure:"use_capture_time"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// ─── Presentation ───

// ServerConfig configures the HTTP/WebSocket presentation server.
type ServerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Listen            string        `mapstructure:"listen"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
}

// ─── Profile cache ───

// ProfileConfig selects the player profile store.
type ProfileConfig struct {
	Backend       string        `mapstructure:"backend"` // memory | file | redis
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ─── Reporters ───

// ReporterConfig enables one reporter plugin.
type ReporterConfig struct {
	Name     string         `mapstructure:"name"`
	Interval time.Duration  `mapstructure:"interval"`
	Options  map[string]any `mapstructure:"options"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"` // trace / debug / info / warn / error
	Pattern string           `mapstructure:"pattern"`
	Time    string           `mapstructure:"time"`
	Caller  bool             `mapstructure:"caller"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations beyond stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `resmeter: ...`.
type configRoot struct {
	Resmeter GlobalConfig `mapstructure:"resmeter"`
}

// Load loads configuration from file. An empty path yields defaults only.
// Env vars use the RESMETER_ prefix (e.g. RESMETER_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `resmeter.` key prefix maps to `RESMETER_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Resmeter

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values. All keys use the "resmeter." prefix.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("resmeter.capture.type", "pcap")
	v.SetDefault("resmeter.capture.bpf_filter", "ip and tcp")
	v.SetDefault("resmeter.capture.snap_len", 65535)
	v.SetDefault("resmeter.capture.promiscuous", true)
	v.SetDefault("resmeter.capture.queue_size", 8192)

	// Reassembly defaults
	v.SetDefault("resmeter.reassembly.idle_timeout", "30s")
	v.SetDefault("resmeter.reassembly.segment_ttl", "10s")
	v.SetDefault("resmeter.reassembly.sweep_interval", "1s")
	v.SetDefault("resmeter.reassembly.identifiers", []string{"signature", "login_return", "uplink"})

	// Decoder defaults
	v.SetDefault("resmeter.decoder.max_frame_size", 1<<20)
	v.SetDefault("resmeter.decoder.max_depth", 16)
	v.SetDefault("resmeter.decoder.service_id", 0x63335342)
	v.SetDefault("resmeter.decoder.decompression", "zstd")

	// Stats defaults
	v.SetDefault("resmeter.stats.tick_interval", "100ms")
	v.SetDefault("resmeter.stats.use_capture_time", false)
	v.SetDefault("resmeter.stats.queue_size", 4096)

	// Server defaults
	v.SetDefault("resmeter.server.enabled", true)
	v.SetDefault("resmeter.server.listen", ":8989")
	v.SetDefault("resmeter.server.broadcast_interval", "50ms")

	// Profile defaults
	v.SetDefault("resmeter.profile.backend", "memory")
	v.SetDefault("resmeter.profile.path", "players.yaml")
	v.SetDefault("resmeter.profile.flush_interval", "30s")
	v.SetDefault("resmeter.profile.redis.addr", "127.0.0.1:6379")
	v.SetDefault("resmeter.profile.redis.key_prefix", "resmeter:player:")

	// Metrics defaults
	v.SetDefault("resmeter.metrics.enabled", false)
	v.SetDefault("resmeter.metrics.listen", ":9091")
	v.SetDefault("resmeter.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("resmeter.log.level", "info")
	v.SetDefault("resmeter.log.pattern", "%time [%level] %field: %msg")
	v.SetDefault("resmeter.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("resmeter.log.outputs.file.enabled", false)
	v.SetDefault("resmeter.log.outputs.file.path", "resmeter.log")
	v.SetDefault("resmeter.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("resmeter.log.outputs.file.rotation.max_age_days", 7)
	v.SetDefault("resmeter.log.outputs.file.rotation.max_backups", 3)
	v.SetDefault("resmeter.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and fills runtime defaults
// for values left at zero by an explicit override.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	// ── Capture ──
	switch cfg.Capture.Type {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("capture.file is required when capture.type=file")
		}
	default:
		return fmt.Errorf("unsupported capture.type: %s (must be pcap/afpacket/file)", cfg.Capture.Type)
	}
	if cfg.Capture.QueueSize <= 0 {
		cfg.Capture.QueueSize = 8192
	}

	// ── Reassembly ──
	if cfg.Reassembly.IdleTimeout <= 0 {
		cfg.Reassembly.IdleTimeout = 30 * time.Second
	}
	if cfg.Reassembly.SegmentTTL <= 0 {
		cfg.Reassembly.SegmentTTL = 10 * time.Second
	}
	if cfg.Reassembly.SweepInterval <= 0 {
		cfg.Reassembly.SweepInterval = time.Second
	}
	for _, id := range cfg.Reassembly.Identifiers {
		switch id {
		case "signature", "login_return", "uplink":
		default:
			return fmt.Errorf("unknown reassembly identifier: %s", id)
		}
	}

	// ── Decoder ──
	if cfg.Decoder.MaxFrameSize < 6 {
		return fmt.Errorf("decoder.max_frame_size must be at least 6, got %d", cfg.Decoder.MaxFrameSize)
	}
	if cfg.Decoder.MaxDepth <= 0 {
		cfg.Decoder.MaxDepth = 16
	}
	if cfg.Decoder.Decompression != "zstd" && cfg.Decoder.Decompression != "none" {
		return fmt.Errorf("invalid decoder.decompression: %s (must be zstd/none)", cfg.Decoder.Decompression)
	}

	// ── Stats ──
	if cfg.Stats.TickInterval <= 0 {
		cfg.Stats.TickInterval = 100 * time.Millisecond
	}
	if cfg.Stats.QueueSize <= 0 {
		cfg.Stats.QueueSize = 4096
	}

	// ── Server ──
	if cfg.Server.BroadcastInterval <= 0 {
		cfg.Server.BroadcastInterval = 50 * time.Millisecond
	}

	// ── Profile ──
	switch cfg.Profile.Backend {
	case "memory":
	case "file":
		if cfg.Profile.Path == "" {
			return fmt.Errorf("profile.path is required when profile.backend=file")
		}
	case "redis":
		if cfg.Profile.Redis.Addr == "" {
			return fmt.Errorf("profile.redis.addr is required when profile.backend=redis")
		}
	default:
		return fmt.Errorf("unsupported profile.backend: %s (must be memory/file/redis)", cfg.Profile.Backend)
	}

	// ── Reporters ──
	for i, r := range cfg.Reporters {
		if r.Name == "" {
			return fmt.Errorf("reporters[%d].name is required", i)
		}
		if r.Interval <= 0 {
			cfg.Reporters[i].Interval = 5 * time.Second
		}
	}

	return nil
}
