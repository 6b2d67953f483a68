// Package config loads and validates Device Pilot's runtime configuration
// from CLI flags, environment variables and an optional config file, with
// CLI flags taking precedence over environment over defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one Device Pilot run.
// It is built once at startup and passed down explicitly to every
// component constructor; no component reads environment or flags itself.
type Config struct {
	RTSPMain string `mapstructure:"rtsp_main"`
	RTSPSub  string `mapstructure:"rtsp_sub"`

	SegmentSeconds int `mapstructure:"segment_seconds"`

	PreRollSeconds      int           `mapstructure:"pre_roll_seconds"`
	CooldownSeconds     int           `mapstructure:"cooldown_seconds"`
	StartupDelaySeconds int           `mapstructure:"startup_delay_seconds"`
	MinMotionSeconds    float64       `mapstructure:"min_motion_seconds"`
	MotionThreshold     float64       `mapstructure:"motion_threshold"`
	LightJumpThreshold  float64       `mapstructure:"light_jump_threshold"`
	MaxReconnectDelay   time.Duration `mapstructure:"max_reconnect_delay"`

	BufferDir   string `mapstructure:"buffer_dir"`
	SessionsDir string `mapstructure:"sessions_dir"`
	EvidenceDir string `mapstructure:"evidence_dir"`

	RecorderWorkers int `mapstructure:"recorder_workers"`

	Verbose   bool   `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log_format"`

	HealthAddr string `mapstructure:"health_addr"`

	HistoryDBPath string `mapstructure:"history_db_path"`
}

// SetDefaults populates viper with every default value so a fresh
// install runs with no config file and no environment at all (other
// than the two required RTSP URLs).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("segment_seconds", 5)
	v.SetDefault("pre_roll_seconds", 10)
	v.SetDefault("cooldown_seconds", 10)
	v.SetDefault("startup_delay_seconds", 10)
	v.SetDefault("min_motion_seconds", 0.5)
	v.SetDefault("motion_threshold", 0.02)
	v.SetDefault("light_jump_threshold", 30.0)
	v.SetDefault("max_reconnect_delay", 30*time.Second)
	v.SetDefault("buffer_dir", "/var/lib/device-pilot/buffer")
	v.SetDefault("sessions_dir", "/var/lib/device-pilot/sessions")
	v.SetDefault("evidence_dir", "/var/lib/device-pilot/evidence")
	v.SetDefault("recorder_workers", 2)
	v.SetDefault("verbose", false)
	v.SetDefault("log_format", "text")
	v.SetDefault("health_addr", "127.0.0.1:8642")
	v.SetDefault("history_db_path", "/var/lib/device-pilot/history.db")
}

// Load reads a Config out of an already-populated viper instance (flags,
// env and config file all merged per viper's own precedence rules).
func Load(v *viper.Viper) (*Config, error) {
	// rtsp_main/rtsp_sub are bound (see cmd/root.go's initConfig) directly
	// to the bare RTSP_URL_MAIN/RTSP_URL_SUB env vars via the two-arg
	// viper.BindEnv form, so a plain Unmarshal already resolves them with
	// the right precedence: flag > RTSP_URL_MAIN/SUB > config file > default.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate fails fast on any configuration error that must abort startup
// with exit code 1.
func (c *Config) Validate() error {
	if c.RTSPMain == "" {
		return fmt.Errorf("RTSP_URL_MAIN (or --rtsp-main) is required")
	}
	if c.RTSPSub == "" {
		return fmt.Errorf("RTSP_URL_SUB (or --rtsp-sub) is required")
	}
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("segment-seconds must be > 0, got %d", c.SegmentSeconds)
	}
	if c.PreRollSeconds < 0 {
		return fmt.Errorf("pre-roll must be >= 0, got %d", c.PreRollSeconds)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %d", c.CooldownSeconds)
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 1 {
		return fmt.Errorf("motion-threshold must be in [0,1], got %f", c.MotionThreshold)
	}
	if c.LightJumpThreshold < 0 || c.LightJumpThreshold > 255 {
		return fmt.Errorf("light-threshold must be in [0,255], got %f", c.LightJumpThreshold)
	}
	if c.RecorderWorkers <= 0 {
		return fmt.Errorf("recorder-workers must be > 0, got %d", c.RecorderWorkers)
	}
	if c.BufferDir == "" || c.SessionsDir == "" || c.EvidenceDir == "" {
		return fmt.Errorf("buffer-dir, sessions-dir and evidence-dir are all required")
	}
	return nil
}

// PreRollSegmentCount returns ceil(PreRollSeconds / SegmentSeconds).
func (c *Config) PreRollSegmentCount() int {
	if c.PreRollSeconds <= 0 {
		return 0
	}
	n := c.PreRollSeconds / c.SegmentSeconds
	if c.PreRollSeconds%c.SegmentSeconds != 0 {
		n++
	}
	return n
}

// RetentionSegmentCount returns R = ceil(maxPreRoll / S) + headroom, the
// number of most-recent segments the buffer must retain.
func (c *Config) RetentionSegmentCount() int {
	const headroom = 2
	return c.PreRollSegmentCount() + headroom
}
