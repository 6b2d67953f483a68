package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	v := newTestViper()
	v.Set("rtsp_main", "rtsp://cam/main")
	v.Set("rtsp_sub", "rtsp://cam/sub")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SegmentSeconds != 5 {
		t.Errorf("SegmentSeconds = %d, want 5", cfg.SegmentSeconds)
	}
	if cfg.MaxReconnectDelay != 30*time.Second {
		t.Errorf("MaxReconnectDelay = %v, want 30s", cfg.MaxReconnectDelay)
	}
	if cfg.RecorderWorkers != 2 {
		t.Errorf("RecorderWorkers = %d, want 2", cfg.RecorderWorkers)
	}
}

// TestLoadFallsBackToLegacyEnvKeys exercises the same two-arg BindEnv
// wiring cmd/root.go's initConfig performs: RTSP_URL_MAIN/RTSP_URL_SUB
// are bare, un-prefixed env vars, not PILOT_RTSP_URL_MAIN/SUB.
func TestLoadFallsBackToLegacyEnvKeys(t *testing.T) {
	t.Setenv("RTSP_URL_MAIN", "rtsp://cam/main")
	t.Setenv("RTSP_URL_SUB", "rtsp://cam/sub")

	v := newTestViper()
	v.SetEnvPrefix("PILOT")
	v.AutomaticEnv()
	if err := v.BindEnv("rtsp_main", "RTSP_URL_MAIN"); err != nil {
		t.Fatalf("BindEnv(rtsp_main) error = %v", err)
	}
	if err := v.BindEnv("rtsp_sub", "RTSP_URL_SUB"); err != nil {
		t.Fatalf("BindEnv(rtsp_sub) error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RTSPMain != "rtsp://cam/main" {
		t.Errorf("RTSPMain = %q, want rtsp://cam/main", cfg.RTSPMain)
	}
	if cfg.RTSPSub != "rtsp://cam/sub" {
		t.Errorf("RTSPSub = %q, want rtsp://cam/sub", cfg.RTSPSub)
	}
}

// TestLoadDoesNotPickUpPrefixedLegacyEnvKey guards against regressing
// to the prefixed form: PILOT_RTSP_URL_MAIN must NOT satisfy rtsp_main,
// only the bare RTSP_URL_MAIN does.
func TestLoadDoesNotPickUpPrefixedLegacyEnvKey(t *testing.T) {
	t.Setenv("PILOT_RTSP_URL_MAIN", "rtsp://wrong/main")

	v := newTestViper()
	v.SetEnvPrefix("PILOT")
	v.AutomaticEnv()
	if err := v.BindEnv("rtsp_main", "RTSP_URL_MAIN"); err != nil {
		t.Fatalf("BindEnv(rtsp_main) error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RTSPMain != "" {
		t.Errorf("RTSPMain = %q, want empty (PILOT_RTSP_URL_MAIN must not satisfy rtsp_main)", cfg.RTSPMain)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := newTestViper()
		v.Set("rtsp_main", "rtsp://cam/main")
		v.Set("rtsp_sub", "rtsp://cam/sub")
		cfg, _ := Load(v)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing main url", func(c *Config) { c.RTSPMain = "" }, true},
		{"missing sub url", func(c *Config) { c.RTSPSub = "" }, true},
		{"zero segment seconds", func(c *Config) { c.SegmentSeconds = 0 }, true},
		{"negative pre-roll", func(c *Config) { c.PreRollSeconds = -1 }, true},
		{"motion threshold too high", func(c *Config) { c.MotionThreshold = 1.5 }, true},
		{"light threshold negative", func(c *Config) { c.LightJumpThreshold = -1 }, true},
		{"zero recorder workers", func(c *Config) { c.RecorderWorkers = 0 }, true},
		{"missing buffer dir", func(c *Config) { c.BufferDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreRollSegmentCount(t *testing.T) {
	tests := []struct {
		name           string
		preRollSeconds int
		segmentSeconds int
		want           int
	}{
		{"zero pre-roll", 0, 5, 0},
		{"exact multiple", 10, 5, 2},
		{"rounds up", 4, 5, 1},
		{"S-1 rounds up to one segment", 4, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PreRollSeconds: tt.preRollSeconds, SegmentSeconds: tt.segmentSeconds}
			if got := cfg.PreRollSegmentCount(); got != tt.want {
				t.Errorf("PreRollSegmentCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetentionSegmentCount(t *testing.T) {
	cfg := &Config{PreRollSeconds: 10, SegmentSeconds: 5}
	if got, want := cfg.RetentionSegmentCount(), 4; got != want {
		t.Errorf("RetentionSegmentCount() = %d, want %d", got, want)
	}
}
