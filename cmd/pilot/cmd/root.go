// Package cmd implements the CLI commands for the pilot binary.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seer-Labs-Inc/device-pilot/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "Captures RTSP motion/light events into self-contained MP4 files",
	Long: `pilot ingests a MAIN (high-res) and SUB (low-res) RTSP stream from one
camera, detects motion and light-level jumps on the SUB stream, and
assembles one self-contained MP4 per detected event from MAIN-stream
segments, including a pre-roll window captured before the event began.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: none, env/flags only)")
	flags.String("rtsp-main", "", "MAIN (high-res) RTSP URL (env RTSP_URL_MAIN)")
	flags.String("rtsp-sub", "", "SUB (low-res) RTSP URL (env RTSP_URL_SUB)")
	flags.Int("segment-seconds", 5, "MAIN stream HLS segment length in seconds")
	flags.Int("pre-roll", 10, "seconds of footage to retain before a detected event")
	flags.Int("cooldown", 10, "seconds of continued quiet before ending a session")
	flags.Int("startup-delay-seconds", 10, "seconds to suppress triggers after stream (re)connect")
	flags.Float64("min-motion-seconds", 0.5, "seconds motion score must stay above threshold before triggering")
	flags.Float64("motion-threshold", 0.02, "fraction of frame considered foreground to trigger motion")
	flags.Float64("light-threshold", 30.0, "absolute luminance delta between frames to trigger a light jump")
	flags.Duration("max-reconnect-delay", 0, "cap on exponential reconnect backoff (0 = default 30s)")
	flags.String("buffer-dir", "", "scratch directory for MAIN stream HLS segments")
	flags.String("sessions-dir", "", "scratch directory for in-progress session concat manifests")
	flags.String("evidence-dir", "", "directory finished event MP4s are written to")
	flags.Int("recorder-workers", 2, "number of concurrent MP4-assembly workers")
	flags.BoolP("verbose", "v", false, "enable debug-level logging")
	flags.String("log-format", "text", "log output format (text, json)")
	flags.String("health-addr", "127.0.0.1:8642", "address to serve /healthz and /logs/stream on")
	flags.String("history-db-path", "", "path to the SQLite session-history database")

	bindAll(flags)
}

func bindAll(flags *pflag.FlagSet) {
	bindings := map[string]string{
		"rtsp-main":             "rtsp_main",
		"rtsp-sub":              "rtsp_sub",
		"segment-seconds":       "segment_seconds",
		"pre-roll":              "pre_roll_seconds",
		"cooldown":              "cooldown_seconds",
		"startup-delay-seconds": "startup_delay_seconds",
		"min-motion-seconds":    "min_motion_seconds",
		"motion-threshold":      "motion_threshold",
		"light-threshold":       "light_jump_threshold",
		"max-reconnect-delay":   "max_reconnect_delay",
		"buffer-dir":            "buffer_dir",
		"sessions-dir":          "sessions_dir",
		"evidence-dir":          "evidence_dir",
		"recorder-workers":      "recorder_workers",
		"verbose":               "verbose",
		"log-format":            "log_format",
		"health-addr":           "health_addr",
		"history-db-path":       "history_db_path",
	}
	for flagName, key := range bindings {
		mustBindPFlag(key, flags.Lookup(flagName))
	}
}

// initConfig wires viper's config-file and environment-variable layers.
// Precedence (highest first): explicit CLI flags, PILOT_* environment
// variables, RTSP_URL_MAIN/RTSP_URL_SUB legacy environment variables,
// config file, defaults.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: failed to read config file:", err)
		}
	}

	viper.SetEnvPrefix("PILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// RTSP_URL_MAIN / RTSP_URL_SUB are bare, un-prefixed legacy env vars;
	// the explicit two-arg BindEnv form binds to that literal name
	// instead of going through SetEnvPrefix/AutomaticEnv.
	viper.BindEnv("rtsp_main", "RTSP_URL_MAIN")
	viper.BindEnv("rtsp_sub", "RTSP_URL_SUB")
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("no such flag for viper key %q", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
