package detector

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/backoff"
	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
)

// Listener receives MotionStart/MotionStop events in strict alternation,
// beginning with MotionStart.
type Listener func(domain.MotionEvent)

// RunConfig configures the Detector's connection to the SUB stream.
type RunConfig struct {
	RTSPURL        string
	FFmpegPath     string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c RunConfig) withDefaults() RunConfig {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Detector is the Detector component: it runs ffmpeg against the SUB
// stream, parses per-frame metrics, and drives a State machine that
// emits motion events to listeners.
type Detector struct {
	cfg       RunConfig
	stateCfg  Config
	clock     clock.Clock
	logger    *slog.Logger
	backoff   *backoff.Backoff
	listeners []Listener
}

// New creates a Detector.
func New(cfg RunConfig, stateCfg Config, clk clock.Clock, logger *slog.Logger) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:      cfg,
		stateCfg: stateCfg,
		clock:    clk,
		logger:   logger,
		backoff:  backoff.New(cfg.InitialBackoff, cfg.MaxBackoff, 0),
	}
}

// String names this service for the supervision tree.
func (d *Detector) String() string { return "detector" }

// Subscribe registers a listener for motion events.
func (d *Detector) Subscribe(l Listener) {
	d.listeners = append(d.listeners, l)
}

func (d *Detector) emit(ev domain.MotionEvent) {
	for _, l := range d.listeners {
		l(ev)
	}
}

// Serve runs the detector until ctx is cancelled, reconnecting with
// exponential backoff and resetting all detector state on every
// reconnect, satisfying suture.Service.
func (d *Detector) Serve(ctx context.Context) error {
	state := NewState(d.stateCfg, d.clock)

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := d.clock.Now()
		err := d.runOnce(ctx, state)
		runtime := d.clock.Now().Sub(start)

		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			d.backoff.RecordFailure()
			d.logger.Info("sub-stream read failed, reconnecting",
				"error", err, "attempt", d.backoff.Attempts(), "delay", d.backoff.CurrentDelay())
		} else {
			d.backoff.RecordSuccess(runtime)
		}

		// Reset on every reconnect attempt (successful or not) so an
		// abrupt scene change on the new connection cannot spuriously
		// trigger using stale smoothing/background state.
		state.Reset()

		if werr := d.backoff.WaitContext(ctx); werr != nil {
			return nil
		}
	}
}

// runOnce starts ffmpeg, feeds parsed frame metrics through state, and
// emits any resulting motion events until ffmpeg exits or ctx cancels.
func (d *Detector) runOnce(ctx context.Context, state *State) error {
	args := buildFFmpegArgs(d.cfg.RTSPURL)
	cmd := exec.CommandContext(ctx, d.cfg.FFmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	metrics := make(chan frameMetric, 64)
	go func() {
		defer close(metrics)
		parseMetadataStream(stderr, metrics)
	}()

	for m := range metrics {
		now := d.clock.Now()
		_ = m.PTSSeconds
		for _, ev := range state.Observe(now, m.Scene, m.YAVG) {
			d.emit(ev)
		}
	}

	return cmd.Wait()
}
