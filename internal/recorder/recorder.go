// Package recorder finalizes a COMPLETED-or-FINALIZING session: it
// assembles the ordered list of segment files, produces a concat
// manifest, and invokes FFmpeg in stream-copy mode to produce one MP4,
// on a fixed-size worker pool so MP4 assembly can outlive the next
// detector event.
package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/session"
)

// CompletionFunc reports a finalized session's outcome back to the event
// loop. It must not mutate the Session directly — only the event-loop
// goroutine is allowed to call session.MarkCompleted/MarkFailed, so the
// single-mutator invariant holds even though workers run concurrently.
type CompletionFunc func(sessionID string, ok bool)

// HistoryRecorder records operational history for a finalized session.
// A nil HistoryRecorder disables history entirely.
type HistoryRecorder interface {
	RecordSession(id string, startedAt, completedAt time.Time, phase, outputPath, errMsg string) error
}

// Config configures the Recorder.
type Config struct {
	SessionsDir string
	FFmpegPath  string
	Workers     int
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Recorder is the Recorder component: a worker pool draining a job
// queue of FINALIZING sessions.
type Recorder struct {
	cfg        Config
	clock      clock.Clock
	logger     *slog.Logger
	onComplete CompletionFunc
	history    HistoryRecorder

	jobs chan *session.Session
}

// New creates a Recorder. onComplete is invoked once per finalized
// session with the outcome; it is expected to forward into the event
// loop's input queue.
func New(cfg Config, clk clock.Clock, logger *slog.Logger, onComplete CompletionFunc, history HistoryRecorder) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		onComplete: onComplete,
		history:    history,
		jobs:       make(chan *session.Session, 64),
	}
}

// String names this service for the supervision tree.
func (r *Recorder) String() string { return "recorder" }

// Finalize enqueues s for assembly. It never blocks the caller (the
// SessionManager's event loop must never wait on Recorder work).
func (r *Recorder) Finalize(s *session.Session) {
	select {
	case r.jobs <- s:
	default:
		go func() { r.jobs <- s }()
	}
}

// Serve runs the worker pool until ctx is cancelled, satisfying
// suture.Service.
func (r *Recorder) Serve(ctx context.Context) error {
	done := make(chan struct{})
	for i := 0; i < r.cfg.Workers; i++ {
		go r.worker(ctx, done)
	}

	<-ctx.Done()
	for i := 0; i < r.cfg.Workers; i++ {
		<-done
	}
	return nil
}

func (r *Recorder) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.jobs:
			ok := r.process(ctx, s)
			r.onComplete(s.ID, ok)
		}
	}
}

func (r *Recorder) process(ctx context.Context, s *session.Session) bool {
	paths := dedupeExisting(s.SegmentPaths(), r.logger)
	if len(paths) == 0 {
		r.logger.Error("no usable segments for session", "session", s.ID)
		r.recordHistory(s, false, "no usable segments")
		return false
	}

	scratchDir := filepath.Join(r.cfg.SessionsDir, s.ID)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		r.logger.Error("failed to create scratch dir", "session", s.ID, "error", err)
		r.recordHistory(s, false, err.Error())
		return false
	}

	manifestPath := filepath.Join(scratchDir, "concat.txt")
	if err := writeManifest(manifestPath, paths); err != nil {
		r.logger.Error("failed to write concat manifest", "session", s.ID, "error", err)
		r.recordHistory(s, false, err.Error())
		return false
	}

	if err := os.MkdirAll(filepath.Dir(s.OutputPath), 0o755); err != nil {
		r.logger.Error("failed to create evidence dir", "session", s.ID, "error", err)
		r.recordHistory(s, false, err.Error())
		return false
	}

	err := runConcat(ctx, r.cfg.FFmpegPath, manifestPath, s.OutputPath)
	if err != nil {
		r.logger.Info("concat attempt failed, retrying once", "session", s.ID, "error", err)
		select {
		case <-ctx.Done():
			r.recordHistory(s, false, "cancelled during retry wait")
			return false
		case <-r.clock.After(r.cfg.RetryDelay):
		}
		err = runConcat(ctx, r.cfg.FFmpegPath, manifestPath, s.OutputPath)
	}

	if err != nil {
		r.logger.Error("concat failed twice, session failed", "session", s.ID, "error", err, "scratch_dir", scratchDir)
		r.recordHistory(s, false, err.Error())
		return false
	}

	r.fsyncOutput(s.OutputPath)
	os.RemoveAll(scratchDir)
	r.recordHistory(s, true, "")
	return true
}

func (r *Recorder) fsyncOutput(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	f.Sync()
}

func (r *Recorder) recordHistory(s *session.Session, ok bool, errMsg string) {
	if r.history == nil {
		return
	}
	phase := "COMPLETED"
	if !ok {
		phase = "FAILED"
	}
	if err := r.history.RecordSession(s.ID, s.StartedAt, r.clock.Now(), phase, s.OutputPath, errMsg); err != nil {
		r.logger.Warn("failed to write session history", "session", s.ID, "error", err)
	}
}
