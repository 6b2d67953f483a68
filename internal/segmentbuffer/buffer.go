// Package segmentbuffer runs FFmpeg against the MAIN RTSP stream,
// discovers newly-closed HLS segments through a filesystem watcher,
// enforces retention, and supervises the sub-process with
// exponential-backoff restart and hard reset.
package segmentbuffer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/backoff"
	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
	"github.com/Seer-Labs-Inc/device-pilot/internal/fswatch"
)

// Listener receives segments in strict sequence order, one at a time.
type Listener func(domain.Segment)

// Config configures a Buffer.
type Config struct {
	RTSPURL           string
	Dir               string
	SegmentSeconds    int
	Retention         int
	FFmpegPath        string
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxFailedRestarts int
	MaxUnhealthyWindow time.Duration
	StopGrace         time.Duration
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxFailedRestarts == 0 {
		c.MaxFailedRestarts = 10
	}
	if c.MaxUnhealthyWindow == 0 {
		c.MaxUnhealthyWindow = 2 * time.Minute
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Buffer is the SegmentBuffer component.
type Buffer struct {
	cfg     Config
	watcher fswatch.Watcher
	clock   clock.Clock
	logger  *slog.Logger
	backoff *backoff.Backoff

	mu            sync.Mutex
	segments      []domain.Segment
	lastSegmentAt time.Time
	subscribers   map[int]Listener
	nextSubID     int

	seq atomic.Uint64

	procMu sync.Mutex
	cmd    *exec.Cmd
}

// New creates a Buffer. watcher and clk may be fakes in tests.
func New(cfg Config, watcher fswatch.Watcher, clk clock.Clock, logger *slog.Logger) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		cfg:         cfg,
		watcher:     watcher,
		clock:       clk,
		logger:      logger,
		backoff:     backoff.New(cfg.InitialBackoff, cfg.MaxBackoff, 0),
		subscribers: make(map[int]Listener),
	}
}

// String names this service for the supervision tree.
func (b *Buffer) String() string { return "segmentbuffer" }

// Subscribe registers a listener for newly-discovered segments. The
// returned func unsubscribes.
func (b *Buffer) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// RecentSegments returns the youngest count segment paths in playback
// order. Never blocks.
func (b *Buffer) RecentSegments(count int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if count > len(b.segments) {
		count = len(b.segments)
	}
	if count <= 0 {
		return nil
	}
	start := len(b.segments) - count
	out := make([]string, count)
	for i, s := range b.segments[start:] {
		out[i] = s.Path
	}
	return out
}

// RecentSegmentRecords is like RecentSegments but returns full segment
// records (including sequence and creation time), which the
// SessionManager needs to seed a new Session's pre-roll list.
func (b *Buffer) RecentSegmentRecords(count int) []domain.Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	if count > len(b.segments) {
		count = len(b.segments)
	}
	if count <= 0 {
		return nil
	}
	start := len(b.segments) - count
	out := make([]domain.Segment, count)
	copy(out, b.segments[start:])
	return out
}

// Serve runs the buffer until ctx is cancelled, satisfying suture.Service.
func (b *Buffer) Serve(ctx context.Context) error {
	if err := b.prepareDir(); err != nil {
		return fmt.Errorf("prepare buffer dir: %w", err)
	}

	events, err := b.watcher.Watch(ctx, b.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watch buffer dir: %w", err)
	}

	b.mu.Lock()
	b.lastSegmentAt = b.clock.Now()
	b.mu.Unlock()

	go b.discoveryLoop(ctx, events)
	go b.watchdogLoop(ctx)

	return b.superviseLoop(ctx)
}

func (b *Buffer) prepareDir() error {
	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return err
	}
	return b.wipeStaleSegments()
}

func (b *Buffer) wipeStaleSegments() error {
	matches, err := filepath.Glob(filepath.Join(b.cfg.Dir, "clip_*.ts"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		os.Remove(m)
	}
	return nil
}

var segmentFileRE = regexp.MustCompile(`clip_\d+\.ts$`)

func (b *Buffer) discoveryLoop(ctx context.Context, events <-chan fswatch.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != fswatch.ClosedWrite || !segmentFileRE.MatchString(ev.Path) {
				continue
			}
			b.onSegmentClosed(ev.Path)
		}
	}
}

func (b *Buffer) onSegmentClosed(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return
	}

	seg := domain.Segment{
		Path:      path,
		Seq:       b.seq.Add(1),
		CreatedAt: b.clock.Now(),
		Duration:  time.Duration(b.cfg.SegmentSeconds) * time.Second,
	}

	b.mu.Lock()
	b.segments = append(b.segments, seg)
	b.lastSegmentAt = seg.CreatedAt
	b.applyRetentionLocked()
	listeners := make([]Listener, 0, len(b.subscribers))
	for _, l := range b.subscribers {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	b.logger.Info("segment discovered", "path", path, "seq", seg.Seq)
	for _, l := range listeners {
		l(seg)
	}
}

// applyRetentionLocked deletes the oldest segments beyond cfg.Retention.
// Caller must hold b.mu.
func (b *Buffer) applyRetentionLocked() {
	excess := len(b.segments) - b.cfg.Retention
	if excess <= 0 {
		return
	}
	for _, s := range b.segments[:excess] {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("retention delete failed", "path", s.Path, "error", err)
		}
	}
	b.segments = b.segments[excess:]
}

func (b *Buffer) lastSegmentAtSnapshot() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSegmentAt
}

// watchdogLoop declares the stream unhealthy (and kills the current
// ffmpeg process, forcing a supervised restart) once the inter-segment
// gap exceeds 2*S for three consecutive expected ticks.
func (b *Buffer) watchdogLoop(ctx context.Context) {
	interval := time.Duration(b.cfg.SegmentSeconds) * time.Second
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	badTicks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticker.C():
			if !ok {
				return
			}
			gap := now.Sub(b.lastSegmentAtSnapshot())
			if gap > 2*interval {
				badTicks++
			} else {
				badTicks = 0
			}
			if badTicks >= 3 {
				b.logger.Warn("segment gap exceeded threshold, forcing restart", "gap", gap)
				b.killCurrentProcess()
				badTicks = 0
			}
		}
	}
}

func (b *Buffer) setCmd(cmd *exec.Cmd) {
	b.procMu.Lock()
	b.cmd = cmd
	b.procMu.Unlock()
}

func (b *Buffer) clearCmd() {
	b.procMu.Lock()
	b.cmd = nil
	b.procMu.Unlock()
}

func (b *Buffer) killCurrentProcess() {
	b.procMu.Lock()
	cmd := b.cmd
	b.procMu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}

// superviseLoop owns the restart policy: exponential backoff on failure,
// hard reset after MaxFailedRestarts consecutive failures or
// MaxUnhealthyWindow with no healthy segment.
func (b *Buffer) superviseLoop(ctx context.Context) error {
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := b.clock.Now()
		err := runFFmpeg(ctx, b.cfg.FFmpegPath, b.cfg.RTSPURL, b.cfg.Dir, b.cfg.SegmentSeconds, b.logger, b.setCmd)
		b.clearCmd()
		runtime := b.clock.Now().Sub(start)

		if ctx.Err() != nil {
			b.gracefulStop()
			return nil
		}

		if err != nil {
			consecutiveFailures++
			b.backoff.RecordFailure()
			b.logger.Info("ffmpeg exited, will restart",
				"url", sanitizeURLForLog(b.cfg.RTSPURL), "error", err,
				"attempt", b.backoff.Attempts(), "delay", b.backoff.CurrentDelay())
		} else {
			consecutiveFailures = 0
			b.backoff.RecordSuccess(runtime)
		}

		unhealthyFor := b.clock.Now().Sub(b.lastSegmentAtSnapshot())
		if consecutiveFailures >= b.cfg.MaxFailedRestarts || unhealthyFor > b.cfg.MaxUnhealthyWindow {
			b.hardReset()
			consecutiveFailures = 0
			continue
		}

		if werr := b.backoff.WaitContext(ctx); werr != nil {
			return nil
		}
	}
}

// hardReset wipes the buffer directory and resets backoff/segment state.
// The next superviseLoop iteration restarts ffmpeg from scratch.
func (b *Buffer) hardReset() {
	b.logger.Warn("performing hard reset", "dir", b.cfg.Dir)
	b.killCurrentProcess()

	b.mu.Lock()
	b.segments = nil
	b.lastSegmentAt = b.clock.Now()
	b.mu.Unlock()

	if err := b.wipeStaleSegments(); err != nil {
		b.logger.Warn("hard reset wipe failed", "error", err)
	}
	b.backoff.Reset()
}

// gracefulStop sends the running process a termination signal and waits
// up to StopGrace before force-killing, per the stop() contract.
func (b *Buffer) gracefulStop() {
	b.procMu.Lock()
	cmd := b.cmd
	b.procMu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.cfg.StopGrace):
		cmd.Process.Kill()
	}
}
