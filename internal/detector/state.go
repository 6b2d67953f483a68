// Package detector reads frames from the SUB RTSP stream, computes
// motion and light scores, applies smoothing and hysteresis, and emits
// smoothed MotionStart/MotionStop events.
package detector

import (
	"math"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
)

// Config holds the detector's algorithmic thresholds.
type Config struct {
	SmoothingWindow     int
	Hysteresis          int
	MotionThreshold     float64
	LightJumpThreshold  float64
	MinMotionDuration   time.Duration
	StartupDelay        time.Duration
}

// DefaultConfig returns the thresholds named in the detector contract.
func DefaultConfig() Config {
	return Config{
		SmoothingWindow:    15,
		Hysteresis:         30,
		MotionThreshold:    0.02,
		LightJumpThreshold: 30,
		MinMotionDuration:  500 * time.Millisecond,
		StartupDelay:       10 * time.Second,
	}
}

// State is the pure motion/light state machine: a smoothing ring of
// recent motion scores, a hysteresis counter, the startup-delay window,
// and the currently-triggered flag. It performs no I/O.
type State struct {
	cfg   Config
	clock clock.Clock

	started   bool
	startedAt time.Time

	ring       []float64
	ringPos    int
	ringFilled int

	havePrevLuminance bool
	prevLuminance     float64

	currentlyMotion       bool
	belowCount            int
	triggerCandidateSince time.Time
}

// NewState builds a State with an empty ring of the configured window.
// The startup-delay window begins at clk.Now().
func NewState(cfg Config, clk clock.Clock) *State {
	return &State{
		cfg:       cfg,
		clock:     clk,
		ring:      make([]float64, cfg.SmoothingWindow),
		started:   true,
		startedAt: clk.Now(),
	}
}

// Reset clears all state (ring, hysteresis counter, trigger flag,
// startup window) as required on stream reconnect, so an abrupt scene
// change after reconnect cannot produce a spurious trigger.
func (s *State) Reset() {
	s.started = false
	s.ringPos = 0
	s.ringFilled = 0
	for i := range s.ring {
		s.ring[i] = 0
	}
	s.havePrevLuminance = false
	s.prevLuminance = 0
	s.currentlyMotion = false
	s.belowCount = 0
	s.triggerCandidateSince = time.Time{}
}

// CurrentlyMotion reports whether the state machine currently considers
// motion active (a MotionStart has fired with no matching MotionStop).
func (s *State) CurrentlyMotion() bool {
	return s.currentlyMotion
}

// Observe feeds one frame's raw motion score (fraction of foreground
// pixels, [0,1]) and mean luminance ([0,255]) into the state machine and
// returns zero or one MotionEvent produced as a result.
func (s *State) Observe(now time.Time, motionScore, luminance float64) []domain.MotionEvent {
	if !s.started {
		s.started = true
		s.startedAt = now
	}

	lightScore := 0.0
	if s.havePrevLuminance {
		lightScore = math.Abs(luminance - s.prevLuminance)
	}
	s.prevLuminance = luminance
	s.havePrevLuminance = true

	s.pushRing(motionScore)
	smoothed := s.smoothedScore()

	if now.Sub(s.startedAt) <= s.cfg.StartupDelay {
		// Priming the background model; no events during startup.
		return nil
	}

	triggered := smoothed > s.cfg.MotionThreshold || lightScore > s.cfg.LightJumpThreshold

	if !s.currentlyMotion {
		return s.observeWhileIdle(now, triggered)
	}
	return s.observeWhileMotion(now, triggered)
}

func (s *State) observeWhileIdle(now time.Time, triggered bool) []domain.MotionEvent {
	if !triggered {
		s.triggerCandidateSince = time.Time{}
		return nil
	}
	if s.triggerCandidateSince.IsZero() {
		s.triggerCandidateSince = now
	}
	if now.Sub(s.triggerCandidateSince) < s.cfg.MinMotionDuration {
		return nil
	}
	s.currentlyMotion = true
	s.belowCount = 0
	s.triggerCandidateSince = time.Time{}
	return []domain.MotionEvent{{Kind: domain.MotionStart, At: now}}
}

func (s *State) observeWhileMotion(now time.Time, triggered bool) []domain.MotionEvent {
	if triggered {
		s.belowCount = 0
		return nil
	}
	s.belowCount++
	if s.belowCount < s.cfg.Hysteresis {
		return nil
	}
	s.currentlyMotion = false
	s.belowCount = 0
	return []domain.MotionEvent{{Kind: domain.MotionStop, At: now}}
}

func (s *State) pushRing(v float64) {
	s.ring[s.ringPos] = v
	s.ringPos = (s.ringPos + 1) % len(s.ring)
	if s.ringFilled < len(s.ring) {
		s.ringFilled++
	}
}

func (s *State) smoothedScore() float64 {
	if s.ringFilled == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < s.ringFilled; i++ {
		sum += s.ring[i]
	}
	return sum / float64(s.ringFilled)
}
