// Package session implements a single event's state machine: it collects
// segment paths for pre-roll, active period and cooldown, and drives the
// RECORDING -> COOLDOWN -> FINALIZING -> COMPLETED/FAILED transitions.
// A Session performs no I/O; it is exercised entirely by the
// SessionManager's single-threaded event loop.
package session

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
)

// Session is an in-flight (or terminal) recording, per spec.md §4.3.
type Session struct {
	ID               string
	StartedAt        time.Time
	DetectedAt       time.Time
	Phase            domain.SessionPhase
	CooldownDeadline time.Time
	OutputPath       string

	segments      []domain.Segment
	preRollCutoff time.Time
	cooldownDur   time.Duration
	evidenceDir   string
}

// Open creates a new Session in the RECORDING phase, adopting the
// supplied pre-roll segments. startTime is both the wall-clock and
// event-detection start time (they coincide at creation; SPEC_FULL keeps
// them as separate fields for symmetry with a richer originating event).
func Open(id string, preRoll []domain.Segment, startTime time.Time, preRollDuration, cooldownDuration time.Duration, evidenceDir string) *Session {
	segs := make([]domain.Segment, len(preRoll))
	copy(segs, preRoll)

	return &Session{
		ID:            id,
		StartedAt:     startTime,
		DetectedAt:    startTime,
		Phase:         domain.Recording,
		segments:      segs,
		preRollCutoff: startTime.Add(-preRollDuration),
		cooldownDur:   cooldownDuration,
		evidenceDir:   evidenceDir,
	}
}

// SegmentPaths returns the collected segment paths in playback order.
func (s *Session) SegmentPaths() []string {
	paths := make([]string, len(s.segments))
	for i, seg := range s.segments {
		paths[i] = seg.Path
	}
	return paths
}

// OnSegment appends seg to the session's list if the session is actively
// draining (RECORDING or COOLDOWN) and the segment is not older than the
// pre-roll cutoff. Segments are delivered already in sequence order by
// the buffer, so no re-sorting is required here.
func (s *Session) OnSegment(seg domain.Segment) {
	if s.Phase != domain.Recording && s.Phase != domain.Cooldown {
		return
	}
	if seg.CreatedAt.Before(s.preRollCutoff) {
		return
	}
	if n := len(s.segments); n > 0 && s.segments[n-1].Seq == seg.Seq {
		return // already have this segment (duplicate delivery)
	}
	s.segments = append(s.segments, seg)
}

// OnMotionStart handles a MotionStart event: it resumes RECORDING from
// COOLDOWN (clearing the deadline) or is a no-op while already RECORDING.
func (s *Session) OnMotionStart() {
	switch s.Phase {
	case domain.Cooldown:
		s.Phase = domain.Recording
		s.CooldownDeadline = time.Time{}
	case domain.Recording:
		// idempotent
	}
}

// OnMotionStop transitions RECORDING -> COOLDOWN and sets the cooldown
// deadline to t + cooldownSeconds.
func (s *Session) OnMotionStop(t time.Time) {
	if s.Phase != domain.Recording {
		return
	}
	s.Phase = domain.Cooldown
	s.CooldownDeadline = t.Add(s.cooldownDur)
}

// Tick advances the session past its cooldown deadline into FINALIZING,
// assigning the output MP4 path.
func (s *Session) Tick(now time.Time) {
	if s.Phase != domain.Cooldown {
		return
	}
	if now.Before(s.CooldownDeadline) {
		return
	}
	s.Phase = domain.Finalizing
	s.OutputPath = s.buildOutputPath()
}

func (s *Session) buildOutputPath() string {
	name := fmt.Sprintf("%s_%s.mp4", s.StartedAt.Format("2006-01-02_15-04-05"), s.ID)
	return filepath.Join(s.evidenceDir, name)
}

// MarkCompleted freezes the session in the COMPLETED terminal phase.
func (s *Session) MarkCompleted() {
	s.Phase = domain.Completed
}

// MarkFailed freezes the session in the FAILED terminal phase.
func (s *Session) MarkFailed() {
	s.Phase = domain.Failed
}
