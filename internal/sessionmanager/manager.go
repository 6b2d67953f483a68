// Package sessionmanager holds the set of live sessions, routes detector
// events to them, handles overlap, and advances cooldown timers on tick.
// It is designed to be driven exclusively from the single core event
// loop goroutine — it holds no internal locking because the spec's
// ordering guarantee already serializes every call into it.
package sessionmanager

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
	"github.com/Seer-Labs-Inc/device-pilot/internal/session"
)

// Buffer is the subset of segmentbuffer.Buffer the manager needs: the
// youngest pre-roll segments to seed a new session.
type Buffer interface {
	RecentSegmentRecords(count int) []domain.Segment
}

// Recorder receives FINALIZING sessions. Finalize must not block; actual
// MP4 assembly runs on the recorder's own worker pool, and its result is
// fed back into the event loop (see Complete), never mutating the
// session directly from a worker goroutine.
type Recorder interface {
	Finalize(s *session.Session)
}

// IDGenerator produces a unique session ID; tests can substitute a
// deterministic sequence instead of github.com/google/uuid.
type IDGenerator func() string

// Config holds the manager's session-construction parameters.
type Config struct {
	PreRollSegmentCount int
	PreRollDuration     time.Duration
	CooldownDuration    time.Duration
	EvidenceDir         string
}

// Manager is the SessionManager component.
type Manager struct {
	cfg      Config
	buffer   Buffer
	recorder Recorder
	logger   *slog.Logger
	idGen    IDGenerator

	order    []string
	sessions map[string]*session.Session
}

// New creates a Manager that takes session IDs from idGen.
func New(cfg Config, buffer Buffer, recorder Recorder, logger *slog.Logger, idGen IDGenerator) *Manager {
	return &Manager{
		cfg:      cfg,
		buffer:   buffer,
		recorder: recorder,
		logger:   logger,
		idGen:    idGen,
		sessions: make(map[string]*session.Session),
	}
}

// LiveCount returns the number of sessions currently tracked.
func (m *Manager) LiveCount() int {
	return len(m.order)
}

// Session returns the live session with the given ID, if any.
func (m *Manager) Session(id string) (*session.Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// activeRecording returns the unique RECORDING session, if one exists.
func (m *Manager) activeRecording() *session.Session {
	for _, id := range m.order {
		if s := m.sessions[id]; s.Phase == domain.Recording {
			return s
		}
	}
	return nil
}

// OnMotionStart handles a detector MotionStart. If a RECORDING session
// already exists it is extended (idempotent); otherwise a new session is
// opened, seeded with the buffer's current pre-roll segments. A session
// in COOLDOWN does NOT absorb the new event — it continues independently
// while a fresh session is created, which is how overlap is produced.
func (m *Manager) OnMotionStart(t time.Time) {
	if active := m.activeRecording(); active != nil {
		active.OnMotionStart()
		return
	}

	preRoll := m.buffer.RecentSegmentRecords(m.cfg.PreRollSegmentCount)
	id := m.idGen()
	s := session.Open(id, preRoll, t, m.cfg.PreRollDuration, m.cfg.CooldownDuration, m.cfg.EvidenceDir)

	m.sessions[id] = s
	m.order = append(m.order, id)
	m.logger.Info("session opened", "session", id, "pre_roll_segments", len(preRoll))
}

// OnMotionStop forwards to the single RECORDING session. It is an error
// (per spec.md §4.4) to receive a MotionStop with no RECORDING session.
func (m *Manager) OnMotionStop(t time.Time) error {
	active := m.activeRecording()
	if active == nil {
		return fmt.Errorf("sessionmanager: motion stop with no active recording session")
	}
	active.OnMotionStop(t)
	m.logger.Info("session entering cooldown", "session", active.ID, "deadline", active.CooldownDeadline)
	return nil
}

// OnSegment forwards a newly-discovered segment to every session in
// RECORDING or COOLDOWN, which is how overlapping sessions share tail
// footage.
func (m *Manager) OnSegment(seg domain.Segment) {
	for _, id := range m.order {
		s := m.sessions[id]
		if s.Phase == domain.Recording || s.Phase == domain.Cooldown {
			s.OnSegment(seg)
		}
	}
}

// Tick advances every COOLDOWN session's deadline check, hands newly
// FINALIZING sessions to the Recorder, and reaps terminal sessions from
// the live set.
func (m *Manager) Tick(now time.Time) {
	for _, id := range m.order {
		s := m.sessions[id]
		if s.Phase != domain.Cooldown {
			continue
		}
		s.Tick(now)
		if s.Phase == domain.Finalizing {
			m.logger.Info("session finalizing", "session", s.ID, "output", s.OutputPath)
			m.recorder.Finalize(s)
		}
	}
	m.reap()
}

// Complete applies a Recorder worker's terminal result to the named
// session. This must only ever be called from the event-loop goroutine
// (the worker pool reports results back into the loop's input queue
// rather than mutating the session itself), preserving the single
// mutator invariant.
func (m *Manager) Complete(id string, ok bool) {
	s, exists := m.sessions[id]
	if !exists {
		return
	}
	if ok {
		s.MarkCompleted()
	} else {
		s.MarkFailed()
	}
	m.reap()
}

func (m *Manager) reap() {
	kept := m.order[:0:0]
	for _, id := range m.order {
		if m.sessions[id].Phase.Terminal() {
			delete(m.sessions, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
