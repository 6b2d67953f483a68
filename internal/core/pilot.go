package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"

	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/config"
	"github.com/Seer-Labs-Inc/device-pilot/internal/detector"
	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
	"github.com/Seer-Labs-Inc/device-pilot/internal/fswatch"
	"github.com/Seer-Labs-Inc/device-pilot/internal/recorder"
	"github.com/Seer-Labs-Inc/device-pilot/internal/segmentbuffer"
	"github.com/Seer-Labs-Inc/device-pilot/internal/sessionmanager"
)

// tickInterval is how often the event loop re-evaluates cooldown
// deadlines independent of segment/motion traffic.
const tickInterval = time.Second

// Pilot wires the five pipeline components onto a suture supervision
// tree behind the embedded EventBus: Buffer and Detector each publish
// to the bus, one subscriber goroutine drains every subject serially
// into the SessionManager, and the Recorder reports completions back
// onto the same bus so the manager is the only ever mutator of a
// Session.
type Pilot struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	idGen   sessionmanager.IDGenerator
	history recorder.HistoryRecorder

	bus      *EventBus
	buffer   *segmentbuffer.Buffer
	detector *detector.Detector
	rec      *recorder.Recorder
	manager  *sessionmanager.Manager

	supervisor *suture.Supervisor
}

// New constructs a Pilot ready to Serve. idGen generates session IDs
// (production wiring uses github.com/google/uuid); history may be nil
// to disable the session-outcome log.
func New(cfg *config.Config, logger *slog.Logger, clk clock.Clock, idGen sessionmanager.IDGenerator, history recorder.HistoryRecorder) (*Pilot, error) {
	bus, err := NewEventBus(DefaultEventBusConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}

	buf := segmentbuffer.New(segmentbuffer.Config{
		RTSPURL:        cfg.RTSPMain,
		Dir:            cfg.BufferDir,
		SegmentSeconds: cfg.SegmentSeconds,
		Retention:      cfg.RetentionSegmentCount(),
		MaxBackoff:     cfg.MaxReconnectDelay,
	}, newFSWatcher(), clk, logger.With("component", "segmentbuffer"))

	det := detector.New(detector.RunConfig{
		RTSPURL:    cfg.RTSPSub,
		MaxBackoff: cfg.MaxReconnectDelay,
	}, detector.Config{
		SmoothingWindow:    15,
		Hysteresis:         30,
		MotionThreshold:    cfg.MotionThreshold,
		LightJumpThreshold: cfg.LightJumpThreshold,
		MinMotionDuration:  durationFromSeconds(cfg.MinMotionSeconds),
		StartupDelay:       time.Duration(cfg.StartupDelaySeconds) * time.Second,
	}, clk, logger.With("component", "detector"))

	p := &Pilot{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		idGen:   idGen,
		history: history,
		bus:     bus,
		buffer:  buf,
		detector: det,
	}

	p.rec = recorder.New(recorder.Config{
		SessionsDir: cfg.SessionsDir,
		Workers:     cfg.RecorderWorkers,
	}, clk, logger.With("component", "recorder"), p.publishCompletion, history)

	p.manager = sessionmanager.New(sessionmanager.Config{
		PreRollSegmentCount: cfg.PreRollSegmentCount(),
		PreRollDuration:     time.Duration(cfg.PreRollSeconds) * time.Second,
		CooldownDuration:    time.Duration(cfg.CooldownSeconds) * time.Second,
		EvidenceDir:         cfg.EvidenceDir,
	}, buf, p.rec, logger.With("component", "sessionmanager"), idGen)

	buf.Subscribe(p.publishSegment)
	det.Subscribe(p.publishMotion)

	p.supervisor = suture.New("device-pilot", suture.Spec{
		EventHook: p.supervisorEventHook,
	})
	p.supervisor.Add(buf)
	p.supervisor.Add(det)
	p.supervisor.Add(p.rec)
	p.supervisor.Add(suture.ServiceFunc(p.loop))
	p.supervisor.Add(suture.ServiceFunc(p.ticker))

	return p, nil
}

// Serve runs the whole pipeline until ctx is cancelled.
func (p *Pilot) Serve(ctx context.Context) error {
	defer p.bus.Stop()
	return p.supervisor.Serve(ctx)
}

// HealthStatus reports whether the embedded event bus connection is up,
// with the live session count as detail, for the /healthz endpoint.
func (p *Pilot) HealthStatus() (bool, map[string]string) {
	connected := p.bus.conn != nil && p.bus.conn.IsConnected()
	return connected, map[string]string{
		"live_sessions": fmt.Sprint(p.manager.LiveCount()),
	}
}

func (p *Pilot) supervisorEventHook(ev suture.Event) {
	p.logger.Warn("supervision event", "event", ev.String())
}

func (p *Pilot) publishSegment(seg domain.Segment) {
	if err := p.bus.Publish(SubjectSegment, seg); err != nil {
		p.logger.Error("failed to publish segment event", "error", err)
	}
}

func (p *Pilot) publishMotion(ev domain.MotionEvent) {
	if err := p.bus.Publish(SubjectMotion, ev); err != nil {
		p.logger.Error("failed to publish motion event", "error", err)
	}
}

type completionMessage struct {
	SessionID string `json:"session_id"`
	OK        bool   `json:"ok"`
}

func (p *Pilot) publishCompletion(sessionID string, ok bool) {
	if err := p.bus.Publish(SubjectSessionDone, completionMessage{SessionID: sessionID, OK: ok}); err != nil {
		p.logger.Error("failed to publish completion event", "error", err)
	}
}

// loop is the single serial consumer of every subject on the bus. nats.go
// runs each async Subscribe callback on its own delivery goroutine, so
// subscribing the four subjects independently would let them call into
// the manager concurrently; instead every subject is routed into one
// shared channel via ChanSubscribe, and only this goroutine ever reads
// from it. That makes loop the only goroutine that ever mutates
// SessionManager state, preserving the single-mutator invariant even
// though Buffer/Detector/Recorder all run concurrently.
func (p *Pilot) loop(ctx context.Context) error {
	msgCh := make(chan *nats.Msg, 256)

	subs := make([]*nats.Subscription, 0, 4)
	for _, subject := range []string{SubjectSegment, SubjectMotion, SubjectSessionDone, SubjectTick} {
		sub, err := p.bus.conn.ChanSubscribe(subject, msgCh)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgCh:
			p.dispatch(msg)
		}
	}
}

// dispatch decodes and applies one bus message. It is only ever called
// from loop's single reading goroutine.
func (p *Pilot) dispatch(msg *nats.Msg) {
	switch msg.Subject {
	case SubjectSegment:
		var seg domain.Segment
		if err := json.Unmarshal(msg.Data, &seg); err != nil {
			p.logger.Error("failed to decode segment event", "error", err)
			return
		}
		p.manager.OnSegment(seg)

	case SubjectMotion:
		var ev domain.MotionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			p.logger.Error("failed to decode motion event", "error", err)
			return
		}
		switch ev.Kind {
		case domain.MotionStart:
			p.manager.OnMotionStart(ev.At)
		case domain.MotionStop:
			if err := p.manager.OnMotionStop(ev.At); err != nil {
				p.logger.Warn("motion stop with no active session", "error", err)
			}
		}

	case SubjectSessionDone:
		var m completionMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			p.logger.Error("failed to decode completion event", "error", err)
			return
		}
		p.manager.Complete(m.SessionID, m.OK)

	case SubjectTick:
		p.manager.Tick(p.clock.Now())
	}
}

// ticker publishes a tick every second so the loop goroutine
// re-evaluates cooldown deadlines even with no segment/motion traffic.
func (p *Pilot) ticker(ctx context.Context) error {
	t := p.clock.NewTicker(tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if err := p.bus.Publish(SubjectTick, struct{}{}); err != nil {
				p.logger.Error("failed to publish tick", "error", err)
			}
		}
	}
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// newFSWatcher returns the production filesystem watcher with a quiet
// period short enough to detect segment completion promptly but long
// enough to absorb the HLS muxer's own multi-write flush pattern.
func newFSWatcher() *fswatch.FSNotifyWatcher {
	return fswatch.New(200 * time.Millisecond)
}
