package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EventBus is the embedded NATS transport feeding the single-threaded
// core loop: every producer (SegmentBuffer, Detector, the tick source,
// the Recorder's completion callback) publishes to a subject, and one
// subscriber goroutine drains everything serially so the event loop
// never needs its own locking.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the embedded NATS server.
type EventBusConfig struct {
	Host        string
	Port        int
	PortManager *PortManager
}

// DefaultEventBusConfig returns the default single-instance configuration.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host:        "127.0.0.1",
		Port:        DefaultNATSPort,
		PortManager: GetPortManager(),
	}
}

// NewEventBus starts an embedded NATS server and connects to it.
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}

	pm := cfg.PortManager
	if pm == nil {
		pm = GetPortManager()
	}

	actualPort, err := pm.ReserveOrFind(cfg.Port, "nats")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate NATS port: %w", err)
	}
	if actualPort != cfg.Port {
		logger.Info("NATS port conflict detected, using alternative", "preferred", cfg.Port, "actual", actualPort)
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   actualPort,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		pm.Release(actualPort)
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		pm.Release(actualPort)
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", actualPort)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	logger.Info("event bus started", "url", ns.ClientURL())
	return eb, nil
}

// Conn returns the underlying NATS connection.
func (eb *EventBus) Conn() *nats.Conn { return eb.conn }

// ClientURL returns the embedded server's client URL.
func (eb *EventBus) ClientURL() string { return eb.server.ClientURL() }

// Publish marshals data as JSON and publishes it to subject.
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe registers handler for subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe removes every subscription registered for subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()
	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// Stop drains the connection and shuts down the embedded server.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("event bus stopped")
}

// HealthCheck verifies the NATS connection is alive.
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	return nil
}

// Subjects used on the Device Pilot event bus. Every producer publishes
// to exactly one of these; the core loop is the sole subscriber to all
// of them, so there is only ever one serial consumer.
const (
	SubjectSegment     = "pilot.segment"
	SubjectMotion      = "pilot.motion"
	SubjectTick        = "pilot.tick"
	SubjectSessionDone = "pilot.session.done"
)
