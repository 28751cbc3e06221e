// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
)

// Forwarder mirrors every bus topic to an external publisher, normally NATS
// JetStream. Mirroring is best-effort: a failed forward is logged and
// counted, never retried, and never blocks local subscribers for longer than
// the publish attempt.
type Forwarder struct {
	bus       *Bus
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	topics    []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewForwarder creates a forwarder for all topics.
func NewForwarder(bus *Bus, publisher message.Publisher) (*Forwarder, error) {
	if bus == nil {
		return nil, errors.New("event bus required")
	}
	if publisher == nil {
		return nil, errors.New("publisher required")
	}
	return &Forwarder{
		bus:       bus,
		publisher: publisher,
		topics:    AllTopics,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "event-forwarder",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
				metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
			},
		}),
	}, nil
}

// Start subscribes to every topic and forwards until Stop.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.New("event forwarder is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	for _, topic := range f.topics {
		msgs, err := f.bus.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			f.wg.Wait()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		f.wg.Add(1)
		go f.forward(topic, msgs)
	}

	f.cancel = cancel
	f.running = true
	logging.Info().Strs("topics", f.topics).Msg("Event forwarder started")
	return nil
}

// Stop ends forwarding and waits for in-flight publishes.
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel := f.cancel
	f.mu.Unlock()

	cancel()
	f.wg.Wait()
	logging.Info().Msg("Event forwarder stopped")
	return nil
}

// IsRunning reports whether the forwarder is active.
func (f *Forwarder) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Forwarder) forward(topic string, msgs <-chan *message.Message) {
	defer f.wg.Done()
	for msg := range msgs {
		out := msg.Copy()
		if out.Metadata.Get(natsgo.MsgIdHdr) == "" {
			out.Metadata.Set(natsgo.MsgIdHdr, out.UUID)
		}
		_, err := f.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, f.publisher.Publish(topic, out)
		})
		if err != nil {
			metrics.EventsForwarded.WithLabelValues(topic, "error").Inc()
			logging.Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("Failed to forward event")
		} else {
			metrics.EventsForwarded.WithLabelValues(topic, "success").Inc()
		}
		msg.Ack()
	}
}

// NATSMirror bundles the connection, stream and publisher that back a
// Forwarder targeting JetStream.
type NATSMirror struct {
	*Forwarder

	conn      *natsgo.Conn
	publisher message.Publisher
	stream    *StreamInitializer
}

// NewNATSMirror connects to cfg.URL, provisions the stream and returns a
// forwarder ready to Start.
func NewNATSMirror(ctx context.Context, bus *Bus, cfg config.NATSConfig) (*NATSMirror, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL is required")
	}

	nc, err := natsgo.Connect(cfg.URL, natsgo.Name("telemetrysync-stream-init"))
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	stream, err := NewStreamInitializer(js, cfg.Stream, cfg.MaxAge)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if _, err := stream.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	pub, err := NewNATSPublisher(cfg, WatermillLogger())
	if err != nil {
		nc.Close()
		return nil, err
	}
	fwd, err := NewForwarder(bus, pub)
	if err != nil {
		_ = pub.Close()
		nc.Close()
		return nil, err
	}

	logging.Info().Str("url", cfg.URL).Str("stream", stream.Name()).Msg("NATS event mirror ready")
	return &NATSMirror{Forwarder: fwd, conn: nc, publisher: pub, stream: stream}, nil
}

// IsHealthy reports whether the backing stream is reachable.
func (m *NATSMirror) IsHealthy(ctx context.Context) bool {
	return m.stream.IsHealthy(ctx)
}

// Close stops forwarding and releases the NATS resources.
func (m *NATSMirror) Close() error {
	_ = m.Stop()
	err := m.publisher.Close()
	m.conn.Close()
	return err
}

// NewNATSPublisher creates a JetStream publisher. The stream must already
// exist; see StreamInitializer.
func NewNATSPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = WatermillLogger()
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 60
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("telemetrysync-events"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}
