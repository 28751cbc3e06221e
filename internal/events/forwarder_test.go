// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// recordingPublisher captures forwarded messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][]*message.Message
	err  error
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.msgs == nil {
		p.msgs = make(map[string][]*message.Message)
	}
	p.msgs[topic] = append(p.msgs[topic], msgs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[topic])
}

func TestForwarder_MirrorsEveryTopic(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	pub := &recordingPublisher{}

	fwd, err := NewForwarder(b, pub)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	if err := fwd.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fwd.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	ctx := context.Background()
	r := models.NewRecord("s", models.KindLight, models.ScalarValue(1), "lux", time.Now())
	_ = b.PublishRecordUpdated(ctx, r)
	_ = b.PublishRecordDeleted(ctx, r.ID, "", time.Now())
	_ = b.PublishSyncStatus(ctx, models.StatusTransition{RecordID: r.ID})
	_ = b.PublishSyncCompleted(ctx, models.NewOfflineResult())
	_ = b.PublishPendingCount(ctx, 3, time.Now())

	// The bus waits for the forwarder's ack, so every forward has happened.
	for _, topic := range AllTopics {
		if got := pub.count(topic); got != 1 {
			t.Errorf("%s forwarded %d times, want 1", topic, got)
		}
	}
	pub.mu.Lock()
	msg := pub.msgs[TopicRecordUpdated][0]
	pub.mu.Unlock()
	if msg.Metadata.Get(natsgo.MsgIdHdr) != msg.UUID {
		t.Error("forwarded message should carry its UUID as the dedupe id")
	}

	if err := fwd.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if fwd.IsRunning() {
		t.Error("IsRunning after Stop")
	}
	_ = b.PublishPendingCount(ctx, 4, time.Now())
	if got := pub.count(TopicPendingCount); got != 1 {
		t.Errorf("forwarded after Stop: %d", got)
	}
}

func TestForwarder_PublishFailureDoesNotBlockBus(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	pub := &recordingPublisher{err: errors.New("broker down")}

	fwd, _ := NewForwarder(b, pub)
	if err := fwd.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = fwd.Stop() }()

	ch, unsub, _ := Subscribe[PendingCount](b, TopicPendingCount, SubscribeOptions[PendingCount]{})
	defer unsub()

	for i := 0; i < 10; i++ {
		if err := b.PublishPendingCount(context.Background(), i, time.Now()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if got := receive(t, ch); got.Count != 0 {
		t.Errorf("local subscriber got %+v", got)
	}
}

func TestNewForwarder_RequiresArguments(t *testing.T) {
	t.Parallel()
	if _, err := NewForwarder(nil, &recordingPublisher{}); err == nil {
		t.Error("nil bus should fail")
	}
	if _, err := NewForwarder(newTestBus(t), nil); err == nil {
		t.Error("nil publisher should fail")
	}
}

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		ServerName: "telemetry-test",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		JetStream:  true,
		StoreDir:   t.TempDir(),
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATSMirror_EndToEnd(t *testing.T) {
	ns := startEmbeddedNATS(t)
	b := newTestBus(t)
	ctx := context.Background()

	mirror, err := NewNATSMirror(ctx, b, config.NATSConfig{URL: ns.ClientURL(), Stream: "TELEMETRY_TEST"})
	if err != nil {
		t.Fatalf("NewNATSMirror: %v", err)
	}
	defer func() { _ = mirror.Close() }()
	if !mirror.IsHealthy(ctx) {
		t.Fatal("stream should be healthy after provisioning")
	}
	if err := mirror.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := models.NewRecord("sensor-9", models.KindTemperature, models.ScalarValue(21.5), "C", time.Now())
	if err := b.PublishRecordUpdated(ctx, r); err != nil {
		t.Fatalf("publish: %v", err)
	}

	nc, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, _ := jetstream.New(nc)
	stream, err := js.Stream(ctx, "TELEMETRY_TEST")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var raw *jetstream.RawStreamMsg
	deadline := time.Now().Add(5 * time.Second)
	for raw == nil {
		raw, err = stream.GetLastMsgForSubject(ctx, TopicRecordUpdated)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never reached JetStream: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	var got models.TelemetryRecord
	if err := json.Unmarshal(raw.Data, &got); err != nil {
		t.Fatalf("decode mirrored payload: %v", err)
	}
	if got.ID != r.ID || got.SourceID != "sensor-9" {
		t.Errorf("mirrored record = %+v", got)
	}
}

func TestStreamInitializer_Idempotent(t *testing.T) {
	ns := startEmbeddedNATS(t)
	ctx := context.Background()

	nc, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, _ := jetstream.New(nc)

	si, err := NewStreamInitializer(js, "", 0)
	if err != nil {
		t.Fatalf("NewStreamInitializer: %v", err)
	}
	if si.Name() != DefaultStreamName {
		t.Errorf("Name = %s", si.Name())
	}
	if si.IsHealthy(ctx) {
		t.Error("stream should not exist yet")
	}
	for i := 0; i < 2; i++ {
		if _, err := si.EnsureStream(ctx); err != nil {
			t.Fatalf("EnsureStream #%d: %v", i+1, err)
		}
	}
	info, err := js.Stream(ctx, DefaultStreamName)
	if err != nil {
		t.Fatalf("stream lookup: %v", err)
	}
	if cfg := info.CachedInfo().Config; cfg.MaxAge != DefaultMaxAge || cfg.Subjects[0] != StreamSubjects {
		t.Errorf("stream config = %+v", cfg)
	}

	if _, err := NewStreamInitializer(nil, "", 0); err == nil {
		t.Error("nil JetStream should fail")
	}
}
