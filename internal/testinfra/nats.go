// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultNATSImage is the NATS server image used for integration tests.
	DefaultNATSImage = "nats:2.10-alpine"

	// DefaultNATSPort is the client port inside the container.
	DefaultNATSPort = "4222"
)

// NATSContainer wraps a running JetStream-enabled NATS server.
type NATSContainer struct {
	testcontainers.Container
	URL string
}

type natsConfig struct {
	image        string
	startTimeout time.Duration
	logger       tclog.Logger
}

// NATSOption configures a NATS container.
type NATSOption func(*natsConfig)

// WithNATSImage overrides the container image.
func WithNATSImage(image string) NATSOption {
	return func(c *natsConfig) {
		c.image = image
	}
}

// WithNATSStartTimeout sets how long to wait for the server to accept clients.
func WithNATSStartTimeout(timeout time.Duration) NATSOption {
	return func(c *natsConfig) {
		c.startTimeout = timeout
	}
}

// WithNATSLogger routes testcontainers output through the given logger.
func WithNATSLogger(logger tclog.Logger) NATSOption {
	return func(c *natsConfig) {
		c.logger = logger
	}
}

// NewNATSContainer starts a NATS server with JetStream enabled. The caller
// terminates it; tests should prefer StartNATS.
func NewNATSContainer(ctx context.Context, opts ...NATSOption) (*NATSContainer, error) {
	cfg := &natsConfig{
		image:        DefaultNATSImage,
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{DefaultNATSPort + "/tcp"},
		Cmd:          []string{"-js", "-sd", "/data"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(DefaultNATSPort+"/tcp"),
			wait.ForLog("Server is ready"),
		).WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Logger:           cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, DefaultNATSPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &NATSContainer{
		Container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// Logs returns the server output, useful when a test fails.
func (c *NATSContainer) Logs(ctx context.Context) (string, error) {
	reader, err := c.Container.Logs(ctx)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StartNATS starts a JetStream NATS container for t, skipping the test when
// no container provider is available. The container is removed when the
// test ends.
//
//	nats := testinfra.StartNATS(t, ctx)
//	mirror, err := events.NewNATSMirror(ctx, bus, config.NATSConfig{URL: nats.URL})
func StartNATS(t *testing.T, ctx context.Context, opts ...NATSOption) *NATSContainer {
	t.Helper()
	RequireContainers(t)

	opts = append([]NATSOption{WithNATSLogger(TestLogger(t))}, opts...)
	nats, err := NewNATSContainer(ctx, opts...)
	if nats != nil {
		testcontainers.CleanupContainer(t, nats.Container)
	}
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	return nats
}
