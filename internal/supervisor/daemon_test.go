// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/connectivity"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/repository"
	"github.com/tomtom215/telemetrysync/internal/websocket"
)

type countingComponent struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (c *countingComponent) Start(context.Context) error {
	c.starts.Add(1)
	return nil
}

func (c *countingComponent) Stop() error {
	c.stops.Add(1)
	return nil
}

func TestInstall_RequiresRepository(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{})
	if err := tree.Install(Components{}); !errors.Is(err, ErrNoRepository) {
		t.Errorf("Install without repository = %v, want ErrNoRepository", err)
	}
}

func TestInstall_StartsEveryComponent(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})

	repo := &countingComponent{}
	prober := &countingComponent{}
	if err := tree.Install(Components{Repository: repo, Prober: prober}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(time.Second)
	for repo.starts.Load() == 0 || prober.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("components did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-errCh
	if repo.stops.Load() != 1 || prober.stops.Load() != 1 {
		t.Errorf("stops = repo %d prober %d, want 1 each", repo.stops.Load(), prober.stops.Load())
	}
}

func TestInstall_RealDaemonComponents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.Open(ctx, config.StoreConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	repo, err := repository.New(repository.Deps{Store: store, Monitor: connectivity.NewStatic(false)}, repository.Config{})
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	defer repo.Close()

	hub := websocket.NewHub()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	server := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		ReadHeaderTimeout: time.Second,
	}

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: 2 * time.Second})
	err = tree.Install(Components{
		Repository:          repo,
		Hub:                 hub,
		Bridge:              websocket.NewBridge(hub, repo.Bus()),
		HTTPServer:          server,
		HTTPShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("HTTP server not reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Starting an already running repository fails, which proves the
	// tree started it.
	if err := repo.Start(ctx); err == nil {
		t.Error("repository was not started by the tree")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	select {
	case <-hub.Done():
	default:
		t.Error("hub still running after shutdown")
	}
}
