// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/modbusgw/internal/bus"
	"github.com/ffutop/modbusgw/internal/config"
	"github.com/ffutop/modbusgw/transport"
	"github.com/ffutop/modbusgw/transport/tcp"
)

// Gateway bridges Modbus TCP clients to the single RTU bus behind port.
type Gateway struct {
	Name string

	queue  *bus.Queue
	worker *bus.Worker
	server *tcp.Server
}

var (
	_ transport.Bus      = (*bus.Queue)(nil)
	_ transport.Upstream = (*tcp.Server)(nil)
)

// New creates a gateway. The gateway becomes the only user of port.
func New(cfg *config.Config, port io.ReadWriter) *Gateway {
	queue := bus.NewQueue(cfg.QueueSize)
	return &Gateway{
		Name:   "tcp:" + cfg.Listen + " <-> rtu:" + cfg.Serial.Device,
		queue:  queue,
		worker: bus.NewWorker(port, queue, cfg.Serial.ReadTimeout(), cfg.Serial.FrameDelay()),
		server: tcp.NewServer(cfg.Listen),
	}
}

// Listen binds the TCP listener so that address errors surface before
// Start.
func (g *Gateway) Listen() error {
	return g.server.Listen()
}

// Addr returns the listening address, or nil before Listen.
func (g *Gateway) Addr() net.Addr {
	return g.server.Addr()
}

// Metrics returns the bus counters.
func (g *Gateway) Metrics() *bus.Metrics {
	return g.worker.Metrics()
}

// Start runs the bus worker and the TCP server until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.server.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.worker.Run(ctx)
	}()

	slog.Info("Modbus gateway started", "gateway", g.Name)
	err := g.server.Serve(ctx, g.queue)

	cancel()
	wg.Wait()
	slog.Info("Modbus gateway stopped", append([]any{"gateway", g.Name}, g.worker.Metrics().Snapshot()...)...)
	return err
}
