// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ffutop/modbusgw/modbus/rtu"
	"github.com/ffutop/modbusgw/transport"
)

// ErrNoReply is set on replies of unicast tasks that got nothing usable
// back from the bus.
var ErrNoReply = errors.New("bus: no reply")

// Worker is the only user of the serial port. It runs one transaction at a
// time and keeps the line silent for Delay after each of them.
type Worker struct {
	port    io.ReadWriter
	queue   *Queue
	timeout time.Duration
	delay   time.Duration
	metrics Metrics
}

// NewWorker creates a worker draining queue onto port. Reads give up after
// timeout; delay is the pause enforced between transactions.
func NewWorker(port io.ReadWriter, queue *Queue, timeout, delay time.Duration) *Worker {
	return &Worker{
		port:    port,
		queue:   queue,
		timeout: timeout,
		delay:   delay,
	}
}

// Metrics returns the worker counters.
func (w *Worker) Metrics() *Metrics {
	return &w.metrics
}

// Run processes tasks until ctx is done. Per-task failures never stop it.
func (w *Worker) Run(ctx context.Context) {
	slog.Debug("Bus worker started", "timeout", w.timeout, "delay", w.delay)
	defer slog.Debug("Bus worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue.tasks:
			task.Reply <- w.transact(task)
			if !w.pause(ctx) {
				return
			}
		}
	}
}

func (w *Worker) transact(task *transport.Task) transport.Reply {
	w.metrics.TransactionCount.Add(1)
	if task.Broadcast {
		w.metrics.BroadcastCount.Add(1)
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(task.Frame), "broadcast", task.Broadcast)
	if _, err := w.port.Write(task.Frame); err != nil {
		w.metrics.DeviceErrCount.Add(1)
		slog.Error("Failed to write to serial device", "err", err)
		return w.empty(task, fmt.Errorf("write: %w", err))
	}

	if task.Broadcast {
		return transport.Reply{}
	}
	if len(task.Frame) < 2 {
		return w.empty(task, fmt.Errorf("frame too short: %d bytes", len(task.Frame)))
	}

	frame, err := rtu.ReadReply(w.port, task.Frame[1], w.timeout)
	if err != nil {
		return w.empty(task, err)
	}
	w.metrics.ReplyCount.Add(1)
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(frame))
	if frame[0] != task.Frame[0] {
		// most likely a late answer to an earlier request
		w.metrics.UnitMismatchCount.Add(1)
		slog.Warn("Reply from unexpected slave", "want", task.Frame[0], "got", frame[0],
			"request", hex.EncodeToString(task.Frame), "response", hex.EncodeToString(frame))
	}
	return transport.Reply{Frame: frame}
}

func (w *Worker) empty(task *transport.Task, cause error) transport.Reply {
	if task.Broadcast {
		return transport.Reply{Err: cause}
	}
	w.metrics.EmptyReplyCount.Add(1)
	slog.Debug("no reply from modbus slave", "request", hex.EncodeToString(task.Frame), "err", cause)
	return transport.Reply{Err: fmt.Errorf("%w: %w", ErrNoReply, cause)}
}

// pause keeps the bus idle for the inter-frame delay. It reports false if
// ctx ended meanwhile.
func (w *Worker) pause(ctx context.Context) bool {
	if w.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
