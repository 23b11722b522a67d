// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
)

// Reply is the outcome of one bus transaction.
//
// Frame is either empty or a complete RTU frame as read from the bus,
// checksum included. Err explains an empty Frame and is only meant for
// logging: callers must decide what to send based on Frame alone.
type Reply struct {
	Frame []byte
	Err   error
}

// Task is a single RTU transaction waiting for the bus.
type Task struct {
	// Frame is the RTU request including its checksum.
	Frame []byte
	// Broadcast tasks are written but no reply is read.
	Broadcast bool
	// Reply receives exactly one value. It must be buffered so the bus
	// never waits for the submitter.
	Reply chan Reply
}

// NewTask creates a task with a fresh reply channel.
func NewTask(frame []byte, broadcast bool) *Task {
	return &Task{
		Frame:     frame,
		Broadcast: broadcast,
		Reply:     make(chan Reply, 1),
	}
}

// Bus serializes RTU transactions onto a single half-duplex line.
type Bus interface {
	// Submit queues frame and blocks until the bus has processed it.
	// The returned error is non-nil only if ctx ends first.
	Submit(ctx context.Context, frame []byte, broadcast bool) (Reply, error)
}

// Upstream represents a source of requests (A Modbus Master connected to us).
// It acts as a Server.
type Upstream interface {
	// Serve accepts requests and forwards them to bus until ctx is done.
	Serve(ctx context.Context, bus Bus) error
	Close() error
}
