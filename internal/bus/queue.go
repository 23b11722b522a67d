// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bus arbitrates access to the serial line. Any number of
// connections submit tasks to a Queue; exactly one Worker drains it.
package bus

import (
	"context"

	"github.com/ffutop/modbusgw/transport"
)

// DefaultQueueSize is the number of tasks that may wait for the bus before
// submitters block.
const DefaultQueueSize = 100

// Queue is a FIFO of bus tasks, safe for concurrent submission.
type Queue struct {
	tasks chan *transport.Task
}

// NewQueue creates a queue holding up to size waiting tasks.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		tasks: make(chan *transport.Task, size),
	}
}

// Submit implements transport.Bus.
func (q *Queue) Submit(ctx context.Context, frame []byte, broadcast bool) (transport.Reply, error) {
	task := transport.NewTask(frame, broadcast)
	select {
	case q.tasks <- task:
	case <-ctx.Done():
		return transport.Reply{}, ctx.Err()
	}

	select {
	case reply := <-task.Reply:
		return reply, nil
	case <-ctx.Done():
		return transport.Reply{}, ctx.Err()
	}
}

// Len returns the number of tasks waiting for the worker.
func (q *Queue) Len() int {
	return len(q.tasks)
}
