// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bustest provides an in-memory RTU bus for tests.
package bustest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbusgw/modbus/crc"
)

// ErrTimeout is returned by Read when nothing arrives within Timeout,
// the way a serial port with a read timeout behaves.
var ErrTimeout = errors.New("bustest: timeout")

// ErrWrite is returned by Write while FailWrites is positive.
var ErrWrite = errors.New("bustest: write failed")

// Write records one frame written to the bus.
type Write struct {
	Frame []byte
	At    time.Time
	// Idle is how long the line was quiet before this write, measured from
	// the end of the previous read or write. Zero for the first write.
	Idle time.Duration
}

// Bus simulates the slaves on a serial line. Each written frame is handed
// to Respond; whatever it returns becomes readable.
type Bus struct {
	// Respond produces the bytes the slaves put on the line for a request.
	// A nil Respond or a nil result means silence.
	Respond func(request []byte) []byte
	// Timeout bounds each Read. Defaults to 50ms.
	Timeout time.Duration
	// Chunk limits the bytes returned per Read; zero means no limit.
	Chunk int

	mu         sync.Mutex
	pending    []byte
	writes     []Write
	lastIO     time.Time
	failWrites int

	reading  atomic.Int32
	overlaps atomic.Int32
}

// FailWrites makes the next n writes fail.
func (b *Bus) FailWrites(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = n
}

func (b *Bus) Write(p []byte) (int, error) {
	if b.reading.Load() > 0 {
		b.overlaps.Add(1)
	}

	b.mu.Lock()
	now := time.Now()
	w := Write{Frame: append([]byte(nil), p...), At: now}
	if !b.lastIO.IsZero() {
		w.Idle = now.Sub(b.lastIO)
	}
	b.writes = append(b.writes, w)
	fail := b.failWrites > 0
	if fail {
		b.failWrites--
	}
	respond := b.Respond
	b.mu.Unlock()

	defer b.touch()
	if fail {
		return 0, ErrWrite
	}
	if respond != nil {
		if reply := respond(append([]byte(nil), p...)); len(reply) > 0 {
			b.mu.Lock()
			b.pending = append(b.pending, reply...)
			b.mu.Unlock()
		}
	}
	return len(p), nil
}

func (b *Bus) Read(p []byte) (int, error) {
	b.reading.Add(1)
	defer b.reading.Add(-1)
	defer b.touch()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		if len(b.pending) > 0 {
			limit := len(p)
			if b.Chunk > 0 && b.Chunk < limit {
				limit = b.Chunk
			}
			n := copy(p[:limit], b.pending)
			b.pending = b.pending[n:]
			b.mu.Unlock()
			return n, nil
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Close implements io.Closer.
func (b *Bus) Close() error {
	return nil
}

// Writes returns the frames written so far.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// Overlaps returns how many writes happened while a read was in progress.
func (b *Bus) Overlaps() int {
	return int(b.overlaps.Load())
}

func (b *Bus) touch() {
	b.mu.Lock()
	b.lastIO = time.Now()
	b.mu.Unlock()
}

// Frame returns b followed by its RTU checksum.
func Frame(b ...byte) []byte {
	return crc.Append(b)
}
