// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bus

import (
	"sync/atomic"
)

// Metrics contains atomic counters for the bus worker.
type Metrics struct {
	// TransactionCount indicates the number of tasks written to the bus.
	TransactionCount atomic.Uint64
	// BroadcastCount indicates the number of broadcast tasks.
	BroadcastCount atomic.Uint64
	// ReplyCount indicates the number of complete replies read.
	ReplyCount atomic.Uint64
	// EmptyReplyCount indicates the number of unicast tasks that got no
	// usable reply.
	EmptyReplyCount atomic.Uint64
	// DeviceErrCount indicates the number of failed writes to the device.
	DeviceErrCount atomic.Uint64
	// UnitMismatchCount indicates the number of replies whose slave id
	// differs from the request's.
	UnitMismatchCount atomic.Uint64
}

// Snapshot returns the counters as key/value pairs for structured logging.
func (m *Metrics) Snapshot() []any {
	return []any{
		"transactions", m.TransactionCount.Load(),
		"broadcasts", m.BroadcastCount.Load(),
		"replies", m.ReplyCount.Load(),
		"emptyReplies", m.EmptyReplyCount.Load(),
		"deviceErrors", m.DeviceErrCount.Load(),
		"unitMismatches", m.UnitMismatchCount.Load(),
	}
}
