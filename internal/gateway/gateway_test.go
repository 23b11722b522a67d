// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	mbclient "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/modbusgw/internal/bus/bustest"
	"github.com/ffutop/modbusgw/internal/config"
)

// slave is a register bank answering as unit 1 on the simulated bus.
type slave struct {
	mu        sync.Mutex
	registers [16]uint16
}

func (s *slave) respond(req []byte) []byte {
	if req[0] != 1 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fc := req[1]
	addr := int(binary.BigEndian.Uint16(req[2:]))
	switch fc {
	case 0x03:
		qty := int(binary.BigEndian.Uint16(req[4:]))
		if addr+qty > len(s.registers) {
			return bustest.Frame(1, fc|0x80, 0x02)
		}
		resp := []byte{1, fc, byte(qty * 2)}
		for _, v := range s.registers[addr : addr+qty] {
			resp = binary.BigEndian.AppendUint16(resp, v)
		}
		return bustest.Frame(resp...)
	case 0x06:
		s.registers[addr] = binary.BigEndian.Uint16(req[4:])
		return bustest.Frame(req[:6]...)
	case 0x10:
		qty := int(binary.BigEndian.Uint16(req[4:]))
		for i := 0; i < qty; i++ {
			s.registers[addr+i] = binary.BigEndian.Uint16(req[7+2*i:])
		}
		return bustest.Frame(req[:6]...)
	default:
		return bustest.Frame(1, fc|0x80, 0x01)
	}
}

func startGateway(t *testing.T, port *bustest.Bus) *Gateway {
	t.Helper()
	cfg := &config.Config{
		Listen:    "127.0.0.1:0",
		QueueSize: 16,
		Serial: config.SerialConfig{
			Device:  "sim",
			Timeout: 0.03,
			Delay:   0.005,
		},
	}
	gw := New(cfg, port)
	require.NoError(t, gw.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gw.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return gw
}

func newClient(t *testing.T, gw *Gateway, unit byte) mbclient.Client {
	t.Helper()
	handler := mbclient.NewTCPClientHandler(gw.Addr().String())
	handler.SlaveId = unit
	handler.Timeout = 2 * time.Second
	require.NoError(t, handler.Connect())
	t.Cleanup(func() { handler.Close() })
	return mbclient.NewClient(handler)
}

func TestGateway_ReadWriteRegisters(t *testing.T) {
	sl := &slave{}
	port := &bustest.Bus{Respond: sl.respond, Timeout: 10 * time.Millisecond}
	gw := startGateway(t, port)
	client := newClient(t, gw, 1)

	_, err := client.WriteSingleRegister(2, 0x002A)
	require.NoError(t, err)
	_, err = client.WriteMultipleRegisters(3, 2, []byte{0x12, 0x34, 0x56, 0x78})
	require.NoError(t, err)

	results, err := client.ReadHoldingRegisters(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x2A, 0x12, 0x34, 0x56, 0x78}, results)

	assert.Zero(t, port.Overlaps())
	assert.EqualValues(t, 3, gw.Metrics().ReplyCount.Load())
}

func TestGateway_SlaveException(t *testing.T) {
	sl := &slave{}
	port := &bustest.Bus{Respond: sl.respond, Timeout: 10 * time.Millisecond}
	gw := startGateway(t, port)
	client := newClient(t, gw, 1)

	_, err := client.ReadHoldingRegisters(15, 2)
	var mbErr *mbclient.ModbusError
	require.True(t, errors.As(err, &mbErr), "err = %v", err)
	assert.EqualValues(t, mbclient.ExceptionCodeIllegalDataAddress, mbErr.ExceptionCode)
}

func TestGateway_NoResponse(t *testing.T) {
	sl := &slave{}
	port := &bustest.Bus{Respond: sl.respond, Timeout: 10 * time.Millisecond}
	gw := startGateway(t, port)
	client := newClient(t, gw, 2)

	_, err := client.ReadHoldingRegisters(0, 1)
	var mbErr *mbclient.ModbusError
	require.True(t, errors.As(err, &mbErr), "err = %v", err)
	assert.EqualValues(t, 0x83, mbErr.FunctionCode)
	assert.EqualValues(t, mbclient.ExceptionCodeGatewayTargetDeviceFailedToRespond, mbErr.ExceptionCode)
	assert.EqualValues(t, 1, gw.Metrics().EmptyReplyCount.Load())
}

func TestGateway_ConcurrentClients(t *testing.T) {
	sl := &slave{}
	port := &bustest.Bus{Respond: sl.respond, Timeout: 10 * time.Millisecond, Chunk: 3}
	gw := startGateway(t, port)

	const clients = 5
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		client := newClient(t, gw, 1)
		wg.Add(1)
		go func(reg uint16) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := client.WriteSingleRegister(reg, reg*100+uint16(j))
				assert.NoError(t, err)
				results, err := client.ReadHoldingRegisters(reg, 1)
				if assert.NoError(t, err) {
					assert.Equal(t, reg*100+uint16(j), binary.BigEndian.Uint16(results))
				}
			}
		}(uint16(i))
	}
	wg.Wait()

	writes := port.Writes()
	assert.Len(t, writes, clients*3*2)
	assert.Zero(t, port.Overlaps())
	for _, w := range writes[1:] {
		assert.GreaterOrEqual(t, w.Idle, 5*time.Millisecond)
	}
}

func TestGateway_BroadcastAndRawFrames(t *testing.T) {
	sl := &slave{}
	port := &bustest.Bus{Respond: sl.respond, Timeout: 10 * time.Millisecond}
	gw := startGateway(t, port)

	conn, err := net.Dial("tcp", gw.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	// broadcast write: nothing comes back
	_, err = conn.Write([]byte{0x00, 0x09, 0x00, 0x00, 0x00, 0x06, 0x00, 0x06, 0x00, 0x01, 0x00, 0x07})
	require.NoError(t, err)

	// silent unit: exception
	_, err = conn.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x03, 0x03, 0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	resp := make([]byte, 9)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x03, 0x83, 0x0B}, resp)

	writes := port.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, bustest.Frame(0x00, 0x06, 0x00, 0x01, 0x00, 0x07), writes[0].Frame)
	assert.Equal(t, bustest.Frame(0x03, 0x03, 0x00, 0x00, 0x00, 0x01), writes[1].Frame)
	assert.EqualValues(t, 1, gw.Metrics().BroadcastCount.Load())

	// bad protocol id: the connection is dropped without an answer
	_, err = conn.Write([]byte{0x00, 0x02, 0x00, 0x01, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	n, err := conn.Read(resp)
	assert.Zero(t, n)
	assert.Error(t, err)
	assert.Len(t, port.Writes(), 2)
}
