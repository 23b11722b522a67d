// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ffutop/modbusgw/modbus"
	"github.com/ffutop/modbusgw/transport"
	"github.com/ffutop/modbusgw/transport/rtu"
)

// ErrNoResponse marks requests the bus did not answer.
var ErrNoResponse = errors.New("modbus: no response")

// Server implements a Modbus TCP Server in front of an RTU bus.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener

	conns  *xsync.MapOf[uint64, net.Conn]
	nextID atomic.Uint64
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
		conns:   xsync.NewMapOf[uint64, net.Conn](),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("Modbus TCP server listening", "addr", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections and forwards their requests to bus until ctx
// is done or the server is closed. It calls Listen if needed.
func (s *Server) Serve(ctx context.Context, bus transport.Bus) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Check if closed
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, bus, conn)
		}()
	}
}

// Close closes the listener and every client connection.
func (s *Server) Close() error {
	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.conns.Range(func(_ uint64, conn net.Conn) bool {
		conn.Close()
		return true
	})
	return err
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	return s.conns.Size()
}

func (s *Server) handleConnection(ctx context.Context, bus transport.Bus, conn net.Conn) {
	id := s.nextID.Add(1)
	s.conns.Store(id, conn)
	defer s.conns.Delete(id)
	defer conn.Close()
	if ctx.Err() != nil {
		return
	}

	log := slog.With("addr", conn.RemoteAddr())
	log.Info("New TCP client connected")

	for {
		req, err := ReadRequest(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("TCP client disconnected gracefully")
			case ctx.Err() != nil:
			default:
				log.Error("Client frame broken", "err", err)
			}
			return
		}

		resp, err := forward(ctx, bus, req)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Failed to process request", "err", err)
			}
			return
		}
		if resp == nil {
			continue
		}

		if _, err = conn.Write(resp); err != nil {
			log.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}

// forward runs req on the bus and builds the bytes to send back, nil for
// broadcasts. An error means the connection cannot continue.
func forward(ctx context.Context, bus transport.Bus, req *ApplicationDataUnit) ([]byte, error) {
	rtuReq := &rtu.ApplicationDataUnit{
		SlaveID: req.SlaveID,
		Pdu:     req.Pdu,
	}
	frame, err := rtuReq.Encode()
	if err != nil {
		return nil, err
	}

	broadcast := modbus.IsBroadcast(req.SlaveID)
	reply, err := bus.Submit(ctx, frame, broadcast)
	if err != nil {
		return nil, err
	}
	if broadcast {
		return nil, nil
	}

	if len(reply.Frame) == 0 {
		cause := ErrNoResponse
		if reply.Err != nil {
			cause = fmt.Errorf("%w: %w", ErrNoResponse, reply.Err)
		}
		return exception(req, cause)
	}
	rtuResp, err := rtu.Decode(reply.Frame)
	if err != nil {
		return exception(req, err)
	}

	resp := &ApplicationDataUnit{
		TransactionID: req.TransactionID,
		ProtocolID:    req.ProtocolID,
		SlaveID:       rtuResp.SlaveID,
		Pdu:           rtuResp.Pdu,
	}
	raw, err := resp.Encode()
	if err != nil {
		// valid on the bus but too long for an MBAP frame
		return exception(req, err)
	}
	return raw, nil
}

// exception logs cause and answers with "gateway target device failed to
// respond", whatever went wrong on the bus.
func exception(req *ApplicationDataUnit, cause error) ([]byte, error) {
	slog.Error("RTU request failed, preparing exception response",
		"slaveID", req.SlaveID, "func", req.Pdu.FunctionCode, "tid", req.TransactionID, "err", cause)
	raw, err := NewException(req, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond).Encode()
	if err == nil {
		slog.Debug("TCP response encoded", "response", hex.EncodeToString(raw))
	}
	return raw, err
}
