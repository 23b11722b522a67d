// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbusgw/internal/config"
)

// Open opens and configures the serial device described by cfg. Every read
// on the returned port gives up after cfg.Timeout.
func Open(cfg config.SerialConfig) (io.ReadWriteCloser, error) {
	sc := portConfig(cfg)
	port, err := serial.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", sc.Address, err)
	}
	slog.Info("Serial device opened", "device", sc.Address, "baudRate", sc.BaudRate, "dataBits", sc.DataBits,
		"parity", sc.Parity, "stopBits", sc.StopBits, "timeout", sc.Timeout, "rs485", sc.RS485.Enabled)
	return port, nil
}

func portConfig(cfg config.SerialConfig) *serial.Config {
	sc := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.ReadTimeout(),
	}
	if cfg.RS485.Enabled {
		sc.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.RS485.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.RS485.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RS485.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RS485.RtsHighAfterSend,
			RxDuringTx:         cfg.RS485.RxDuringTx,
		}
	}
	return sc
}
