// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultListen    = "0.0.0.0:5502"
	DefaultQueueSize = 100
	DefaultBaudRate  = 9600
	DefaultDataBits  = 8
	DefaultParity    = "N"
	DefaultStopBits  = 1
	DefaultTimeout   = 2.0  // seconds
	DefaultDelay     = 0.02 // seconds
)

// ErrHelp is returned by Load when help or the version was requested.
var ErrHelp = pflag.ErrHelp

// BaudRates lists the supported serial speeds.
var BaudRates = []int{110, 300, 600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// Config defines the global configuration structure
type Config struct {
	Listen    string       `mapstructure:"listen"`     // e.g. "0.0.0.0:5502"
	QueueSize int          `mapstructure:"queue_size"` // Tasks waiting for the bus
	Serial    SerialConfig `mapstructure:"serial"`
	Log       LogConfig    `mapstructure:"log"`

	// Version is set when --version was given.
	Version bool `mapstructure:"-"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	File   string `mapstructure:"file"`   // Log file path, empty or "-" for stdout
	Format string `mapstructure:"format"` // text, json, console
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string  `mapstructure:"device"`
	BaudRate int     `mapstructure:"baud_rate"`
	DataBits int     `mapstructure:"data_bits"`
	Parity   string  `mapstructure:"parity"`
	StopBits int     `mapstructure:"stop_bits"`
	Timeout  float64 `mapstructure:"timeout"` // Read timeout in seconds
	Delay    float64 `mapstructure:"delay"`   // Pause between frames in seconds

	RS485 RS485Config `mapstructure:"rs485"`
}

// RS485Config defines RTS handling for RS485 adapters.
type RS485Config struct {
	Enabled            bool          `mapstructure:"enabled"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// ReadTimeout returns how long a read may wait for the bus.
func (s SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

// FrameDelay returns the silence kept between transactions, in whole
// milliseconds.
func (s SerialConfig) FrameDelay() time.Duration {
	return time.Duration(s.Delay * float64(time.Second)).Truncate(time.Millisecond)
}

// flag name -> config key
var flagKeys = map[string]string{
	"listen":     "listen",
	"queue-size": "queue_size",
	"port":       "serial.device",
	"baud-rate":  "serial.baud_rate",
	"char-size":  "serial.data_bits",
	"parity":     "serial.parity",
	"stop-bits":  "serial.stop_bits",
	"timeout":    "serial.timeout",
	"delay":      "serial.delay",
	"log-level":  "log.level",
	"log-file":   "log.file",
	"log-format": "log.format",
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.Bool("version", false, "Print version and exit.")
	fs.StringP("listen", "l", DefaultListen, "host:port to listen on.")
	fs.Int("queue-size", DefaultQueueSize, "Maximum number of requests waiting for the serial bus.")
	fs.StringP("port", "p", "", "Serial port device (required).")
	fs.IntP("baud-rate", "b", DefaultBaudRate, "Serial port baud rate.")
	fs.Int("char-size", DefaultDataBits, "Serial port char size (5-8).")
	fs.String("parity", DefaultParity, "Serial port parity (N, E, O).")
	fs.Int("stop-bits", DefaultStopBits, "Serial port stop bits (1, 2).")
	fs.Float64("timeout", DefaultTimeout, "Serial port timeout in seconds.")
	fs.Float64("delay", DefaultDelay, "Delay between frames in seconds.")
	fs.StringP("log-level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log-file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	fs.String("log-format", "text", "Log format (text, json, console).")
	return fs
}

// Load builds the configuration from command line arguments (without the
// program name), environment variables prefixed with MODBUSGW_ and an
// optional config file, in that order of precedence.
func Load(name string, args []string) (*Config, error) {
	fs := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("serial.baud_rate", DefaultBaudRate)
	v.SetDefault("serial.data_bits", DefaultDataBits)
	v.SetDefault("serial.parity", DefaultParity)
	v.SetDefault("serial.stop_bits", DefaultStopBits)
	v.SetDefault("serial.timeout", DefaultTimeout)
	v.SetDefault("serial.delay", DefaultDelay)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("modbusgw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusgw/")
		v.AddConfigPath("$HOME/.modbusgw")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Everything can be given on the command line, so a missing file is fine.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Version, _ = fs.GetBool("version")
	config.Serial.Parity = strings.ToUpper(config.Serial.Parity)

	return &config, nil
}

// Validate checks every setting the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size %d must be positive", c.QueueSize))
	}
	if err := c.Serial.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (s *SerialConfig) Validate() error {
	var errs []error
	if s.Device == "" {
		errs = append(errs, errors.New("serial port device is required"))
	}
	if !slices.Contains(BaudRates, s.BaudRate) {
		errs = append(errs, fmt.Errorf("baud rate %d not supported", s.BaudRate))
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		errs = append(errs, fmt.Errorf("char size %d not supported", s.DataBits))
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		errs = append(errs, fmt.Errorf("parity %q not supported", s.Parity))
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		errs = append(errs, fmt.Errorf("stop bits %d not supported", s.StopBits))
	}
	if s.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout %v must be positive", s.Timeout))
	}
	if s.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay %v must not be negative", s.Delay))
	}
	return errors.Join(errs...)
}
