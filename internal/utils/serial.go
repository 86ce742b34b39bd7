package utils

import (
	"strings"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes an RTU line.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 9600
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	sp.Parity = strings.ToUpper(strings.TrimSpace(sp.Parity))
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 5 * time.Second
	}
}

// SerialConfig returns the port configuration with defaults filled in.
func SerialConfig(sp SerialParams) serial.Config {
	EnsureSerialDefaults(&sp)
	return serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	}
}
