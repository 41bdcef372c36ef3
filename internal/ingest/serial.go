package ingest

import (
	"bufio"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"
)

const serialChannel = "serial"

// serialAdapter reads newline-delimited frames from a serial port. Read
// errors are logged, not fatal; the loop ends when the port is closed.
type serialAdapter struct {
	port   serial.Port
	emit   emitFunc
	logger *slog.Logger
	closed atomic.Bool
}

func openSerial(cfg Config, emit emitFunc, logger *slog.Logger) (*serialAdapter, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.Open(cfg.SerialPort, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	a := &serialAdapter{port: port, emit: emit, logger: logger}
	go a.readLoop()
	return a, nil
}

func (a *serialAdapter) readLoop() {
	scanner := bufio.NewScanner(a.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.emit(serialChannel, line)
	}
	if err := scanner.Err(); err != nil && !a.closed.Load() {
		a.logger.Warn("serial read error", slog.String("error", err.Error()))
	}
}

func (a *serialAdapter) Close() error {
	a.closed.Store(true)
	return a.port.Close()
}
