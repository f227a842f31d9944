package transport

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultReadTimeout = 5 * time.Second

// SerialTransport talks SCPI over a serial port, one newline-terminated
// command or reply per exchange.
type SerialTransport struct {
	port     serial.Port
	portName string
	reader   *bufio.Reader
	logger   *slog.Logger
	mu       sync.Mutex
}

// OpenSerial opens the named serial port at the given baud rate.
func OpenSerial(portName string, baudRate int, logger *slog.Logger) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}

	// Some RS-232 instruments gate their transmitter on DTR/RTS.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return &SerialTransport{
		port:     port,
		portName: portName,
		reader:   bufio.NewReader(port),
		logger:   logger,
	}, nil
}

func (t *SerialTransport) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(cmd)
}

func (t *SerialTransport) writeLocked(cmd string) error {
	t.logger.Debug("serial write", "port", t.portName, "cmd", cmd)
	if _, err := t.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("serial: write %q: %w", cmd, err)
	}
	return nil
}

func (t *SerialTransport) Ask(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeLocked(cmd); err != nil {
		return "", err
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("serial: read reply to %q: %w", cmd, err)
	}
	reply := strings.TrimRight(line, "\r\n")
	t.logger.Debug("serial reply", "port", t.portName, "cmd", cmd, "reply", reply)
	return reply, nil
}

// Clear discards buffered I/O on both sides of the port.
func (t *SerialTransport) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial: reset input: %w", err)
	}
	if err := t.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("serial: reset output: %w", err)
	}
	t.reader.Reset(t.port)
	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}
