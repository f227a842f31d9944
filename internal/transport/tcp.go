package transport

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	tcpDialTimeout = 5 * time.Second
	tcpIOTimeout   = 5 * time.Second
)

// TCPTransport talks SCPI over a raw TCP socket (the conventional
// instrument port is 5025).
type TCPTransport struct {
	conn   net.Conn
	addr   string
	reader *bufio.Reader
	logger *slog.Logger
	mu     sync.Mutex
}

// DialTCP connects to an instrument at addr ("host:port").
func DialTCP(addr string, logger *slog.Logger) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, tcpDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return &TCPTransport{
		conn:   conn,
		addr:   addr,
		reader: bufio.NewReader(conn),
		logger: logger,
	}, nil
}

func (t *TCPTransport) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(cmd)
}

func (t *TCPTransport) writeLocked(cmd string) error {
	t.logger.Debug("tcp write", "addr", t.addr, "cmd", cmd)
	if err := t.conn.SetWriteDeadline(time.Now().Add(tcpIOTimeout)); err != nil {
		return fmt.Errorf("tcp: set write deadline: %w", err)
	}
	if _, err := t.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("tcp: write %q: %w", cmd, err)
	}
	return nil
}

func (t *TCPTransport) Ask(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeLocked(cmd); err != nil {
		return "", err
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(tcpIOTimeout)); err != nil {
		return "", fmt.Errorf("tcp: set read deadline: %w", err)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("tcp: read reply to %q: %w", cmd, err)
	}
	reply := strings.TrimRight(line, "\r\n")
	t.logger.Debug("tcp reply", "addr", t.addr, "cmd", cmd, "reply", reply)
	return reply, nil
}

// Clear drains any pending input so the next exchange starts clean.
func (t *TCPTransport) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		return fmt.Errorf("tcp: set read deadline: %w", err)
	}
	buf := make([]byte, 512)
	for {
		_, err := t.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return fmt.Errorf("tcp: drain: %w", err)
		}
	}
	t.reader.Reset(t.conn)
	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
