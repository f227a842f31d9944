// Package transport provides the byte-channel session to the instrument.
// Backends: serial (RS-232 or a Prologix-style GPIB adapter exposed as a
// serial port) and raw TCP socket (SCPI port 5025).
package transport

// Transport is the abstract instrument session. Commands are plain SCPI
// text without termination; the backend appends framing and strips it
// from replies.
type Transport interface {
	// Write sends a command with no reply expected.
	Write(cmd string) error
	// Ask sends a command and returns the reply, trimmed of framing.
	Ask(cmd string) (string, error)
	// Clear performs an interface clear, discarding any pending I/O.
	Clear() error
	// Close releases the session.
	Close() error
}
