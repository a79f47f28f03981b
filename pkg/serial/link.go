// Package serial implements the framed, checksummed ASCII link to the dome's
// motor controllers. It knows nothing about what the commands mean — that is
// the job of pkg/motor — only how to get a command there and a reply back.
package serial

import (
	"bufio"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	tarmserial "github.com/tarm/serial"
)

const (
	ack            byte = 0x06
	reboot         byte = 0x03
	rebootSettle        = 5 * time.Second
	interCmdDelay       = 100 * time.Millisecond
	retryDelay          = 1 * time.Second
	valueLineSuffix     = "\r\n"
)

// ErrNotConnected is returned by Link operations when the port has not been
// opened (or has been torn down after a fatal I/O error).
var ErrNotConnected = fmt.Errorf("serial link is not connected")

// port is the subset of *tarmserial.Port that Link depends on, so tests can
// substitute an in-memory fake.
type port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Flush() error
	Close() error
}

// Config carries the parameters of §3: serial_port, serial_baud,
// serial_timeout, serial_retries.
type Config struct {
	Name    string
	Baud    int
	Timeout time.Duration
	Retries int
}

// Link is the point-to-point byte stream to a motor controller. All methods
// are safe to call only from a single goroutine (the arbiter owns it
// exclusively — see spec §5).
type Link struct {
	cfg    Config
	port   port
	reader *bufio.Reader
	logger log.FieldLogger
	opener func(c *tarmserial.Config) (port, error)
}

func defaultOpener(c *tarmserial.Config) (port, error) {
	return tarmserial.OpenPort(c)
}

// New returns an unopened Link. Call Open before SendCommand.
func New(cfg Config, logger log.FieldLogger) *Link {
	return &Link{cfg: cfg, logger: logger, opener: defaultOpener}
}

// Open opens the serial port, flushes both buffers, reboots the controller
// and waits for it to settle — the procedure described in spec §4.1.
func (l *Link) Open() error {
	p, err := l.opener(&tarmserial.Config{
		Name:        l.cfg.Name,
		Baud:        l.cfg.Baud,
		ReadTimeout: l.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("opening serial port %s: %v", l.cfg.Name, err)
	}

	l.port = p
	l.reader = bufio.NewReader(p)

	if err := l.port.Flush(); err != nil {
		l.logger.Warnf("flush on open failed: %v", err)
	}

	if _, err := l.port.Write([]byte{reboot}); err != nil {
		l.Close()
		return fmt.Errorf("sending reboot byte: %v", err)
	}

	l.logger.Infof("sent reboot byte, settling for %s", rebootSettle)
	time.Sleep(rebootSettle)

	return nil
}

// Close closes the port. Idempotent.
func (l *Link) Close() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.reader = nil
	return err
}

// Connected reports whether the port is currently open.
func (l *Link) Connected() bool {
	return l.port != nil
}

// SendCommand sends one framed command and, if expectsValue is true, reads
// back and verifies a checksummed value reply. It makes up to cfg.Retries
// attempts in total, retrying on any flush, write, ACK or value error.
func (l *Link) SendCommand(cmd string, expectsValue bool) (string, error) {
	if !l.Connected() {
		return "", ErrNotConnected
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		if attempt > 1 {
			l.logger.Warnf("retrying command %q (attempt %d/%d): %v", cmd, attempt, l.cfg.Retries, lastErr)
			time.Sleep(retryDelay)
		}

		if err := l.port.Flush(); err != nil {
			lastErr = fmt.Errorf("flush before send: %v", err)
			continue
		}
		time.Sleep(interCmdDelay)

		value, err := l.sendOnce(cmd, expectsValue)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("command %q failed after %d attempts: %v", cmd, l.cfg.Retries, lastErr)
}

func (l *Link) sendOnce(cmd string, expectsValue bool) (string, error) {
	frame := frameCommand(cmd)
	if _, err := l.port.Write(frame); err != nil {
		return "", fmt.Errorf("write: %v", err)
	}

	replyByte, err := l.reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("read ack: %v", err)
	}
	if replyByte != ack {
		return "", fmt.Errorf("NAK (0x%02x)", replyByte)
	}

	if !expectsValue {
		return "", nil
	}

	line, err := l.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read value: %v", err)
	}
	return parseValueLine(line)
}

// frameCommand wraps cmd in the outbound wire format of spec §4.1/§6:
// '\n' + ASCII + checksum byte + '\n'.
func frameCommand(cmd string) []byte {
	payload := []byte(cmd)
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, '\n')
	frame = append(frame, payload...)
	frame = append(frame, checksum(payload))
	frame = append(frame, '\n')
	return frame
}

// parseValueLine strips and verifies the trailing checksum byte + CRLF of an
// inbound value reply.
func parseValueLine(line string) (string, error) {
	if len(line) < 3 {
		return "", fmt.Errorf("value reply too short: %q", line)
	}
	if line[len(line)-len(valueLineSuffix):] != valueLineSuffix {
		return "", fmt.Errorf("value reply missing CRLF terminator: %q", line)
	}
	body := line[:len(line)-len(valueLineSuffix)]
	payload, got := body[:len(body)-1], body[len(body)-1]
	want := checksum([]byte(payload))
	if got != want {
		return "", fmt.Errorf("checksum mismatch on %q: got 0x%02x want 0x%02x", payload, got, want)
	}
	return payload, nil
}

// checksum implements the single-byte checksum of spec §4.1/§6:
// ((~(sum(bytes) & 0x7F) + 1) | 0x80).
func checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	low7 := byte(sum & 0x7F)
	return (^low7 + 1) | 0x80
}
