package controller

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/itohio/coilgun/pkg/config"
)

const (
	// DefaultBaudRate is the baud rate the controller firmware uses.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds every blocking read.
	DefaultReadTimeout = 10 * time.Second
	// maxLineLength guards against a controller that never sends a terminator.
	maxLineLength = 4096
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// port is the subset of serial.Port used by Serial.
type port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Serial is a line-protocol connection to the controller over a serial port.
type Serial struct {
	port        string
	baudRate    int
	readTimeout time.Duration

	conn   port
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// New creates a new Serial instance with the specified port, baud rate, and read timeout.
func New(port string, baudRate int, readTimeout time.Duration, logger *zap.SugaredLogger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		clock:       clock.New(),
		logger:      logger,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		result := make([]Port, 0, len(details))
		for _, d := range details {
			desc := d.Name
			if d.IsUSB {
				desc = fmt.Sprintf("%s %s:%s %s", d.Product, d.VID, d.PID, d.SerialNumber)
			}
			result = append(result, Port{Name: d.Name, Description: strings.TrimSpace(desc)})
		}
		return result, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}
	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Open opens the serial port without testing the connection.
func (d *Serial) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return errors.New("already connected")
	}

	conn, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", d.port)
	}
	if err := conn.SetReadTimeout(d.readTimeout); err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to set read timeout on %s", d.port)
	}

	d.conn = conn
	return nil
}

// Connect opens the port, discards stale bytes, waits for the controller to
// come out of reset and runs the connection test.
func (d *Serial) Connect(hs config.HandshakeConfig) error {
	if err := d.Open(); err != nil {
		return err
	}
	if err := d.Flush(); err != nil {
		d.Close()
		return err
	}
	d.clock.Sleep(hs.Settle)

	d.logger.Infow("testing connection", "port", d.port, "baud", d.baudRate)
	return Handshake(d, d.clock, hs.Attempts, hs.Interval, d.logger)
}

// Send writes one line to the controller.
func (d *Serial) Send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrClosed
	}

	d.logger.Debugw("send", "line", line)
	if _, err := d.conn.Write([]byte(line + string(Terminator))); err != nil {
		return errors.Wrapf(err, "failed to send %q", line)
	}
	return nil
}

// Read reads one response line. The terminator and any carriage return are
// stripped. A read that times out before the terminator returns ErrTimeout.
func (d *Serial) Read() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return "", ErrClosed
	}

	line, err := readLine(d.conn)
	d.logger.Debugw("read", "line", line, "error", err)
	return line, err
}

// Flush discards any buffered input and output.
func (d *Serial) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrClosed
	}
	if err := d.conn.ResetInputBuffer(); err != nil {
		return errors.Wrap(err, "failed to reset input buffer")
	}
	if err := d.conn.ResetOutputBuffer(); err != nil {
		return errors.Wrap(err, "failed to reset output buffer")
	}
	return nil
}

// Close closes the serial port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return errors.Wrap(err, "error closing serial port")
	}
	return nil
}

// readLine reads byte by byte up to the terminator. The serial driver
// reports a read timeout as a zero length read without error.
func readLine(r io.Reader) (string, error) {
	var (
		line strings.Builder
		buf  [1]byte
	)
	for line.Len() < maxLineLength {
		n, err := r.Read(buf[:])
		if err != nil {
			return strings.TrimRight(line.String(), "\r"), errors.Wrap(err, "failed to read response")
		}
		if n == 0 {
			return strings.TrimRight(line.String(), "\r"), ErrTimeout
		}
		if buf[0] == Terminator {
			return strings.TrimRight(line.String(), "\r"), nil
		}
		line.WriteByte(buf[0])
	}
	return line.String(), errors.Errorf("response exceeds %d bytes", maxLineLength)
}
