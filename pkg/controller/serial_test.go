package controller

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serial port. An exhausted input reads as a
// timeout, the way go.bug.st/serial reports one.
type fakePort struct {
	in      *bytes.Buffer
	out     bytes.Buffer
	resets  int
	closed  bool
	readErr error
}

func newFakePort(input string) *fakePort {
	return &fakePort{in: bytes.NewBufferString(input)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	p.in.Reset()
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.resets++
	return nil
}

func TestNew(t *testing.T) {
	dev := New("/dev/ttyACM0", 9600, DefaultReadTimeout/2, nil)
	assert.NotNil(t, dev)
	assert.Equal(t, "/dev/ttyACM0", dev.port)
	assert.Equal(t, 9600, dev.baudRate)
	assert.Equal(t, DefaultReadTimeout/2, dev.readTimeout)
	assert.NotNil(t, dev.logger)
}

func TestNew_Defaults(t *testing.T) {
	dev := New("COM3", 0, 0, nil)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultReadTimeout, dev.readTimeout)
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "OK\n", want: "OK"},
		{name: "carriage return", input: "HV ON\r\n", want: "HV ON"},
		{name: "stops at terminator", input: "1,2,3\nOK\n", want: "1,2,3"},
		{name: "empty line", input: "\n", want: ""},
		{name: "no terminator", input: "HV O", want: "HV O", wantErr: ErrTimeout},
		{name: "nothing", input: "", want: "", wantErr: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLine(newFakePort(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLine_TooLong(t *testing.T) {
	_, err := readLine(newFakePort(strings.Repeat("x", maxLineLength+1)))
	assert.Error(t, err)
}

func TestReadLine_ReaderError(t *testing.T) {
	p := newFakePort("")
	p.readErr = io.ErrUnexpectedEOF

	_, err := readLine(p)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSerial_NotOpen(t *testing.T) {
	dev := New("COM3", 0, 0, nil)

	assert.ErrorIs(t, dev.Send(CmdTest), ErrClosed)
	_, err := dev.Read()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, dev.Flush(), ErrClosed)
	assert.NoError(t, dev.Close())
}

func TestSerial_OpenErrors(t *testing.T) {
	dev := New("/nonexistent/tty-coilgun", 0, 0, nil)
	err := dev.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port /nonexistent/tty-coilgun")
	assert.NotEqual(t, err, errors.Cause(err))

	dev.conn = newFakePort("")
	assert.EqualError(t, dev.Open(), "already connected")
}

func TestSerial_SendRead(t *testing.T) {
	p := newFakePort("HV pins set to: 101\r\n")
	dev := New("COM3", 0, 0, nil)
	dev.conn = p

	require.NoError(t, dev.Send(CmdHV))
	require.NoError(t, dev.Send("101"))
	assert.Equal(t, "HV\n101\n", p.out.String())

	line, err := dev.Read()
	require.NoError(t, err)
	assert.Equal(t, "HV pins set to: 101", line)

	_, err = dev.Read()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSerial_FlushAndClose(t *testing.T) {
	p := newFakePort("stale\n")
	dev := New("COM3", 0, 0, nil)
	dev.conn = p

	require.NoError(t, dev.Flush())
	assert.Equal(t, 2, p.resets)
	_, err := dev.Read()
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, dev.Close())
	assert.True(t, p.closed)
	assert.Nil(t, dev.conn)
	assert.NoError(t, dev.Close())
}
