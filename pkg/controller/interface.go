package controller

// Transport is a synchronous request/response channel to the controller.
// Every Send is a single newline-terminated line; Read blocks until one
// response line arrives or the read timeout expires.
type Transport interface {
	Send(line string) error
	Read() (string, error)
	Flush() error
	Close() error
}

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Ensure Direct implements Transport.
var _ Transport = (*Direct)(nil)

// Ensure Simulator implements Transport.
var _ Transport = (*Simulator)(nil)
