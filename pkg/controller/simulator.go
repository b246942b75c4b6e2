package controller

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/coilgun/pkg/config"
)

// Simulator is an in-process controller speaking the line protocol. Banks
// charge by a fixed number of ADC codes per voltage read while main HV and
// their own HV relay are on and their drain relay is open.
type Simulator struct {
	cfg config.MockConfig

	mu        sync.Mutex
	open      bool
	codes     []int
	positions []int
	mainHV    bool
	hv        []bool
	drainWire []bool // As sent on the wire: false drains the bank
	pending   string // Command waiting for its payload line
	responses []string
	lines     []string

	failTests int
}

// NewSimulator creates a simulated controller for cfg.Coils banks.
func NewSimulator(cfg *config.MockConfig) *Simulator {
	if cfg == nil {
		cfg = &config.MockConfig{
			Coils:        3,
			ChargeStep:   8,
			DrainStep:    40,
			Residual:     0.02,
			BlockingTime: 900 * time.Microsecond,
			SensorGap:    4 * time.Millisecond,
		}
	}

	return &Simulator{
		cfg:       *cfg,
		open:      true,
		codes:     make([]int, cfg.Coils),
		positions: make([]int, cfg.Coils),
		hv:        make([]bool, cfg.Coils),
		drainWire: make([]bool, cfg.Coils),
	}
}

// Send processes one line from the host.
func (s *Simulator) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrClosed
	}

	s.lines = append(s.lines, line)

	if s.pending != "" {
		cmd := s.pending
		s.pending = ""
		s.payload(cmd, line)
		return nil
	}

	switch line {
	case CmdTest:
		if s.failTests > 0 {
			s.failTests--
			s.respond("?")
			return nil
		}
		s.respond(RespOK)
	case CmdMainHVOn:
		s.mainHV = true
		s.respond(RespHVOn)
	case CmdMainHVOff:
		s.mainHV = false
		s.respond(RespHVOff)
	case CmdReadVoltages:
		s.respond(FormatInts(s.codes))
		s.step()
	case CmdFire:
		s.fire()
	case CmdCharge:
		s.respond(RespCharge)
	case CmdCountdown:
		s.respond(RespCountdown)
	case CmdAbort:
		s.respond(RespAbort)
	case CmdBlink:
		s.respond(RespBlink)
	case CmdSensors:
		s.respond(EncodeBits(make([]bool, len(s.codes))))
	case CmdHV, CmdDrain, CmdDisplayCharge, CmdPot:
		s.pending = line
	default:
		s.respond("UNKNOWN COMMAND: " + line)
	}
	return nil
}

// Read returns the next queued response.
func (s *Simulator) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return "", ErrClosed
	}
	if len(s.responses) == 0 {
		return "", ErrTimeout
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

// Flush drops unread responses and any half-sent command.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = nil
	s.pending = ""
	return nil
}

// Close closes the simulated connection.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	return nil
}

// IsConnected returns whether the simulator accepts commands.
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// FailTests makes the next n connection tests answer with garbage.
func (s *Simulator) FailTests(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTests = n
}

// SetCodes overrides the bank charge, in ADC codes.
func (s *Simulator) SetCodes(codes []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.codes, codes)
}

// Codes returns the bank charge, in ADC codes.
func (s *Simulator) Codes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.codes...)
}

// MainHV reports whether the main HV relay is closed.
func (s *Simulator) MainHV() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainHV
}

// HV returns the per-bank HV relay states.
func (s *Simulator) HV() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.hv...)
}

// Draining returns which banks are connected to their drain resistor.
func (s *Simulator) Draining() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	draining := make([]bool, len(s.drainWire))
	for i, w := range s.drainWire {
		draining[i] = !w
	}
	return draining
}

// Positions returns the last potentiometer positions received.
func (s *Simulator) Positions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.positions...)
}

// Lines returns every line received so far.
func (s *Simulator) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Payloads returns the payload lines that followed each occurrence of cmd.
func (s *Simulator) Payloads(cmd string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []string
	for i := 0; i+1 < len(s.lines); i++ {
		if s.lines[i] == cmd {
			result = append(result, s.lines[i+1])
			i++
		}
	}
	return result
}

func (s *Simulator) respond(line string) {
	s.responses = append(s.responses, line)
}

func (s *Simulator) payload(cmd, line string) {
	switch cmd {
	case CmdHV, CmdDrain:
		bits, err := DecodeBits(line)
		if err != nil || len(bits) != len(s.codes) {
			s.respond("ERROR: bad bank vector " + line)
			return
		}
		if cmd == CmdHV {
			s.hv = bits
			s.respond(RespHV + line)
		} else {
			s.drainWire = bits
			s.respond(RespDrain + line)
		}
	case CmdDisplayCharge:
		if _, err := strconv.Atoi(strings.TrimSpace(line)); err != nil {
			s.respond("ERROR: bad percentage " + line)
			return
		}
		s.respond(RespDisplayCharge + line)
	case CmdPot:
		positions, err := ParseInts(line)
		if err != nil || len(positions) != len(s.codes) {
			s.respond("ERROR: bad positions " + line)
			return
		}
		s.positions = positions
		s.respond(RespPot + line)
	}
}

// step advances the charge of every bank by one voltage read.
func (s *Simulator) step() {
	for i := range s.codes {
		switch {
		case !s.drainWire[i]:
			s.codes[i] -= s.cfg.DrainStep
			if s.codes[i] < 0 {
				s.codes[i] = 0
			}
		case s.mainHV && s.hv[i]:
			s.codes[i] += s.cfg.ChargeStep
		}
	}
}

// fire dumps every bank into its coil and reports sensor blocking times
// and trigger timestamps in microseconds.
func (s *Simulator) fire() {
	blocking := make([]int, len(s.codes))
	triggers := make([]int, len(s.codes))
	for i := range s.codes {
		blocking[i] = int(s.cfg.BlockingTime.Microseconds()) * 10 / (10 + 3*i)
		triggers[i] = int((time.Duration(i) * s.cfg.SensorGap).Microseconds())
		s.codes[i] = int(float64(s.codes[i]) * s.cfg.Residual)
	}
	s.respond(FormatInts(blocking))
	s.respond(FormatInts(triggers))
}
