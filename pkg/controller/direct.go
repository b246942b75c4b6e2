package controller

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/coilgun/pkg/config"
)

// Pin is a GPIO line. rpio.Pin satisfies it.
type Pin interface {
	High()
	Low()
	Read() rpio.State
}

// ADCReader returns the raw code of one ADC channel.
type ADCReader func(channel int) (int, error)

// DirectPins groups the GPIO lines of the direct-drive variant, one per bank
// except MainHV.
type DirectPins struct {
	MainHV  Pin
	HV      []Pin
	Drain   []Pin
	Fire    []Pin
	Sensors []Pin // Low while the beam is blocked
}

// Direct drives the relays, trigger lines and sensors from the host's own
// GPIO and SPI, answering the same line protocol the controller firmware
// does. Firing is timed by the host and therefore only soft real time.
type Direct struct {
	cfg    config.DirectConfig
	pins   DirectPins
	adc    ADCReader
	clock  clock.Clock
	logger *zap.SugaredLogger
	closer func() error

	mu        sync.Mutex
	open      bool
	pending   string
	responses []string
}

// OpenDirect claims the Raspberry Pi GPIO and SPI peripherals.
func OpenDirect(cfg config.DirectConfig, banks int, logger *zap.SugaredLogger) (*Direct, error) {
	for name, pins := range map[string][]int{
		"hv_pins":      cfg.HVPins,
		"drain_pins":   cfg.DrainPins,
		"fire_pins":    cfg.FirePins,
		"sensor_pins":  cfg.SensorPins,
		"adc_channels": cfg.ADCChannels,
	} {
		if len(pins) != banks {
			return nil, errors.Errorf("direct: %s has %d entries, expected %d", name, len(pins), banks)
		}
	}

	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "direct: failed to open GPIO")
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, errors.Wrap(err, "direct: failed to open SPI")
	}
	rpio.SpiSpeed(cfg.SPISpeed)
	rpio.SpiChipSelect(0)

	output := func(n int) Pin {
		p := rpio.Pin(n)
		p.Output()
		p.Low()
		return p
	}
	input := func(n int) Pin {
		p := rpio.Pin(n)
		p.Input()
		p.PullUp()
		return p
	}

	pins := DirectPins{MainHV: output(cfg.MainHVPin)}
	for i := 0; i < banks; i++ {
		pins.HV = append(pins.HV, output(cfg.HVPins[i]))
		pins.Drain = append(pins.Drain, output(cfg.DrainPins[i]))
		pins.Fire = append(pins.Fire, output(cfg.FirePins[i]))
		pins.Sensors = append(pins.Sensors, input(cfg.SensorPins[i]))
	}

	d := NewDirect(cfg, pins, readMCP3008, clock.New(), logger)
	d.closer = func() error {
		rpio.SpiEnd(rpio.Spi0)
		return rpio.Close()
	}
	return d, nil
}

// NewDirect creates a direct-drive transport over already configured pins.
func NewDirect(cfg config.DirectConfig, pins DirectPins, adc ADCReader, clk clock.Clock, logger *zap.SugaredLogger) *Direct {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Direct{
		cfg:    cfg,
		pins:   pins,
		adc:    adc,
		clock:  clk,
		logger: logger,
		open:   true,
	}
}

// readMCP3008 performs one single-ended conversion on an MCP3008.
func readMCP3008(channel int) (int, error) {
	if channel < 0 || channel > 7 {
		return 0, errors.Errorf("invalid MCP3008 channel %d", channel)
	}
	buf := []byte{1, byte(8+channel) << 4, 0}
	rpio.SpiExchange(buf)
	return int(buf[1]&3)<<8 | int(buf[2]), nil
}

// Send executes one line.
func (d *Direct) Send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrClosed
	}
	d.logger.Debugw("direct send", "line", line)

	if d.pending != "" {
		cmd := d.pending
		d.pending = ""
		d.payload(cmd, line)
		return nil
	}

	switch line {
	case CmdTest:
		d.respond(RespOK)
	case CmdMainHVOn:
		d.pins.MainHV.High()
		d.respond(RespHVOn)
	case CmdMainHVOff:
		d.pins.MainHV.Low()
		d.respond(RespHVOff)
	case CmdReadVoltages:
		d.readVoltages()
	case CmdFire:
		d.fire()
	case CmdCharge:
		d.respond(RespCharge)
	case CmdCountdown:
		d.respond(RespCountdown)
	case CmdBlink:
		d.respond(RespBlink)
	case CmdAbort:
		for _, p := range d.pins.Fire {
			p.Low()
		}
		d.respond(RespAbort)
	case CmdSensors:
		blocked := make([]bool, len(d.pins.Sensors))
		for i, p := range d.pins.Sensors {
			blocked[i] = p.Read() == rpio.Low
		}
		d.respond(EncodeBits(blocked))
	case CmdHV, CmdDrain, CmdDisplayCharge, CmdPot:
		d.pending = line
	default:
		d.respond("UNKNOWN COMMAND: " + line)
	}
	return nil
}

// Read returns the next response.
func (d *Direct) Read() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return "", ErrClosed
	}
	if len(d.responses) == 0 {
		return "", ErrTimeout
	}
	r := d.responses[0]
	d.responses = d.responses[1:]
	return r, nil
}

// Flush drops unread responses.
func (d *Direct) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.responses = nil
	d.pending = ""
	return nil
}

// Close de-energises every relay, which drains all banks, and releases the
// peripherals.
func (d *Direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil
	}
	d.pins.MainHV.Low()
	for i := range d.pins.HV {
		d.pins.HV[i].Low()
		d.pins.Drain[i].Low()
		d.pins.Fire[i].Low()
	}
	d.open = false

	var err error
	if d.closer != nil {
		err = multierr.Append(err, d.closer())
	}
	return err
}

func (d *Direct) respond(line string) {
	d.responses = append(d.responses, line)
}

func (d *Direct) payload(cmd, line string) {
	switch cmd {
	case CmdHV, CmdDrain:
		bits, err := DecodeBits(line)
		if err != nil || len(bits) != len(d.pins.HV) {
			d.respond("ERROR: bad bank vector " + line)
			return
		}
		pins, resp := d.pins.HV, RespHV
		if cmd == CmdDrain {
			pins, resp = d.pins.Drain, RespDrain
		}
		for i, bit := range bits {
			if bit {
				pins[i].High()
			} else {
				pins[i].Low()
			}
		}
		d.respond(resp + line)
	case CmdDisplayCharge:
		if _, err := strconv.Atoi(strings.TrimSpace(line)); err != nil {
			d.respond("ERROR: bad percentage " + line)
			return
		}
		d.respond(RespDisplayCharge + line)
	case CmdPot:
		d.respond("ERROR: no potentiometers on direct drive")
	}
}

func (d *Direct) readVoltages() {
	codes := make([]int, len(d.cfg.ADCChannels))
	for i, ch := range d.cfg.ADCChannels {
		code, err := d.adc(ch)
		if err != nil {
			d.respond(fmt.Sprintf("ERROR: adc channel %d: %v", ch, err))
			return
		}
		codes[i] = code
	}
	d.respond(FormatInts(codes))
}

// fire pulses each coil in turn and times how long the following sensor
// stays blocked. Times are reported in microseconds from the first pulse.
func (d *Direct) fire() {
	n := len(d.pins.Fire)
	blocking := make([]int, n)
	triggers := make([]int, n)
	start := d.clock.Now()

	for i := 0; i < n; i++ {
		d.pins.Fire[i].High()
		d.clock.Sleep(d.cfg.PulseWidth)
		d.pins.Fire[i].Low()

		blockedAt, ok := d.waitSensor(i, rpio.Low, d.clock.Now())
		if !ok {
			d.logger.Warnw("sensor was not triggered", "sensor", i)
			continue
		}
		clearedAt, ok := d.waitSensor(i, rpio.High, blockedAt)
		if !ok {
			d.logger.Warnw("sensor stayed blocked", "sensor", i)
			continue
		}
		triggers[i] = int(blockedAt.Sub(start).Microseconds())
		blocking[i] = int(clearedAt.Sub(blockedAt).Microseconds())
	}

	d.respond(FormatInts(blocking))
	d.respond(FormatInts(triggers))
}

// waitSensor polls sensor i until it reads state or the sensor timeout
// elapses after since.
func (d *Direct) waitSensor(i int, state rpio.State, since time.Time) (time.Time, bool) {
	deadline := since.Add(d.cfg.SensorTimeout)
	for {
		now := d.clock.Now()
		if d.pins.Sensors[i].Read() == state {
			return now, true
		}
		if now.After(deadline) {
			return now, false
		}
	}
}
