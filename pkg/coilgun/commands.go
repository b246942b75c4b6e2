package coilgun

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/coilgun/pkg/controller"
	"github.com/itohio/coilgun/pkg/sample"
)

// abortSettle is how long abort waits before flushing the input.
const abortSettle = 10 * time.Millisecond

// exchange sends a command, its optional payload line, and reads one response.
func (c *Coilgun) exchange(cmd, payload string) (string, error) {
	if err := c.transport.Send(cmd); err != nil {
		return "", &controller.CommunicationError{Command: cmd, Err: err}
	}
	if payload != "" {
		if err := c.transport.Send(payload); err != nil {
			return "", &controller.CommunicationError{Command: cmd, Err: err}
		}
	}
	resp, err := c.transport.Read()
	if err != nil {
		if errors.Is(err, controller.ErrTimeout) {
			// The late reply must not answer the next command.
			c.flush()
		}
		return resp, &controller.CommunicationError{Command: cmd, Response: resp, Err: err}
	}
	c.logger.Debugw("exchange", "command", cmd, "payload", payload, "response", resp)
	return resp, nil
}

// command runs an acknowledged command, trying it up to the configured
// number of attempts. A fatal command returns the fault; a non-fatal one
// logs a warning and returns nil.
func (c *Coilgun) command(cmd, payload string, expect controller.Expect, fatal bool) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		var resp string
		resp, err = c.exchange(cmd, payload)
		if err == nil && !expect(resp) {
			err = &controller.CommunicationError{Command: cmd, Response: resp}
		}
		if err == nil {
			return nil
		}

		c.logger.Debugw("command not acknowledged", "command", cmd, "attempt", attempt, "error", err)
		if attempt < c.attempts {
			c.flush()
		}
	}

	c.recorder.TransportFault(cmd)
	if !fatal {
		c.logger.Warnw("controller did not acknowledge", "command", cmd, "error", err)
		return nil
	}
	c.logger.Errorw("controller did not acknowledge", "command", cmd, "error", err)
	return err
}

// flush drops anything the controller sent that nobody read.
func (c *Coilgun) flush() {
	if err := c.transport.Flush(); err != nil {
		c.logger.Debugw("flush failed", "error", err)
	}
}

// query runs a command whose response is data rather than an acknowledgement.
func (c *Coilgun) query(cmd string) (string, error) {
	resp, err := c.exchange(cmd, "")
	if err != nil {
		c.recorder.TransportFault(cmd)
	}
	return resp, err
}

func (c *Coilgun) mainHV(on bool) error {
	if on {
		return c.command(controller.CmdMainHVOn, "", controller.Exactly(controller.RespHVOn), true)
	}
	return c.command(controller.CmdMainHVOff, "", controller.Exactly(controller.RespHVOff), true)
}

// setDrain connects the banks marked true to their drain resistors. Banks
// that are off are always drained.
func (c *Coilgun) setDrain(drain []bool) error {
	if len(drain) != len(c.coils) {
		return errors.Errorf("drain vector has %d entries, expected %d", len(drain), len(c.coils))
	}
	payload := controller.DrainPayload(drain, c.onMask())
	return c.command(controller.CmdDrain, payload, controller.Echo(controller.RespDrain, payload), true)
}

// setHV connects the banks marked true to the charger. Banks that are off
// never get HV.
func (c *Coilgun) setHV(hv []bool) error {
	if len(hv) != len(c.coils) {
		return errors.Errorf("HV vector has %d entries, expected %d", len(hv), len(c.coils))
	}
	payload := controller.HVPayload(hv, c.onMask())
	return c.command(controller.CmdHV, payload, controller.Echo(controller.RespHV, payload), true)
}

// abort gives the controller a moment to finish its current reply, then
// discards it so the acknowledgement read is ABORT's own.
func (c *Coilgun) abort(fatal bool) error {
	c.clock.Sleep(abortSettle)
	c.flush()
	return c.command(controller.CmdAbort, "", controller.Exactly(controller.RespAbort), fatal)
}

func (c *Coilgun) displayCharge(percent int) error {
	payload := strconv.Itoa(percent)
	return c.command(controller.CmdDisplayCharge, payload, controller.Echo(controller.RespDisplayCharge, payload), false)
}

func (c *Coilgun) readVoltages() ([]float64, error) {
	resp, err := c.query(controller.CmdReadVoltages)
	if err != nil {
		return nil, err
	}
	codes, err := controller.ParseInts(resp)
	if err != nil {
		c.recorder.TransportFault(controller.CmdReadVoltages)
		return nil, &controller.CommunicationError{Command: controller.CmdReadVoltages, Response: resp, Err: err}
	}

	volts, err := sample.Convert(sample.Raw{Codes: codes, Positions: c.positions()}, c.models)
	if err != nil {
		c.recorder.TransportFault(controller.CmdReadVoltages)
		return nil, &controller.CommunicationError{Command: controller.CmdReadVoltages, Response: resp, Err: err}
	}

	c.recorder.Voltages(c.Names(), volts)
	return volts, nil
}

// off is the safe state: charger disconnected, every bank drained and the
// ready latches cleared. Every step is attempted even if an earlier one fails.
func (c *Coilgun) off() error {
	c.flush()
	n := len(c.coils)
	err := multierr.Combine(
		c.mainHV(false),
		c.setDrain(filled(n, true)),
		c.setHV(filled(n, false)),
	)
	for _, cl := range c.coils {
		cl.Reset()
	}
	c.chargeMode = false
	c.setState(StateOff)
	return err
}

// MainHVOn closes the main HV relay.
func (c *Coilgun) MainHVOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainHV(true)
}

// MainHVOff opens the main HV relay.
func (c *Coilgun) MainHVOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainHV(false)
}

// SetDrain sets the per-bank drain state; true drains the bank.
func (c *Coilgun) SetDrain(drain []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDrain(drain)
}

// DrainAll drains every bank or none.
func (c *Coilgun) DrainAll(drain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDrain(filled(len(c.coils), drain))
}

// SetHV sets the per-bank HV relays.
func (c *Coilgun) SetHV(hv []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setHV(hv)
}

// HVAll switches HV to every enabled bank on or off.
func (c *Coilgun) HVAll(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setHV(filled(len(c.coils), on))
}

// EnterChargeMode tells the controller charging is about to start. A missing
// acknowledgement is only logged.
func (c *Coilgun) EnterChargeMode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command(controller.CmdCharge, "", controller.Exactly(controller.RespCharge), false)
}

// StartCountdown starts the controller's firing countdown display. A missing
// acknowledgement is only logged.
func (c *Coilgun) StartCountdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command(controller.CmdCountdown, "", controller.Exactly(controller.RespCountdown), false)
}

// DisplayCharge shows a charge percentage on the controller. A missing
// acknowledgement is only logged.
func (c *Coilgun) DisplayCharge(percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayCharge(percent)
}

// Blink flashes the controller's indicator. A missing acknowledgement is only logged.
func (c *Coilgun) Blink() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command(controller.CmdBlink, "", controller.Exactly(controller.RespBlink), false)
}

// Abort stops whatever the controller is doing.
func (c *Coilgun) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort(true)
}

// Sensors returns which projectile sensors are currently blocked.
func (c *Coilgun) Sensors() ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.query(controller.CmdSensors)
	if err != nil {
		return nil, err
	}
	bits, err := controller.DecodeBits(resp)
	if err != nil {
		return nil, &controller.CommunicationError{Command: controller.CmdSensors, Response: resp, Err: err}
	}
	return bits, nil
}

// SetPotPositions moves the digital potentiometers of the sensing chains.
// Later voltage readings are converted at the new positions.
func (c *Coilgun) SetPotPositions(positions []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(positions) != len(c.coils) {
		return errors.Errorf("got %d positions, expected %d", len(positions), len(c.coils))
	}
	payload := controller.FormatInts(positions)
	if err := c.command(controller.CmdPot, payload, controller.Echo(controller.RespPot, payload), true); err != nil {
		return err
	}
	for i, cl := range c.coils {
		cl.SetPosition(positions[i])
	}
	return nil
}

// ReadVoltages reads every bank voltage in one request.
func (c *Coilgun) ReadVoltages() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readVoltages()
}

// Off disconnects the charger, drains every bank and clears the ready latches.
func (c *Coilgun) Off() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.off()
}

// Shutdown aborts, switches off and closes the transport. Every step is
// attempted; the faults are combined.
func (c *Coilgun) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("shutting down")
	return multierr.Combine(
		c.abort(false),
		c.off(),
		c.transport.Close(),
	)
}
