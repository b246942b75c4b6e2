package coilgun

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/coilgun/pkg/controller"
)

// on connects every enabled bank to the charger: drains open, per-bank HV
// and main HV closed.
func (c *Coilgun) on() error {
	if err := c.setDrain(filled(len(c.coils), false)); err != nil {
		return err
	}
	if err := c.setHV(filled(len(c.coils), true)); err != nil {
		return err
	}
	return c.mainHV(true)
}

func (c *Coilgun) arm() error {
	if err := c.setDrain(filled(len(c.coils), false)); err != nil {
		return err
	}
	if err := c.mainHV(true); err != nil {
		return err
	}
	if err := c.command(controller.CmdCharge, "", controller.Exactly(controller.RespCharge), false); err != nil {
		return err
	}
	c.chargeMode = true
	c.setState(StateArmed)
	return nil
}

// On connects every enabled bank to the charger without entering charge
// mode. Used when the charge is controlled by hand.
func (c *Coilgun) On() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.on(); err != nil {
		return c.fault(err)
	}
	c.setState(StateArmed)
	return nil
}

// Arm opens the drains of the enabled banks, connects main HV and puts the
// controller into charge mode.
func (c *Coilgun) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.arm(); err != nil {
		return c.fault(err)
	}
	return nil
}

// Charge charges every enabled bank to its target and returns once all of
// them latched ready, with HV disconnected. A nil targets slice uses the
// configured per-coil targets.
//
// Each cycle reads all voltages, decides per coil whether it still needs
// charge and sends one HV vector. ctx is checked between cycles; on
// cancellation the controller is aborted, every bank is drained and the
// context error is returned. Any other fault also leaves the banks drained.
func (c *Coilgun) Charge(ctx context.Context, targets []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targets == nil {
		targets = c.Targets()
	}
	if len(targets) != len(c.coils) {
		return errors.Errorf("got %d targets, expected %d", len(targets), len(c.coils))
	}

	for _, cl := range c.coils {
		cl.Reset()
	}
	if c.state != StateArmed || !c.chargeMode {
		if err := c.arm(); err != nil {
			return c.fault(err)
		}
	}
	if err := c.setHV(filled(len(c.coils), true)); err != nil {
		return c.fault(err)
	}

	c.setState(StateCharging)
	c.logger.Infow("charging", "coils", c.Names(), "targets", targets)

	start := c.clock.Now()
	ticks := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.cancel(err)
		}

		volts, err := c.readVoltages()
		if err != nil {
			return c.fault(err)
		}
		hv := make([]bool, len(c.coils))
		for i, cl := range c.coils {
			hv[i] = cl.ControlVoltage(volts[i], targets[i])
		}
		if err := c.setHV(hv); err != nil {
			return c.fault(err)
		}
		ticks++
		c.logger.Infow("charge", "tick", ticks, "voltages", volts, "hv", hv)

		if c.readyToFire() {
			break
		}
		if c.pollInterval > 0 {
			c.clock.Sleep(c.pollInterval)
		}
	}

	if err := c.setHV(filled(len(c.coils), false)); err != nil {
		return c.fault(err)
	}
	if err := c.mainHV(false); err != nil {
		return c.fault(err)
	}

	elapsed := c.clock.Since(start)
	c.recorder.ChargeCycle(elapsed, ticks)
	c.setState(StateReady)
	c.logger.Infow("charged", "ticks", ticks, "elapsed", elapsed)
	return nil
}

// Monitor watches banks being charged by hand. It connects main HV and
// every enabled bank, then every poll interval reads the voltages, shows the
// lowest charge percentage on the controller and reports it to fn.
//
// Charging ends when every enabled bank reached its target or fn returns
// true. HV to the banks and main HV are then disconnected and nil is
// returned. Cancelling ctx aborts, drains every bank and returns the context
// error.
func (c *Coilgun) Monitor(ctx context.Context, targets []float64, fn func(volts []float64, percent int) (stop bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targets == nil {
		targets = c.Targets()
	}
	if len(targets) != len(c.coils) {
		return errors.Errorf("got %d targets, expected %d", len(targets), len(c.coils))
	}

	if err := c.on(); err != nil {
		return c.fault(err)
	}
	c.setState(StateCharging)

	for {
		if err := ctx.Err(); err != nil {
			return c.cancel(err)
		}

		volts, err := c.readVoltages()
		if err != nil {
			return c.fault(err)
		}

		percent, charged := 100, true
		for i, cl := range c.coils {
			if !cl.On() {
				continue
			}
			if p := cl.Percent(volts[i], targets[i]); p < percent {
				percent = p
			}
			if volts[i] < targets[i] {
				charged = false
			}
		}
		if err := c.displayCharge(percent); err != nil {
			return c.fault(err)
		}
		stop := fn != nil && fn(volts, percent)

		if charged || stop {
			if !charged {
				c.logger.Infow("charging stopped early", "voltages", volts, "percent", percent)
			}
			break
		}
		if c.pollInterval > 0 {
			c.clock.Sleep(c.pollInterval)
		}
	}

	if err := c.setHV(filled(len(c.coils), false)); err != nil {
		return c.fault(err)
	}
	if err := c.mainHV(false); err != nil {
		return c.fault(err)
	}
	c.setState(StateReady)
	return nil
}

// cancel stops a charge that was cancelled through its context.
func (c *Coilgun) cancel(cause error) error {
	c.logger.Warnw("charge cancelled", "error", cause)
	return multierr.Combine(cause, c.abort(false), c.off())
}

// fault puts the hardware into the safe state after a failure. The returned
// error carries the failure and anything that went wrong switching off.
func (c *Coilgun) fault(cause error) error {
	c.logger.Errorw("fault, switching off", "error", cause)
	return multierr.Append(cause, c.off())
}
