package coilgun

import (
	"context"
	"time"

	"github.com/itohio/coilgun/pkg/controller"
)

// ShotResult is everything measured about one shot.
type ShotResult struct {
	Time          time.Time
	Coils         []string
	Voltages      []float64       // Bank voltages just before firing
	BlockingTimes []time.Duration // How long each sensor was blocked
	TriggerTimes  []time.Duration // When each sensor was first blocked
	Velocities    []float64       // m/s, 0 where a sensor did not trigger

	Efficiencies    []float64 // Per coil
	TotalEfficiency float64
	KineticEnergy   float64 // J at the last sensor
	Energy          float64 // J stored in the banks before firing
}

// ExitVelocity returns the velocity at the last sensor.
func (r *ShotResult) ExitVelocity() float64 {
	return ExitVelocity(r.Velocities)
}

// Fire reads the bank voltages, fires every coil in sequence and evaluates
// the sensor timings. Readiness is not checked here; callers check
// ReadyToFire first.
func (c *Coilgun) Fire(ctx context.Context) (*ShotResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fire(ctx)
}

func (c *Coilgun) fire(ctx context.Context) (*ShotResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	volts, err := c.readVoltages()
	if err != nil {
		return nil, c.fault(err)
	}

	c.logger.Infow("firing", "voltages", volts)
	if err := c.transport.Send(controller.CmdFire); err != nil {
		return nil, c.fault(&controller.CommunicationError{Command: controller.CmdFire, Err: err})
	}
	c.setState(StateFired)

	blocking, err := c.readTimes()
	if err != nil {
		return nil, c.fault(err)
	}
	triggers, err := c.readTimes()
	if err != nil {
		return nil, c.fault(err)
	}

	result := c.evaluate(volts, blocking, triggers)
	c.recorder.Shot(result)
	c.logger.Infow("fired",
		"velocities", result.Velocities,
		"efficiencies", result.Efficiencies,
		"total_efficiency", result.TotalEfficiency,
		"kinetic_energy", result.KineticEnergy,
	)
	return result, nil
}

// readTimes reads one line of microsecond durations.
func (c *Coilgun) readTimes() ([]time.Duration, error) {
	resp, err := c.transport.Read()
	if err != nil {
		c.recorder.TransportFault(controller.CmdFire)
		return nil, &controller.CommunicationError{Command: controller.CmdFire, Response: resp, Err: err}
	}
	values, err := controller.ParseInts(resp)
	if err != nil {
		c.recorder.TransportFault(controller.CmdFire)
		return nil, &controller.CommunicationError{Command: controller.CmdFire, Response: resp, Err: err}
	}

	times := make([]time.Duration, len(values))
	for i, v := range values {
		times[i] = time.Duration(v) * time.Microsecond
	}
	return times, nil
}

// Evaluate turns pre-fire voltages and sensor timings into a ShotResult.
func (c *Coilgun) Evaluate(volts []float64, blocking, triggers []time.Duration) *ShotResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluate(volts, blocking, triggers)
}

func (c *Coilgun) evaluate(volts []float64, blocking, triggers []time.Duration) *ShotResult {
	velocities := make([]float64, len(blocking))
	for i, b := range blocking {
		if b <= 0 {
			c.logger.Warnw("sensor did not trigger", "sensor", i)
			continue
		}
		velocities[i] = c.diameter / b.Seconds()
	}

	perCoil, total := Efficiency(c.coils, volts, velocities, c.mass)

	var energy float64
	for i, cl := range c.coils {
		if i < len(volts) {
			energy += cl.CBEnergy(volts[i])
		}
	}

	result := &ShotResult{
		Time:            c.clock.Now(),
		Coils:           c.Names(),
		Voltages:        volts,
		BlockingTimes:   blocking,
		TriggerTimes:    triggers,
		Velocities:      velocities,
		Efficiencies:    perCoil,
		TotalEfficiency: total,
		Energy:          energy,
	}
	result.KineticEnergy = KineticEnergy(c.mass, result.ExitVelocity())
	return result
}

// DrainAfterFire drains every bank that is below its safe threshold. Banks
// that are on and still at or above it are left alone and reported in a
// *SafetyError; use ForceDrain or Discharge for them.
func (c *Coilgun) DrainAfterFire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainAfterFire()
}

func (c *Coilgun) drainAfterFire() error {
	volts, err := c.readVoltages()
	if err != nil {
		return c.fault(err)
	}

	drain := make([]bool, len(c.coils))
	unsafe := &SafetyError{}
	for i, cl := range c.coils {
		if volts[i] < cl.SafeDrainVoltage() {
			drain[i] = true
			continue
		}
		if cl.On() {
			unsafe.Banks = append(unsafe.Banks, cl.Name())
			unsafe.Voltages = append(unsafe.Voltages, volts[i])
			unsafe.Thresholds = append(unsafe.Thresholds, cl.SafeDrainVoltage())
		}
	}

	if err := c.setDrain(drain); err != nil {
		return c.fault(err)
	}
	c.setState(StateDraining)

	if len(unsafe.Banks) > 0 {
		c.logger.Warnw("banks too charged to drain", "banks", unsafe.Banks, "voltages", unsafe.Voltages)
		return unsafe
	}
	c.logger.Infow("drained", "voltages", volts)
	return nil
}

// ForceDrain drains every bank regardless of its voltage and switches off.
// Only call it after the operator confirmed it.
func (c *Coilgun) ForceDrain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("draining all banks")
	return c.off()
}

// Discharge empties charged banks by firing again, then drains.
func (c *Coilgun) Discharge(ctx context.Context) (*ShotResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("discharging banks by firing")
	result, err := c.fire(ctx)
	if err != nil {
		return nil, err
	}
	return result, c.drainAfterFire()
}
