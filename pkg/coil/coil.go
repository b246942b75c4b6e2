package coil

import (
	"fmt"
	"math"

	"github.com/itohio/coilgun/pkg/config"
	"github.com/itohio/coilgun/pkg/sample"
)

// Coil is one accelerator stage and the capacitor bank that feeds it.
//
// A Coil is not safe for concurrent use; the Coilgun that owns it serialises
// access.
type Coil struct {
	id          int
	name        string
	capacitance float64
	model       sample.VoltageModel

	target    float64
	safeDrain float64
	position  int

	on    bool
	ready bool
}

// New creates an enabled coil. id is the firing order index.
func New(id int, name string, capacitance float64, model sample.VoltageModel) *Coil {
	return &Coil{
		id:          id,
		name:        name,
		capacitance: capacitance,
		model:       model,
		on:          true,
	}
}

// FromConfig creates the coil described by a configuration entry.
func FromConfig(id int, c config.NamedCoil, adc config.ADCConfig) (*Coil, error) {
	model, err := sample.NewModel(c.CoilConfig, adc)
	if err != nil {
		return nil, fmt.Errorf("coil %s: %w", c.Name, err)
	}

	coil := New(id, c.Name, c.Capacitance, model)
	coil.on = c.Enabled()
	coil.target = c.TargetVoltage
	coil.safeDrain = c.SafeDrainVoltage
	coil.position = c.Calibration.Position
	return coil, nil
}

func (c *Coil) ID() int { return c.id }
func (c *Coil) Name() string { return c.name }
func (c *Coil) Capacitance() float64 { return c.capacitance }
func (c *Coil) Model() sample.VoltageModel { return c.model }
func (c *Coil) On() bool { return c.on }
func (c *Coil) Ready() bool { return c.ready }
func (c *Coil) Target() float64 { return c.target }
func (c *Coil) SafeDrainVoltage() float64 { return c.safeDrain }
func (c *Coil) Position() int { return c.position }

func (c *Coil) SetTarget(v float64) { c.target = v }
func (c *Coil) SetSafeDrainVoltage(v float64) { c.safeDrain = v }

// SetPosition records the potentiometer position of the sensing chain.
func (c *Coil) SetPosition(p int) { c.position = p }

// TurnOn includes the coil in the firing sequence.
func (c *Coil) TurnOn() { c.on = true }

// TurnOff excludes the coil from the firing sequence. An off coil is never
// given HV and never holds up ReadyToFire.
func (c *Coil) TurnOff() { c.on = false }

// Reset clears the ready latch.
func (c *Coil) Reset() { c.ready = false }

// Voltage converts a raw ADC code taken at the given potentiometer position.
func (c *Coil) Voltage(code, position int) float64 {
	return c.model.Voltage(code, position)
}

// ControlVoltage decides whether the bank should get HV for the next tick.
//
// The ready flag latches on the first tick where observed exceeds target.
// That tick still returns true, every later one returns false until Reset,
// even if the bank sags below target again.
func (c *Coil) ControlVoltage(observed, target float64) bool {
	if !c.on {
		return false
	}
	if c.ready {
		return false
	}

	c.ready = observed > target
	return observed < target || c.ready
}

// CBEnergy returns the energy stored in the bank at voltage v, in joules.
func (c *Coil) CBEnergy(v float64) float64 {
	return CBEnergy(c.capacitance, v)
}

// Efficiency returns the fraction of the bank energy at voltage v that this
// stage turned into projectile kinetic energy. It is 0 for an empty bank.
func (c *Coil) Efficiency(vIn, vOut, v, mass float64) float64 {
	e := c.CBEnergy(v)
	if e == 0 {
		return 0
	}
	return (KineticEnergy(mass, vOut) - KineticEnergy(mass, vIn)) / e
}

// Percent returns how far the bank is charged toward target, clamped to 0..100.
func (c *Coil) Percent(observed, target float64) int {
	if target <= 0 {
		return 100
	}
	p := math.Round(observed / target * 100)
	return int(math.Max(0, math.Min(100, p)))
}

func (c *Coil) String() string {
	state := "off"
	switch {
	case c.ready:
		state = "ready"
	case c.on:
		state = "on"
	}
	return fmt.Sprintf("%d:%s(%s)", c.id, c.name, state)
}

// CBEnergy returns C·V²/2.
func CBEnergy(capacitance, v float64) float64 {
	return capacitance * v * v / 2
}

// KineticEnergy returns m·v²/2.
func KineticEnergy(mass, v float64) float64 {
	return mass * v * v / 2
}
