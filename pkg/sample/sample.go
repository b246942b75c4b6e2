package sample

import (
	"fmt"

	"github.com/itohio/coilgun/pkg/config"
)

// Raw is one batched voltage reading: the ADC code of every bank together
// with the potentiometer positions that were in effect when it was taken.
type Raw struct {
	Codes     []int
	Positions []int
}

// Position returns the potentiometer position for bank i, 0 if none was recorded.
func (r Raw) Position(i int) int {
	if i < len(r.Positions) {
		return r.Positions[i]
	}
	return 0
}

// VoltageModel converts the ADC code of one bank into the bank voltage.
// Implementations must be pure: the same code and position always yield the
// same voltage.
type VoltageModel interface {
	Voltage(code, position int) float64
}

var (
	_ VoltageModel = Divider{}
	_ VoltageModel = Calibrated{}
)

// ADC maps the code range of the converter onto its reference rail.
type ADC struct {
	Rail    float64
	MaxCode int
}

// Tap returns the voltage at the ADC input.
func (a ADC) Tap(code int) float64 {
	return adcToVoltage(code, a.Rail, a.MaxCode)
}

// Divider is a bank sensed through a resistive divider; R2 is the low side.
type Divider struct {
	ADC
	R1, R2 float64
}

// Voltage implements VoltageModel. The position is ignored.
func (d Divider) Voltage(code, _ int) float64 {
	return voltageDivider(d.Tap(code), d.R1, d.R2)
}

// Calibrated is a bank sensed through a digitally trimmed front end whose
// bias and gain depend on the potentiometer position.
type Calibrated struct {
	ADC
	Bias  []float64 // Polynomial in position, ascending powers
	Slope []float64 // Polynomial in position, ascending powers
}

// Voltage implements VoltageModel.
func (c Calibrated) Voltage(code, position int) float64 {
	p := float64(position)
	return (c.Tap(code) - Polynomial(c.Bias, p)) / Polynomial(c.Slope, p)
}

// NewModel builds the voltage model described by a coil configuration.
func NewModel(coil config.CoilConfig, adc config.ADCConfig) (VoltageModel, error) {
	a := ADC{Rail: adc.Rail, MaxCode: adc.MaxCode}
	switch coil.Model {
	case config.ModelDivider, "":
		return Divider{ADC: a, R1: coil.R1, R2: coil.R2}, nil
	case config.ModelCalibrated:
		return Calibrated{ADC: a, Bias: coil.Calibration.Bias, Slope: coil.Calibration.Slope}, nil
	default:
		return nil, fmt.Errorf("unknown voltage model %q", coil.Model)
	}
}

// Convert converts a batched reading with one model per bank. Codes beyond
// the number of models are ignored.
func Convert(raw Raw, models []VoltageModel) ([]float64, error) {
	if len(raw.Codes) < len(models) {
		return nil, fmt.Errorf("expected %d voltage codes, got %d", len(models), len(raw.Codes))
	}

	volts := make([]float64, len(models))
	for i, m := range models {
		volts[i] = m.Voltage(raw.Codes[i], raw.Position(i))
	}
	return volts, nil
}

// Polynomial evaluates c[0] + c[1]*x + c[2]*x^2 + ...
func Polynomial(c []float64, x float64) float64 {
	var y float64
	for i := len(c) - 1; i >= 0; i-- {
		y = y*x + c[i]
	}
	return y
}

// adcToVoltage converts an ADC code to the voltage at the ADC input.
// No clamping: out of range codes give out of range voltages.
func adcToVoltage(code int, rail float64, maxCode int) float64 {
	return float64(code) * rail / float64(maxCode)
}

// voltageDivider calculates the input voltage from the measured output voltage.
// Formula: V_in = V_out * ((R1 + R2) / R2)
func voltageDivider(vout float64, r1, r2 float64) float64 {
	return vout * ((r1 + r2) / r2)
}
