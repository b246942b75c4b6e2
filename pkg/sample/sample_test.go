package sample

import (
	"math"
	"testing"

	"github.com/itohio/coilgun/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestADCToVoltage(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		rail    float64
		maxCode int
		want    float64
	}{
		{name: "zero code", code: 0, rail: 5, maxCode: 1023, want: 0},
		{name: "full scale", code: 1023, rail: 5, maxCode: 1023, want: 5},
		{name: "half scale", code: 511, rail: 5, maxCode: 1023, want: 2.5},
		{name: "12 bit", code: 2047, rail: 3.3, maxCode: 4095, want: 1.65},
		{name: "out of range is not clamped", code: 2046, rail: 5, maxCode: 1023, want: 10},
		{name: "negative is not clamped", code: -1023, rail: 5, maxCode: 1023, want: -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adcToVoltage(tt.code, tt.rail, tt.maxCode)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestVoltageDivider(t *testing.T) {
	tests := []struct {
		name   string
		vout   float64
		r1, r2 float64
		want   float64
	}{
		{name: "equal resistors", vout: 2.5, r1: 10000, r2: 10000, want: 5},
		{name: "no high side", vout: 2.5, r1: 0, r2: 10000, want: 2.5},
		{name: "high voltage bank", vout: 5, r1: 390e3, r2: 4.7e3, want: 5 * (394.7e3 / 4.7e3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, voltageDivider(tt.vout, tt.r1, tt.r2), 1e-9)
		})
	}
}

func TestDivider_Voltage(t *testing.T) {
	d := Divider{ADC: ADC{Rail: 5, MaxCode: 1023}, R1: 390e3, R2: 4.7e3}

	assert.Equal(t, float64(0), d.Voltage(0, 0))
	assert.InDelta(t, 5*(394.7e3/4.7e3), d.Voltage(1023, 0), 1e-9)
	// Position has no effect on a plain divider.
	assert.Equal(t, d.Voltage(512, 0), d.Voltage(512, 200))
}

func TestCalibrated_UsesPosition(t *testing.T) {
	c := Calibrated{
		ADC:   ADC{Rail: 5, MaxCode: 1000},
		Bias:  []float64{0.5, 0.01},
		Slope: []float64{0.01, 0.0001},
	}

	// position 0: bias 0.5, slope 0.01
	assert.InDelta(t, (2.5-0.5)/0.01, c.Voltage(500, 0), 1e-9)
	// position 100: bias 1.5, slope 0.02
	assert.InDelta(t, (2.5-1.5)/0.02, c.Voltage(500, 100), 1e-9)
	assert.NotEqual(t, c.Voltage(500, 0), c.Voltage(500, 100))
}

func TestPolynomial(t *testing.T) {
	assert.Equal(t, float64(0), Polynomial(nil, 3))
	assert.Equal(t, float64(7), Polynomial([]float64{7}, 3))
	assert.Equal(t, float64(1+2*3+4*9), Polynomial([]float64{1, 2, 4}, 3))
}

func TestNewModel(t *testing.T) {
	adc := config.ADCConfig{Rail: 5, MaxCode: 1023}

	m, err := NewModel(config.CoilConfig{Model: config.ModelDivider, R1: 1, R2: 1}, adc)
	require.NoError(t, err)
	assert.IsType(t, Divider{}, m)

	m, err = NewModel(config.CoilConfig{Model: config.ModelCalibrated, Calibration: config.CalibrationConfig{Slope: []float64{1}}}, adc)
	require.NoError(t, err)
	assert.IsType(t, Calibrated{}, m)

	_, err = NewModel(config.CoilConfig{Model: "bogus"}, adc)
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	models := []VoltageModel{
		Divider{ADC: ADC{Rail: 1023, MaxCode: 1023}, R1: 0, R2: 1},
		Divider{ADC: ADC{Rail: 5, MaxCode: 1023}, R1: 1, R2: 1},
		Calibrated{ADC: ADC{Rail: 5, MaxCode: 1000}, Bias: []float64{0, 0.01}, Slope: []float64{0.01}},
	}
	raw := Raw{Codes: []int{100, 1023, 500}, Positions: []int{0, 0, 50}}

	volts, err := Convert(raw, models)
	require.NoError(t, err)
	require.Len(t, volts, 3)
	assert.Equal(t, float64(100), volts[0])
	assert.InDelta(t, 10, volts[1], 1e-9)
	assert.InDelta(t, (2.5-0.5)/0.01, volts[2], 1e-9)

	_, err = Convert(Raw{Codes: []int{1, 2}}, models)
	assert.Error(t, err)
}

func TestConvert_Idempotent(t *testing.T) {
	models := []VoltageModel{
		Divider{ADC: ADC{Rail: 5, MaxCode: 1023}, R1: 390e3, R2: 4.7e3},
		Calibrated{ADC: ADC{Rail: 5, MaxCode: 1023}, Bias: []float64{0.2, 0.003}, Slope: []float64{0.012, -0.00001}},
	}

	for code := -50; code <= 1100; code += 37 {
		raw := Raw{Codes: []int{code, 1023 - code}, Positions: []int{0, code % 128}}
		first, err := Convert(raw, models)
		require.NoError(t, err)
		second, err := Convert(raw, models)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, code, raw.Codes[0], "conversion must not modify the sample")
		for _, v := range first {
			assert.False(t, math.IsNaN(v))
		}
	}
}
