package config

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 10*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, 10, cfg.Handshake.Attempts)
	assert.Equal(t, time.Second, cfg.Handshake.Interval)
	assert.Equal(t, float64(5), cfg.ADC.Rail)
	assert.Equal(t, 1023, cfg.ADC.MaxCode)
	assert.Equal(t, 8.8e-3, cfg.Projectile.Diameter)
	assert.Equal(t, 100*time.Millisecond, cfg.Charge.PollInterval)
	assert.Equal(t, float64(20), cfg.Charge.SafeDrainVoltage)
	assert.Len(t, cfg.Coils, 3)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 3, cfg.Mock.Coils)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/cu.usbmodem14201"
  baud_rate: 9600

transport:
  kind: mock
  command_attempts: 3

charge:
  poll_interval: 50ms
  safe_drain_voltage: 15

coils:
  coil2:
    capacitance: 0.001
    r1: 100000
    r2: 1000
    target_voltage: 120
  coil1:
    capacitance: 0.002
    r1: 200000
    r2: 2000
    on: false
    target_voltage: 100
    safe_drain_voltage: 30
  coil3:
    capacitance: 0.001
    model: calibrated
    calibration:
      bias: [0.1, 0.001]
      slope: [0.01]
      position: 64
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/cu.usbmodem14201", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 10*time.Second, cfg.Serial.ReadTimeout) // default
	assert.Equal(t, TransportMock, cfg.Transport.Kind)
	assert.Equal(t, 3, cfg.Transport.CommandAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Charge.PollInterval)
	assert.Len(t, cfg.Coils, 3)
	assert.Equal(t, 3, cfg.Mock.Coils)

	coils := cfg.SortedCoils()
	require.Len(t, coils, 3)
	assert.Equal(t, "coil1", coils[0].Name)
	assert.Equal(t, "coil2", coils[1].Name)
	assert.Equal(t, "coil3", coils[2].Name)

	assert.False(t, coils[0].Enabled())
	assert.True(t, coils[1].Enabled())
	assert.Equal(t, float64(30), coils[0].SafeDrainVoltage)
	assert.Equal(t, float64(15), coils[1].SafeDrainVoltage) // inherited from charge section
	assert.Equal(t, ModelDivider, coils[1].Model)
	assert.Equal(t, ModelCalibrated, coils[2].Model)
	assert.Equal(t, []float64{0.1, 0.001}, coils[2].Calibration.Bias)
	assert.Equal(t, 64, coils[2].Calibration.Position)

	assert.Equal(t, []float64{100, 120, 0}, cfg.Targets())
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ReadErrorKeepsCause(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")

	var pathErr *os.PathError
	assert.True(t, errors.As(err, &pathErr))
	assert.Equal(t, pathErr, errors.Cause(err))
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "zero capacitance",
			content: `
coils:
  coil1:
    r1: 1
    r2: 1
`,
		},
		{
			name: "zero r2",
			content: `
coils:
  coil1:
    capacitance: 0.001
    r1: 1
`,
		},
		{
			name: "unknown model",
			content: `
coils:
  coil1:
    capacitance: 0.001
    model: magic
`,
		},
		{
			name: "calibrated without slope",
			content: `
coils:
  coil1:
    capacitance: 0.001
    model: calibrated
`,
		},
		{
			name: "unknown transport",
			content: `
transport:
  kind: carrier-pigeon
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyUSB0"
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Len(t, cfg.Coils, 3)
	assert.Equal(t, float64(20), cfg.Coils["coil1"].SafeDrainVoltage)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Charge.PollInterval = 250 * time.Millisecond

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 250*time.Millisecond, loaded.Charge.PollInterval)
	assert.Equal(t, cfg.SortedCoils()[0].Capacitance, loaded.SortedCoils()[0].Capacitance)
}

func TestSortedCoils_Deterministic(t *testing.T) {
	cfg := Default()
	cfg.Coils = map[string]CoilConfig{
		"c": {Capacitance: 3},
		"a": {Capacitance: 1},
		"b": {Capacitance: 2},
	}

	for i := 0; i < 10; i++ {
		coils := cfg.SortedCoils()
		require.Len(t, coils, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{coils[0].Name, coils[1].Name, coils[2].Name})
	}
}
