package config

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportSerial = "serial"
	TransportDirect = "direct"
	TransportMock   = "mock"
)

// Voltage model kinds.
const (
	ModelDivider    = "divider"
	ModelCalibrated = "calibrated"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig          `yaml:"serial"`
	Transport  TransportConfig       `yaml:"transport"`
	Handshake  HandshakeConfig       `yaml:"handshake"`
	ADC        ADCConfig             `yaml:"adc"`
	Projectile ProjectileConfig      `yaml:"projectile"`
	Charge     ChargeConfig          `yaml:"charge"`
	Coils      map[string]CoilConfig `yaml:"coils"`
	Direct     DirectConfig          `yaml:"direct"`
	Mock       MockConfig            `yaml:"mock"`
	Logging    LoggingConfig         `yaml:"logging"`
	Metrics    MetricsConfig         `yaml:"metrics"`
	NATS       NATSConfig            `yaml:"nats"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// TransportConfig selects how the host talks to the banks.
type TransportConfig struct {
	Kind            string `yaml:"kind"`             // serial, direct or mock
	CommandAttempts int    `yaml:"command_attempts"` // Attempts for safety-critical commands (1 = no retry)
}

// HandshakeConfig contains the connection test parameters.
type HandshakeConfig struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
	Settle   time.Duration `yaml:"settle"` // Wait after opening the port before the first test
}

// ADCConfig describes the controller's analog front end.
type ADCConfig struct {
	Rail    float64 `yaml:"rail"`     // Reference rail voltage (V)
	MaxCode int     `yaml:"max_code"` // Full scale code
}

// ProjectileConfig contains projectile geometry.
type ProjectileConfig struct {
	Diameter float64 `yaml:"diameter"` // m
	Mass     float64 `yaml:"mass"`     // kg
}

// ChargeConfig contains charge loop and firing parameters.
type ChargeConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	SafeDrainVoltage float64       `yaml:"safe_drain_voltage"` // Default per-coil threshold (V)
	SettleAfterFire  time.Duration `yaml:"settle_after_fire"`
	Countdown        int           `yaml:"countdown"` // Seconds
}

// CoilConfig contains the parameters of one coil and its capacitor bank.
type CoilConfig struct {
	Capacitance      float64           `yaml:"capacitance"` // F
	R1               float64           `yaml:"r1"`
	R2               float64           `yaml:"r2"`
	On               *bool             `yaml:"on,omitempty"`
	TargetVoltage    float64           `yaml:"target_voltage"`
	SafeDrainVoltage float64           `yaml:"safe_drain_voltage"`
	Model            string            `yaml:"model"`
	Calibration      CalibrationConfig `yaml:"calibration"`
}

// CalibrationConfig maps a potentiometer position to the bias and slope of
// the sensing chain. Coefficients are in ascending powers of the position.
type CalibrationConfig struct {
	Bias     []float64 `yaml:"bias"`
	Slope    []float64 `yaml:"slope"`
	Position int       `yaml:"position"`
}

// NamedCoil is a coil configuration together with its configuration key.
type NamedCoil struct {
	Name string
	CoilConfig
}

// DirectConfig contains Raspberry Pi pin assignments for the direct-drive variant.
type DirectConfig struct {
	MainHVPin     int           `yaml:"main_hv_pin"`
	HVPins        []int         `yaml:"hv_pins"`
	DrainPins     []int         `yaml:"drain_pins"`
	FirePins      []int         `yaml:"fire_pins"`
	SensorPins    []int         `yaml:"sensor_pins"`
	ADCChannels   []int         `yaml:"adc_channels"` // MCP3008 channel per coil
	SPISpeed      int           `yaml:"spi_speed"`
	PulseWidth    time.Duration `yaml:"pulse_width"`
	SensorTimeout time.Duration `yaml:"sensor_timeout"`
}

// MockConfig contains simulated controller configuration.
type MockConfig struct {
	Coils        int           `yaml:"coils"`         // Defaults to the number of configured coils
	ChargeStep   int           `yaml:"charge_step"`   // ADC codes gained per voltage read while charging
	DrainStep    int           `yaml:"drain_step"`    // ADC codes lost per voltage read while draining
	Residual     float64       `yaml:"residual"`      // Fraction of charge left in a bank after firing
	BlockingTime time.Duration `yaml:"blocking_time"` // Sensor blocking time at the first sensor
	SensorGap    time.Duration `yaml:"sensor_gap"`    // Time between sensor triggers
}

// LoggingConfig contains logger parameters.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig contains the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// NATSConfig contains the shot result publisher parameters.
type NATSConfig struct {
	URL     string `yaml:"url"` // Empty disables publishing
	Subject string `yaml:"subject"`
}

func boolPtr(b bool) *bool { return &b }

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			ReadTimeout: 10 * time.Second,
		},
		Transport: TransportConfig{
			Kind:            TransportSerial,
			CommandAttempts: 1,
		},
		Handshake: HandshakeConfig{
			Attempts: 10,
			Interval: time.Second,
			Settle:   time.Second,
		},
		ADC: ADCConfig{
			Rail:    5,
			MaxCode: 1023,
		},
		Projectile: ProjectileConfig{
			Diameter: 8.8e-3,
			Mass:     4.5e-3,
		},
		Charge: ChargeConfig{
			PollInterval:     100 * time.Millisecond,
			SafeDrainVoltage: 20,
			SettleAfterFire:  time.Second,
			Countdown:        3,
		},
		Coils: map[string]CoilConfig{
			"coil1": {Capacitance: 940e-6, R1: 390e3, R2: 4.7e3, On: boolPtr(true), TargetVoltage: 300, Model: ModelDivider},
			"coil2": {Capacitance: 940e-6, R1: 390e3, R2: 4.7e3, On: boolPtr(true), TargetVoltage: 300, Model: ModelDivider},
			"coil3": {Capacitance: 940e-6, R1: 390e3, R2: 4.7e3, On: boolPtr(true), TargetVoltage: 300, Model: ModelDivider},
		},
		Direct: DirectConfig{
			MainHVPin:     17,
			HVPins:        []int{5, 6, 13},
			DrainPins:     []int{19, 26, 21},
			FirePins:      []int{20, 16, 12},
			SensorPins:    []int{23, 24, 25},
			ADCChannels:   []int{0, 1, 2},
			SPISpeed:      1350000,
			PulseWidth:    2 * time.Millisecond,
			SensorTimeout: 50 * time.Millisecond,
		},
		Mock: MockConfig{
			ChargeStep:   8,
			DrainStep:    40,
			Residual:     0.02,
			BlockingTime: 900 * time.Microsecond,
			SensorGap:    4 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "coilgun.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		NATS: NATSConfig{
			Subject: "coilgun.shots",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ensureDefaults()
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	// Coils replace the defaults wholesale rather than merging by key.
	cfg.Coils = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// SortedCoils returns the coil configurations ordered by their names. The
// position in the returned slice is the coil's identity on the wire, so the
// order must not depend on map iteration.
func (c *Config) SortedCoils() []NamedCoil {
	names := make([]string, 0, len(c.Coils))
	for name := range c.Coils {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]NamedCoil, 0, len(names))
	for _, name := range names {
		result = append(result, NamedCoil{Name: name, CoilConfig: c.Coils[name]})
	}
	return result
}

// Targets returns the configured target voltages in coil order.
func (c *Config) Targets() []float64 {
	coils := c.SortedCoils()
	targets := make([]float64, len(coils))
	for i, coil := range coils {
		targets[i] = coil.TargetVoltage
	}
	return targets
}

// Enabled reports whether the coil takes part in firing. Coils are on unless
// configured otherwise.
func (c CoilConfig) Enabled() bool {
	return c.On == nil || *c.On
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if len(c.Coils) == 0 {
		return errors.New("no coils configured")
	}
	for name, coil := range c.Coils {
		if coil.Capacitance <= 0 {
			return errors.Errorf("coil %s: capacitance must be positive", name)
		}
		switch coil.Model {
		case ModelDivider:
			if coil.R2 <= 0 {
				return errors.Errorf("coil %s: r2 must be positive", name)
			}
		case ModelCalibrated:
			if len(coil.Calibration.Slope) == 0 {
				return errors.Errorf("coil %s: calibrated model needs slope coefficients", name)
			}
		default:
			return errors.Errorf("coil %s: unknown voltage model %q", name, coil.Model)
		}
	}
	switch c.Transport.Kind {
	case TransportSerial, TransportDirect, TransportMock:
	default:
		return errors.Errorf("unknown transport %q", c.Transport.Kind)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = def.Transport.Kind
	}
	if c.Transport.CommandAttempts <= 0 {
		c.Transport.CommandAttempts = def.Transport.CommandAttempts
	}

	if c.Handshake.Attempts <= 0 {
		c.Handshake.Attempts = def.Handshake.Attempts
	}
	if c.Handshake.Interval == 0 {
		c.Handshake.Interval = def.Handshake.Interval
	}

	if c.ADC.Rail == 0 {
		c.ADC.Rail = def.ADC.Rail
	}
	if c.ADC.MaxCode == 0 {
		c.ADC.MaxCode = def.ADC.MaxCode
	}

	if c.Projectile.Diameter == 0 {
		c.Projectile.Diameter = def.Projectile.Diameter
	}
	if c.Projectile.Mass == 0 {
		c.Projectile.Mass = def.Projectile.Mass
	}

	if c.Charge.SafeDrainVoltage == 0 {
		c.Charge.SafeDrainVoltage = def.Charge.SafeDrainVoltage
	}
	if c.Charge.Countdown == 0 {
		c.Charge.Countdown = def.Charge.Countdown
	}

	if len(c.Coils) == 0 {
		c.Coils = def.Coils
	}
	for name, coil := range c.Coils {
		if coil.Model == "" {
			coil.Model = ModelDivider
		}
		if coil.SafeDrainVoltage == 0 {
			coil.SafeDrainVoltage = c.Charge.SafeDrainVoltage
		}
		c.Coils[name] = coil
	}

	if c.Mock.Coils == 0 {
		c.Mock.Coils = len(c.Coils)
	}
	if c.Mock.ChargeStep == 0 {
		c.Mock.ChargeStep = def.Mock.ChargeStep
	}
	if c.Mock.DrainStep == 0 {
		c.Mock.DrainStep = def.Mock.DrainStep
	}
	if c.Mock.BlockingTime == 0 {
		c.Mock.BlockingTime = def.Mock.BlockingTime
	}
	if c.Mock.SensorGap == 0 {
		c.Mock.SensorGap = def.Mock.SensorGap
	}

	if c.Direct.SPISpeed == 0 {
		c.Direct.SPISpeed = def.Direct.SPISpeed
	}
	if c.Direct.PulseWidth == 0 {
		c.Direct.PulseWidth = def.Direct.PulseWidth
	}
	if c.Direct.SensorTimeout == 0 {
		c.Direct.SensorTimeout = def.Direct.SensorTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = def.NATS.Subject
	}
}
