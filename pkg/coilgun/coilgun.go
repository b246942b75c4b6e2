package coilgun

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/itohio/coilgun/pkg/coil"
	"github.com/itohio/coilgun/pkg/config"
	"github.com/itohio/coilgun/pkg/controller"
	"github.com/itohio/coilgun/pkg/sample"
)

// DefaultPollInterval paces the charge loop.
const DefaultPollInterval = 100 * time.Millisecond

// State is the position of the coilgun in its arm, charge, fire and drain cycle.
type State int

const (
	StateOff State = iota
	StateArmed
	StateCharging
	StateReady
	StateFired
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateArmed:
		return "ARMED"
	case StateCharging:
		return "CHARGING"
	case StateReady:
		return "READY"
	case StateFired:
		return "FIRED"
	case StateDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Coilgun sequences the banks of a multi-stage coilgun through the
// controller: arming, closed loop charging, firing and draining.
//
// All exported methods are serialised, so only one charge or fire sequence
// runs at a time.
type Coilgun struct {
	coils     []*coil.Coil
	models    []sample.VoltageModel
	transport controller.Transport

	diameter     float64 // m
	mass         float64 // kg
	pollInterval time.Duration
	attempts     int

	clock    clock.Clock
	logger   *zap.SugaredLogger
	recorder Recorder

	mu         sync.Mutex
	state      State
	chargeMode bool // Controller was told CHARGE since the last off
}

// Option configures a Coilgun.
type Option func(*Coilgun)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Coilgun) { c.logger = logger }
}

// WithClock sets the clock used for pacing.
func WithClock(clk clock.Clock) Option {
	return func(c *Coilgun) { c.clock = clk }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(c *Coilgun) { c.recorder = r }
}

// WithPollInterval sets the wait between charge loop cycles. Zero polls as
// fast as the controller answers.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coilgun) { c.pollInterval = d }
}

// WithCommandAttempts sets how many times an acknowledged command is tried
// before it counts as failed.
func WithCommandAttempts(n int) Option {
	return func(c *Coilgun) { c.attempts = n }
}

// WithProjectile sets the projectile diameter in meters and mass in kilograms.
func WithProjectile(diameter, mass float64) Option {
	return func(c *Coilgun) {
		c.diameter = diameter
		c.mass = mass
	}
}

// New creates a coilgun over the given coils, in firing order, and puts the
// hardware into the safe off state.
func New(coils []*coil.Coil, t controller.Transport, opts ...Option) (*Coilgun, error) {
	if len(coils) == 0 {
		return nil, errors.New("coilgun needs at least one coil")
	}

	c := &Coilgun{
		coils:        coils,
		transport:    t,
		pollInterval: DefaultPollInterval,
		attempts:     1,
		clock:        clock.New(),
		logger:       zap.NewNop().Sugar(),
		recorder:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}

	c.models = make([]sample.VoltageModel, len(coils))
	for i, cl := range coils {
		c.models[i] = cl.Model()
	}

	if err := c.Off(); err != nil {
		return nil, errors.Wrap(err, "failed to switch off")
	}
	return c, nil
}

// FromConfig creates a coilgun from the configured coils, ordered by name.
// opts are applied after the configured values.
func FromConfig(cfg *config.Config, t controller.Transport, opts ...Option) (*Coilgun, error) {
	named := cfg.SortedCoils()
	coils := make([]*coil.Coil, len(named))
	for i, n := range named {
		cl, err := coil.FromConfig(i, n, cfg.ADC)
		if err != nil {
			return nil, err
		}
		coils[i] = cl
	}

	base := []Option{
		WithProjectile(cfg.Projectile.Diameter, cfg.Projectile.Mass),
		WithPollInterval(cfg.Charge.PollInterval),
		WithCommandAttempts(cfg.Transport.CommandAttempts),
	}
	return New(coils, t, append(base, opts...)...)
}

// Coils returns the coils in firing order.
func (c *Coilgun) Coils() []*coil.Coil {
	return c.coils
}

// Names returns the coil names in firing order.
func (c *Coilgun) Names() []string {
	names := make([]string, len(c.coils))
	for i, cl := range c.coils {
		names[i] = cl.Name()
	}
	return names
}

// Targets returns the configured per-coil target voltages.
func (c *Coilgun) Targets() []float64 {
	targets := make([]float64, len(c.coils))
	for i, cl := range c.coils {
		targets[i] = cl.Target()
	}
	return targets
}

// State returns the current state.
func (c *Coilgun) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReadyToFire reports whether every coil that is on has latched ready.
func (c *Coilgun) ReadyToFire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyToFire()
}

func (c *Coilgun) readyToFire() bool {
	for _, cl := range c.coils {
		if cl.On() && !cl.Ready() {
			return false
		}
	}
	return true
}

func (c *Coilgun) onMask() []bool {
	on := make([]bool, len(c.coils))
	for i, cl := range c.coils {
		on[i] = cl.On()
	}
	return on
}

func (c *Coilgun) positions() []int {
	p := make([]int, len(c.coils))
	for i, cl := range c.coils {
		p[i] = cl.Position()
	}
	return p
}

func (c *Coilgun) setState(s State) {
	if c.state != s {
		c.logger.Debugw("state", "from", c.state, "to", s)
	}
	c.state = s
}

func filled(n int, v bool) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = v
	}
	return b
}
