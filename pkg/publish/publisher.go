package publish

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/itohio/coilgun/pkg/coilgun"
)

// Shot is the published form of a shot result. Durations are in microseconds.
type Shot struct {
	Time            time.Time `json:"time"`
	Coils           []string  `json:"coils"`
	Voltages        []float64 `json:"voltages"`
	BlockingTimes   []int64   `json:"blocking_us"`
	TriggerTimes    []int64   `json:"trigger_us"`
	Velocities      []float64 `json:"velocities"`
	Efficiencies    []float64 `json:"efficiencies"`
	TotalEfficiency float64   `json:"total_efficiency"`
	KineticEnergy   float64   `json:"kinetic_energy"`
	Energy          float64   `json:"energy"`
}

// NewShot converts a shot result for publishing.
func NewShot(r *coilgun.ShotResult) Shot {
	micros := func(ds []time.Duration) []int64 {
		out := make([]int64, len(ds))
		for i, d := range ds {
			out[i] = d.Microseconds()
		}
		return out
	}
	return Shot{
		Time:            r.Time,
		Coils:           r.Coils,
		Voltages:        r.Voltages,
		BlockingTimes:   micros(r.BlockingTimes),
		TriggerTimes:    micros(r.TriggerTimes),
		Velocities:      r.Velocities,
		Efficiencies:    r.Efficiencies,
		TotalEfficiency: r.TotalEfficiency,
		KineticEnergy:   r.KineticEnergy,
		Energy:          r.Energy,
	}
}

// Publisher sends shot results to a NATS subject. Until Connect succeeds
// publishing is a no-op.
type Publisher struct {
	subject string
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	conn    *nats.Conn
	enabled bool
}

// NewPublisher creates a disconnected publisher.
func NewPublisher(subject string, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{subject: subject, logger: logger}
}

// Connect connects to the NATS server, reconnecting in the background if
// the connection drops later.
func (p *Publisher) Connect(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("coilgun"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		p.enabled = false
		return errors.Wrapf(err, "failed to connect to NATS at %s", url)
	}

	p.conn = conn
	p.enabled = true
	p.logger.Infow("NATS connected", "url", url, "subject", p.subject)
	return nil
}

// Enabled reports whether results are actually published.
func (p *Publisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled && p.conn != nil
}

// PublishShot publishes one shot result as JSON.
func (p *Publisher) PublishShot(r *coilgun.ShotResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.conn == nil {
		return nil
	}

	data, err := json.Marshal(NewShot(r))
	if err != nil {
		return errors.Wrap(err, "failed to encode shot")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", p.subject)
	}
	return nil
}

// Close flushes pending messages and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	p.enabled = false
	return err
}
