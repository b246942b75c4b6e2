package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/coilgun/pkg/coilgun"
)

var _ coilgun.Recorder = (*Prom)(nil)

// Prom exports coilgun telemetry as Prometheus metrics on its own registry.
type Prom struct {
	registry *prometheus.Registry

	voltage         *prometheus.GaugeVec
	chargeSeconds   prometheus.Histogram
	chargeTicks     prometheus.Histogram
	shots           prometheus.Counter
	velocity        prometheus.Gauge
	efficiency      prometheus.Gauge
	coilEfficiency  *prometheus.GaugeVec
	kineticEnergy   prometheus.Gauge
	transportFaults *prometheus.CounterVec
}

// New creates the metrics and registers them.
func New() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		voltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coilgun_bank_voltage_volts",
			Help: "Last read capacitor bank voltage.",
		}, []string{"coil"}),
		chargeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coilgun_charge_duration_seconds",
			Help:    "Time to charge every enabled bank to its target.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		chargeTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coilgun_charge_ticks",
			Help:    "Charge loop cycles per charge.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		shots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coilgun_shots_total",
			Help: "Shots fired.",
		}),
		velocity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coilgun_exit_velocity_meters_per_second",
			Help: "Projectile velocity at the last sensor of the last shot.",
		}),
		efficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coilgun_efficiency_ratio",
			Help: "Exit kinetic energy over stored bank energy of the last shot.",
		}),
		coilEfficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coilgun_coil_efficiency_ratio",
			Help: "Per-coil efficiency of the last shot.",
		}, []string{"coil"}),
		kineticEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coilgun_kinetic_energy_joules",
			Help: "Projectile kinetic energy at the last sensor of the last shot.",
		}),
		transportFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coilgun_transport_faults_total",
			Help: "Commands the controller did not acknowledge.",
		}, []string{"command"}),
	}

	p.registry.MustRegister(
		p.voltage,
		p.chargeSeconds,
		p.chargeTicks,
		p.shots,
		p.velocity,
		p.efficiency,
		p.coilEfficiency,
		p.kineticEnergy,
		p.transportFaults,
	)
	return p
}

// Handler serves the metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry holding the metrics.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prom) Voltages(names []string, volts []float64) {
	for i, name := range names {
		if i < len(volts) {
			p.voltage.WithLabelValues(name).Set(volts[i])
		}
	}
}

func (p *Prom) ChargeCycle(d time.Duration, ticks int) {
	p.chargeSeconds.Observe(d.Seconds())
	p.chargeTicks.Observe(float64(ticks))
}

func (p *Prom) Shot(r *coilgun.ShotResult) {
	p.shots.Inc()
	p.velocity.Set(r.ExitVelocity())
	p.efficiency.Set(r.TotalEfficiency)
	p.kineticEnergy.Set(r.KineticEnergy)
	for i, name := range r.Coils {
		if i < len(r.Efficiencies) {
			p.coilEfficiency.WithLabelValues(name).Set(r.Efficiencies[i])
		}
	}
}

func (p *Prom) TransportFault(command string) {
	p.transportFaults.WithLabelValues(command).Inc()
}
