package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/coilgun/pkg/coilgun"
	"github.com/itohio/coilgun/pkg/config"
	"github.com/itohio/coilgun/pkg/controller"
	"github.com/itohio/coilgun/pkg/logging"
	"github.com/itohio/coilgun/pkg/metrics"
	"github.com/itohio/coilgun/pkg/publish"
)

var (
	// Global flags
	configFile  string
	portFlag    string
	mockFlag    bool
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "coilgun",
	Short: "Capacitor bank coilgun controller",
	Long: `Charges the capacitor banks of a multi-stage coilgun to per-coil target
voltages, fires it, measures the projectile and drains the banks.

Examples:
  coilgun fire                      # Charge to prompted voltages and fire
  coilgun manual                    # Charge by hand, watch the voltages, fire
  coilgun test drain --mock         # Toggle drain relays on the simulator
  coilgun voltages -p /dev/ttyUSB0  # Read the bank voltages once`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "serial port override (e.g. COM3 or /dev/ttyACM0)")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use the simulated controller")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// session is everything a command needs to drive the coilgun.
type session struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	clock     clock.Clock
	gun       *coilgun.Coilgun
	publisher *publish.Publisher

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if portFlag != "" {
		cfg.Serial.Port = portFlag
	}
	if mockFlag {
		cfg.Transport.Kind = config.TransportMock
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// newSession loads the configuration, connects to the controller and puts
// the coilgun into the safe off state.
func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:       cfg,
		logger:    logger,
		clock:     clock.New(),
		publisher: publish.NewPublisher(cfg.NATS.Subject, logger),
		closers:   []func() error{closeLog},
	}

	opts := []coilgun.Option{
		coilgun.WithLogger(logger.Named("coilgun")),
		coilgun.WithClock(s.clock),
	}

	if cfg.Metrics.Addr != "" {
		prom := metrics.New()
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: prom.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("metrics server failed", "error", err)
			}
		}()
		s.closers = append(s.closers, srv.Close)
		opts = append(opts, coilgun.WithRecorder(prom))
		logger.Infow("serving metrics", "addr", cfg.Metrics.Addr)
	}

	if cfg.NATS.URL != "" {
		if err := s.publisher.Connect(cfg.NATS.URL); err != nil {
			logger.Warnw("shot results will not be published", "error", err)
		} else {
			s.closers = append(s.closers, s.publisher.Close)
		}
	}

	t, err := s.openTransport()
	if err != nil {
		s.close()
		return nil, err
	}

	gun, err := coilgun.FromConfig(cfg, t, opts...)
	if err != nil {
		s.close()
		return nil, multierr.Append(err, t.Close())
	}
	s.gun = gun
	return s, nil
}

func (s *session) openTransport() (controller.Transport, error) {
	log := s.logger.Named("controller")
	hs := s.cfg.Handshake

	switch s.cfg.Transport.Kind {
	case config.TransportMock:
		sim := controller.NewSimulator(&s.cfg.Mock)
		if err := controller.Handshake(sim, s.clock, hs.Attempts, hs.Interval, log); err != nil {
			return nil, err
		}
		log.Info("using simulated controller")
		return sim, nil

	case config.TransportDirect:
		d, err := controller.OpenDirect(s.cfg.Direct, len(s.cfg.Coils), log)
		if err != nil {
			return nil, err
		}
		if err := controller.Handshake(d, s.clock, hs.Attempts, hs.Interval, log); err != nil {
			return nil, err
		}
		return d, nil

	default:
		dev := controller.New(s.cfg.Serial.Port, s.cfg.Serial.BaudRate, s.cfg.Serial.ReadTimeout, log)
		if err := dev.Connect(hs); err != nil {
			return nil, errors.Wrapf(err, "failed to connect to controller on %s", s.cfg.Serial.Port)
		}
		return dev, nil
	}
}

// close always leaves the hardware safe: abort, switch off, close.
func (s *session) close() error {
	var err error
	if s.gun != nil {
		err = multierr.Append(err, s.gun.Shutdown())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	if err != nil {
		s.logger.Errorw("shutdown", "error", err)
	}
	_ = s.logger.Sync()
	return err
}

// withSession runs fn with a connected session and shuts it down afterwards.
func withSession(fn func(s *session) error) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	return multierr.Append(fn(s), s.close())
}
