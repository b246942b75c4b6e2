package coilgun

import "time"

// Recorder receives telemetry from the coilgun.
type Recorder interface {
	// Voltages is called with every voltage reading, in coil order.
	Voltages(names []string, volts []float64)
	// ChargeCycle is called when a charge completes.
	ChargeCycle(duration time.Duration, ticks int)
	// Shot is called after every fire.
	Shot(result *ShotResult)
	// TransportFault is called when a command was not acknowledged.
	TransportFault(command string)
}

type nopRecorder struct{}

func (nopRecorder) Voltages([]string, []float64) {}
func (nopRecorder) ChargeCycle(time.Duration, int) {}
func (nopRecorder) Shot(*ShotResult) {}
func (nopRecorder) TransportFault(string) {}
