package coilgun

import "github.com/itohio/coilgun/pkg/coil"

// Efficiency evaluates a shot along the barrel. Each coil accelerates the
// projectile from the previous coil's exit velocity (0 for the first coil)
// to its own; velocities[i] is measured after coil i. The total is the
// kinetic energy at the last sensor over the energy stored in all banks, 0
// when the banks were empty. Missing velocities or voltages count as 0.
func Efficiency(coils []*coil.Coil, volts, velocities []float64, mass float64) ([]float64, float64) {
	perCoil := make([]float64, len(coils))

	var vIn, energy float64
	for i, cl := range coils {
		v := at(volts, i)
		vOut := at(velocities, i)
		perCoil[i] = cl.Efficiency(vIn, vOut, v, mass)
		energy += cl.CBEnergy(v)
		vIn = vOut
	}

	if energy == 0 {
		return perCoil, 0
	}
	return perCoil, KineticEnergy(mass, ExitVelocity(velocities)) / energy
}

// ExitVelocity is the velocity measured by the last sensor, 0 without sensors.
func ExitVelocity(velocities []float64) float64 {
	if len(velocities) == 0 {
		return 0
	}
	return velocities[len(velocities)-1]
}

// KineticEnergy returns m·v²/2.
func KineticEnergy(mass, v float64) float64 {
	return coil.KineticEnergy(mass, v)
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}
