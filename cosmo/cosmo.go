/*package cosmo supplies the scale-factor kinematics needed by the feedback
passes: the Hubble rate at a given expansion factor and the proper-time
duration of a particle's timestep bin.
*/
package cosmo

import (
	"math"
)

// Hubble0 is H0 in internal units (velocities in km/s, lengths in kpc/h).
const Hubble0 = 0.1

// Header holds the cosmological parameters of the simulation.
type Header struct {
	Z      float64
	OmegaM float64
	OmegaL float64
	H100   float64
}

// HubbleRate returns H(a) in internal units, including the curvature term.
func HubbleRate(hd *Header, a float64) float64 {
	omegaK := 1 - hd.OmegaM - hd.OmegaL
	return Hubble0 * math.Sqrt(hd.OmegaM/(a*a*a)+omegaK/(a*a)+hd.OmegaL)
}

// Factors is a snapshot of the expansion state for a single timestep. Every
// pass of a step sees the same Factors value.
type Factors struct {
	A      float64
	Hubble float64
}

func NewFactors(hd *Header, a float64) *Factors {
	return &Factors{A: a, Hubble: HubbleRate(hd, a)}
}

func (cf *Factors) A2() float64 { return cf.A * cf.A }

func (cf *Factors) A3Inv() float64 { return 1 / (cf.A * cf.A * cf.A) }

// TimeBins maps a particle's power-of-two timestep bin onto log-a intervals.
type TimeBins struct {
	// DlogaBase is the log-a interval of bin 0, the shortest step.
	DlogaBase float64
}

// Dloga returns the log-a interval of the given bin.
func (tb *TimeBins) Dloga(bin int) float64 {
	if bin < 0 || bin >= 63 {
		panic("time bin out of range")
	}
	return tb.DlogaBase * float64(int64(1)<<uint(bin))
}

// Dtime returns the proper-time duration of the given bin's step.
func (tb *TimeBins) Dtime(bin int, hubble float64) float64 {
	return tb.Dloga(bin) / hubble
}
