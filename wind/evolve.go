package wind

import (
	"math"

	"github.com/jibanCat/gowind/cosmo"
	"github.com/jibanCat/gowind/particle"
)

const gamma = 5.0 / 3

// IsDecoupled reports whether particle i is currently excluded from
// pressure-force integration. Consulted by the hydro solver.
func (w *Winds) IsDecoupled(i int) bool {
	if !w.par.Model.Has(ModelDecoupleSPH) {
		return false
	}
	p := &w.st.P[i]
	return p.Type == particle.Gas && w.st.SphOf(i).DelayTime > 0
}

// DecoupledHydro overrides the hydro state of a wind particle: it free
// streams, ignoring pressure forces, but its signal velocity is raised so
// the timestep criterion still sees the wind's bulk speed.
func (w *Winds) DecoupledHydro(i int, atime float64) {
	sph := w.st.SphOf(i)
	for k := 0; k < 3; k++ {
		sph.HydroAccel[k] = 0
	}
	sph.DtEntropy = 0

	windspeed := w.par.Speed * atime
	facMu := math.Pow(atime, 3*(gamma-1)/2) / atime
	windspeed *= facMu

	hsmlC := math.Cbrt(w.par.FreeTravelDensThresh/sph.Density) * atime
	sph.MaxSignalVel = hsmlC * math.Max(2*windspeed, sph.MaxSignalVel)
}

// Evolve advances gas particle i's decoupling timer by one step: recouple
// once the physical density drops below the free-travel threshold,
// otherwise decay the timer by the step's proper duration, floored at zero.
func (w *Winds) Evolve(i int, cf *cosmo.Factors, tb *cosmo.TimeBins) {
	sph := w.st.SphOf(i)

	if sph.DelayTime > 0 && sph.Density*cf.A3Inv() < w.par.FreeTravelDensThresh {
		sph.DelayTime = 0
	}
	if sph.DelayTime > 0 {
		dtime := tb.Dtime(w.st.P[i].TimeBin, cf.Hubble)
		sph.DelayTime = math.Max(sph.DelayTime-dtime, 0)
	}
}

// MakeAfterStarFormation implements the subgrid variant: at star-formation
// time the star-forming gas particle itself is kicked directly, with no
// neighbor search. spawnedMass is the mass of the just-spawned star.
func (w *Winds) MakeAfterStarFormation(
	i int, spawnedMass, atime float64, cf *cosmo.Factors,
) {
	if !w.par.Model.Has(ModelSubgrid) {
		return
	}
	p := &w.st.P[i]

	pw := w.par.Efficiency * spawnedMass / p.Mass
	prob := 1 - math.Exp(-pw)
	if uniform(p.ID+2) >= prob {
		return
	}

	var dir [3]float64
	windDir(p.ID, &dir)
	for k := 0; k < 3; k++ {
		p.Vel[k] += w.par.Speed * atime * dir[k]
	}
	w.st.SphOf(i).DelayTime = w.par.FreeTravelLength / (w.par.Speed * atime / cf.A)
}
