/*package wind implements galactic wind feedback: after gas particles spawn
stars, each new star measures its local dark-matter velocity dispersion
inside an adaptively converged search radius, then stochastically kicks
nearby gas particles into a temporarily decoupled outflow.
*/
package wind

import (
	"log"
	"math"

	"github.com/maseology/mmio"

	"github.com/jibanCat/gowind/comm"
	"github.com/jibanCat/gowind/cosmo"
	"github.com/jibanCat/gowind/particle"
	"github.com/jibanCat/gowind/treewalk"
)

const (
	// Dark-matter neighbor target and tolerance for the radius search.
	ngbTarget = 40
	ngbTol    = 2
	// Bisection bracket width below which the radius counts as converged.
	radiusTol = 1e-2
	// Growth factor applied while no upper bracket bound exists.
	radiusGrow = 1.3
)

// starData is the per-star scratch state of one feedback cycle, indexed by
// the star's slot. Written by the traversal reduce step for that star,
// read and updated only by its postprocess step.
type starData struct {
	DMRadius    float64
	Left, Right float64
	TotalWeight float64
	V1Sum       [3]float64
	V2Sum       float64
	Vdisp       float64
	Ngb         int
	Done        bool
}

// Winds binds the wind parameters to a particle store and drives the
// feedback cycle.
type Winds struct {
	par     *Params
	st      *particle.Store
	workers int

	// Per-cycle state, live between begin and the end of ApplyFeedback.
	data   []starData
	npLeft []int64
	cf     *cosmo.Factors
	tb     *cosmo.TimeBins
}

func New(par *Params, st *particle.Store, workers int) *Winds {
	if workers <= 0 {
		workers = 1
	}
	return &Winds{par: par, st: st, workers: workers}
}

func (w *Winds) Params() *Params { return w.par }

// ApplyFeedback runs the full two-pass feedback procedure for the newly
// formed stars: the radius-convergence pass to a global fixed point, then a
// single feedback-application pass. A no-op under the subgrid model or when
// no rank formed stars this cycle.
func (w *Winds) ApplyFeedback(
	newStars []int, grid *treewalk.Grid,
	cf *cosmo.Factors, tb *cosmo.TimeBins, c comm.Communicator,
) {
	if w.par.Model.Has(ModelSubgrid) {
		return
	}
	if !c.Any(len(newStars) > 0) {
		return
	}

	tt := mmio.NewTimer()
	w.begin(newStars, cf, tb)
	w.convergeRadii(newStars, grid, c)
	w.feedback(newStars, grid)
	w.data = nil
	tt.Lap("wind feedback")
}

// begin allocates and initializes the per-star scratch state. Right < 0
// marks "no upper bracket bound yet".
func (w *Winds) begin(newStars []int, cf *cosmo.Factors, tb *cosmo.TimeBins) {
	w.cf, w.tb = cf, tb
	w.npLeft = make([]int64, w.workers)
	w.data = make([]starData, w.st.StarSlots())
	for _, n := range newStars {
		d := &w.data[w.st.P[n].PI]
		d.DMRadius = 2 * w.st.P[n].Hsml
		d.Left = 0
		d.Right = -1
	}
}

func (w *Winds) starData(i int) *starData { return &w.data[w.st.P[i].PI] }

// fill builds the read-only query payload for one star.
func (w *Winds) fill(place int, q *treewalk.Query) {
	p := &w.st.P[place]
	d := w.starData(place)

	q.Dt = w.tb.Dtime(p.TimeBin, w.cf.Hubble)
	q.Mass = p.Mass
	q.Hsml = p.Hsml
	q.TotalWeight = d.TotalWeight
	q.DMRadius = d.DMRadius
	q.Vdisp = d.Vdisp
}

func (w *Winds) weightWalk(grid *treewalk.Grid) *treewalk.Walk {
	return &treewalk.Walk{
		Label:   "WIND_WEIGHT",
		Workers: w.workers,
		Store:   w.st,
		Grid:    grid,
		HasWork: w.weightHasWork,
		Fill:    w.fill,
		Setup:   w.weightSetup,
		Visit:   w.weightVisit,
		Reduce:  w.weightReduce,
		Post:    w.weightPost,
	}
}

// runWeightIteration performs one traversal of the weight pass and returns
// this rank's count of still-unconverged stars.
func (w *Winds) runWeightIteration(tw *treewalk.Walk, newStars []int) int64 {
	for i := range w.npLeft {
		w.npLeft[i] = 0
	}
	tw.Run(newStars)

	left := int64(0)
	for _, n := range w.npLeft {
		left += n
	}
	return left
}

// convergeRadii iterates the weight pass until every star on every rank has
// a converged dark-matter search radius. Each iteration ends in a blocking
// collective sum of the pending counts.
func (w *Winds) convergeRadii(
	newStars []int, grid *treewalk.Grid, c comm.Communicator,
) {
	tw := w.weightWalk(grid)

	total := c.SumInt64(int64(len(newStars)))
	for total > 0 {
		left := w.runWeightIteration(tw, newStars)
		total = c.SumInt64(left)
		log.Printf("star DM iteration: %d left", total)
	}
}

func (w *Winds) weightHasWork(place int) bool {
	p := &w.st.P[place]
	return p.Type == particle.Star && !w.starData(place).Done
}

// The weight pass searches gas within the star's smoothing length and dark
// matter within the trial radius in a single traversal.
func (w *Winds) weightSetup(q *treewalk.Query, s *treewalk.Search) {
	s.Radius = math.Max(q.Hsml, q.DMRadius)
	s.Mask = particle.MaskOf(particle.Gas, particle.DarkMatter)
}

func (w *Winds) weightVisit(
	q *treewalk.Query, res *treewalk.Result, n *treewalk.Neighbor,
) {
	p := &w.st.P[n.Index]

	switch p.Type {
	case particle.Gas:
		if n.R > q.Hsml {
			return
		}
		// Flat weight; a kernel-weighted sum would need a symmetric walk.
		res.TotalWeight += 1.0 * p.Mass

	case particle.DarkMatter:
		if n.R > q.DMRadius {
			return
		}
		res.Ngb++
		for k := 0; k < 3; k++ {
			vel := p.Vel[k] + w.cf.Hubble*w.cf.A2()*n.Dist[k]
			res.V1Sum[k] += vel
			res.V2Sum += vel * vel
		}
	}
}

func (w *Winds) weightReduce(place int, res *treewalk.Result) {
	d := w.starData(place)
	d.TotalWeight = res.TotalWeight
	d.V1Sum = res.V1Sum
	d.V2Sum = res.V2Sum
	d.Ngb = res.Ngb
}

// weightPost applies the convergence rule after all of a star's neighbor
// contributions are in.
func (w *Winds) weightPost(place, worker int) {
	p := &w.st.P[place]
	if p.Type != particle.Star {
		log.Fatalf(
			"wind weight pass reached a non-star particle (i=%d, type=%d, id=%d)",
			place, p.Type, p.ID,
		)
	}
	d := w.starData(place)

	diff := d.Ngb - ngbTarget
	if diff < -ngbTol {
		// too few
		d.Left = d.DMRadius
	} else if diff > ngbTol {
		// too many
		d.Right = d.DMRadius
	} else {
		d.Done = true
	}

	if d.Right >= 0 {
		// The neighbor count missed the target; see if the bracket has
		// collapsed instead.
		if d.Right-d.Left < radiusTol {
			d.Done = true
		} else {
			d.DMRadius = 0.5 * (d.Left + d.Right)
		}
	} else {
		d.DMRadius *= radiusGrow
	}

	if d.Done {
		if d.Ngb > 0 {
			vdisp := d.V2Sum / float64(d.Ngb)
			for k := 0; k < 3; k++ {
				mean := d.V1Sum[k] / float64(d.Ngb)
				vdisp -= mean * mean
			}
			if vdisp < 0 {
				vdisp = 0
			}
			d.Vdisp = math.Sqrt(vdisp / 3)
		}
	} else {
		w.npLeft[worker]++
	}
}

// feedback runs the single kick pass over all new stars.
func (w *Winds) feedback(newStars []int, grid *treewalk.Grid) {
	tw := &treewalk.Walk{
		Label:   "WIND_KICK",
		Workers: w.workers,
		Store:   w.st,
		Grid:    grid,
		Fill:    w.fill,
		Setup:   w.feedbackSetup,
		Visit:   w.feedbackVisit,
	}
	tw.Run(newStars)
}

func (w *Winds) feedbackSetup(q *treewalk.Query, s *treewalk.Search) {
	s.Radius = q.Hsml
	s.Mask = particle.MaskOf(particle.Gas)
}

// feedbackVisit decides independently for each (star, gas) pair whether the
// gas particle is launched, and applies the kick atomically: several stars
// may reach the same particle at once from different workers.
func (w *Winds) feedbackVisit(
	q *treewalk.Query, res *treewalk.Result, n *treewalk.Neighbor,
) {
	if n.R > q.Hsml {
		return
	}
	p := &w.st.P[n.Index]

	var eff, v float64
	if w.par.Model.Has(ModelFixedEfficiency) {
		eff = w.par.Efficiency
		v = w.par.Speed * w.cf.A
	} else if w.par.Model.Has(ModelUseHalo) {
		s := q.Vdisp / w.cf.A / w.par.Sigma0
		eff = 1 / (s * s)
		v = w.par.SpeedFactor * q.Vdisp
	} else {
		log.Fatalf("wind model 0x%X has no kick rule", uint32(w.par.Model))
	}

	prob := eff * q.Mass / q.TotalWeight
	if uniform(q.ID+p.ID) >= prob {
		return
	}

	var dir [3]float64
	windDir(p.ID, &dir)
	for k := 0; k < 3; k++ {
		particle.AddFloat64(&p.Vel[k], v*dir[k])
	}

	// A particle already in the wind keeps the larger of the two delays and
	// still receives this kick's momentum; taking only the first hit would
	// make the outcome depend on worker timing.
	sph := w.st.SphOf(n.Index)
	particle.MaxFloat64(&sph.DelayTime, w.par.FreeTravelLength/(v/w.cf.A))
}
