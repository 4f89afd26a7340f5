/*package treewalk runs callback-driven neighbor traversals over a particle
store. A Walk visits a list of target particles, hands each one to exactly
one worker goroutine, and for each target searches the grid for neighbors,
accumulates a Result, and reduces it back into caller-owned state.

Because a target is processed start to finish by a single worker, the
caller's per-target scratch needs no locking, and a target's Result is
independent of the worker count.
*/
package treewalk

import (
	"runtime"

	"github.com/jibanCat/gowind/particle"
)

// Query is the read-only payload built once per target before its neighbor
// search begins.
type Query struct {
	Target int
	ID     int64

	Dt          float64
	Mass        float64
	Hsml        float64
	TotalWeight float64
	DMRadius    float64
	Vdisp       float64
}

// Result accumulates one target's neighbor contributions. Merging results
// is a component-wise sum, so it is associative and commutative.
type Result struct {
	TotalWeight float64
	V1Sum       [3]float64
	V2Sum       float64
	Ngb         int
}

// Search carries the per-query search parameters requested by Setup.
type Search struct {
	Radius float64
	Mask   particle.Mask
}

// Neighbor describes one candidate neighbor: its index, its minimum-image
// distance r from the query position, and the separation vector from the
// neighbor to the query position.
type Neighbor struct {
	Index int
	R     float64
	Dist  [3]float64
}

// Walk configures one traversal. Setup and Visit are required; the rest may
// be nil.
type Walk struct {
	Label   string
	Workers int

	Store *particle.Store
	Grid  *Grid

	// HasWork filters targets that no longer need processing.
	HasWork func(place int) bool
	// Fill populates the query payload for a target.
	Fill func(place int, q *Query)
	// Setup requests the search radius and type mask for a query.
	Setup func(q *Query, s *Search)
	// Visit is called once per candidate neighbor.
	Visit func(q *Query, r *Result, n *Neighbor)
	// Reduce merges a target's accumulated result into caller state.
	Reduce func(place int, r *Result)
	// Post runs once per processed target after its result is reduced.
	// worker identifies the calling goroutine for thread-local counters.
	Post func(place, worker int)
}

// Run executes one full traversal over the targets, returning after every
// target has been visited, reduced and postprocessed.
func (tw *Walk) Run(targets []int) {
	workers := tw.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make(chan int, workers)
	for id := 0; id < workers-1; id++ {
		go tw.chanProcess(id, workers, targets, out)
	}
	tw.chanProcess(workers-1, workers, targets, out)

	for i := 0; i < workers; i++ {
		<-out
	}
}

func (tw *Walk) chanProcess(id, workers int, targets []int, out chan<- int) {
	for ti := id; ti < len(targets); ti += workers {
		tw.process(targets[ti], id)
	}
	out <- id
}

func (tw *Walk) process(place, worker int) {
	if tw.HasWork != nil && !tw.HasWork(place) {
		return
	}

	p := &tw.Store.P[place]
	q := Query{Target: place, ID: p.ID}
	if tw.Fill != nil {
		tw.Fill(place, &q)
	}

	s := Search{}
	tw.Setup(&q, &s)

	res := Result{}
	n := Neighbor{}
	tw.Grid.Search(p.Pos, s.Radius, s.Mask,
		func(j int, r float64, dist *[3]float64) {
			n.Index, n.R, n.Dist = j, r, *dist
			tw.Visit(&q, &res, &n)
		})

	if tw.Reduce != nil {
		tw.Reduce(place, &res)
	}
	if tw.Post != nil {
		tw.Post(place, worker)
	}
}
