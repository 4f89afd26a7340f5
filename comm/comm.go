/*package comm provides the blocking collective reductions the convergence
loop needs to decide whether any star anywhere is still unconverged. The
collectives are synchronous barriers: no rank returns until every rank has
contributed, and every rank receives the same total.
*/
package comm

// Communicator is the cross-rank reduction interface. All ranks of a run
// must call the collectives in the same order.
type Communicator interface {
	Rank() int
	Size() int
	// SumInt64 performs a blocking collective sum.
	SumInt64(x int64) int64
	// Any performs a blocking collective logical-or.
	Any(x bool) bool
}

// Self is the single-rank communicator.
type Self struct{}

func (Self) Rank() int             { return 0 }
func (Self) Size() int             { return 1 }
func (Self) SumInt64(x int64) int64 { return x }
func (Self) Any(x bool) bool       { return x }

type group struct {
	size int
	in   chan int64
	outs []chan int64
}

type rank struct {
	g *group
	i int
}

// NewGroup returns size communicators sharing in-process collectives, one
// per rank. Close the group by calling Close on any of them.
func NewGroup(size int) []Communicator {
	g := &group{
		size: size,
		in:   make(chan int64),
		outs: make([]chan int64, size),
	}
	for i := range g.outs {
		g.outs[i] = make(chan int64)
	}
	go g.serve()

	cs := make([]Communicator, size)
	for i := range cs {
		cs[i] = &rank{g, i}
	}
	return cs
}

// serve gathers one contribution per rank, then broadcasts the sum. Ranks
// block on their out channel until the round completes, so rounds cannot
// interleave.
func (g *group) serve() {
	for {
		var sum int64
		for i := 0; i < g.size; i++ {
			v, ok := <-g.in
			if !ok {
				return
			}
			sum += v
		}
		for i := 0; i < g.size; i++ {
			g.outs[i] <- sum
		}
	}
}

func (r *rank) Rank() int { return r.i }
func (r *rank) Size() int { return r.g.size }

func (r *rank) SumInt64(x int64) int64 {
	r.g.in <- x
	return <-r.g.outs[r.i]
}

func (r *rank) Any(x bool) bool {
	v := int64(0)
	if x {
		v = 1
	}
	return r.SumInt64(v) > 0
}

// Close shuts down the group's reduction server. No collective may be in
// flight when it is called.
func (r *rank) Close() { close(r.g.in) }
