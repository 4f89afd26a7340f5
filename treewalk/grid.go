package treewalk

import (
	"math"

	"github.com/jibanCat/gowind/particle"
)

// Grid is a periodic cell-linked list over the simulation box. Build binds
// it to a particle store; Search visits every particle of the requested
// types within a radius of a point, using minimum-image separations.
type Grid struct {
	BoxWidth  float64
	Cells     int
	cellWidth float64

	st    *particle.Store
	heads []int
	next  []int
}

// NewGrid returns a new Grid instance.
func NewGrid(boxWidth float64, cells int) *Grid {
	if boxWidth <= 0 || cells < 1 {
		panic("invalid grid dimensions")
	}
	return &Grid{
		BoxWidth:  boxWidth,
		Cells:     cells,
		cellWidth: boxWidth / float64(cells),
		heads:     make([]int, cells*cells*cells),
	}
}

// Build rebinds the grid to the current particle positions. It must be
// called again after particles move or are added.
func (g *Grid) Build(st *particle.Store) {
	g.st = st
	for i := range g.heads {
		g.heads[i] = -1
	}
	if cap(g.next) < st.Len() {
		g.next = make([]int, st.Len())
	}
	g.next = g.next[:st.Len()]

	for i := 0; i < st.Len(); i++ {
		c := g.cellIdx(&st.P[i].Pos)
		g.next[i] = g.heads[c]
		g.heads[c] = i
	}
}

func (g *Grid) cellIdx(pos *[3]float64) int {
	x := pMod(int(math.Floor(pos[0]/g.cellWidth)), g.Cells)
	y := pMod(int(math.Floor(pos[1]/g.cellWidth)), g.Cells)
	z := pMod(int(math.Floor(pos[2]/g.cellWidth)), g.Cells)
	return x + y*g.Cells + z*g.Cells*g.Cells
}

// pMod computes the positive modulo x % y.
func pMod(x, y int) int {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}

// wrap maps a separation onto the minimum periodic image.
func (g *Grid) wrap(d float64) float64 {
	if d > g.BoxWidth/2 {
		return d - g.BoxWidth
	}
	if d < -g.BoxWidth/2 {
		return d + g.BoxWidth
	}
	return d
}

// Search calls visit(j, r, dist) for every particle j whose type is in mask
// and whose minimum-image distance from pos is at most radius. dist is the
// separation from the particle to pos. The cell scan is clamped to one full
// period per axis so no particle is visited twice, whatever the radius.
func (g *Grid) Search(
	pos [3]float64, radius float64, mask particle.Mask,
	visit func(j int, r float64, dist *[3]float64),
) {
	if g.st == nil {
		panic("Search called before Build")
	}

	var lo, hi [3]int
	for k := 0; k < 3; k++ {
		lo[k] = int(math.Floor((pos[k] - radius) / g.cellWidth))
		hi[k] = int(math.Floor((pos[k] + radius) / g.cellWidth))
		if hi[k]-lo[k]+1 > g.Cells {
			lo[k], hi[k] = 0, g.Cells-1
		}
	}

	r2Max := radius * radius
	var dist [3]float64
	for cz := lo[2]; cz <= hi[2]; cz++ {
		for cy := lo[1]; cy <= hi[1]; cy++ {
			for cx := lo[0]; cx <= hi[0]; cx++ {
				c := pMod(cx, g.Cells) +
					pMod(cy, g.Cells)*g.Cells +
					pMod(cz, g.Cells)*g.Cells*g.Cells

				for j := g.heads[c]; j != -1; j = g.next[j] {
					p := &g.st.P[j]
					if !mask.Has(p.Type) {
						continue
					}

					r2 := 0.0
					for k := 0; k < 3; k++ {
						dist[k] = g.wrap(pos[k] - p.Pos[k])
						r2 += dist[k] * dist[k]
					}
					if r2 > r2Max {
						continue
					}
					visit(j, math.Sqrt(r2), &dist)
				}
			}
		}
	}
}
