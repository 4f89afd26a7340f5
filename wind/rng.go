package wind

import (
	"math"
	"math/rand"

	mrg63k3a "github.com/maseology/pnrg/MRG63k3a"
)

// Random draws are keyed by particle identifiers alone, never by a shared
// stream: the same (star, gas) pair yields the same draw whatever the
// worker count or traversal order.

// uniform returns a reproducible draw in [0, 1) keyed by id.
func uniform(id int64) float64 {
	rng := rand.New(mrg63k3a.New())
	rng.Seed(id)
	return rng.Float64()
}

// windDir samples an isotropic unit vector keyed by the particle's id.
func windDir(id int64, dir *[3]float64) {
	theta := math.Acos(2*uniform(id+3) - 1)
	phi := 2 * math.Pi * uniform(id+4)

	dir[0] = math.Sin(theta) * math.Cos(phi)
	dir[1] = math.Sin(theta) * math.Sin(phi)
	dir[2] = math.Cos(theta)
}
