/*package particle is the storage manager for the simulation's particle
arrays. Base properties live in a single Particle slice; gas-specific fields
live in Sph slots referenced through Particle.PI.
*/
package particle

// Type identifies the species of a particle. The numeric values double as
// bit positions in a Mask.
type Type int

const (
	Gas        Type = 0
	DarkMatter Type = 1
	Star       Type = 4
)

// Mask is a bitset of particle types used to restrict neighbor searches.
type Mask uint8

func MaskOf(types ...Type) Mask {
	m := Mask(0)
	for _, t := range types {
		m |= 1 << uint(t)
	}
	return m
}

func (m Mask) Has(t Type) bool { return m&(1<<uint(t)) != 0 }

type Particle struct {
	Type    Type
	ID      int64
	Pos     [3]float64
	Vel     [3]float64
	Mass    float64
	Hsml    float64
	TimeBin int

	// PI indexes the per-type slot arrays: Sph for gas, the per-cycle
	// scratch arrays for stars. -1 for types without slots.
	PI int
}

// Sph holds the gas-only fields. DelayTime is the remaining wind-decoupling
// duration and is the one field mutated concurrently by the feedback pass;
// use MaxFloat64 for those updates.
type Sph struct {
	Density      float64
	HydroAccel   [3]float64
	DtEntropy    float64
	MaxSignalVel float64
	DelayTime    float64
}

// Store owns the process-wide particle arrays.
type Store struct {
	P   []Particle
	Sph []Sph

	starSlots int
}

func (st *Store) Len() int { return len(st.P) }

// StarSlots returns the number of star slots allocated so far. Per-cycle
// scratch arrays are sized to this.
func (st *Store) StarSlots() int { return st.starSlots }

func (st *Store) AddGas(id int64, pos, vel [3]float64, mass, hsml float64) int {
	st.P = append(st.P, Particle{
		Type: Gas, ID: id, Pos: pos, Vel: vel,
		Mass: mass, Hsml: hsml, PI: len(st.Sph),
	})
	st.Sph = append(st.Sph, Sph{})
	return len(st.P) - 1
}

func (st *Store) AddDM(id int64, pos, vel [3]float64, mass float64) int {
	st.P = append(st.P, Particle{
		Type: DarkMatter, ID: id, Pos: pos, Vel: vel, Mass: mass, PI: -1,
	})
	return len(st.P) - 1
}

func (st *Store) AddStar(id int64, pos, vel [3]float64, mass, hsml float64) int {
	st.P = append(st.P, Particle{
		Type: Star, ID: id, Pos: pos, Vel: vel,
		Mass: mass, Hsml: hsml, PI: st.starSlots,
	})
	st.starSlots++
	return len(st.P) - 1
}

// SphOf returns the gas slot of particle i. Calling it on a non-gas
// particle is a programmer error.
func (st *Store) SphOf(i int) *Sph {
	p := &st.P[i]
	if p.Type != Gas {
		panic("SphOf called on non-gas particle")
	}
	return &st.Sph[p.PI]
}
