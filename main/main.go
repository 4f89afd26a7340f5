package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/gosuri/uiprogress"
	"github.com/maseology/mmio"
	ncosmo "github.com/phil-mansfield/nbody-utils/cosmo"
	"github.com/phil-mansfield/table"
	"gopkg.in/gcfg.v1"

	"github.com/jibanCat/gowind/comm"
	"github.com/jibanCat/gowind/cosmo"
	"github.com/jibanCat/gowind/particle"
	"github.com/jibanCat/gowind/treewalk"
	"github.com/jibanCat/gowind/wind"
)

// Catalog columns: type, id, x, y, z, vx, vy, vz, mass, hsml.
var catalogCols = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

type SimulationConfig struct {
	// Required
	BoxWidth  float64
	GridCells int
	Catalog   string

	OmegaM, OmegaL, H100 float64

	// Optional
	TimeBegin        float64
	DlogaBase        float64
	SFOverdensity    float64
	FactorSN         float64
	EgySpecSN        float64
	StarMassFraction float64
}

func (sim *SimulationConfig) CheckInit() error {
	if sim.BoxWidth <= 0 {
		return fmt.Errorf("Need to specify a positive BoxWidth, is %g", sim.BoxWidth)
	}
	if sim.GridCells < 1 {
		return fmt.Errorf("Need at least one grid cell, have %d", sim.GridCells)
	}
	if sim.Catalog == "" {
		return fmt.Errorf("Need to specify a Catalog file.")
	}
	if sim.OmegaM <= 0 || sim.H100 <= 0 {
		return fmt.Errorf(
			"Need positive OmegaM and H100, have %g and %g", sim.OmegaM, sim.H100,
		)
	}

	if sim.TimeBegin == 0 {
		sim.TimeBegin = 1
	}
	if sim.DlogaBase == 0 {
		sim.DlogaBase = 0.005
	}
	if sim.SFOverdensity == 0 {
		sim.SFOverdensity = 1000
	}
	if sim.FactorSN == 0 {
		sim.FactorSN = 0.1
	}
	if sim.EgySpecSN == 0 {
		sim.EgySpecSN = 1e4
	}
	if sim.StarMassFraction == 0 {
		sim.StarMassFraction = 0.25
	}
	return nil
}

type ConfigWrapper struct {
	Simulation SimulationConfig
	Wind       wind.Config
}

func main() {
	var (
		config, diag   string
		steps, workers int
	)
	flag.StringVar(&config, "Config", "", "Parameter file.")
	flag.StringVar(&diag, "Diag", "", "Wind diagnostic dump file.")
	flag.IntVar(&steps, "Steps", 4, "Number of timesteps to run.")
	flag.IntVar(&workers, "Workers", 0, "Worker goroutines (0 = GOMAXPROCS).")
	flag.Parse()

	if config == "" {
		log.Fatal("Must supply a -Config file.")
	}

	wrap := &ConfigWrapper{}
	err := gcfg.ReadFileInto(wrap, config)
	if err != nil {
		log.Fatal(err.Error())
	}
	sim := &wrap.Simulation
	if err := sim.CheckInit(); err != nil {
		log.Fatal(err.Error())
	}
	par, err := wrap.Wind.CheckInit()
	if err != nil {
		log.Fatal(err.Error())
	}

	hd := &cosmo.Header{OmegaM: sim.OmegaM, OmegaL: sim.OmegaL, H100: sim.H100}
	physDensThresh := sim.SFOverdensity *
		ncosmo.RhoAverage(sim.H100*100, sim.OmegaM, sim.OmegaL, 0)
	par.Init(sim.FactorSN, sim.EgySpecSN, physDensThresh)

	tt := mmio.NewTimer()
	st, err := readCatalog(sim.Catalog)
	if err != nil {
		log.Fatal(err.Error())
	}
	tt.Lap(fmt.Sprintf("catalog read: %s particles", mmio.Thousands(int64(st.Len()))))

	grid := treewalk.NewGrid(sim.BoxWidth, sim.GridCells)
	grid.Build(st)
	estimateDensities(st, grid)
	tt.Lap("initial density estimate")

	winds := wind.New(par, st, workers)
	tb := &cosmo.TimeBins{DlogaBase: sim.DlogaBase}
	c := comm.Self{}

	uiprogress.Start()
	bar := uiprogress.AddBar(steps).AppendCompleted().PrependElapsed()

	a := sim.TimeBegin
	nextID := maxID(st) + 1
	for step := 0; step < steps; step++ {
		cf := cosmo.NewFactors(hd, a)

		for i := 0; i < st.Len(); i++ {
			if st.P[i].Type == particle.Gas {
				winds.Evolve(i, cf, tb)
			}
		}

		newStars := formStars(st, winds, par, cf, physDensThresh, sim, &nextID)

		grid.Build(st)
		winds.ApplyFeedback(newStars, grid, cf, tb, c)

		a *= math.Exp(tb.Dloga(0))
		bar.Incr()
	}
	uiprogress.Stop()
	tt.Lap("timestep loop")

	census(st, winds)
	if diag != "" {
		if err := writeDiag(diag, st); err != nil {
			log.Fatal(err.Error())
		}
	}
	tt.Print("run complete")
}

func readCatalog(file string) (*particle.Store, error) {
	cols, err := table.ReadTable(file, catalogCols, nil)
	if err != nil {
		return nil, err
	}

	st := &particle.Store{}
	for i := range cols[0] {
		id := int64(cols[1][i])
		pos := [3]float64{cols[2][i], cols[3][i], cols[4][i]}
		vel := [3]float64{cols[5][i], cols[6][i], cols[7][i]}
		mass, hsml := cols[8][i], cols[9][i]

		switch particle.Type(cols[0][i]) {
		case particle.Gas:
			st.AddGas(id, pos, vel, mass, hsml)
		case particle.DarkMatter:
			st.AddDM(id, pos, vel, mass)
		case particle.Star:
			st.AddStar(id, pos, vel, mass, hsml)
		default:
			return nil, fmt.Errorf(
				"catalog row %d has unknown particle type %g", i, cols[0][i],
			)
		}
	}
	return st, nil
}

// estimateDensities gives every gas particle a crude kernel-free density:
// the mass inside its smoothing sphere over that sphere's volume.
func estimateDensities(st *particle.Store, grid *treewalk.Grid) {
	gasMask := particle.MaskOf(particle.Gas)
	for i := 0; i < st.Len(); i++ {
		p := &st.P[i]
		if p.Type != particle.Gas {
			continue
		}

		sum := 0.0
		grid.Search(p.Pos, p.Hsml, gasMask,
			func(j int, r float64, dist *[3]float64) {
				sum += st.P[j].Mass
			})
		vol := 4 * math.Pi / 3 * p.Hsml * p.Hsml * p.Hsml
		st.SphOf(i).Density = sum / vol
	}
}

// formStars spawns a star from every dense, coupled gas particle. Under the
// subgrid model the gas particle is kicked directly instead.
func formStars(
	st *particle.Store, winds *wind.Winds, par *wind.Params,
	cf *cosmo.Factors, physDensThresh float64,
	sim *SimulationConfig, nextID *int64,
) []int {
	newStars := []int{}
	n := st.Len()
	for i := 0; i < n; i++ {
		p := &st.P[i]
		if p.Type != particle.Gas {
			continue
		}
		sph := st.SphOf(i)
		if sph.Density*cf.A3Inv() < physDensThresh || sph.DelayTime > 0 {
			continue
		}

		sm := sim.StarMassFraction * p.Mass
		p.Mass -= sm
		if par.Model.Has(wind.ModelSubgrid) {
			winds.MakeAfterStarFormation(i, sm, cf.A, cf)
			continue
		}
		s := st.AddStar(*nextID, p.Pos, p.Vel, sm, p.Hsml)
		*nextID++
		newStars = append(newStars, s)
	}
	return newStars
}

func maxID(st *particle.Store) int64 {
	max := int64(0)
	for i := range st.P {
		if st.P[i].ID > max {
			max = st.P[i].ID
		}
	}
	return max
}

func census(st *particle.Store, winds *wind.Winds) {
	gas, stars, decoupled := 0, 0, 0
	for i := 0; i < st.Len(); i++ {
		switch st.P[i].Type {
		case particle.Gas:
			gas++
			if winds.IsDecoupled(i) {
				decoupled++
			}
		case particle.Star:
			stars++
		}
	}
	log.Printf(
		"census: %d gas (%d wind-decoupled), %d stars", gas, decoupled, stars,
	)
}

// writeDiag dumps (delayTime, density) rows for every wind particle, the
// input of scripts/windplot.
func writeDiag(file string, st *particle.Store) error {
	tw, err := mmio.NewTXTwriter(file)
	if err != nil {
		return err
	}
	defer tw.Close()

	for i := 0; i < st.Len(); i++ {
		if st.P[i].Type != particle.Gas {
			continue
		}
		sph := st.SphOf(i)
		if sph.DelayTime <= 0 {
			continue
		}
		tw.WriteLine(fmt.Sprintf("%g %g", sph.DelayTime, sph.Density))
	}
	return nil
}
