package wind

import (
	"fmt"
	"log"
	"math"
	"strings"
)

// Model is a bitset of wind model variants. Exactly one of ModelUseHalo and
// ModelFixedEfficiency picks the kick rule; ModelSubgrid bypasses the
// neighbor search entirely; ModelDecoupleSPH enables hydrodynamic
// decoupling of kicked particles.
type Model uint32

const (
	ModelSubgrid Model = 1 << iota
	ModelDecoupleSPH
	ModelUseHalo
	ModelFixedEfficiency
)

func (m Model) Has(f Model) bool { return m&f != 0 }

var modelNames = map[string]Model{
	"subgrid":         ModelSubgrid,
	"decouple":        ModelDecoupleSPH,
	"halo":            ModelUseHalo,
	"fixedefficiency": ModelFixedEfficiency,
}

// ParseModel parses a comma-separated variant selector such as
// "halo,decouple" or "fixedefficiency".
func ParseModel(s string) (Model, error) {
	m := Model(0)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		f, ok := modelNames[tok]
		if !ok {
			return 0, fmt.Errorf("unknown wind model selector '%s'", tok)
		}
		m |= f
	}
	return m, nil
}

func (m Model) String() string {
	names := []string{}
	for _, tok := range []string{"subgrid", "decouple", "halo", "fixedefficiency"} {
		if m.Has(modelNames[tok]) {
			names = append(names, tok)
		}
	}
	return strings.Join(names, ",")
}

// Config is the [wind] section of the parameter file.
type Config struct {
	Model             string
	Efficiency        float64
	EnergyFraction    float64
	Sigma0            float64
	SpeedFactor       float64
	FreeTravelLength  float64
	FreeTravelDensFac float64
}

// CheckInit validates the section and returns the parameter set. Derived
// quantities are filled in later by Params.Init, once the star-formation
// constants are known.
func (c *Config) CheckInit() (*Params, error) {
	m, err := ParseModel(c.Model)
	if err != nil {
		return nil, err
	}
	if m.Has(ModelUseHalo) && m.Has(ModelFixedEfficiency) {
		return nil, fmt.Errorf(
			"wind model '%s' selects both halo and fixedefficiency", c.Model,
		)
	}
	if !m.Has(ModelUseHalo) && !m.Has(ModelFixedEfficiency) && !m.Has(ModelSubgrid) {
		return nil, fmt.Errorf(
			"wind model '%s' selects no kick rule", c.Model,
		)
	}

	if c.Efficiency < 0 {
		return nil, fmt.Errorf("Efficiency must be non-negative, is %g", c.Efficiency)
	}
	if c.EnergyFraction < 0 || c.EnergyFraction > 1 {
		return nil, fmt.Errorf(
			"EnergyFraction must be in [0, 1], is %g", c.EnergyFraction,
		)
	}
	if m.Has(ModelUseHalo) && c.Sigma0 <= 0 {
		return nil, fmt.Errorf(
			"halo model needs a positive Sigma0, is %g", c.Sigma0,
		)
	}
	if c.FreeTravelLength < 0 {
		return nil, fmt.Errorf(
			"FreeTravelLength must be non-negative, is %g", c.FreeTravelLength,
		)
	}

	return &Params{
		Model:             m,
		Efficiency:        c.Efficiency,
		EnergyFraction:    c.EnergyFraction,
		Sigma0:            c.Sigma0,
		SpeedFactor:       c.SpeedFactor,
		FreeTravelLength:  c.FreeTravelLength,
		FreeTravelDensFac: c.FreeTravelDensFac,
	}, nil
}

// Params is the process-wide wind parameter set. It is immutable after
// Init; every rank must hold an identical copy.
type Params struct {
	Model             Model
	Efficiency        float64
	EnergyFraction    float64
	Sigma0            float64
	SpeedFactor       float64
	FreeTravelLength  float64
	FreeTravelDensFac float64

	// Derived once by Init.
	Speed                float64
	FreeTravelDensThresh float64
}

// Init computes the derived quantities from the star-formation constants:
// the supernova mass return fraction, the supernova specific energy, and
// the physical star-formation density threshold.
func (par *Params) Init(factorSN, egySpecSN, physDensThresh float64) {
	par.Speed = math.Sqrt(2 * par.EnergyFraction * factorSN * egySpecSN / (1 - factorSN))
	par.FreeTravelDensThresh = par.FreeTravelDensFac * physDensThresh

	if par.Model.Has(ModelFixedEfficiency) {
		par.Speed /= math.Sqrt(par.Efficiency)
		log.Printf("wind speed: %g", par.Speed)
	} else {
		log.Printf("reference wind speed: %g", par.Sigma0*par.SpeedFactor)
	}
}
