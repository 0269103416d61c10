// Package radiopharm is the radiation-safety calculation engine of the
// radiopharmacy: isotope reference data, physical decay, usability windows,
// patient dosimetry, quality-control judgement and lot alerts.
//
// Every exported operation is a pure function over its arguments. Nothing in
// this package performs I/O, keeps mutable state or reads the wall clock
// except QCEvaluator, whose clock is injectable.
package radiopharm

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// decayConstantTolerance is the relative tolerance allowed between a catalog
// decay constant and ln(2)/half-life.
const decayConstantTolerance = 1e-4

// Isotope is the immutable reference record for a radionuclide.
type Isotope struct {
	Symbol         string  `yaml:"symbol" json:"symbol"`
	Name           string  `yaml:"name" json:"name"`
	HalfLifeHours  float64 `yaml:"half_life_hours" json:"half_life_hours"`
	DecayConstant  float64 `yaml:"decay_constant" json:"decay_constant"`
	EnergyKeV      float64 `yaml:"energy_kev" json:"energy_kev"`
	DoseRateFactor float64 `yaml:"dose_rate_factor" json:"dose_rate_factor"`
}

type catalogEntry struct {
	Isotope `yaml:",inline"`
	Aliases []string `yaml:"aliases"`
}

type catalogDoc struct {
	Isotopes []catalogEntry `yaml:"isotopes"`
}

// catalog holds canonical records keyed by normalized symbol plus an
// alias index pointing at those keys, so aliases never carry data of their own.
type catalog struct {
	byKey   map[string]Isotope
	aliases map[string]string
}

//go:embed isotopes.yaml
var isotopeData []byte

var (
	catalogOnce sync.Once
	loaded      *catalog
)

func defaultCatalog() *catalog {
	catalogOnce.Do(func() {
		c, err := parseCatalog(isotopeData)
		if err != nil {
			panic(fmt.Sprintf("radiopharm: embedded isotope catalog: %v", err))
		}
		loaded = c
	})
	return loaded
}

func parseCatalog(data []byte) (*catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	c := &catalog{
		byKey:   make(map[string]Isotope, len(doc.Isotopes)),
		aliases: make(map[string]string),
	}
	for _, e := range doc.Isotopes {
		if e.Symbol == "" {
			return nil, fmt.Errorf("isotope without symbol")
		}
		if e.HalfLifeHours <= 0 {
			return nil, fmt.Errorf("%s: half-life must be positive", e.Symbol)
		}
		want := math.Ln2 / e.HalfLifeHours
		if math.Abs(e.DecayConstant-want)/want > decayConstantTolerance {
			return nil, fmt.Errorf("%s: decay constant %g does not match half-life (expected %g)",
				e.Symbol, e.DecayConstant, want)
		}

		key := normalizeSymbol(e.Symbol)
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("%s: duplicate isotope", e.Symbol)
		}
		c.byKey[key] = e.Isotope

		for _, alias := range e.Aliases {
			ak := normalizeSymbol(alias)
			if prev, ok := c.aliases[ak]; ok && prev != key {
				return nil, fmt.Errorf("alias %q claimed by %s and %s", alias, prev, key)
			}
			c.aliases[ak] = key
		}
	}

	for ak, key := range c.aliases {
		if _, clash := c.byKey[ak]; clash && ak != key {
			return nil, fmt.Errorf("alias %q shadows isotope %s", ak, c.byKey[ak].Symbol)
		}
	}
	return c, nil
}

func (c *catalog) lookup(symbol string) (Isotope, error) {
	key := normalizeSymbol(symbol)
	if canonical, ok := c.aliases[key]; ok {
		key = canonical
	}
	iso, ok := c.byKey[key]
	if !ok {
		return Isotope{}, fmt.Errorf("%w: %q", ErrUnknownIsotope, symbol)
	}
	return iso, nil
}

// normalizeSymbol folds case and drops separators: "tc-99m", "TC 99M" and
// "Tc99m" share one key.
func normalizeSymbol(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '-', ' ', '_':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// LookupIsotope resolves a symbol or alias to its canonical isotope record.
func LookupIsotope(symbol string) (Isotope, error) {
	return defaultCatalog().lookup(symbol)
}

// Isotopes returns every catalog record ordered by symbol.
func Isotopes() []Isotope {
	c := defaultCatalog()
	out := make([]Isotope, 0, len(c.byKey))
	for _, iso := range c.byKey {
		out = append(out, iso)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
