package radiopharm

import (
	"fmt"
	"math"
	"strings"
)

// ActivityUnit is a unit of radioactivity.
type ActivityUnit string

const (
	UnitKBq ActivityUnit = "kBq"
	UnitMBq ActivityUnit = "MBq"
	UnitGBq ActivityUnit = "GBq"
	UnitUCi ActivityUnit = "uCi"
	UnitMCi ActivityUnit = "mCi"
)

// megabecquerels per unit; 1 mCi = 37 MBq.
var unitToMBq = map[ActivityUnit]float64{
	UnitKBq: 1e-3,
	UnitMBq: 1,
	UnitGBq: 1e3,
	UnitUCi: 0.037,
	UnitMCi: 37,
}

// ParseActivityUnit accepts the usual spellings of an activity unit,
// case-insensitively ("mbq", "µCi", "MCI" is millicurie).
func ParseActivityUnit(s string) (ActivityUnit, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "µ", "u"))) {
	case "kbq":
		return UnitKBq, nil
	case "mbq", "":
		return UnitMBq, nil
	case "gbq":
		return UnitGBq, nil
	case "uci":
		return UnitUCi, nil
	case "mci":
		return UnitMCi, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

// ConvertActivity expresses value, given in from, in the unit to.
func ConvertActivity(value float64, from, to ActivityUnit) (float64, error) {
	f, ok := unitToMBq[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	t, ok := unitToMBq[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	return value * f / t, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return r
}
