package radiopharm

import (
	"fmt"
	"math"
)

// Decay is the state of a source after a given elapsed time.
type Decay struct {
	Isotope          string  `json:"isotope"`
	InitialActivity  float64 `json:"initial_activity"`
	ElapsedHours     float64 `json:"elapsed_hours"`
	CurrentActivity  float64 `json:"current_activity"`
	DecayFactor      float64 `json:"decay_factor"`
	PercentRemaining float64 `json:"percent_remaining"`
	HalfLivesElapsed float64 `json:"half_lives_elapsed"`
}

// ComputeDecay applies exponential decay to initialActivity over elapsedHours.
// Activities are unit-agnostic: the result is in the unit of the input.
func ComputeDecay(symbol string, initialActivity, elapsedHours float64) (Decay, error) {
	iso, err := LookupIsotope(symbol)
	if err != nil {
		return Decay{}, err
	}
	if math.IsNaN(elapsedHours) || math.IsInf(elapsedHours, 0) || elapsedHours < 0 {
		return Decay{}, fmt.Errorf("%w: elapsed hours must be a finite value >= 0, got %v", ErrInvalidInput, elapsedHours)
	}
	if err := checkActivity(initialActivity); err != nil {
		return Decay{}, err
	}

	factor := decayFactor(iso, elapsedHours)
	return Decay{
		Isotope:          iso.Symbol,
		InitialActivity:  initialActivity,
		ElapsedHours:     elapsedHours,
		CurrentActivity:  round(initialActivity*factor, 3),
		DecayFactor:      round(factor, 3),
		PercentRemaining: round(factor*100, 2),
		HalfLivesElapsed: round(elapsedHours/iso.HalfLifeHours, 2),
	}, nil
}

// decayFactor is e^(-λt). For very large t the exponent underflows to 0,
// which is the physically correct limit.
func decayFactor(iso Isotope, elapsedHours float64) float64 {
	f := math.Exp(-iso.DecayConstant * elapsedHours)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return f
}

func checkActivity(activity float64) error {
	if math.IsNaN(activity) || math.IsInf(activity, 0) || activity <= 0 {
		return fmt.Errorf("%w: activity must be > 0, got %v", ErrInvalidActivity, activity)
	}
	return nil
}
