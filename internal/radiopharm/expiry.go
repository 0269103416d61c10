package radiopharm

import (
	"fmt"
	"math"
	"time"
)

// ExpiryReason tells which condition made a lot unusable.
type ExpiryReason string

const (
	ExpiryReasonNone       ExpiryReason = ""
	ExpiryReasonDecay      ExpiryReason = "decay"
	ExpiryReasonRegulatory ExpiryReason = "regulatory"
)

// UsabilityWindow describes how long a lot stays clinically usable.
type UsabilityWindow struct {
	Isotope          string       `json:"isotope"`
	CurrentActivity  float64      `json:"current_activity"`
	ExpiryTime       time.Time    `json:"expiry_time"`
	HoursRemaining   float64      `json:"hours_remaining"`
	IsExpired        bool         `json:"is_expired"`
	ExpiryReason     ExpiryReason `json:"expiry_reason,omitempty"`
	UsabilityPercent float64      `json:"usability_percent"`
}

// ComputeUsabilityWindow derives the usability window of a lot calibrated at
// referenceTime and evaluated at now. statedExpiry is the regulatory expiry
// date printed on the lot; the zero time means none was stated.
//
// HoursRemaining follows the physical decay only. IsExpired is set when
// either the activity has fallen to minimumUsableActivity or now is past the
// stated date, and ExpiryTime is the earlier of the two.
func ComputeUsabilityWindow(symbol string, initialActivity, minimumUsableActivity float64, referenceTime, now, statedExpiry time.Time) (UsabilityWindow, error) {
	iso, err := LookupIsotope(symbol)
	if err != nil {
		return UsabilityWindow{}, err
	}
	if err := checkActivity(initialActivity); err != nil {
		return UsabilityWindow{}, err
	}
	if math.IsNaN(minimumUsableActivity) || math.IsInf(minimumUsableActivity, 0) || minimumUsableActivity <= 0 {
		return UsabilityWindow{}, fmt.Errorf("%w: minimum usable activity must be > 0, got %v",
			ErrInvalidThreshold, minimumUsableActivity)
	}

	// A lot evaluated before its calibration time is treated as being at its
	// calibration activity.
	elapsed := now.Sub(referenceTime).Hours()
	if elapsed < 0 {
		elapsed = 0
	}

	timeToMinimum := math.Log(initialActivity/minimumUsableActivity) / iso.DecayConstant
	remaining := math.Max(0, timeToMinimum-elapsed)
	current := initialActivity * decayFactor(iso, elapsed)

	w := UsabilityWindow{
		Isotope:          iso.Symbol,
		CurrentActivity:  round(current, 3),
		ExpiryTime:       referenceTime.Add(hoursToDuration(timeToMinimum)),
		HoursRemaining:   remaining,
		UsabilityPercent: round(math.Min(100, current/minimumUsableActivity*100), 2),
	}

	if remaining <= 0 {
		w.IsExpired = true
		w.ExpiryReason = ExpiryReasonDecay
	}
	if !statedExpiry.IsZero() {
		if statedExpiry.Before(w.ExpiryTime) {
			w.ExpiryTime = statedExpiry
		}
		if now.After(statedExpiry) && !w.IsExpired {
			w.IsExpired = true
			w.ExpiryReason = ExpiryReasonRegulatory
		}
	}
	return w, nil
}

// hoursToDuration converts fractional hours, clamping to the representable
// range of time.Duration.
func hoursToDuration(h float64) time.Duration {
	const maxHours = float64(math.MaxInt64) / float64(time.Hour)
	switch {
	case h >= maxHours:
		return time.Duration(math.MaxInt64)
	case h <= -maxHours:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(h * float64(time.Hour))
}
