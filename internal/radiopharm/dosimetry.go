package radiopharm

import (
	"fmt"
	"math"
	"strings"
)

// ExamType identifies a nuclear-medicine procedure.
type ExamType string

const (
	ExamBoneScan            ExamType = "bone_scan"
	ExamThyroidScan         ExamType = "thyroid_scan"
	ExamMyocardialPerfusion ExamType = "myocardial_perfusion"
	ExamFDGPET              ExamType = "fdg_pet"
	ExamRenalScan           ExamType = "renal_scan"
	ExamLungPerfusion       ExamType = "lung_perfusion"
	ExamHepatobiliary       ExamType = "hepatobiliary"
	ExamSomatostatinImaging ExamType = "somatostatin_receptor"
	ExamPSMAPET             ExamType = "psma_pet"
	ExamGalliumScan         ExamType = "gallium_scan"
	ExamMIBGScan            ExamType = "mibg_scan"
)

var examAliases = map[string]ExamType{
	"bone":              ExamBoneScan,
	"bone_scintigraphy": ExamBoneScan,
	"thyroid":           ExamThyroidScan,
	"mpi":               ExamMyocardialPerfusion,
	"cardiac_perfusion": ExamMyocardialPerfusion,
	"fdg":               ExamFDGPET,
	"pet_ct":            ExamFDGPET,
	"fdg_pet_ct":        ExamFDGPET,
	"renal":             ExamRenalScan,
	"mag3":              ExamRenalScan,
	"lung":              ExamLungPerfusion,
	"hida":              ExamHepatobiliary,
	"dotatate":          ExamSomatostatinImaging,
	"octreoscan":        ExamSomatostatinImaging,
	"psma":              ExamPSMAPET,
	"mibg":              ExamMIBGScan,
}

// ParseExamType normalizes a free-text exam name. Names outside the known
// set are returned as-is (normalized) and fall back to the default factor.
func ParseExamType(s string) ExamType {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(key)
	if e, ok := examAliases[key]; ok {
		return e
	}
	return ExamType(key)
}

// Organ names a target organ in an organ-dose map.
type Organ string

const (
	OrganWholeBody    Organ = "whole_body"
	OrganBoneSurfaces Organ = "bone_surfaces"
	OrganRedMarrow    Organ = "red_marrow"
	OrganBladder      Organ = "bladder"
	OrganKidneys      Organ = "kidneys"
	OrganThyroid      Organ = "thyroid"
	OrganStomach      Organ = "stomach"
	OrganHeart        Organ = "heart"
	OrganGallbladder  Organ = "gallbladder"
	OrganIntestines   Organ = "intestines"
	OrganBrain        Organ = "brain"
	OrganLiver        Organ = "liver"
	OrganLungs        Organ = "lungs"
)

type doseKey struct {
	exam    ExamType
	isotope string
}

// DefaultDoseFactor (mSv/MBq) applies to exam/isotope pairs missing from
// doseFactors. Its use is always reported as a warning.
const DefaultDoseFactor = 0.01

// Effective dose coefficients for adults, mSv/MBq.
var doseFactors = map[doseKey]float64{
	{ExamBoneScan, "Tc-99m"}:            0.0057,
	{ExamThyroidScan, "Tc-99m"}:         0.013,
	{ExamThyroidScan, "I-123"}:          0.22,
	{ExamMyocardialPerfusion, "Tc-99m"}: 0.0079,
	{ExamMyocardialPerfusion, "Tl-201"}: 0.14,
	{ExamFDGPET, "F-18"}:                0.019,
	{ExamRenalScan, "Tc-99m"}:           0.0070,
	{ExamLungPerfusion, "Tc-99m"}:       0.011,
	{ExamHepatobiliary, "Tc-99m"}:       0.017,
	{ExamSomatostatinImaging, "Ga-68"}:  0.021,
	{ExamSomatostatinImaging, "In-111"}: 0.054,
	{ExamPSMAPET, "Ga-68"}:              0.017,
	{ExamPSMAPET, "F-18"}:               0.012,
	{ExamGalliumScan, "Ga-67"}:          0.10,
	{ExamMIBGScan, "I-123"}:             0.013,
}

// Share of the effective dose attributed to each organ, per exam.
var organFractions = map[ExamType]map[Organ]float64{
	ExamBoneScan: {
		OrganBoneSurfaces: 0.4, OrganBladder: 0.3, OrganRedMarrow: 0.2, OrganKidneys: 0.1,
	},
	ExamThyroidScan: {
		OrganThyroid: 0.6, OrganStomach: 0.2, OrganBladder: 0.2,
	},
	ExamMyocardialPerfusion: {
		OrganHeart: 0.3, OrganGallbladder: 0.3, OrganKidneys: 0.2, OrganIntestines: 0.2,
	},
	ExamFDGPET: {
		OrganBladder: 0.3, OrganBrain: 0.25, OrganHeart: 0.25, OrganLiver: 0.2,
	},
	ExamRenalScan: {
		OrganKidneys: 0.5, OrganBladder: 0.5,
	},
	ExamLungPerfusion: {
		OrganLungs: 0.8, OrganLiver: 0.2,
	},
}

// Dose limits per patient category, mSv.
const (
	PregnantDoseLimit  = 1.0
	PediatricDoseLimit = 10.0
	AdultDoseLimit     = 20.0

	referenceWeightKg   = 70.0
	minPediatricFactor  = 0.3
	pediatricAgeCeiling = 18.0
)

// PatientCategory selects the applicable dose limit.
type PatientCategory string

const (
	CategoryPregnant  PatientCategory = "pregnant"
	CategoryPediatric PatientCategory = "pediatric"
	CategoryAdult     PatientCategory = "adult"
)

// WarningCode identifies a dosimetry warning.
type WarningCode string

const (
	WarnDefaultDoseFactor WarningCode = "default_dose_factor_used"
	WarnPediatricDose     WarningCode = "pediatric_dose_applied"
	WarnOverLimit         WarningCode = "dose_limit_exceeded"
	WarnPregnancyReview   WarningCode = "pregnancy_special_review"
)

// Warning is an advisory attached to a dosimetry result.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// DosimetryResult is the estimated patient dose for one administration.
type DosimetryResult struct {
	Isotope        string            `json:"isotope"`
	ActivityMBq    float64           `json:"activity_mbq"`
	ExamType       ExamType          `json:"exam_type"`
	WeightKg       float64           `json:"weight_kg"`
	AgeYears       float64           `json:"age_years"`
	IsPregnant     bool              `json:"is_pregnant"`
	DoseFactor     float64           `json:"dose_factor"`
	WeightFactor   float64           `json:"weight_factor"`
	EffectiveDose  float64           `json:"effective_dose_msv"`
	OrganDoses     map[Organ]float64 `json:"organ_doses_msv"`
	Category       PatientCategory   `json:"category"`
	DoseLimit      float64           `json:"dose_limit_msv"`
	IsWithinLimits bool              `json:"is_within_limits"`
	Warnings       []Warning         `json:"warnings"`
}

// ComputeDosimetry estimates the effective and organ doses of administering
// activityMBq of the isotope for examType to the described patient.
func ComputeDosimetry(symbol string, activityMBq float64, examType ExamType, weightKg, ageYears float64, isPregnant bool) (DosimetryResult, error) {
	iso, err := LookupIsotope(symbol)
	if err != nil {
		return DosimetryResult{}, err
	}
	if !positive(activityMBq) || !positive(weightKg) || math.IsNaN(ageYears) || math.IsInf(ageYears, 0) || ageYears < 0 {
		return DosimetryResult{}, fmt.Errorf("%w: activity=%v weight=%v age=%v",
			ErrInvalidPatientParameters, activityMBq, weightKg, ageYears)
	}

	res := DosimetryResult{
		Isotope:     iso.Symbol,
		ActivityMBq: activityMBq,
		ExamType:    examType,
		WeightKg:    weightKg,
		AgeYears:    ageYears,
		IsPregnant:  isPregnant,
		Warnings:    []Warning{},
	}

	factor, ok := doseFactors[doseKey{examType, iso.Symbol}]
	if !ok {
		factor = DefaultDoseFactor
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnDefaultDoseFactor,
			Message: fmt.Sprintf("no dose coefficient for %s with %s; default %.3f mSv/MBq applied", examType, iso.Symbol, DefaultDoseFactor),
		})
	}
	res.DoseFactor = factor

	pediatric := ageYears < pediatricAgeCeiling
	res.WeightFactor = 1.0
	if pediatric {
		res.WeightFactor = math.Max(minPediatricFactor, weightKg/referenceWeightKg)
	}

	effective := activityMBq * factor * res.WeightFactor
	res.EffectiveDose = round(effective, 3)

	fractions, ok := organFractions[examType]
	if !ok {
		fractions = map[Organ]float64{OrganWholeBody: 1.0}
	}
	res.OrganDoses = make(map[Organ]float64, len(fractions))
	for organ, frac := range fractions {
		res.OrganDoses[organ] = round(effective*frac, 3)
	}

	switch {
	case isPregnant:
		res.Category, res.DoseLimit = CategoryPregnant, PregnantDoseLimit
	case pediatric:
		res.Category, res.DoseLimit = CategoryPediatric, PediatricDoseLimit
	default:
		res.Category, res.DoseLimit = CategoryAdult, AdultDoseLimit
	}
	res.IsWithinLimits = effective <= res.DoseLimit

	if pediatric {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnPediatricDose,
			Message: fmt.Sprintf("pediatric weight correction applied (factor %.2f)", res.WeightFactor),
		})
	}
	if !res.IsWithinLimits {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnOverLimit,
			Message: fmt.Sprintf("effective dose %.3f mSv exceeds the %s limit of %.1f mSv", effective, res.Category, res.DoseLimit),
		})
	}
	if isPregnant {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnPregnancyReview,
			Message: "pregnant patient: special review by the radiation protection officer required",
		})
	}
	return res, nil
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
