package radiopharm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestType is a quality-control test performed on a lot before release.
type TestType string

const (
	TestRadiochemicalPurity TestType = "radiochemical_purity"
	TestRadionuclidicPurity TestType = "radionuclidic_purity"
	TestPH                  TestType = "ph"
	TestSterility           TestType = "sterility"
)

// Auto notes written on every evaluated record.
const (
	NoteConforming    = "Conforme"
	NoteNonConforming = "Non conforme"
)

// AcceptanceCriteria bounds a measured result. Nil bounds are open.
type AcceptanceCriteria struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Target *float64 `json:"target,omitempty"`
	Unit   string   `json:"unit"`
}

// Accepts reports whether result lies within every defined bound, inclusive.
func (c AcceptanceCriteria) Accepts(result float64) bool {
	if math.IsNaN(result) {
		return false
	}
	if c.Min != nil && result < *c.Min {
		return false
	}
	if c.Max != nil && result > *c.Max {
		return false
	}
	return true
}

func bound(v float64) *float64 { return &v }

var acceptanceCriteria = map[TestType]AcceptanceCriteria{
	TestRadiochemicalPurity: {Min: bound(95), Unit: "%"},
	TestRadionuclidicPurity: {Min: bound(99), Unit: "%"},
	TestPH:                  {Min: bound(4.5), Max: bound(7.5), Target: bound(6.0), Unit: "pH"},
	TestSterility:           {Min: bound(0), Max: bound(0), Unit: "CFU/ml"},
}

// ParseTestType accepts test names case-insensitively with spaces or hyphens.
func ParseTestType(s string) (TestType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	t := TestType(key)
	if _, ok := acceptanceCriteria[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTest, s)
	}
	return t, nil
}

// CriteriaFor returns a copy of the acceptance criteria of a test type.
func CriteriaFor(t TestType) (AcceptanceCriteria, error) {
	c, ok := acceptanceCriteria[t]
	if !ok {
		return AcceptanceCriteria{}, fmt.Errorf("%w: %q", ErrUnsupportedTest, t)
	}
	return AcceptanceCriteria{
		Min:    copyBound(c.Min),
		Max:    copyBound(c.Max),
		Target: copyBound(c.Target),
		Unit:   c.Unit,
	}, nil
}

func copyBound(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return bound(*p)
}

// QualityControlRecord is the immutable outcome of one QC test. Notes always
// start with the auto note; caller notes follow it.
type QualityControlRecord struct {
	ID          uuid.UUID          `json:"id"`
	LotID       string             `json:"lot_id,omitempty"`
	TestType    TestType           `json:"test_type"`
	Result      float64            `json:"result"`
	Unit        string             `json:"unit"`
	Criteria    AcceptanceCriteria `json:"criteria"`
	Passed      bool               `json:"passed"`
	PerformedBy string             `json:"performed_by"`
	PerformedAt time.Time          `json:"performed_at"`
	Notes       []string           `json:"notes"`
}

// QCEvaluator judges QC measurements and stamps them with its clock.
type QCEvaluator struct {
	now func() time.Time
}

// NewQCEvaluator returns an evaluator stamping records with now. A nil now
// uses the UTC wall clock.
func NewQCEvaluator(now func() time.Time) *QCEvaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &QCEvaluator{now: now}
}

// Evaluate judges result against the fixed criteria of testType.
func (e *QCEvaluator) Evaluate(testType string, result float64, unit, performedBy string, notes ...string) (QualityControlRecord, error) {
	t, err := ParseTestType(testType)
	if err != nil {
		return QualityControlRecord{}, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return QualityControlRecord{}, fmt.Errorf("%w: result must be a finite number", ErrInvalidInput)
	}
	criteria, _ := CriteriaFor(t)
	if unit == "" {
		unit = criteria.Unit
	}

	passed := criteria.Accepts(result)
	auto := NoteNonConforming
	if passed {
		auto = NoteConforming
	}
	all := make([]string, 0, len(notes)+1)
	all = append(all, auto)
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			all = append(all, n)
		}
	}

	return QualityControlRecord{
		ID:          uuid.New(),
		TestType:    t,
		Result:      result,
		Unit:        unit,
		Criteria:    criteria,
		Passed:      passed,
		PerformedBy: performedBy,
		PerformedAt: e.now(),
		Notes:       all,
	}, nil
}

var defaultQCEvaluator = NewQCEvaluator(nil)

// EvaluateQualityControl judges a QC measurement using the wall clock.
func EvaluateQualityControl(testType string, result float64, unit, performedBy string, notes ...string) (QualityControlRecord, error) {
	return defaultQCEvaluator.Evaluate(testType, result, unit, performedBy, notes...)
}
