package tracer

import (
	"time"

	"github.com/google/uuid"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

// Lot statuses. Only active lots are monitored and may be prepared from.
const (
	StatusActive   = "active"
	StatusDisposed = "disposed"
)

// Lot maps to the tracer_lot table. Activities are in ActivityUnit.
type Lot struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	LotNumber             string     `db:"lot_number" json:"lot_number"`
	Isotope               string     `db:"isotope" json:"isotope"`
	Radiopharmaceutical   *string    `db:"radiopharmaceutical" json:"radiopharmaceutical,omitempty"`
	Supplier              *string    `db:"supplier" json:"supplier,omitempty"`
	InitialActivity       float64    `db:"initial_activity" json:"initial_activity"`
	ActivityUnit          string     `db:"activity_unit" json:"activity_unit"`
	MinimumUsableActivity float64    `db:"minimum_usable_activity" json:"minimum_usable_activity"`
	ReferenceTime         time.Time  `db:"reference_time" json:"reference_time"`
	StatedExpiry          *time.Time `db:"stated_expiry" json:"stated_expiry,omitempty"`
	Status                string     `db:"status" json:"status"`
	DisposedAt            *time.Time `db:"disposed_at" json:"disposed_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// Snapshot converts the lot and its QC history into engine input.
func (l *Lot) Snapshot(records []radiopharm.QualityControlRecord) radiopharm.LotSnapshot {
	s := radiopharm.LotSnapshot{
		ID:                    l.ID.String(),
		Isotope:               l.Isotope,
		InitialActivity:       l.InitialActivity,
		ReferenceTime:         l.ReferenceTime,
		MinimumUsableActivity: l.MinimumUsableActivity,
		QualityControlRecords: records,
	}
	if l.StatedExpiry != nil {
		s.StatedExpiry = *l.StatedExpiry
	}
	return s
}

// Preparation maps to the preparation_log table. Activity is in the lot's
// unit, measured at PreparedAt.
type Preparation struct {
	ID         uuid.UUID `db:"id" json:"id"`
	LotID      uuid.UUID `db:"lot_id" json:"lot_id"`
	Activity   float64   `db:"activity" json:"activity"`
	PreparedAt time.Time `db:"prepared_at" json:"prepared_at"`
	PreparedBy string    `db:"prepared_by" json:"prepared_by"`
	PatientRef *string   `db:"patient_ref" json:"patient_ref,omitempty"`
	ExamType   *string   `db:"exam_type" json:"exam_type,omitempty"`
	Note       *string   `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// QCInput is a measurement submitted for a lot.
type QCInput struct {
	TestType string   `json:"test_type"`
	Result   *float64 `json:"result"`
	Unit     string   `json:"unit"`
	Notes    []string `json:"notes"`
}

// LotStatus is the derived state of a lot at EvaluatedAt.
type LotStatus struct {
	Lot               *Lot                       `json:"lot"`
	EvaluatedAt       time.Time                  `json:"evaluated_at"`
	Decay             radiopharm.Decay           `json:"decay"`
	Usability         radiopharm.UsabilityWindow `json:"usability"`
	DispensedActivity float64                    `json:"dispensed_activity"`
	AvailableActivity float64                    `json:"available_activity"`
	QCRecorded        bool                       `json:"qc_recorded"`
	FailedTests       []radiopharm.TestType      `json:"failed_tests"`
	Releasable        bool                       `json:"releasable"`
}
