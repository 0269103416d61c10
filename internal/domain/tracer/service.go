package tracer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

// Workflow refusals and lookup failures.
var (
	ErrLotNotFound          = errors.New("lot not found")
	ErrDuplicateLot         = errors.New("lot number already exists")
	ErrLotDisposed          = errors.New("lot has been disposed")
	ErrLotExpired           = errors.New("lot is expired")
	ErrQCNotPassed          = errors.New("lot has not passed quality control")
	ErrInsufficientActivity = errors.New("insufficient activity available")
)

// ValidationError reports a malformed request.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// TxFunc runs fn in a transaction carried by the context passed to fn.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	lots  LotRepository
	qc    QCRepository
	preps PreparationRepository

	runTx     TxFunc
	evaluator *radiopharm.QCEvaluator
	now       func() time.Time
}

func NewService(lots LotRepository, qc QCRepository, preps PreparationRepository) *Service {
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		lots:      lots,
		qc:        qc,
		preps:     preps,
		evaluator: radiopharm.NewQCEvaluator(now),
		now:       now,
	}
}

// SetTxRunner makes preparations transactional. Without one they run on the
// caller's context directly.
func (s *Service) SetTxRunner(fn TxFunc) {
	s.runTx = fn
}

// SetClock replaces the wall clock, for tests and offline audits.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.evaluator = radiopharm.NewQCEvaluator(now)
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.runTx == nil {
		return fn(ctx)
	}
	return s.runTx(ctx, fn)
}

// -- Lots --

func (s *Service) CreateLot(ctx context.Context, l *Lot) error {
	l.LotNumber = strings.TrimSpace(l.LotNumber)
	if l.LotNumber == "" {
		return invalid("lot_number is required")
	}
	if l.Isotope == "" {
		return invalid("isotope is required")
	}
	iso, err := radiopharm.LookupIsotope(l.Isotope)
	if err != nil {
		return invalid("%v", err)
	}
	l.Isotope = iso.Symbol

	unit, err := radiopharm.ParseActivityUnit(l.ActivityUnit)
	if err != nil {
		return invalid("%v", err)
	}
	l.ActivityUnit = string(unit)

	if !positive(l.InitialActivity) {
		return invalid("initial_activity must be > 0")
	}
	if !positive(l.MinimumUsableActivity) {
		return invalid("minimum_usable_activity must be > 0")
	}
	if l.MinimumUsableActivity > l.InitialActivity {
		return invalid("minimum_usable_activity must not exceed initial_activity")
	}
	if l.ReferenceTime.IsZero() {
		return invalid("reference_time is required")
	}
	l.ReferenceTime = l.ReferenceTime.UTC()
	if l.StatedExpiry != nil {
		if !l.StatedExpiry.After(l.ReferenceTime) {
			return invalid("stated_expiry must be after reference_time")
		}
		exp := l.StatedExpiry.UTC()
		l.StatedExpiry = &exp
	}
	l.Status = StatusActive
	l.DisposedAt = nil

	return s.lots.Create(ctx, l)
}

func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return s.lots.GetByID(ctx, id)
}

func (s *Service) ListLots(ctx context.Context, status string, limit, offset int) ([]*Lot, int, error) {
	switch status {
	case "", StatusActive, StatusDisposed:
	default:
		return nil, 0, invalid("invalid status: %s", status)
	}
	return s.lots.List(ctx, status, limit, offset)
}

// DisposeLot retires a lot. Its records are kept.
func (s *Service) DisposeLot(ctx context.Context, id uuid.UUID) error {
	return s.lots.MarkDisposed(ctx, id)
}

// LotStatus derives the decay, usability, remaining activity and QC state of
// a lot at the current time.
func (s *Service) LotStatus(ctx context.Context, id uuid.UUID) (*LotStatus, error) {
	lot, err := s.lots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.qc.ListByLot(ctx, id)
	if err != nil {
		return nil, err
	}
	preps, err := s.preps.ListByLot(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.status(lot, records, preps, s.now())
}

func (s *Service) status(lot *Lot, records []radiopharm.QualityControlRecord, preps []*Preparation, now time.Time) (*LotStatus, error) {
	snap := lot.Snapshot(records)
	elapsed := math.Max(0, now.Sub(lot.ReferenceTime).Hours())

	decay, err := radiopharm.ComputeDecay(lot.Isotope, lot.InitialActivity, elapsed)
	if err != nil {
		return nil, err
	}
	window, err := radiopharm.ComputeUsabilityWindow(lot.Isotope, lot.InitialActivity, lot.MinimumUsableActivity,
		lot.ReferenceTime, now, snap.StatedExpiry)
	if err != nil {
		return nil, err
	}

	dispensed := 0.0
	for _, p := range preps {
		since := math.Max(0, now.Sub(p.PreparedAt).Hours())
		d, err := radiopharm.ComputeDecay(lot.Isotope, p.Activity, since)
		if err != nil {
			return nil, err
		}
		dispensed += d.CurrentActivity
	}

	failed := radiopharm.FailedTests(records)
	if failed == nil {
		failed = []radiopharm.TestType{}
	}
	st := &LotStatus{
		Lot:               lot,
		EvaluatedAt:       now,
		Decay:             decay,
		Usability:         window,
		DispensedActivity: roundActivity(dispensed),
		AvailableActivity: roundActivity(math.Max(0, decay.CurrentActivity-dispensed)),
		QCRecorded:        len(records) > 0,
		FailedTests:       failed,
	}
	st.Releasable = lot.Status == StatusActive && !window.IsExpired && st.QCRecorded && len(failed) == 0
	return st, nil
}

// -- Quality control --

// RecordQC evaluates a measurement against the fixed criteria of its test
// and appends the record to the lot's history.
func (s *Service) RecordQC(ctx context.Context, lotID uuid.UUID, in QCInput, performedBy string) (*radiopharm.QualityControlRecord, error) {
	if in.TestType == "" {
		return nil, invalid("test_type is required")
	}
	if in.Result == nil {
		return nil, invalid("result is required")
	}
	if performedBy == "" {
		return nil, invalid("performed_by is required")
	}
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Status == StatusDisposed {
		return nil, ErrLotDisposed
	}

	rec, err := s.evaluator.Evaluate(in.TestType, *in.Result, in.Unit, performedBy, in.Notes...)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := s.qc.Create(ctx, lotID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) ListQC(ctx context.Context, lotID uuid.UUID) ([]radiopharm.QualityControlRecord, error) {
	if _, err := s.lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	records, err := s.qc.ListByLot(ctx, lotID)
	if records == nil && err == nil {
		records = []radiopharm.QualityControlRecord{}
	}
	return records, err
}

// -- Preparations --

// RecordPreparation draws activity from a lot. It is refused when the lot
// is disposed or expired, when its QC is missing or its latest result for
// any test failed, or when the activity exceeds what remains in the lot.
func (s *Service) RecordPreparation(ctx context.Context, lotID uuid.UUID, p *Preparation) error {
	if !positive(p.Activity) {
		return invalid("activity must be > 0")
	}
	if p.PreparedBy == "" {
		return invalid("prepared_by is required")
	}
	if p.ExamType != nil {
		exam := string(radiopharm.ParseExamType(*p.ExamType))
		p.ExamType = &exam
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.lots.GetForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Status == StatusDisposed {
			return ErrLotDisposed
		}
		records, err := s.qc.ListByLot(ctx, lotID)
		if err != nil {
			return err
		}
		preps, err := s.preps.ListByLot(ctx, lotID)
		if err != nil {
			return err
		}

		now := s.now()
		st, err := s.status(lot, records, preps, now)
		if err != nil {
			return err
		}
		if st.Usability.IsExpired {
			return fmt.Errorf("%w (%s)", ErrLotExpired, st.Usability.ExpiryReason)
		}
		if !st.QCRecorded {
			return fmt.Errorf("%w: no quality control on record", ErrQCNotPassed)
		}
		if len(st.FailedTests) > 0 {
			return fmt.Errorf("%w: failed %v", ErrQCNotPassed, st.FailedTests)
		}
		if p.Activity > st.AvailableActivity {
			return fmt.Errorf("%w: requested %g %s, available %g %s",
				ErrInsufficientActivity, p.Activity, lot.ActivityUnit, st.AvailableActivity, lot.ActivityUnit)
		}

		p.LotID = lotID
		p.PreparedAt = now
		return s.preps.Create(ctx, p)
	})
}

func (s *Service) ListPreparations(ctx context.Context, lotID uuid.UUID) ([]*Preparation, error) {
	if _, err := s.lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	preps, err := s.preps.ListByLot(ctx, lotID)
	if preps == nil && err == nil {
		preps = []*Preparation{}
	}
	return preps, err
}

// -- Alerts --

// Snapshots returns the engine view of every active lot.
func (s *Service) Snapshots(ctx context.Context) ([]radiopharm.LotSnapshot, error) {
	lots, err := s.lots.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}
	records, err := s.qc.ListByLots(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]radiopharm.LotSnapshot, len(lots))
	for i, l := range lots {
		out[i] = l.Snapshot(records[l.ID])
	}
	return out, nil
}

// EvaluateAlerts generates the alerts of every active lot now.
func (s *Service) EvaluateAlerts(ctx context.Context) ([]radiopharm.Alert, error) {
	snaps, err := s.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	return radiopharm.GenerateAlerts(snaps, s.now())
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func roundActivity(v float64) float64 {
	return math.Round(v*1000) / 1000
}
