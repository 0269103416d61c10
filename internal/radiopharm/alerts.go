package radiopharm

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NearExpiryHours is the remaining usable time under which a lot raises a
// near-expiry alert.
const NearExpiryHours = 1.0

// Severity ranks alerts. Higher rank sorts first.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical 4, high 3, medium 2, low 1, unknown 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Category groups alerts by concern.
type Category string

const (
	CategoryExpiry  Category = "expiry"
	CategoryQuality Category = "quality"
)

// ConditionKind is the lot condition an alert reports. Together with the lot
// id it determines the alert id.
type ConditionKind string

const (
	ConditionNearExpiry ConditionKind = "near_expiry"
	ConditionExpired    ConditionKind = "expired"
	ConditionMissingQC  ConditionKind = "missing_qc"
	ConditionQCFailed   ConditionKind = "qc_failed"
)

// Action identifies an operational step suggested by an alert. The engine
// never executes actions; a presentation or command layer maps them to
// workflows.
type Action string

const (
	ActionUseImmediately Action = "use_immediately"
	ActionMarkExpired    Action = "mark_expired"
	ActionDispose        Action = "dispose_according_to_protocol"
	ActionScheduleQC     Action = "schedule_qc"
	ActionBlockUsage     Action = "block_usage"
	ActionQuarantineLot  Action = "quarantine_lot"
)

var actionLabels = map[Action]string{
	ActionUseImmediately: "Use immediately",
	ActionMarkExpired:    "Mark as expired",
	ActionDispose:        "Dispose according to protocol",
	ActionScheduleQC:     "Schedule quality control",
	ActionBlockUsage:     "Block usage",
	ActionQuarantineLot:  "Quarantine lot",
}

// Label is the human-readable label of the action.
func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// SuggestedAction pairs an action identifier with its label.
type SuggestedAction struct {
	Action Action `json:"action"`
	Label  string `json:"label"`
}

func suggest(actions ...Action) []SuggestedAction {
	out := make([]SuggestedAction, len(actions))
	for i, a := range actions {
		out[i] = SuggestedAction{Action: a, Label: a.Label()}
	}
	return out
}

// Alert is derived safety information about a lot.
type Alert struct {
	ID       uuid.UUID         `json:"id"`
	Kind     ConditionKind     `json:"kind"`
	Category Category          `json:"category"`
	Severity Severity          `json:"severity"`
	Message  string            `json:"message"`
	LotID    string            `json:"lot_id"`
	Actions  []SuggestedAction `json:"actions"`
}

// alertNamespace seeds the name-based alert ids.
var alertNamespace = uuid.MustParse("6f1c2a4e-9b7d-5e3f-8a21-4c0d9e7b3a65")

// AlertID is the stable id of the alert raised for kind on lotID.
func AlertID(lotID string, kind ConditionKind) uuid.UUID {
	return uuid.NewSHA1(alertNamespace, []byte(lotID+"/"+string(kind)))
}

// LotSnapshot is the caller-supplied state of a lot at evaluation time.
type LotSnapshot struct {
	ID                    string                 `json:"id"`
	Isotope               string                 `json:"isotope"`
	InitialActivity       float64                `json:"initial_activity"`
	ReferenceTime         time.Time              `json:"reference_time"`
	MinimumUsableActivity float64                `json:"minimum_usable_activity"`
	QualityControlRecords []QualityControlRecord `json:"quality_control_records"`
	StatedExpiry          time.Time              `json:"stated_expiry_date"`
}

// GenerateAlerts evaluates every lot at now and returns the alerts ordered by
// severity (critical first), then lot id, then condition kind. Lots are
// evaluated concurrently; the order of lots in the input does not affect the
// result. If any lot is invalid, or two lots share an id, no alerts are
// returned.
func GenerateAlerts(lots []LotSnapshot, now time.Time) ([]Alert, error) {
	seen := make(map[string]struct{}, len(lots))
	for _, lot := range lots {
		if _, dup := seen[lot.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate lot id %q", ErrInvalidInput, lot.ID)
		}
		seen[lot.ID] = struct{}{}
	}

	perLot := make([][]Alert, len(lots))
	errs := make([]error, len(lots))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range lots {
		i := i
		g.Go(func() error {
			alerts, err := evaluateLot(lots[i], now)
			if err != nil {
				errs[i] = fmt.Errorf("lot %q: %w", lots[i].ID, err)
				return errs[i]
			}
			perLot[i] = alerts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Report the first failing lot in input order, not the first to finish.
		for _, e := range errs {
			if e != nil {
				return nil, e
			}
		}
		return nil, err
	}

	out := []Alert{}
	for _, alerts := range perLot {
		out = append(out, alerts...)
	}
	SortAlerts(out)
	return out, nil
}

// SortAlerts orders alerts by severity rank descending, lot id ascending and
// condition kind ascending.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		if a.LotID != b.LotID {
			return a.LotID < b.LotID
		}
		return a.Kind < b.Kind
	})
}

func evaluateLot(lot LotSnapshot, now time.Time) ([]Alert, error) {
	if lot.ID == "" {
		return nil, fmt.Errorf("%w: lot id is required", ErrInvalidInput)
	}
	w, err := ComputeUsabilityWindow(lot.Isotope, lot.InitialActivity, lot.MinimumUsableActivity,
		lot.ReferenceTime, now, lot.StatedExpiry)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	switch {
	case w.IsExpired:
		msg := fmt.Sprintf("Lot %s (%s) has decayed below its minimum usable activity", lot.ID, w.Isotope)
		if w.ExpiryReason == ExpiryReasonRegulatory {
			msg = fmt.Sprintf("Lot %s (%s) is past its stated expiry date %s",
				lot.ID, w.Isotope, lot.StatedExpiry.UTC().Format(time.RFC3339))
		}
		alerts = append(alerts, newAlert(lot.ID, ConditionExpired, CategoryExpiry, SeverityCritical, msg,
			ActionDispose))
	case w.HoursRemaining > 0 && w.HoursRemaining <= NearExpiryHours:
		msg := fmt.Sprintf("Lot %s (%s) reaches its minimum usable activity in %.0f min",
			lot.ID, w.Isotope, w.HoursRemaining*60)
		alerts = append(alerts, newAlert(lot.ID, ConditionNearExpiry, CategoryExpiry, SeverityHigh, msg,
			ActionUseImmediately, ActionMarkExpired))
	}

	if len(lot.QualityControlRecords) == 0 {
		msg := fmt.Sprintf("Lot %s (%s) has no quality control on record", lot.ID, w.Isotope)
		alerts = append(alerts, newAlert(lot.ID, ConditionMissingQC, CategoryQuality, SeverityMedium, msg,
			ActionScheduleQC, ActionBlockUsage))
	} else if failed := FailedTests(lot.QualityControlRecords); len(failed) > 0 {
		msg := fmt.Sprintf("Lot %s (%s) failed quality control: %v", lot.ID, w.Isotope, failed)
		alerts = append(alerts, newAlert(lot.ID, ConditionQCFailed, CategoryQuality, SeverityHigh, msg,
			ActionBlockUsage, ActionQuarantineLot))
	}
	return alerts, nil
}

func newAlert(lotID string, kind ConditionKind, cat Category, sev Severity, msg string, actions ...Action) Alert {
	return Alert{
		ID:       AlertID(lotID, kind),
		Kind:     kind,
		Category: cat,
		Severity: sev,
		Message:  msg,
		LotID:    lotID,
		Actions:  suggest(actions...),
	}
}

// FailedTests returns, sorted, the test types whose most recent record
// failed. A later record of the same test supersedes an earlier one; records
// with equal timestamps are resolved by their order in the slice.
func FailedTests(records []QualityControlRecord) []TestType {
	latest := make(map[TestType]QualityControlRecord)
	for _, r := range records {
		if prev, ok := latest[r.TestType]; ok && r.PerformedAt.Before(prev.PerformedAt) {
			continue
		}
		latest[r.TestType] = r
	}
	var failed []TestType
	for t, r := range latest {
		if !r.Passed {
			failed = append(failed, t)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed
}
