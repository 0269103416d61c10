package radiopharm

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalTime = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func passedQC(t *testing.T, test string, result float64) QualityControlRecord {
	t.Helper()
	rec, err := NewQCEvaluator(fixedClock(evalTime.Add(-6*time.Hour))).Evaluate(test, result, "", "qc")
	require.NoError(t, err)
	return rec
}

// freshLot is well within its usable window and has passing QC.
func freshLot(t *testing.T, id string) LotSnapshot {
	return LotSnapshot{
		ID:                    id,
		Isotope:               "Tc-99m",
		InitialActivity:       10000,
		ReferenceTime:         evalTime.Add(-2 * time.Hour),
		MinimumUsableActivity: 500,
		QualityControlRecords: []QualityControlRecord{passedQC(t, "radiochemical_purity", 98)},
	}
}

// nearExpiryLot reaches its minimum 30 minutes after evalTime.
func nearExpiryLot(t *testing.T, id string) LotSnapshot {
	lot := freshLot(t, id)
	iso, err := LookupIsotope("Tc-99m")
	require.NoError(t, err)
	// minimum = initial * e^(-λ * (elapsed + 0.5h))
	lot.MinimumUsableActivity = lot.InitialActivity * decayFactor(iso, 2.5)
	return lot
}

func expiredLot(t *testing.T, id string) LotSnapshot {
	lot := freshLot(t, id)
	lot.ReferenceTime = evalTime.Add(-48 * time.Hour)
	return lot
}

func kinds(alerts []Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = fmt.Sprintf("%s:%s:%s", a.LotID, a.Kind, a.Severity)
	}
	return out
}

func TestGenerateAlerts_NoAlertsForHealthyLot(t *testing.T) {
	alerts, err := GenerateAlerts([]LotSnapshot{freshLot(t, "LOT-1")}, evalTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.NotNil(t, alerts)
}

func TestGenerateAlerts_NearExpiry(t *testing.T) {
	alerts, err := GenerateAlerts([]LotSnapshot{nearExpiryLot(t, "LOT-2")}, evalTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, ConditionNearExpiry, a.Kind)
	assert.Equal(t, CategoryExpiry, a.Category)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, []SuggestedAction{
		{Action: ActionUseImmediately, Label: "Use immediately"},
		{Action: ActionMarkExpired, Label: "Mark as expired"},
	}, a.Actions)
	assert.Equal(t, AlertID("LOT-2", ConditionNearExpiry), a.ID)
}

func TestGenerateAlerts_ExpiredNeverAlsoNearExpiry(t *testing.T) {
	lot := expiredLot(t, "LOT-3")
	alerts, err := GenerateAlerts([]LotSnapshot{lot}, evalTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, ConditionExpired, alerts[0].Kind)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, ActionDispose, alerts[0].Actions[0].Action)

	// Regulatory expiry while the physical window is within the last hour.
	near := nearExpiryLot(t, "LOT-4")
	near.StatedExpiry = evalTime.Add(-time.Minute)
	alerts, err = GenerateAlerts([]LotSnapshot{near}, evalTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-4:expired:critical"}, kinds(alerts))
	assert.Contains(t, alerts[0].Message, "stated expiry")
}

func TestGenerateAlerts_MissingQC(t *testing.T) {
	lot := freshLot(t, "LOT-5")
	lot.QualityControlRecords = nil
	alerts, err := GenerateAlerts([]LotSnapshot{lot}, evalTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, CategoryQuality, alerts[0].Category)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
	assert.Equal(t, ActionScheduleQC, alerts[0].Actions[0].Action)
	assert.Equal(t, ActionBlockUsage, alerts[0].Actions[1].Action)
}

func TestGenerateAlerts_LatestFailedQC(t *testing.T) {
	lot := freshLot(t, "LOT-6")
	failed, err := NewQCEvaluator(fixedClock(evalTime.Add(-time.Hour))).Evaluate("ph", 8.1, "", "qc")
	require.NoError(t, err)
	lot.QualityControlRecords = append(lot.QualityControlRecords, failed)

	alerts, err := GenerateAlerts([]LotSnapshot{lot}, evalTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-6:qc_failed:high"}, kinds(alerts))

	// A later passing retest clears it.
	retest, err := NewQCEvaluator(fixedClock(evalTime.Add(-30*time.Minute))).Evaluate("ph", 6.2, "", "qc")
	require.NoError(t, err)
	lot.QualityControlRecords = append(lot.QualityControlRecords, retest)
	alerts, err = GenerateAlerts([]LotSnapshot{lot}, evalTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestGenerateAlerts_OrderingBySeverityThenLotID(t *testing.T) {
	noQC := freshLot(t, "LOT-A")
	noQC.QualityControlRecords = nil
	expiredNoQC := expiredLot(t, "LOT-C")
	expiredNoQC.QualityControlRecords = nil

	lots := []LotSnapshot{
		noQC,
		nearExpiryLot(t, "LOT-D"),
		expiredNoQC,
		expiredLot(t, "LOT-B"),
		freshLot(t, "LOT-E"),
	}
	alerts, err := GenerateAlerts(lots, evalTime)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"LOT-B:expired:critical",
		"LOT-C:expired:critical",
		"LOT-D:near_expiry:high",
		"LOT-A:missing_qc:medium",
		"LOT-C:missing_qc:medium",
	}, kinds(alerts))
}

func TestGenerateAlerts_IdempotentAndOrderIndependent(t *testing.T) {
	var lots []LotSnapshot
	for i := 0; i < 40; i++ {
		var lot LotSnapshot
		id := fmt.Sprintf("LOT-%03d", i)
		switch i % 4 {
		case 0:
			lot = freshLot(t, id)
		case 1:
			lot = nearExpiryLot(t, id)
		case 2:
			lot = expiredLot(t, id)
		default:
			lot = freshLot(t, id)
			lot.QualityControlRecords = nil
		}
		lots = append(lots, lot)
	}

	first, err := GenerateAlerts(lots, evalTime)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]LotSnapshot(nil), lots...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := GenerateAlerts(shuffled, evalTime)
		require.NoError(t, err)
		gotJSON, err := json.Marshal(got)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(gotJSON))
	}
}

func TestGenerateAlerts_FailsOutright(t *testing.T) {
	bad := freshLot(t, "LOT-BAD")
	bad.Isotope = "Xx-1"
	_, err := GenerateAlerts([]LotSnapshot{freshLot(t, "LOT-OK"), bad}, evalTime)
	assert.ErrorIs(t, err, ErrUnknownIsotope)
	assert.Contains(t, err.Error(), "LOT-BAD")

	noID := freshLot(t, "")
	_, err = GenerateAlerts([]LotSnapshot{noID}, evalTime)
	assert.ErrorIs(t, err, ErrInvalidInput)

	zero := freshLot(t, "LOT-Z")
	zero.MinimumUsableActivity = 0
	alerts, err := GenerateAlerts([]LotSnapshot{zero}, evalTime)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Nil(t, alerts)
}

func TestGenerateAlerts_RejectsDuplicateLotIDs(t *testing.T) {
	byDecay := expiredLot(t, "LOT-1")
	byDate := freshLot(t, "LOT-1")
	byDate.StatedExpiry = evalTime.Add(-time.Hour)

	for _, lots := range [][]LotSnapshot{{byDecay, byDate}, {byDate, byDecay}} {
		alerts, err := GenerateAlerts(lots, evalTime)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), "LOT-1")
		assert.Nil(t, alerts)
	}
}

func TestAlertID_Deterministic(t *testing.T) {
	assert.Equal(t, AlertID("LOT-1", ConditionExpired), AlertID("LOT-1", ConditionExpired))
	assert.NotEqual(t, AlertID("LOT-1", ConditionExpired), AlertID("LOT-1", ConditionNearExpiry))
	assert.NotEqual(t, AlertID("LOT-1", ConditionExpired), AlertID("LOT-2", ConditionExpired))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}
