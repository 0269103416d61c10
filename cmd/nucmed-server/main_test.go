package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

const lotsJSON = `[
  {
    "id": "LOT-A",
    "isotope": "Tc-99m",
    "initial_activity": 1000,
    "reference_time": "2026-03-01T08:00:00Z",
    "minimum_usable_activity": 100
  },
  {
    "id": "LOT-B",
    "isotope": "F-18",
    "initial_activity": 500,
    "reference_time": "2026-03-02T08:00:00Z",
    "minimum_usable_activity": 10,
    "quality_control_records": [
      {"test_type": "ph", "result": 6.0, "passed": true, "performed_at": "2026-03-02T08:30:00Z"}
    ]
  }
]`

const lotsYAML = `lots:
  - id: LOT-A
    isotope: tc99m
    initial_activity: 1000
    reference_time: "2026-03-01T08:00:00Z"
    minimum_usable_activity: 100
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecodeLots_JSONArray(t *testing.T) {
	lots, err := decodeLots([]byte(lotsJSON), ".json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(lots))
	}
	if len(lots[1].QualityControlRecords) != 1 {
		t.Errorf("expected QC record on LOT-B")
	}
}

func TestDecodeLots_JSONDocument(t *testing.T) {
	lots, err := decodeLots([]byte(`{"lots":`+lotsJSON+`}`), ".json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lots) != 2 {
		t.Errorf("expected 2 lots, got %d", len(lots))
	}
}

func TestDecodeLots_YAML(t *testing.T) {
	lots, err := decodeLots([]byte(lotsYAML), ".yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(lots))
	}
	if lots[0].ID != "LOT-A" || lots[0].InitialActivity != 1000 {
		t.Errorf("unexpected lot: %+v", lots[0])
	}
	if lots[0].ReferenceTime.IsZero() {
		t.Error("expected reference_time to be parsed")
	}
}

func TestDecodeLots_Invalid(t *testing.T) {
	if _, err := decodeLots([]byte(`{"lots": 3}`), ".json"); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestEvaluateCmd(t *testing.T) {
	path := writeFile(t, "lots.json", lotsJSON)
	out, err := runCmd(t, "evaluate", "--file", path, "--now", "2026-03-02T09:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var alerts []radiopharm.Alert
	if err := json.Unmarshal([]byte(out), &alerts); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts for LOT-A, got %d: %s", len(alerts), out)
	}
	if alerts[0].Kind != radiopharm.ConditionExpired || alerts[0].LotID != "LOT-A" {
		t.Errorf("first alert = %s/%s, want expired/LOT-A", alerts[0].Kind, alerts[0].LotID)
	}
	if alerts[1].Kind != radiopharm.ConditionMissingQC {
		t.Errorf("second alert = %s, want missing_qc", alerts[1].Kind)
	}
}

func TestEvaluateCmd_Deterministic(t *testing.T) {
	path := writeFile(t, "lots.yml", lotsYAML)
	first, err := runCmd(t, "evaluate", "--file", path, "--now", "2026-03-02T09:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := runCmd(t, "evaluate", "--file", path, "--now", "2026-03-02T09:00:00Z")
	if first != second {
		t.Error("expected identical output across runs")
	}
}

func TestEvaluateCmd_Errors(t *testing.T) {
	if _, err := runCmd(t, "evaluate"); err == nil {
		t.Error("expected error without --file")
	}
	path := writeFile(t, "lots.json", lotsJSON)
	if _, err := runCmd(t, "evaluate", "--file", path, "--now", "yesterday"); err == nil {
		t.Error("expected error for invalid --now")
	}
	bad := writeFile(t, "bad.json", `[{"id":"X","isotope":"Xx-1","initial_activity":1,"minimum_usable_activity":1,"reference_time":"2026-03-02T08:00:00Z"}]`)
	if _, err := runCmd(t, "evaluate", "--file", bad); err == nil {
		t.Error("expected error for unknown isotope")
	}
}

func TestIsotopesCmd(t *testing.T) {
	out, err := runCmd(t, "isotopes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "SYMBOL") {
		t.Errorf("expected header line, got %q", out)
	}
	for _, sym := range []string{"Tc-99m", "F-18"} {
		if !strings.Contains(out, sym) {
			t.Errorf("expected %s in output", sym)
		}
	}
}

func TestSiteCreate_RequiresName(t *testing.T) {
	if _, err := runCmd(t, "site", "create"); err == nil {
		t.Error("expected error without --name")
	}
}

func TestMigrate_InvalidSite(t *testing.T) {
	if _, err := runCmd(t, "migrate", "up", "--site", "bad site!"); err == nil {
		t.Error("expected error for invalid site identifier")
	}
}

func TestSiteSchema(t *testing.T) {
	t.Setenv("DEFAULT_SITE", "clinic_b")
	tests := []struct {
		args []string
		want string
	}{
		{nil, "site_clinic_b"},
		{[]string{"--site", "clinic_c"}, "site_clinic_c"},
	}
	for _, tt := range tests {
		cmd := migrateCmd()
		up, _, err := cmd.Find([]string{"up"})
		if err != nil {
			t.Fatalf("find up: %v", err)
		}
		if err := up.ParseFlags(tt.args); err != nil {
			t.Fatalf("parse %v: %v", tt.args, err)
		}
		got, err := siteSchema(up)
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", tt.args, err)
		}
		if got != tt.want {
			t.Errorf("%v: schema = %q, want %q", tt.args, got, tt.want)
		}
	}
}
