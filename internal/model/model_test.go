package model

import (
	"strings"
	"testing"
)

func TestFamily_IsValid(t *testing.T) {
	for _, tc := range []struct {
		family Family
		want   bool
	}{
		{FamilyICT, true},
		{FamilyFCT, true},
		{FamilyAOI, true},
		{FamilySMT, true},
		{Family(""), false},
		{Family("xray"), false},
	} {
		if got := tc.family.IsValid(); got != tc.want {
			t.Errorf("Family(%q).IsValid() = %v, want %v", tc.family, got, tc.want)
		}
	}
}

func TestRole_Can(t *testing.T) {
	for _, tc := range []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleOperator, CapSubmit, true},
		{RoleOperator, CapQuery, true},
		{RoleOperator, CapOverride, false},
		{RoleOperator, CapManage, false},
		{RoleSupervisor, CapOverride, true},
		{RoleSupervisor, CapManage, false},
		{RoleAdmin, CapManage, true},
		{RoleAdmin, CapOverride, true},
		{Role("guest"), CapSubmit, false},
	} {
		if got := tc.role.Can(tc.cap); got != tc.want {
			t.Errorf("%s.Can(%s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestRole_AtLeast(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleSupervisor) {
		t.Error("admin should be at least supervisor")
	}
	if RoleOperator.AtLeast(RoleSupervisor) {
		t.Error("operator should not be at least supervisor")
	}
	if !RoleOperator.AtLeast(RoleOperator) {
		t.Error("operator should be at least operator")
	}
}

func TestFailureNotes(t *testing.T) {
	if got := FailureNotes(nil); got != "" {
		t.Errorf("FailureNotes(nil) = %q, want empty", got)
	}
	if got := FailureNotes([]string{"r1", "c5"}); got != "Failed: r1, c5" {
		t.Errorf("FailureNotes = %q", got)
	}

	var many []string
	for i := 0; i < 100; i++ {
		many = append(many, "resistor")
	}
	got := FailureNotes(many)
	if len(got) != MaxNotesLength {
		t.Errorf("len(FailureNotes) = %d, want %d", len(got), MaxNotesLength)
	}
	if !strings.HasPrefix(got, "Failed: resistor, ") {
		t.Errorf("FailureNotes prefix = %q", got[:20])
	}
}

func TestHistoryEntry_Passing(t *testing.T) {
	for _, tc := range []struct {
		name    string
		kind    DecisionKind
		outcome Outcome
		suspect bool
		want    bool
	}{
		{"admitted pass", DecisionAdmit, OutcomePass, false, true},
		{"admitted fail", DecisionAdmit, OutcomeFail, false, false},
		{"suspect pass", DecisionAdmit, OutcomePass, true, false},
		{"rejected pass", DecisionReject, OutcomePass, false, false},
		{"override of fail", DecisionOverrideAdmit, OutcomeFail, false, true},
		{"scrap", DecisionScrap, OutcomePass, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := &HistoryEntry{
				Record:   &TestRecord{Outcome: tc.outcome, Suspect: tc.suspect},
				Decision: RoutingDecision{Kind: tc.kind},
			}
			if got := e.Passing(); got != tc.want {
				t.Errorf("Passing() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewStationTable(t *testing.T) {
	tbl, err := NewStationTable([]StationDefinition{
		{ID: "smt"},
		{ID: "aoi", Requires: []string{"smt"}},
		{ID: "ict", Requires: []string{"aoi"}, MaxRetries: 3},
		{ID: "fct", Requires: []string{"ict"}, RequiredRole: RoleSupervisor},
	})
	if err != nil {
		t.Fatalf("NewStationTable: %v", err)
	}

	d, ok := tbl.Lookup("smt")
	if !ok || d.RequiredRole != RoleOperator {
		t.Errorf("smt role = %q, want default operator", d.RequiredRole)
	}
	if got := tbl.Terminals(); len(got) != 1 || got[0] != "fct" {
		t.Errorf("Terminals() = %v, want [fct]", got)
	}
	if got := strings.Join(tbl.Path("fct"), ","); got != "aoi,fct,ict,smt" {
		t.Errorf("Path(fct) = %s", got)
	}
	if _, ok := tbl.Lookup("xray"); ok {
		t.Error("Lookup(xray) should miss")
	}
}

func TestNewStationTable_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		defs []StationDefinition
		want string
	}{
		{"empty id", []StationDefinition{{ID: ""}}, "empty id"},
		{"duplicate", []StationDefinition{{ID: "a"}, {ID: "a"}}, "defined twice"},
		{"negative retries", []StationDefinition{{ID: "a", MaxRetries: -1}}, "max_retries"},
		{"unknown role", []StationDefinition{{ID: "a", RequiredRole: "guest"}}, "unknown role"},
		{"unknown predecessor", []StationDefinition{{ID: "a", Requires: []string{"b"}}}, "unknown station"},
		{"cycle", []StationDefinition{
			{ID: "a", Requires: []string{"b"}},
			{ID: "b", Requires: []string{"a"}},
		}, "cycle"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewStationTable(tc.defs)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}
