package perm

import (
	"strings"
	"testing"
)

func TestCanEditOwnership(t *testing.T) {
	record := Record{ID: "upd_1", OwnerID: "usr_1"}
	roles := []Role{RoleSuperAdmin, RoleAdmin, RoleOperationMember, RoleSalesMember, RoleHRMember, RoleFinanceMember}
	for _, role := range roles {
		identity := Identity{ID: "usr_1", Role: role}
		if d := CanEdit(identity, record, FlagMessageUpdate); !d.Allowed {
			t.Fatalf("owner with role %q denied: %q", role, d.Reason)
		}
	}
}

func TestCanEditAdminOverride(t *testing.T) {
	record := Record{ID: "upd_1", OwnerID: "usr_other", OwnerServiceID: "svc_1"}
	for _, role := range []Role{RoleSuperAdmin, RoleAdmin} {
		identity := Identity{ID: "usr_2", Role: role}
		if d := CanEdit(identity, record, FlagMessageUpdate); !d.Allowed {
			t.Fatalf("%q denied: %q", role, d.Reason)
		}
	}
	identity := Identity{ID: "usr_2", Role: RoleSalesMember}
	if d := CanEdit(identity, record, FlagMessageUpdate); d.Allowed {
		t.Fatalf("non-admin stranger allowed via %q", d.Reason)
	}
}

func TestCanEditServiceManager(t *testing.T) {
	record := Record{ID: "iss_1", OwnerID: "usr_owner", OwnerServiceID: "svc_1", ServiceManagerID: "usr_mgr"}
	identity := Identity{ID: "usr_mgr", Role: RoleOperationMember}
	d := CanEdit(identity, record, FlagIssueUpdate)
	if !d.Allowed || d.Reason != "service manager" {
		t.Fatalf("got %+v, want service manager allow", d)
	}
}

func TestCanEditTeamLead(t *testing.T) {
	record := Record{
		ID:             "upd_1",
		OwnerID:        "usr_owner",
		OwnerServiceID: "svc_1",
		OwnerTeamIDs:   []string{"team_a", "team_b"},
	}

	lead := Identity{
		ID:          "usr_lead",
		Role:        RoleOperationMember,
		ServiceID:   "svc_2",
		Memberships: []Membership{{TeamID: "team_b", Responsibility: Leader}},
	}
	if d := CanEdit(lead, record, FlagMessageTLCheck); !d.Allowed || d.Reason != "team lead" {
		t.Fatalf("same-team leader: got %+v", d)
	}

	// Coleader of the owner's team does not qualify.
	colead := Identity{
		ID:          "usr_co",
		Role:        RoleOperationMember,
		Memberships: []Membership{{TeamID: "team_b", Responsibility: Coleader}},
	}
	if d := CanEdit(colead, record, FlagMessageTLCheck); d.Allowed {
		t.Fatalf("coleader allowed via %q", d.Reason)
	}

	// Leader of an unrelated team under a different service is denied.
	other := Identity{
		ID:          "usr_far",
		Role:        RoleOperationMember,
		ServiceID:   "svc_9",
		Memberships: []Membership{{TeamID: "team_z", Responsibility: Leader}},
	}
	if d := CanEdit(other, record, FlagMessageTLCheck); d.Allowed {
		t.Fatalf("unrelated leader allowed via %q", d.Reason)
	}
}

func TestCanEditServiceWideLead(t *testing.T) {
	record := Record{ID: "upd_1", OwnerID: "usr_owner", OwnerServiceID: "svc_1", OwnerTeamIDs: []string{"team_a"}}
	identity := Identity{
		ID:          "usr_lead",
		Role:        RoleOperationMember,
		ServiceID:   "svc_1",
		Memberships: []Membership{{TeamID: "team_other", Responsibility: Leader}},
	}
	d := CanEdit(identity, record, FlagMessageUpdate)
	if !d.Allowed || d.Reason != "service lead" {
		t.Fatalf("got %+v, want service lead allow", d)
	}

	// Owner with no service never matches the service-wide predicate.
	orphan := Record{ID: "upd_2", OwnerID: "usr_owner"}
	if d := CanEdit(identity, orphan, FlagMessageUpdate); d.Allowed {
		t.Fatalf("ownerless-service record allowed via %q", d.Reason)
	}
}

func TestCanEditFlagFallback(t *testing.T) {
	record := Record{ID: "upd_1", OwnerID: "usr_owner"}
	identity := Identity{
		ID:    "usr_flag",
		Role:  RoleSalesMember,
		Flags: Flags{MessageTLCheck: true},
	}
	if d := CanEdit(identity, record, FlagMessageTLCheck); !d.Allowed || d.Reason != "permission grant" {
		t.Fatalf("got %+v, want permission grant allow", d)
	}
	// The grant is scoped per flag kind.
	if d := CanEdit(identity, record, FlagIssueAssign); d.Allowed {
		t.Fatalf("wrong flag kind allowed via %q", d.Reason)
	}
}

func TestCanEditDeniedReason(t *testing.T) {
	d := CanEdit(Identity{ID: "usr_x", Role: RoleHRMember}, Record{ID: "iss_1", OwnerID: "usr_y"}, FlagIssueUpdate)
	if d.Allowed {
		t.Fatal("expected denial")
	}
	for _, want := range []string{"ownership", "admin", "service", "leadership", "permission"} {
		if !strings.Contains(d.Reason, want) {
			t.Fatalf("denial reason %q missing %q", d.Reason, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"SUPER_ADMIN", RoleSuperAdmin},
		{"ADMIN", RoleAdmin},
		{"SALES_MEMBER", RoleSalesMember},
		{"", RoleOperationMember},
		{"banana", RoleOperationMember},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFlagsHas(t *testing.T) {
	f := Flags{MessageCreate: true, IssueAssign: true}
	if !f.Has(FlagMessageCreate) || !f.Has(FlagIssueAssign) {
		t.Fatal("set flags not reported")
	}
	if f.Has(FlagMessageUpdate) || f.Has(FlagKind("bogus")) {
		t.Fatal("unset or unknown flag reported as set")
	}
}
