// Package perm decides whether an identity may mutate a record. Decisions are
// pure functions of the identity, the record projection, and the per-user
// permission flags; nothing here touches storage.
package perm

type Role string
type Responsibility string

// FlagKind selects which per-user override flag applies to a mutation.
type FlagKind string

const (
	RoleSuperAdmin      Role = "SUPER_ADMIN"
	RoleAdmin           Role = "ADMIN"
	RoleOperationMember Role = "OPERATION_MEMBER"
	RoleSalesMember     Role = "SALES_MEMBER"
	RoleHRMember        Role = "HR_MEMBER"
	RoleFinanceMember   Role = "FINANCE_MEMBER"
)

const (
	Leader   Responsibility = "Leader"
	Coleader Responsibility = "Coleader"
	Member   Responsibility = "Member"
)

const (
	FlagMessageCreate  FlagKind = "messageCreate"
	FlagMessageTLCheck FlagKind = "messageTLCheck"
	FlagMessageUpdate  FlagKind = "messageUpdate"
	FlagIssueUpdate    FlagKind = "issueUpdate"
	FlagIssueAssign    FlagKind = "issueAssign"
)

// Flags are per-user boolean overrides layered on top of role checks.
type Flags struct {
	MessageCreate  bool
	MessageTLCheck bool
	MessageUpdate  bool
	IssueUpdate    bool
	IssueAssign    bool
}

func (f Flags) Has(kind FlagKind) bool {
	switch kind {
	case FlagMessageCreate:
		return f.MessageCreate
	case FlagMessageTLCheck:
		return f.MessageTLCheck
	case FlagMessageUpdate:
		return f.MessageUpdate
	case FlagIssueUpdate:
		return f.IssueUpdate
	case FlagIssueAssign:
		return f.IssueAssign
	default:
		return false
	}
}

type Membership struct {
	TeamID         string
	Responsibility Responsibility
}

// Identity is the caller as loaded by the service layer: workspace role,
// owning service, team memberships, and override flags.
type Identity struct {
	ID          string
	Role        Role
	ServiceID   string
	Memberships []Membership
	Flags       Flags
}

// Record is the projection of a sheet entry the resolver needs: who owns it
// and how the owner relates to services and teams.
type Record struct {
	ID               string
	OwnerID          string
	OwnerServiceID   string
	OwnerTeamIDs     []string
	ServiceManagerID string
}

type Decision struct {
	Allowed bool
	Reason  string
}

const deniedReason = "requires entry ownership, an admin role, management of the owning service, team leadership over the owner, or an explicit permission grant"

func Normalize(role string) Role {
	switch Role(role) {
	case RoleSuperAdmin, RoleAdmin, RoleOperationMember, RoleSalesMember, RoleHRMember, RoleFinanceMember:
		return Role(role)
	default:
		return RoleOperationMember
	}
}

func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// LeadsTeam reports whether the identity holds the Leader responsibility on
// the given team.
func (i Identity) LeadsTeam(teamID string) bool {
	for _, m := range i.Memberships {
		if m.TeamID == teamID && m.Responsibility == Leader {
			return true
		}
	}
	return false
}

// IsLeader reports whether the identity leads any team at all.
func (i Identity) IsLeader() bool {
	for _, m := range i.Memberships {
		if m.Responsibility == Leader {
			return true
		}
	}
	return false
}

// CanEdit evaluates the predicate chain in priority order; the first match
// wins. The chain must be re-run on every mutating call because roles, team
// memberships, and flags all change between requests.
func CanEdit(identity Identity, record Record, flag FlagKind) Decision {
	if identity.ID != "" && identity.ID == record.OwnerID {
		return Decision{Allowed: true, Reason: "owner"}
	}
	if identity.Role.IsAdmin() {
		return Decision{Allowed: true, Reason: "admin"}
	}
	if record.ServiceManagerID != "" && record.ServiceManagerID == identity.ID {
		return Decision{Allowed: true, Reason: "service manager"}
	}
	for _, teamID := range record.OwnerTeamIDs {
		if identity.LeadsTeam(teamID) {
			return Decision{Allowed: true, Reason: "team lead"}
		}
	}
	if identity.ServiceID != "" && identity.ServiceID == record.OwnerServiceID && identity.IsLeader() {
		return Decision{Allowed: true, Reason: "service lead"}
	}
	if identity.Flags.Has(flag) {
		return Decision{Allowed: true, Reason: "permission grant"}
	}
	return Decision{Allowed: false, Reason: deniedReason}
}
