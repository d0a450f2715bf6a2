package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	ServiceID             string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	// Per-user permission overrides
	MessageCreateAllowed  bool
	MessageTLCheckAllowed bool
	MessageUpdateAllowed  bool
	IssueUpdateAllowed    bool
	IssueAssignAllowed    bool
}

type Service struct {
	ID        string
	Name      string
	ManagerID string
	CreatedAt time.Time
}

type Team struct {
	ID        string
	Name      string
	ServiceID string
	CreatedAt time.Time
}

type TeamMembership struct {
	TeamID         string
	UserID         string
	Responsibility string
	CreatedAt      time.Time
}

// Ownership is the record projection the authorization resolver consumes:
// the entry's owner and how that owner hangs off services and teams.
type Ownership struct {
	RecordID         string
	OwnerID          string
	OwnerServiceID   string
	ServiceManagerID string
	OwnerTeamIDs     []string
}

type UpdateSheetEntry struct {
	ID          string     `json:"id"`
	ClientName  string     `json:"clientName"`
	OrderID     string     `json:"orderId"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"createdBy"`
	CreatorName string     `json:"creatorName"`
	ServiceID   string     `json:"serviceId"`
	TeamID      string     `json:"teamId"`
	TLID        *string    `json:"tlId"`
	TLCheckedAt *time.Time `json:"tlCheckedAt"`
	DoneBy      *string    `json:"doneBy"`
	DoneAt      *time.Time `json:"doneAt"`
	SendAt      *time.Time `json:"sendAt"`
	SentAt      *time.Time `json:"sentAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type IssueSheetEntry struct {
	ID             string     `json:"id"`
	ClientName     string     `json:"clientName"`
	OrderID        string     `json:"orderId"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	CreatedBy      string     `json:"createdBy"`
	CreatorName    string     `json:"creatorName"`
	ServiceID      string     `json:"serviceId"`
	TeamID         string     `json:"teamId"`
	AssignedTeamID *string    `json:"assignedTeamId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// Summary holds the dashboard aggregate counts.
type Summary struct {
	OpenIssues     int
	UnsentUpdates  int
	TLCheckedToday int
}
