package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"opsdesk/api/internal/config"
	"opsdesk/api/internal/query"
	"opsdesk/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn             func(context.Context, string) (store.User, error)
	listUserMembershipsFn     func(context.Context, string) ([]store.TeamMembership, error)
	getUpdateSheetOwnershipFn func(context.Context, string) (store.Ownership, error)
	getIssueSheetOwnershipFn  func(context.Context, string) (store.Ownership, error)
	getUpdateSheetFn          func(context.Context, string) (store.UpdateSheetEntry, error)
	getIssueSheetFn           func(context.Context, string) (store.IssueSheetEntry, error)
	getTeamFn                 func(context.Context, string) (store.Team, error)
	getServiceFn              func(context.Context, string) (store.Service, error)
	countUpdateSheetsFn       func(context.Context, query.Filter) (int, error)
	listUpdateSheetsFn        func(context.Context, query.Filter) ([]store.UpdateSheetEntry, error)
	updateUpdateSheetFn       func(context.Context, string, string, string, string, *time.Time) (bool, error)
	setTLCheckFn              func(context.Context, string, string) (bool, error)
	markSentFn                func(context.Context, string) (bool, error)
	insertUpdateSheetFn       func(context.Context, store.UpdateSheetEntry) error
	assignTeamToIssueFn       func(context.Context, string, string) (bool, error)
	updateUserRoleFn          func(context.Context, string, string) error
	promoteLeaderFn           func(context.Context, string, string) error
	addTeamMemberFn           func(context.Context, string, string, string) error
	saveRefreshFn             func(context.Context, string, string, time.Time) error
	lookupRefreshFn           func(context.Context, string) (store.User, error)
	revokeRefreshFn           func(context.Context, string) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, userID, role)
	}
	return nil
}
func (f *fakeStore) UpdateUserFlags(context.Context, string, bool, bool, bool, bool, bool) error {
	return nil
}
func (f *fakeStore) SetUserDeactivated(context.Context, string, bool) error { return nil }
func (f *fakeStore) CountUsers(context.Context, string, string) (int, error) {
	return 0, nil
}
func (f *fakeStore) ListUsers(context.Context, string, string, int, int) ([]store.User, error) {
	return nil, nil
}

func (f *fakeStore) InsertService(context.Context, store.Service) error { return nil }
func (f *fakeStore) GetService(ctx context.Context, serviceID string) (store.Service, error) {
	if f.getServiceFn != nil {
		return f.getServiceFn(ctx, serviceID)
	}
	return store.Service{}, sql.ErrNoRows
}
func (f *fakeStore) ListServices(context.Context) ([]store.Service, error)      { return nil, nil }
func (f *fakeStore) SetServiceManager(context.Context, string, string) error    { return nil }
func (f *fakeStore) InsertTeam(context.Context, store.Team) error               { return nil }
func (f *fakeStore) ListTeams(context.Context, string) ([]store.Team, error)    { return nil, nil }
func (f *fakeStore) RemoveTeamMember(context.Context, string, string) error     { return nil }
func (f *fakeStore) GetTeam(ctx context.Context, teamID string) (store.Team, error) {
	if f.getTeamFn != nil {
		return f.getTeamFn(ctx, teamID)
	}
	return store.Team{}, sql.ErrNoRows
}
func (f *fakeStore) AddTeamMember(ctx context.Context, teamID, userID, responsibility string) error {
	if f.addTeamMemberFn != nil {
		return f.addTeamMemberFn(ctx, teamID, userID, responsibility)
	}
	return nil
}
func (f *fakeStore) PromoteLeader(ctx context.Context, teamID, userID string) error {
	if f.promoteLeaderFn != nil {
		return f.promoteLeaderFn(ctx, teamID, userID)
	}
	return nil
}
func (f *fakeStore) ListUserMemberships(ctx context.Context, userID string) ([]store.TeamMembership, error) {
	if f.listUserMembershipsFn != nil {
		return f.listUserMembershipsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListTeamMembers(context.Context, string) ([]store.TeamMembership, error) {
	return nil, nil
}

func (f *fakeStore) CountUpdateSheets(ctx context.Context, filter query.Filter) (int, error) {
	if f.countUpdateSheetsFn != nil {
		return f.countUpdateSheetsFn(ctx, filter)
	}
	return 0, nil
}
func (f *fakeStore) ListUpdateSheets(ctx context.Context, filter query.Filter) ([]store.UpdateSheetEntry, error) {
	if f.listUpdateSheetsFn != nil {
		return f.listUpdateSheetsFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetUpdateSheet(ctx context.Context, entryID string) (store.UpdateSheetEntry, error) {
	if f.getUpdateSheetFn != nil {
		return f.getUpdateSheetFn(ctx, entryID)
	}
	return store.UpdateSheetEntry{ID: entryID}, nil
}
func (f *fakeStore) InsertUpdateSheet(ctx context.Context, entry store.UpdateSheetEntry) error {
	if f.insertUpdateSheetFn != nil {
		return f.insertUpdateSheetFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) UpdateUpdateSheet(ctx context.Context, entryID, clientName, orderID, body string, sendAt *time.Time) (bool, error) {
	if f.updateUpdateSheetFn != nil {
		return f.updateUpdateSheetFn(ctx, entryID, clientName, orderID, body, sendAt)
	}
	return true, nil
}
func (f *fakeStore) SetTLCheck(ctx context.Context, entryID, tlID string) (bool, error) {
	if f.setTLCheckFn != nil {
		return f.setTLCheckFn(ctx, entryID, tlID)
	}
	return true, nil
}
func (f *fakeStore) MarkSent(ctx context.Context, entryID string) (bool, error) {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, entryID)
	}
	return true, nil
}
func (f *fakeStore) MarkDone(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeStore) CountIssueSheets(context.Context, query.Filter) (int, error) { return 0, nil }
func (f *fakeStore) ListIssueSheets(context.Context, query.Filter) ([]store.IssueSheetEntry, error) {
	return nil, nil
}
func (f *fakeStore) GetIssueSheet(ctx context.Context, entryID string) (store.IssueSheetEntry, error) {
	if f.getIssueSheetFn != nil {
		return f.getIssueSheetFn(ctx, entryID)
	}
	return store.IssueSheetEntry{ID: entryID}, nil
}
func (f *fakeStore) InsertIssueSheet(context.Context, store.IssueSheetEntry) error { return nil }
func (f *fakeStore) UpdateIssueSheet(context.Context, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) UpdateIssueStatus(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) AssignTeamToIssue(ctx context.Context, entryID, teamID string) (bool, error) {
	if f.assignTeamToIssueFn != nil {
		return f.assignTeamToIssueFn(ctx, entryID, teamID)
	}
	return true, nil
}

func (f *fakeStore) GetUpdateSheetOwnership(ctx context.Context, entryID string) (store.Ownership, error) {
	if f.getUpdateSheetOwnershipFn != nil {
		return f.getUpdateSheetOwnershipFn(ctx, entryID)
	}
	return store.Ownership{}, sql.ErrNoRows
}
func (f *fakeStore) GetIssueSheetOwnership(ctx context.Context, entryID string) (store.Ownership, error) {
	if f.getIssueSheetOwnershipFn != nil {
		return f.getIssueSheetOwnershipFn(ctx, entryID)
	}
	return store.Ownership{}, sql.ErrNoRows
}

func (f *fakeStore) SummaryCounts(context.Context) (store.Summary, error) {
	return store.Summary{}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}

type fakeCache struct {
	data   map[string][]byte
	setErr error
	getErr error
	sets   int
	purged []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	payload, ok := c.data[key]
	return payload, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, payload []byte) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.data[key] = payload
	return nil
}

func (c *fakeCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.purged = append(c.purged, prefix)
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		now:      time.Now,
	}
}

func userWith(id, role, serviceID string) func(context.Context, string) (store.User, error) {
	return func(_ context.Context, userID string) (store.User, error) {
		if userID != id {
			return store.User{}, sql.ErrNoRows
		}
		return store.User{ID: id, DisplayName: "Test User", Role: role, ServiceID: serviceID}, nil
	}
}

func domainCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("err = %v, want DomainError", err)
	}
	return domainErr.Status, domainErr.Code
}

func TestUpdateUpdateSheetAllowedForOwner(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_1", "SALES_MEMBER", "svc_1"),
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1", OwnerServiceID: "svc_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateUpdateSheet(context.Background(), Session{UserID: "usr_1", Role: "SALES_MEMBER"}, "upd_1", UpdateUpdateSheetInput{ClientName: "Acme", Body: "updated"})
	if err != nil {
		t.Fatalf("UpdateUpdateSheet: %v", err)
	}
}

func TestUpdateUpdateSheetDeniedForUnrelatedMember(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_2", "OPERATION_MEMBER", "svc_2"),
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1", OwnerServiceID: "svc_1", OwnerTeamIDs: []string{"team_1"}}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateUpdateSheet(context.Background(), Session{UserID: "usr_2", Role: "OPERATION_MEMBER"}, "upd_1", UpdateUpdateSheetInput{Body: "x"})
	status, code := domainCode(t, err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("status=%d code=%s", status, code)
	}
	var domainErr *DomainError
	errors.As(err, &domainErr)
	reason, _ := domainErr.Details.(string)
	if !strings.Contains(reason, "ownership") || !strings.Contains(reason, "admin") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestUpdateUpdateSheetAllowedForTeamLead(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_2", "OPERATION_MEMBER", "svc_2"),
		listUserMembershipsFn: func(context.Context, string) ([]store.TeamMembership, error) {
			return []store.TeamMembership{{TeamID: "team_1", UserID: "usr_2", Responsibility: "Leader"}}, nil
		},
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1", OwnerServiceID: "svc_1", OwnerTeamIDs: []string{"team_1"}}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateUpdateSheet(context.Background(), Session{UserID: "usr_2", Role: "OPERATION_MEMBER"}, "upd_1", UpdateUpdateSheetInput{Body: "x"}); err != nil {
		t.Fatalf("UpdateUpdateSheet: %v", err)
	}
}

func TestUpdateUpdateSheetAllowedViaFlag(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Role: "OPERATION_MEMBER", ServiceID: "svc_2", MessageUpdateAllowed: true}, nil
		},
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1", OwnerServiceID: "svc_1"}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateUpdateSheet(context.Background(), Session{UserID: "usr_2", Role: "OPERATION_MEMBER"}, "upd_1", UpdateUpdateSheetInput{Body: "x"}); err != nil {
		t.Fatalf("UpdateUpdateSheet: %v", err)
	}
}

func TestUpdateUpdateSheetMissingEntryIsNotFound(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWith("usr_1", "ADMIN", "")}
	svc := newTestService(fs)

	_, err := svc.UpdateUpdateSheet(context.Background(), Session{UserID: "usr_1", Role: "ADMIN"}, "upd_missing", UpdateUpdateSheetInput{Body: "x"})
	status, code := domainCode(t, err)
	if status != 404 || code != "NOT_FOUND" {
		t.Fatalf("status=%d code=%s", status, code)
	}
}

func TestTLCheckConflictWhenAlreadyChecked(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_9", "ADMIN", ""),
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1"}, nil
		},
		setTLCheckFn: func(context.Context, string, string) (bool, error) { return false, nil },
	}
	svc := newTestService(fs)

	_, err := svc.TLCheckUpdateSheet(context.Background(), Session{UserID: "usr_9", Role: "ADMIN"}, "upd_1")
	status, code := domainCode(t, err)
	if status != 409 || code != "CONFLICT" {
		t.Fatalf("status=%d code=%s", status, code)
	}
}

func TestCreateUpdateSheetRequiresGrant(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWith("usr_1", "OPERATION_MEMBER", "svc_1")}
	svc := newTestService(fs)
	session := Session{UserID: "usr_1", Role: "OPERATION_MEMBER"}

	_, err := svc.CreateUpdateSheet(context.Background(), session, CreateUpdateSheetInput{ClientName: "Acme", Body: "b"})
	status, code := domainCode(t, err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("status=%d code=%s", status, code)
	}

	fs.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, Role: "OPERATION_MEMBER", ServiceID: "svc_1", MessageCreateAllowed: true}, nil
	}
	entry, err := svc.CreateUpdateSheet(context.Background(), session, CreateUpdateSheetInput{ClientName: "Acme", Body: "b"})
	if err != nil {
		t.Fatalf("CreateUpdateSheet with grant: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected created entry")
	}
}

func TestListUpdateSheetsInvalidFilterRejectedBeforeStore(t *testing.T) {
	called := false
	fs := &fakeStore{
		countUpdateSheetsFn: func(context.Context, query.Filter) (int, error) {
			called = true
			return 0, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ListUpdateSheets(context.Background(), query.FilterSpec{CreatedFrom: "not-a-date"})
	status, code := domainCode(t, err)
	if status != 422 || code != "VALIDATION_ERROR" {
		t.Fatalf("status=%d code=%s", status, code)
	}
	if called {
		t.Fatal("store should not be hit for invalid filters")
	}
}

func TestListUpdateSheetsCachesEnvelope(t *testing.T) {
	counts := 0
	fs := &fakeStore{
		countUpdateSheetsFn: func(context.Context, query.Filter) (int, error) {
			counts++
			return 1, nil
		},
		listUpdateSheetsFn: func(context.Context, query.Filter) ([]store.UpdateSheetEntry, error) {
			return []store.UpdateSheetEntry{{ID: "upd_1", ClientName: "Acme"}}, nil
		},
	}
	svc := newTestService(fs)
	cache := newFakeCache()
	svc.cache = cache

	spec := query.FilterSpec{ServiceID: "svc_1"}
	first, err := svc.ListUpdateSheets(context.Background(), spec)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := svc.ListUpdateSheets(context.Background(), spec)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if counts != 1 {
		t.Fatalf("count queries = %d, want 1 (second page served from cache)", counts)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
	if len(first.Data) != 1 || len(second.Data) != 1 || second.Data[0].ID != "upd_1" {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestListUpdateSheetsCacheFailuresAreBestEffort(t *testing.T) {
	fs := &fakeStore{
		countUpdateSheetsFn: func(context.Context, query.Filter) (int, error) { return 0, nil },
	}
	svc := newTestService(fs)
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	svc.cache = cache

	envelope, err := svc.ListUpdateSheets(context.Background(), query.FilterSpec{})
	if err != nil {
		t.Fatalf("list with broken cache: %v", err)
	}
	if envelope.Pagination.CurrentPage != 1 {
		t.Fatalf("pagination = %+v", envelope.Pagination)
	}
}

func TestMutationInvalidatesUpdateCache(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_1", "ADMIN", ""),
		getUpdateSheetOwnershipFn: func(context.Context, string) (store.Ownership, error) {
			return store.Ownership{RecordID: "upd_1", OwnerID: "usr_1"}, nil
		},
	}
	svc := newTestService(fs)
	cache := newFakeCache()
	cache.data["update:stale"] = []byte("{}")
	svc.cache = cache

	if _, err := svc.MarkUpdateSheetSent(context.Background(), Session{UserID: "usr_1", Role: "ADMIN"}, "upd_1"); err != nil {
		t.Fatalf("MarkUpdateSheetSent: %v", err)
	}
	if len(cache.purged) != 1 || cache.purged[0] != "update:" {
		t.Fatalf("purged = %v", cache.purged)
	}
	if _, ok := cache.data["update:stale"]; ok {
		t.Fatal("stale page survived invalidation")
	}
}

func TestAssignIssueTeamUnknownTeamIsNotFound(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWith("usr_1", "ADMIN", "")}
	svc := newTestService(fs)

	_, err := svc.AssignIssueTeam(context.Background(), Session{UserID: "usr_1", Role: "ADMIN"}, "iss_1", "team_missing")
	status, code := domainCode(t, err)
	if status != 404 || code != "NOT_FOUND" {
		t.Fatalf("status=%d code=%s", status, code)
	}
}

func TestSetUserRoleAdminGrantNeedsSuperAdmin(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	err := svc.SetUserRole(context.Background(), Session{UserID: "usr_1", Role: "ADMIN"}, "usr_2", "ADMIN")
	status, code := domainCode(t, err)
	if status != 403 || code != "FORBIDDEN" {
		t.Fatalf("status=%d code=%s", status, code)
	}

	if err := svc.SetUserRole(context.Background(), Session{UserID: "usr_1", Role: "SUPER_ADMIN"}, "usr_2", "ADMIN"); err != nil {
		t.Fatalf("SetUserRole as super admin: %v", err)
	}
}

func TestSetUserRoleRejectsUnknownRole(t *testing.T) {
	svc := newTestService(&fakeStore{})
	err := svc.SetUserRole(context.Background(), Session{UserID: "usr_1", Role: "ADMIN"}, "usr_2", "WIZARD")
	status, code := domainCode(t, err)
	if status != 422 || code != "VALIDATION_ERROR" {
		t.Fatalf("status=%d code=%s", status, code)
	}
}

func TestAddTeamMemberLeaderGoesThroughPromotion(t *testing.T) {
	promoted := false
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_2", "OPERATION_MEMBER", "svc_1"),
		getTeamFn: func(_ context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID, Name: "Alpha", ServiceID: "svc_1"}, nil
		},
		promoteLeaderFn: func(context.Context, string, string) error {
			promoted = true
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.AddTeamMember(context.Background(), Session{UserID: "usr_9", Role: "ADMIN"}, "team_1", "usr_2", "Leader")
	if err != nil {
		t.Fatalf("AddTeamMember: %v", err)
	}
	if !promoted {
		t.Fatal("Leader assignment must run through PromoteLeader")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var savedHashes []string
	var revokedHashes []string
	fs := &fakeStore{
		getUserByIDFn: userWith("usr_1", "OPERATION_MEMBER", "svc_1"),
		lookupRefreshFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1"}, nil
		},
		saveRefreshFn: func(_ context.Context, tokenHash, _ string, _ time.Time) error {
			savedHashes = append(savedHashes, tokenHash)
			return nil
		},
		revokeRefreshFn: func(_ context.Context, tokenHash string) error {
			revokedHashes = append(revokedHashes, tokenHash)
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("session = %+v", session)
	}
	if len(revokedHashes) != 1 || len(savedHashes) != 1 {
		t.Fatalf("revoked=%v saved=%v", revokedHashes, savedHashes)
	}
	if revokedHashes[0] == savedHashes[0] {
		t.Fatal("rotation must issue a new token")
	}
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", DeactivatedAt: &now}, nil
		},
		lookupRefreshFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Refresh(context.Background(), "token")
	status, code := domainCode(t, err)
	if status != 401 || code != "UNAUTHORIZED" {
		t.Fatalf("status=%d code=%s", status, code)
	}
}
