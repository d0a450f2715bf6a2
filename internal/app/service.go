// Package app holds the service layer and HTTP surface of the portal.
package app

import (
	"context"
	"net/http"
	"time"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/authpw"
	"opsdesk/api/internal/config"
	"opsdesk/api/internal/perm"
	"opsdesk/api/internal/query"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserRole(context.Context, string, string) error
	UpdateUserFlags(context.Context, string, bool, bool, bool, bool, bool) error
	SetUserDeactivated(context.Context, string, bool) error
	CountUsers(context.Context, string, string) (int, error)
	ListUsers(context.Context, string, string, int, int) ([]store.User, error)

	InsertService(context.Context, store.Service) error
	GetService(context.Context, string) (store.Service, error)
	ListServices(context.Context) ([]store.Service, error)
	SetServiceManager(context.Context, string, string) error

	InsertTeam(context.Context, store.Team) error
	GetTeam(context.Context, string) (store.Team, error)
	ListTeams(context.Context, string) ([]store.Team, error)
	AddTeamMember(context.Context, string, string, string) error
	RemoveTeamMember(context.Context, string, string) error
	PromoteLeader(context.Context, string, string) error
	ListUserMemberships(context.Context, string) ([]store.TeamMembership, error)
	ListTeamMembers(context.Context, string) ([]store.TeamMembership, error)

	CountUpdateSheets(context.Context, query.Filter) (int, error)
	ListUpdateSheets(context.Context, query.Filter) ([]store.UpdateSheetEntry, error)
	GetUpdateSheet(context.Context, string) (store.UpdateSheetEntry, error)
	InsertUpdateSheet(context.Context, store.UpdateSheetEntry) error
	UpdateUpdateSheet(context.Context, string, string, string, string, *time.Time) (bool, error)
	SetTLCheck(context.Context, string, string) (bool, error)
	MarkSent(context.Context, string) (bool, error)
	MarkDone(context.Context, string, string) (bool, error)

	CountIssueSheets(context.Context, query.Filter) (int, error)
	ListIssueSheets(context.Context, query.Filter) ([]store.IssueSheetEntry, error)
	GetIssueSheet(context.Context, string) (store.IssueSheetEntry, error)
	InsertIssueSheet(context.Context, store.IssueSheetEntry) error
	UpdateIssueSheet(context.Context, string, string, string) (bool, error)
	UpdateIssueStatus(context.Context, string, string) (bool, error)
	AssignTeamToIssue(context.Context, string, string) (bool, error)

	GetUpdateSheetOwnership(context.Context, string) (store.Ownership, error)
	GetIssueSheetOwnership(context.Context, string) (store.Ownership, error)

	SummaryCounts(context.Context) (store.Summary, error)
	Ping(ctx context.Context) error
}

// sessionStore is where refresh tokens live. Redis when configured, the
// Postgres refresh_sessions table otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type listCache interface {
	Get(context.Context, string) ([]byte, bool, error)
	Set(context.Context, string, []byte) error
	InvalidatePrefix(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	cache    listCache
	authpw   *authpw.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
		now:      time.Now,
	}
}

// UseSessionStore swaps the refresh-token backend, normally for Redis.
func (s *Service) UseSessionStore(sessions sessionStore) {
	s.sessions = sessions
}

// UseListCache enables list-result caching.
func (s *Service) UseListCache(cache listCache) {
	s.cache = cache
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, bool, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, false, domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	}
	if resp.RequiresVerify {
		return Session{}, true, nil
	}
	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return Session{}, false, err
	}
	return session, false, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sparse, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	// Re-read the user so a role change or deactivation takes effect on rotation.
	user, err := s.store.GetUserByID(ctx, sparse.ID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if user.DeactivatedAt != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Account deactivated", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// identity loads the caller's role, service, memberships and flags. It runs
// fresh on every mutating call; grants and demotions apply immediately.
func (s *Service) identity(ctx context.Context, userID string) (perm.Identity, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return perm.Identity{}, err
	}
	memberships, err := s.store.ListUserMemberships(ctx, userID)
	if err != nil {
		return perm.Identity{}, err
	}

	identity := perm.Identity{
		ID:        user.ID,
		Role:      perm.Normalize(user.Role),
		ServiceID: user.ServiceID,
		Flags: perm.Flags{
			MessageCreate:  user.MessageCreateAllowed,
			MessageTLCheck: user.MessageTLCheckAllowed,
			MessageUpdate:  user.MessageUpdateAllowed,
			IssueUpdate:    user.IssueUpdateAllowed,
			IssueAssign:    user.IssueAssignAllowed,
		},
	}
	for _, m := range memberships {
		identity.Memberships = append(identity.Memberships, perm.Membership{
			TeamID:         m.TeamID,
			Responsibility: perm.Responsibility(m.Responsibility),
		})
	}
	return identity, nil
}

func toRecord(o store.Ownership) perm.Record {
	return perm.Record{
		ID:               o.RecordID,
		OwnerID:          o.OwnerID,
		OwnerServiceID:   o.OwnerServiceID,
		OwnerTeamIDs:     o.OwnerTeamIDs,
		ServiceManagerID: o.ServiceManagerID,
	}
}

// authorize runs the resolver for an existing entry and maps a denial to a 403
// carrying the decision reason.
func (s *Service) authorize(ctx context.Context, session Session, ownership store.Ownership, flag perm.FlagKind) error {
	identity, err := s.identity(ctx, session.UserID)
	if err != nil {
		return err
	}
	decision := perm.CanEdit(identity, toRecord(ownership), flag)
	if !decision.Allowed {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", decision.Reason)
	}
	return nil
}
