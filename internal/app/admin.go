package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"opsdesk/api/internal/perm"
	"opsdesk/api/internal/query"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/util"
)

var allowedResponsibilities = map[string]struct{}{
	string(perm.Leader):   {},
	string(perm.Coleader): {},
	string(perm.Member):   {},
}

// UserSummary is the listing projection of a user, stripped of credentials.
type UserSummary struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"displayName"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	ServiceID     string     `json:"serviceId"`
	DeactivatedAt *time.Time `json:"deactivatedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type UserFlagsInput struct {
	MessageCreate  bool `json:"messageCreate"`
	MessageTLCheck bool `json:"messageTLCheck"`
	MessageUpdate  bool `json:"messageUpdate"`
	IssueUpdate    bool `json:"issueUpdate"`
	IssueAssign    bool `json:"issueAssign"`
}

func (s *Service) requireAdmin(session Session) error {
	if !perm.Normalize(session.Role).IsAdmin() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", "requires an admin role")
	}
	return nil
}

// canManageTeam allows admins, the manager of the team's service, and the
// team's own Leader.
func (s *Service) canManageTeam(ctx context.Context, session Session, team store.Team) error {
	if perm.Normalize(session.Role).IsAdmin() {
		return nil
	}
	if team.ServiceID != "" {
		service, err := s.store.GetService(ctx, team.ServiceID)
		if err == nil && service.ManagerID != "" && service.ManagerID == session.UserID {
			return nil
		}
	}
	identity, err := s.identity(ctx, session.UserID)
	if err != nil {
		return err
	}
	if identity.LeadsTeam(team.ID) {
		return nil
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden",
		"requires an admin role, management of the owning service, or leadership of this team")
}

func (s *Service) CreateService(ctx context.Context, session Session, name string) (store.Service, error) {
	if err := s.requireAdmin(session); err != nil {
		return store.Service{}, err
	}
	if strings.TrimSpace(name) == "" {
		return store.Service{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	service := store.Service{ID: util.NewID("svc"), Name: strings.TrimSpace(name)}
	if err := s.store.InsertService(ctx, service); err != nil {
		return store.Service{}, err
	}
	return s.store.GetService(ctx, service.ID)
}

func (s *Service) ListServices(ctx context.Context) ([]store.Service, error) {
	return s.store.ListServices(ctx)
}

// SetServiceManager assigns or clears the single manager slot of a service.
func (s *Service) SetServiceManager(ctx context.Context, session Session, serviceID, managerID string) (store.Service, error) {
	if err := s.requireAdmin(session); err != nil {
		return store.Service{}, err
	}
	if managerID != "" {
		if _, err := s.store.GetUserByID(ctx, managerID); err != nil {
			if store.IsNotFound(err) {
				return store.Service{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
			}
			return store.Service{}, err
		}
	}

	if err := s.store.SetServiceManager(ctx, serviceID, managerID); err != nil {
		if store.IsNotFound(err) {
			return store.Service{}, domainError(http.StatusNotFound, "NOT_FOUND", "Service not found", nil)
		}
		return store.Service{}, err
	}
	return s.store.GetService(ctx, serviceID)
}

func (s *Service) CreateTeam(ctx context.Context, session Session, name, serviceID string) (store.Team, error) {
	if strings.TrimSpace(name) == "" {
		return store.Team{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if serviceID != "" {
		service, err := s.store.GetService(ctx, serviceID)
		if err != nil {
			if store.IsNotFound(err) {
				return store.Team{}, domainError(http.StatusNotFound, "NOT_FOUND", "Service not found", nil)
			}
			return store.Team{}, err
		}
		if !perm.Normalize(session.Role).IsAdmin() && service.ManagerID != session.UserID {
			return store.Team{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden",
				"requires an admin role or management of the owning service")
		}
	} else if err := s.requireAdmin(session); err != nil {
		return store.Team{}, err
	}

	team := store.Team{ID: util.NewID("team"), Name: strings.TrimSpace(name), ServiceID: serviceID}
	if err := s.store.InsertTeam(ctx, team); err != nil {
		return store.Team{}, err
	}
	return s.store.GetTeam(ctx, team.ID)
}

func (s *Service) ListTeams(ctx context.Context, serviceID string) ([]store.Team, error) {
	return s.store.ListTeams(ctx, serviceID)
}

func (s *Service) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMembership, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
		}
		return nil, err
	}
	return s.store.ListTeamMembers(ctx, teamID)
}

func (s *Service) AddTeamMember(ctx context.Context, session Session, teamID, userID, responsibility string) error {
	if responsibility == "" {
		responsibility = string(perm.Member)
	}
	if _, ok := allowedResponsibilities[responsibility]; !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "responsibility must be Leader, Coleader or Member", nil)
	}

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
		}
		return err
	}
	if err := s.canManageTeam(ctx, session, team); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}

	// Leader goes through the promote path so the single-Leader rule holds.
	if responsibility == string(perm.Leader) {
		if err := s.store.AddTeamMember(ctx, teamID, userID, string(perm.Member)); err != nil {
			return err
		}
		return s.store.PromoteLeader(ctx, teamID, userID)
	}
	return s.store.AddTeamMember(ctx, teamID, userID, responsibility)
}

func (s *Service) RemoveTeamMember(ctx context.Context, session Session, teamID, userID string) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
		}
		return err
	}
	if err := s.canManageTeam(ctx, session, team); err != nil {
		return err
	}
	if err := s.store.RemoveTeamMember(ctx, teamID, userID); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Membership not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) PromoteLeader(ctx context.Context, session Session, teamID, userID string) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
		}
		return err
	}
	if err := s.canManageTeam(ctx, session, team); err != nil {
		return err
	}
	if err := s.store.PromoteLeader(ctx, teamID, userID); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Membership not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, search, serviceID string, page, limit int) (query.Envelope[UserSummary], error) {
	if page < 1 {
		page = query.DefaultPage
	}
	if limit < 1 {
		limit = query.DefaultLimit
	}

	total, err := s.store.CountUsers(ctx, search, serviceID)
	if err != nil {
		return query.Envelope[UserSummary]{}, err
	}
	users, err := s.store.ListUsers(ctx, search, serviceID, limit, (page-1)*limit)
	if err != nil {
		return query.Envelope[UserSummary]{}, err
	}

	items := make([]UserSummary, 0, len(users))
	for _, u := range users {
		items = append(items, UserSummary{
			ID:            u.ID,
			DisplayName:   u.DisplayName,
			Email:         u.Email,
			Role:          u.Role,
			ServiceID:     u.ServiceID,
			DeactivatedAt: u.DeactivatedAt,
			CreatedAt:     u.CreatedAt,
		})
	}
	return query.NewEnvelope(items, page, limit, total), nil
}

func (s *Service) SetUserRole(ctx context.Context, session Session, userID, role string) error {
	if err := s.requireAdmin(session); err != nil {
		return err
	}
	normalized := perm.Normalize(role)
	if string(normalized) != role {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", nil)
	}
	// Only a super admin may hand out admin roles.
	if normalized.IsAdmin() && perm.Normalize(session.Role) != perm.RoleSuperAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", "granting admin roles requires SUPER_ADMIN")
	}

	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) SetUserFlags(ctx context.Context, session Session, userID string, flags UserFlagsInput) error {
	if err := s.requireAdmin(session); err != nil {
		return err
	}
	err := s.store.UpdateUserFlags(ctx, userID,
		flags.MessageCreate, flags.MessageTLCheck, flags.MessageUpdate,
		flags.IssueUpdate, flags.IssueAssign)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) SetUserDeactivated(ctx context.Context, session Session, userID string, deactivated bool) error {
	if err := s.requireAdmin(session); err != nil {
		return err
	}
	if session.UserID == userID && deactivated {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot deactivate your own account", nil)
	}
	if err := s.store.SetUserDeactivated(ctx, userID, deactivated); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	return nil
}
