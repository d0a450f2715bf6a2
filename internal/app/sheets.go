package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"opsdesk/api/internal/perm"
	"opsdesk/api/internal/query"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/util"
)

var allowedIssueStatuses = map[string]struct{}{
	"OPEN":        {},
	"IN_PROGRESS": {},
	"RESOLVED":    {},
	"CLOSED":      {},
}

type CreateUpdateSheetInput struct {
	ClientName string     `json:"clientName"`
	OrderID    string     `json:"orderId"`
	Body       string     `json:"body"`
	TeamID     string     `json:"teamId"`
	SendAt     *time.Time `json:"sendAt"`
}

type UpdateUpdateSheetInput struct {
	ClientName string     `json:"clientName"`
	OrderID    string     `json:"orderId"`
	Body       string     `json:"body"`
	SendAt     *time.Time `json:"sendAt"`
}

type CreateIssueSheetInput struct {
	ClientName string `json:"clientName"`
	OrderID    string `json:"orderId"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	TeamID     string `json:"teamId"`
}

type UpdateIssueSheetInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// listWithCache normalizes the filter, serves a cached page when one exists,
// and otherwise runs count + page over the same predicate and caches the
// envelope. Cache failures are logged, never surfaced.
func listWithCache[T any](ctx context.Context, s *Service, prefix string, spec query.FilterSpec,
	count func(context.Context, query.Filter) (int, error),
	list func(context.Context, query.Filter) ([]T, error),
) (query.Envelope[T], error) {
	filter, err := spec.Normalize(s.now())
	if err != nil {
		return query.Envelope[T]{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	key := prefix + spec.CacheKey()
	if s.cache != nil {
		payload, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Printf("list cache get %s: %v", prefix, err)
		} else if ok {
			var envelope query.Envelope[T]
			if err := json.Unmarshal(payload, &envelope); err == nil {
				return envelope, nil
			}
			log.Printf("list cache decode %s: stale payload dropped", prefix)
		}
	}

	total, err := count(ctx, filter)
	if err != nil {
		return query.Envelope[T]{}, err
	}
	items, err := list(ctx, filter)
	if err != nil {
		return query.Envelope[T]{}, err
	}
	envelope := query.NewEnvelope(items, filter.Page, filter.Limit, total)

	if s.cache != nil {
		if payload, err := json.Marshal(envelope); err == nil {
			if err := s.cache.Set(ctx, key, payload); err != nil {
				log.Printf("list cache set %s: %v", prefix, err)
			}
		}
	}
	return envelope, nil
}

func (s *Service) invalidateListCache(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, prefix); err != nil {
		log.Printf("list cache invalidate %s: %v", prefix, err)
	}
}

func (s *Service) ListUpdateSheets(ctx context.Context, spec query.FilterSpec) (query.Envelope[store.UpdateSheetEntry], error) {
	return listWithCache(ctx, s, "update:", spec, s.store.CountUpdateSheets, s.store.ListUpdateSheets)
}

func (s *Service) ListIssueSheets(ctx context.Context, spec query.FilterSpec) (query.Envelope[store.IssueSheetEntry], error) {
	return listWithCache(ctx, s, "issue:", spec, s.store.CountIssueSheets, s.store.ListIssueSheets)
}

func (s *Service) GetUpdateSheet(ctx context.Context, entryID string) (store.UpdateSheetEntry, error) {
	entry, err := s.store.GetUpdateSheet(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
		}
		return store.UpdateSheetEntry{}, err
	}
	return entry, nil
}

func (s *Service) GetIssueSheet(ctx context.Context, entryID string) (store.IssueSheetEntry, error) {
	entry, err := s.store.GetIssueSheet(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
		}
		return store.IssueSheetEntry{}, err
	}
	return entry, nil
}

func (s *Service) CreateUpdateSheet(ctx context.Context, session Session, input CreateUpdateSheetInput) (store.UpdateSheetEntry, error) {
	if strings.TrimSpace(input.ClientName) == "" || strings.TrimSpace(input.Body) == "" {
		return store.UpdateSheetEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientName and body are required", nil)
	}

	identity, err := s.identity(ctx, session.UserID)
	if err != nil {
		return store.UpdateSheetEntry{}, err
	}
	if !identity.Role.IsAdmin() && !identity.IsLeader() && !identity.Flags.Has(perm.FlagMessageCreate) {
		return store.UpdateSheetEntry{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden",
			"creating update entries requires an admin role, team leadership, or the message-create grant")
	}

	entry := store.UpdateSheetEntry{
		ID:         util.NewID("upd"),
		ClientName: strings.TrimSpace(input.ClientName),
		OrderID:    strings.TrimSpace(input.OrderID),
		Body:       input.Body,
		Status:     "Pending",
		CreatedBy:  session.UserID,
		ServiceID:  identity.ServiceID,
		TeamID:     input.TeamID,
		SendAt:     input.SendAt,
	}
	if err := s.store.InsertUpdateSheet(ctx, entry); err != nil {
		return store.UpdateSheetEntry{}, err
	}
	s.invalidateListCache(ctx, "update:")
	return s.GetUpdateSheet(ctx, entry.ID)
}

func (s *Service) UpdateUpdateSheet(ctx context.Context, session Session, entryID string, input UpdateUpdateSheetInput) (store.UpdateSheetEntry, error) {
	ownership, err := s.store.GetUpdateSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
		}
		return store.UpdateSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagMessageUpdate); err != nil {
		return store.UpdateSheetEntry{}, err
	}

	ok, err := s.store.UpdateUpdateSheet(ctx, entryID, strings.TrimSpace(input.ClientName), strings.TrimSpace(input.OrderID), input.Body, input.SendAt)
	if err != nil {
		return store.UpdateSheetEntry{}, err
	}
	if !ok {
		return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
	}
	s.invalidateListCache(ctx, "update:")
	return s.GetUpdateSheet(ctx, entryID)
}

// TLCheckUpdateSheet stamps the caller as the checking team lead. The stamp is
// write-once; a second check is a conflict, not an overwrite.
func (s *Service) TLCheckUpdateSheet(ctx context.Context, session Session, entryID string) (store.UpdateSheetEntry, error) {
	ownership, err := s.store.GetUpdateSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
		}
		return store.UpdateSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagMessageTLCheck); err != nil {
		return store.UpdateSheetEntry{}, err
	}

	ok, err := s.store.SetTLCheck(ctx, entryID, session.UserID)
	if err != nil {
		return store.UpdateSheetEntry{}, err
	}
	if !ok {
		return store.UpdateSheetEntry{}, domainError(http.StatusConflict, "CONFLICT", "Entry is already TL-checked", nil)
	}
	s.invalidateListCache(ctx, "update:")
	return s.GetUpdateSheet(ctx, entryID)
}

func (s *Service) MarkUpdateSheetSent(ctx context.Context, session Session, entryID string) (store.UpdateSheetEntry, error) {
	ownership, err := s.store.GetUpdateSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
		}
		return store.UpdateSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagMessageUpdate); err != nil {
		return store.UpdateSheetEntry{}, err
	}

	ok, err := s.store.MarkSent(ctx, entryID)
	if err != nil {
		return store.UpdateSheetEntry{}, err
	}
	if !ok {
		return store.UpdateSheetEntry{}, domainError(http.StatusConflict, "CONFLICT", "Entry is already marked as sent", nil)
	}
	s.invalidateListCache(ctx, "update:")
	return s.GetUpdateSheet(ctx, entryID)
}

func (s *Service) MarkUpdateSheetDone(ctx context.Context, session Session, entryID string) (store.UpdateSheetEntry, error) {
	ownership, err := s.store.GetUpdateSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.UpdateSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Update sheet entry not found", nil)
		}
		return store.UpdateSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagMessageUpdate); err != nil {
		return store.UpdateSheetEntry{}, err
	}

	ok, err := s.store.MarkDone(ctx, entryID, session.UserID)
	if err != nil {
		return store.UpdateSheetEntry{}, err
	}
	if !ok {
		return store.UpdateSheetEntry{}, domainError(http.StatusConflict, "CONFLICT", "Entry is already marked as done", nil)
	}
	s.invalidateListCache(ctx, "update:")
	return s.GetUpdateSheet(ctx, entryID)
}

func (s *Service) CreateIssueSheet(ctx context.Context, session Session, input CreateIssueSheetInput) (store.IssueSheetEntry, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.IssueSheetEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	identity, err := s.identity(ctx, session.UserID)
	if err != nil {
		return store.IssueSheetEntry{}, err
	}

	// Any active member may report an issue against their own service.
	entry := store.IssueSheetEntry{
		ID:         util.NewID("iss"),
		ClientName: strings.TrimSpace(input.ClientName),
		OrderID:    strings.TrimSpace(input.OrderID),
		Title:      strings.TrimSpace(input.Title),
		Body:       input.Body,
		Status:     "OPEN",
		CreatedBy:  session.UserID,
		ServiceID:  identity.ServiceID,
		TeamID:     input.TeamID,
	}
	if err := s.store.InsertIssueSheet(ctx, entry); err != nil {
		return store.IssueSheetEntry{}, err
	}
	s.invalidateListCache(ctx, "issue:")
	return s.GetIssueSheet(ctx, entry.ID)
}

func (s *Service) UpdateIssueSheet(ctx context.Context, session Session, entryID string, input UpdateIssueSheetInput) (store.IssueSheetEntry, error) {
	ownership, err := s.store.GetIssueSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
		}
		return store.IssueSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagIssueUpdate); err != nil {
		return store.IssueSheetEntry{}, err
	}

	ok, err := s.store.UpdateIssueSheet(ctx, entryID, strings.TrimSpace(input.Title), input.Body)
	if err != nil {
		return store.IssueSheetEntry{}, err
	}
	if !ok {
		return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
	}
	s.invalidateListCache(ctx, "issue:")
	return s.GetIssueSheet(ctx, entryID)
}

func (s *Service) UpdateIssueStatus(ctx context.Context, session Session, entryID, status string) (store.IssueSheetEntry, error) {
	if _, ok := allowedIssueStatuses[status]; !ok {
		return store.IssueSheetEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be OPEN, IN_PROGRESS, RESOLVED or CLOSED", nil)
	}

	ownership, err := s.store.GetIssueSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
		}
		return store.IssueSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagIssueUpdate); err != nil {
		return store.IssueSheetEntry{}, err
	}

	ok, err := s.store.UpdateIssueStatus(ctx, entryID, status)
	if err != nil {
		return store.IssueSheetEntry{}, err
	}
	if !ok {
		return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
	}
	s.invalidateListCache(ctx, "issue:")
	return s.GetIssueSheet(ctx, entryID)
}

func (s *Service) AssignIssueTeam(ctx context.Context, session Session, entryID, teamID string) (store.IssueSheetEntry, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		if store.IsNotFound(err) {
			return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
		}
		return store.IssueSheetEntry{}, err
	}

	ownership, err := s.store.GetIssueSheetOwnership(ctx, entryID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
		}
		return store.IssueSheetEntry{}, err
	}
	if err := s.authorize(ctx, session, ownership, perm.FlagIssueAssign); err != nil {
		return store.IssueSheetEntry{}, err
	}

	ok, err := s.store.AssignTeamToIssue(ctx, entryID, teamID)
	if err != nil {
		return store.IssueSheetEntry{}, err
	}
	if !ok {
		return store.IssueSheetEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Issue sheet entry not found", nil)
	}
	s.invalidateListCache(ctx, "issue:")
	return s.GetIssueSheet(ctx, entryID)
}

func (s *Service) Summary(ctx context.Context) (store.Summary, error) {
	return s.store.SummaryCounts(ctx)
}
