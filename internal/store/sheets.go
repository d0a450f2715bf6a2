package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"opsdesk/api/internal/query"
)

// whereBuilder accumulates SQL conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *whereBuilder) add(format string, values ...any) {
	placeholders := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = b.arg(v)
	}
	b.conds = append(b.conds, fmt.Sprintf(format, placeholders...))
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return "TRUE"
	}
	return strings.Join(b.conds, " AND ")
}

// updateSheetWhere translates a normalized filter into the update-sheet
// predicate. Text filters are case-insensitive substring matches; date
// bounds are inclusive.
func updateSheetWhere(f query.Filter) *whereBuilder {
	b := &whereBuilder{}
	if f.ProfileID != "" {
		b.add("e.created_by=%s", f.ProfileID)
	}
	if f.ServiceID != "" {
		b.add("e.service_id=%s", f.ServiceID)
	}
	if f.TeamID != "" {
		b.add("e.team_id=%s", f.TeamID)
	}
	if f.ClientName != "" {
		b.add("e.client_name ILIKE '%%' || %s || '%%'", f.ClientName)
	}
	if f.OrderID != "" {
		b.add("e.order_id ILIKE '%%' || %s || '%%'", f.OrderID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, status := range f.Statuses {
			placeholders[i] = b.arg(status)
		}
		b.conds = append(b.conds, "e.status IN ("+strings.Join(placeholders, ", ")+")")
	}
	addRange(b, "e.created_at", f.Created)
	addRange(b, "e.send_at", f.Send)
	switch f.TLChecked {
	case query.Present:
		b.conds = append(b.conds, "e.tl_id IS NOT NULL")
	case query.Absent:
		b.conds = append(b.conds, "e.tl_id IS NULL")
	}
	return b
}

func issueSheetWhere(f query.Filter) *whereBuilder {
	b := &whereBuilder{}
	if f.ProfileID != "" {
		b.add("e.created_by=%s", f.ProfileID)
	}
	if f.ServiceID != "" {
		b.add("e.service_id=%s", f.ServiceID)
	}
	if f.TeamID != "" {
		b.add("(e.team_id=%s OR e.assigned_team_id=%s)", f.TeamID, f.TeamID)
	}
	if f.ClientName != "" {
		b.add("e.client_name ILIKE '%%' || %s || '%%'", f.ClientName)
	}
	if f.OrderID != "" {
		b.add("e.order_id ILIKE '%%' || %s || '%%'", f.OrderID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, status := range f.Statuses {
			placeholders[i] = b.arg(status)
		}
		b.conds = append(b.conds, "e.status IN ("+strings.Join(placeholders, ", ")+")")
	}
	addRange(b, "e.created_at", f.Created)
	return b
}

func addRange(b *whereBuilder, column string, r query.DateRange) {
	if r.From != nil {
		b.add(column+" >= %s", *r.From)
	}
	if r.To != nil {
		b.add(column+" <= %s", *r.To)
	}
}

const updateSheetColumns = `
	e.id, e.client_name, e.order_id, e.body, e.status,
	e.created_by, COALESCE(u.display_name, ''), COALESCE(e.service_id, ''), COALESCE(e.team_id, ''),
	e.tl_id, e.tl_checked_at, e.done_by, e.done_at, e.send_at, e.sent_at, e.created_at
`

func (s *PostgresStore) CountUpdateSheets(ctx context.Context, f query.Filter) (int, error) {
	b := updateSheetWhere(f)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM update_sheet_entries e WHERE `+b.sql(), b.args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count update sheets: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUpdateSheets(ctx context.Context, f query.Filter) ([]UpdateSheetEntry, error) {
	b := updateSheetWhere(f)
	querySQL := `
		SELECT ` + updateSheetColumns + `
		FROM update_sheet_entries e
		LEFT JOIN users u ON u.id = e.created_by
		WHERE ` + b.sql() + `
		ORDER BY e.created_at DESC
		LIMIT ` + b.arg(f.Limit) + ` OFFSET ` + b.arg(f.Skip)
	rows, err := s.db.QueryContext(ctx, querySQL, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list update sheets: %w", err)
	}
	defer rows.Close()

	items := make([]UpdateSheetEntry, 0)
	for rows.Next() {
		var item UpdateSheetEntry
		if err := rows.Scan(
			&item.ID,
			&item.ClientName,
			&item.OrderID,
			&item.Body,
			&item.Status,
			&item.CreatedBy,
			&item.CreatorName,
			&item.ServiceID,
			&item.TeamID,
			&item.TLID,
			&item.TLCheckedAt,
			&item.DoneBy,
			&item.DoneAt,
			&item.SendAt,
			&item.SentAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan update sheet: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate update sheets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUpdateSheet(ctx context.Context, entryID string) (UpdateSheetEntry, error) {
	var item UpdateSheetEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT `+updateSheetColumns+`
		FROM update_sheet_entries e
		LEFT JOIN users u ON u.id = e.created_by
		WHERE e.id=$1
	`, entryID).Scan(
		&item.ID,
		&item.ClientName,
		&item.OrderID,
		&item.Body,
		&item.Status,
		&item.CreatedBy,
		&item.CreatorName,
		&item.ServiceID,
		&item.TeamID,
		&item.TLID,
		&item.TLCheckedAt,
		&item.DoneBy,
		&item.DoneAt,
		&item.SendAt,
		&item.SentAt,
		&item.CreatedAt,
	)
	if err != nil {
		return UpdateSheetEntry{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertUpdateSheet(ctx context.Context, entry UpdateSheetEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_sheet_entries (id, client_name, order_id, body, status, created_by, service_id, team_id, send_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`, entry.ID, entry.ClientName, entry.OrderID, entry.Body, entry.Status, entry.CreatedBy, entry.ServiceID, entry.TeamID, entry.SendAt)
	if err != nil {
		return fmt.Errorf("insert update sheet: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUpdateSheet(ctx context.Context, entryID, clientName, orderID, body string, sendAt *time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_sheet_entries
		SET client_name=$2, order_id=$3, body=$4, send_at=$5
		WHERE id=$1
	`, entryID, clientName, orderID, body, sendAt)
	if err != nil {
		return false, fmt.Errorf("update update sheet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update update sheet rows: %w", err)
	}
	return affected > 0, nil
}

// SetTLCheck records the team-lead verification: who checked and when.
func (s *PostgresStore) SetTLCheck(ctx context.Context, entryID, tlID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_sheet_entries
		SET tl_id=$2, tl_checked_at=NOW()
		WHERE id=$1 AND tl_id IS NULL
	`, entryID, tlID)
	if err != nil {
		return false, fmt.Errorf("set tl check: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set tl check rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, entryID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_sheet_entries
		SET sent_at=NOW(), status='Sent'
		WHERE id=$1 AND sent_at IS NULL
	`, entryID)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark sent rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, entryID, doneBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE update_sheet_entries
		SET done_by=$2, done_at=NOW(), status='Done'
		WHERE id=$1 AND done_by IS NULL
	`, entryID, doneBy)
	if err != nil {
		return false, fmt.Errorf("mark done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark done rows: %w", err)
	}
	return affected > 0, nil
}

const issueSheetColumns = `
	e.id, e.client_name, e.order_id, e.title, e.body, e.status,
	e.created_by, COALESCE(u.display_name, ''), COALESCE(e.service_id, ''), COALESCE(e.team_id, ''),
	e.assigned_team_id, e.created_at, e.updated_at
`

func (s *PostgresStore) CountIssueSheets(ctx context.Context, f query.Filter) (int, error) {
	b := issueSheetWhere(f)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_sheet_entries e WHERE `+b.sql(), b.args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issue sheets: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListIssueSheets(ctx context.Context, f query.Filter) ([]IssueSheetEntry, error) {
	b := issueSheetWhere(f)
	querySQL := `
		SELECT ` + issueSheetColumns + `
		FROM issue_sheet_entries e
		LEFT JOIN users u ON u.id = e.created_by
		WHERE ` + b.sql() + `
		ORDER BY e.created_at DESC
		LIMIT ` + b.arg(f.Limit) + ` OFFSET ` + b.arg(f.Skip)
	rows, err := s.db.QueryContext(ctx, querySQL, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list issue sheets: %w", err)
	}
	defer rows.Close()

	items := make([]IssueSheetEntry, 0)
	for rows.Next() {
		var item IssueSheetEntry
		if err := rows.Scan(
			&item.ID,
			&item.ClientName,
			&item.OrderID,
			&item.Title,
			&item.Body,
			&item.Status,
			&item.CreatedBy,
			&item.CreatorName,
			&item.ServiceID,
			&item.TeamID,
			&item.AssignedTeamID,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan issue sheet: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue sheets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetIssueSheet(ctx context.Context, entryID string) (IssueSheetEntry, error) {
	var item IssueSheetEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT `+issueSheetColumns+`
		FROM issue_sheet_entries e
		LEFT JOIN users u ON u.id = e.created_by
		WHERE e.id=$1
	`, entryID).Scan(
		&item.ID,
		&item.ClientName,
		&item.OrderID,
		&item.Title,
		&item.Body,
		&item.Status,
		&item.CreatedBy,
		&item.CreatorName,
		&item.ServiceID,
		&item.TeamID,
		&item.AssignedTeamID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return IssueSheetEntry{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertIssueSheet(ctx context.Context, entry IssueSheetEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_sheet_entries (id, client_name, order_id, title, body, status, created_by, service_id, team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, entry.ID, entry.ClientName, entry.OrderID, entry.Title, entry.Body, entry.Status, entry.CreatedBy, entry.ServiceID, entry.TeamID)
	if err != nil {
		return fmt.Errorf("insert issue sheet: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIssueSheet(ctx context.Context, entryID, title, body string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_sheet_entries
		SET title=$2, body=$3, updated_at=NOW()
		WHERE id=$1
	`, entryID, title, body)
	if err != nil {
		return false, fmt.Errorf("update issue sheet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update issue sheet rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, entryID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_sheet_entries
		SET status=$2, updated_at=NOW()
		WHERE id=$1
	`, entryID, status)
	if err != nil {
		return false, fmt.Errorf("update issue status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update issue status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) AssignTeamToIssue(ctx context.Context, entryID, teamID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_sheet_entries
		SET assigned_team_id=NULLIF($2, ''), updated_at=NOW()
		WHERE id=$1
	`, entryID, teamID)
	if err != nil {
		return false, fmt.Errorf("assign team to issue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign team to issue rows: %w", err)
	}
	return affected > 0, nil
}
