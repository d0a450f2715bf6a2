package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `
	id, display_name, email, COALESCE(password_hash, ''), role, COALESCE(service_id, ''),
	is_email_verified, COALESCE(verification_token, ''), verification_expires_at,
	deactivated_at, created_at,
	msg_create_allowed, msg_tl_check_allowed, msg_update_allowed,
	issue_update_allowed, issue_assign_allowed
`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.ServiceID,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.DeactivatedAt,
		&user.CreatedAt,
		&user.MessageCreateAllowed,
		&user.MessageTLCheckAllowed,
		&user.MessageUpdateAllowed,
		&user.IssueUpdateAllowed,
		&user.IssueAssignAllowed,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, service_id, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.ServiceID, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// GetPasswordReset returns the user a live, unused reset token belongs to.
func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE password_resets SET used_at=NOW() WHERE token=$1 AND used_at IS NULL
	`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark password reset used rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserFlags(ctx context.Context, userID string, msgCreate, msgTLCheck, msgUpdate, issueUpdate, issueAssign bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET msg_create_allowed=$2, msg_tl_check_allowed=$3, msg_update_allowed=$4,
		    issue_update_allowed=$5, issue_assign_allowed=$6
		WHERE id=$1
	`, userID, msgCreate, msgTLCheck, msgUpdate, issueUpdate, issueAssign)
	if err != nil {
		return fmt.Errorf("update user flags: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	query := `UPDATE users SET deactivated_at=NOW() WHERE id=$1`
	if !deactivated {
		query = `UPDATE users SET deactivated_at=NULL WHERE id=$1`
	}
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("set user deactivated: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context, search, serviceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users
		WHERE ($1='' OR display_name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%')
		  AND ($2='' OR service_id=$2)
	`, search, serviceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, search, serviceID string, limit, offset int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1='' OR display_name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%')
		  AND ($2='' OR service_id=$2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, search, serviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertService(ctx context.Context, service Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name) VALUES ($1, $2)
	`, service.ID, service.Name)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetService(ctx context.Context, serviceID string) (Service, error) {
	var item Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(manager_id, ''), created_at FROM services WHERE id=$1
	`, serviceID).Scan(&item.ID, &item.Name, &item.ManagerID, &item.CreatedAt)
	if err != nil {
		return Service{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(manager_id, ''), created_at FROM services ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	items := make([]Service, 0)
	for rows.Next() {
		var item Service
		if err := rows.Scan(&item.ID, &item.Name, &item.ManagerID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return items, nil
}

// SetServiceManager replaces the service's manager; an empty managerID clears
// it. A service carries at most one manager.
func (s *PostgresStore) SetServiceManager(ctx context.Context, serviceID, managerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE services SET manager_id=NULLIF($2, '') WHERE id=$1
	`, serviceID, managerID)
	if err != nil {
		return fmt.Errorf("set service manager: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set service manager rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, service_id) VALUES ($1, $2, NULLIF($3, ''))
	`, team.ID, team.Name, team.ServiceID)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var item Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(service_id, ''), created_at FROM teams WHERE id=$1
	`, teamID).Scan(&item.ID, &item.Name, &item.ServiceID, &item.CreatedAt)
	if err != nil {
		return Team{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, serviceID string) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(service_id, ''), created_at
		FROM teams
		WHERE ($1='' OR service_id=$1)
		ORDER BY name ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	items := make([]Team, 0)
	for rows.Next() {
		var item Team
		if err := rows.Scan(&item.ID, &item.Name, &item.ServiceID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID, responsibility string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, user_id, responsibility)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET responsibility=EXCLUDED.responsibility
	`, teamID, userID, responsibility)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM team_memberships WHERE team_id=$1 AND user_id=$2
	`, teamID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

// PromoteLeader makes the user the team's sole Leader. The demotion of the
// current leader and the promotion run in one transaction so the at-most-one
// leader rule cannot be observed violated.
func (s *PostgresStore) PromoteLeader(ctx context.Context, teamID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote leader: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE team_memberships SET responsibility='Member'
		WHERE team_id=$1 AND responsibility='Leader' AND user_id <> $2
	`, teamID, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("demote leader: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE team_memberships SET responsibility='Leader'
		WHERE team_id=$1 AND user_id=$2
	`, teamID, userID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("promote leader: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("promote leader rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote leader: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUserMemberships(ctx context.Context, userID string) ([]TeamMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, user_id, responsibility, created_at
		FROM team_memberships
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMembership, 0)
	for rows.Next() {
		var item TeamMembership
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.Responsibility, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, user_id, responsibility, created_at
		FROM team_memberships
		WHERE team_id=$1
		ORDER BY responsibility ASC, created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMembership, 0)
	for rows.Next() {
		var item TeamMembership
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.Responsibility, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (Summary, error) {
	var summary Summary
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issue_sheet_entries WHERE status NOT IN ('RESOLVED', 'CLOSED')
	`).Scan(&summary.OpenIssues); err != nil {
		return Summary{}, fmt.Errorf("count open issues: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM update_sheet_entries WHERE sent_at IS NULL
	`).Scan(&summary.UnsentUpdates); err != nil {
		return Summary{}, fmt.Errorf("count unsent updates: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM update_sheet_entries WHERE tl_checked_at >= date_trunc('day', NOW())
	`).Scan(&summary.TLCheckedToday); err != nil {
		return Summary{}, fmt.Errorf("count tl checked today: %w", err)
	}
	return summary, nil
}

// GetUpdateSheetOwnership loads the resolver projection for an update-sheet
// entry: owner, the owner's service and its manager, and the owner's teams.
func (s *PostgresStore) GetUpdateSheetOwnership(ctx context.Context, entryID string) (Ownership, error) {
	return s.getOwnership(ctx, `
		SELECT e.id, e.created_by, COALESCE(u.service_id, ''), COALESCE(sv.manager_id, '')
		FROM update_sheet_entries e
		JOIN users u ON u.id = e.created_by
		LEFT JOIN services sv ON sv.id = u.service_id
		WHERE e.id=$1
	`, entryID)
}

// GetIssueSheetOwnership is the issue-sheet counterpart of
// GetUpdateSheetOwnership.
func (s *PostgresStore) GetIssueSheetOwnership(ctx context.Context, entryID string) (Ownership, error) {
	return s.getOwnership(ctx, `
		SELECT e.id, e.created_by, COALESCE(u.service_id, ''), COALESCE(sv.manager_id, '')
		FROM issue_sheet_entries e
		JOIN users u ON u.id = e.created_by
		LEFT JOIN services sv ON sv.id = u.service_id
		WHERE e.id=$1
	`, entryID)
}

func (s *PostgresStore) getOwnership(ctx context.Context, querySQL, entryID string) (Ownership, error) {
	var own Ownership
	err := s.db.QueryRowContext(ctx, querySQL, entryID).Scan(&own.RecordID, &own.OwnerID, &own.OwnerServiceID, &own.ServiceManagerID)
	if err != nil {
		return Ownership{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT team_id FROM team_memberships WHERE user_id=$1`, own.OwnerID)
	if err != nil {
		return Ownership{}, fmt.Errorf("owner teams: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var teamID string
		if err := rows.Scan(&teamID); err != nil {
			return Ownership{}, fmt.Errorf("scan owner team: %w", err)
		}
		own.OwnerTeamIDs = append(own.OwnerTeamIDs, teamID)
	}
	if err := rows.Err(); err != nil {
		return Ownership{}, fmt.Errorf("iterate owner teams: %w", err)
	}
	return own, nil
}

// IsNotFound reports whether err is the store's "no such row" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
