package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const accessColumns = "id, server_id, account_id, external_user_id, alt_external_id, username, email, library_ids, allow_downloads, allow_4k, is_active, expires_at, last_activity_at, created_at, updated_at"

// CreateAccess inserts a new access grant, assigning a UUID when none is set.
func (q *queries) CreateAccess(ctx context.Context, access *ServiceAccess) (*ServiceAccess, error) {
	if access == nil {
		return nil, errors.New("access is nil")
	}
	if access.ID == uuid.Nil {
		access.ID = uuid.New()
	}
	now := time.Now().UTC()

	libraryIDs, err := marshalStringSlice(access.LibraryIDs)
	if err != nil {
		return nil, err
	}

	_, err = q.db.ExecContext(
		ctx,
		`INSERT INTO service_access (
            id, server_id, account_id, external_user_id, alt_external_id, username, email,
            library_ids, allow_downloads, allow_4k, is_active, expires_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		access.ID.String(),
		access.ServerID,
		nullableUUID(access.AccountID),
		access.ExternalUserID,
		nullableString(access.AltExternalID),
		nullableString(access.Username),
		nullableString(access.Email),
		libraryIDs,
		boolToInt(access.AllowDownloads),
		boolToInt(access.Allow4K),
		boolToInt(access.IsActive),
		nullableTime(access.ExpiresAt),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert access: %w", err)
	}
	return q.GetAccess(ctx, access.ID)
}

// GetAccess fetches an access grant by UUID, returning nil when absent.
func (q *queries) GetAccess(ctx context.Context, id uuid.UUID) (*ServiceAccess, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accessColumns+` FROM service_access WHERE id = ?`, id.String())
	access, err := scanAccess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get access: %w", err)
	}
	return access, nil
}

// FindAccess matches a grant on a server by external user id, falling back
// to the alternate id for vendors that expose a stable secondary identifier.
func (q *queries) FindAccess(ctx context.Context, serverID int64, externalID, altID string) (*ServiceAccess, error) {
	if externalID != "" {
		row := q.db.QueryRowContext(
			ctx,
			`SELECT `+accessColumns+` FROM service_access WHERE server_id = ? AND external_user_id = ?`,
			serverID, externalID,
		)
		access, err := scanAccess(row)
		if err == nil {
			return access, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find access: %w", err)
		}
	}
	if altID != "" {
		row := q.db.QueryRowContext(
			ctx,
			`SELECT `+accessColumns+` FROM service_access WHERE server_id = ? AND alt_external_id = ?`,
			serverID, altID,
		)
		access, err := scanAccess(row)
		if err == nil {
			return access, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find access by alt id: %w", err)
		}
	}
	return nil, nil
}

// FindAccessByUsername matches a grant on a server by its vendor username.
func (q *queries) FindAccessByUsername(ctx context.Context, serverID int64, username string) (*ServiceAccess, error) {
	if username == "" {
		return nil, nil
	}
	row := q.db.QueryRowContext(
		ctx,
		`SELECT `+accessColumns+` FROM service_access WHERE server_id = ? AND username = ?`,
		serverID, username,
	)
	access, err := scanAccess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find access by username: %w", err)
	}
	return access, nil
}

// AccessByServer returns every grant on a server ordered by username.
func (q *queries) AccessByServer(ctx context.Context, serverID int64) ([]*ServiceAccess, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+accessColumns+` FROM service_access WHERE server_id = ? ORDER BY username`, serverID)
	if err != nil {
		return nil, fmt.Errorf("access by server: %w", err)
	}
	defer rows.Close()
	return collectAccess(rows)
}

// ExpiredAccess returns grants whose expiration timestamp has passed.
func (q *queries) ExpiredAccess(ctx context.Context, now time.Time) ([]*ServiceAccess, error) {
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT `+accessColumns+` FROM service_access WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("expired access: %w", err)
	}
	defer rows.Close()
	return collectAccess(rows)
}

// UpdateAccess persists field changes to an existing grant.
func (q *queries) UpdateAccess(ctx context.Context, access *ServiceAccess) error {
	if access == nil {
		return errors.New("access is nil")
	}
	libraryIDs, err := marshalStringSlice(access.LibraryIDs)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(
		ctx,
		`UPDATE service_access
         SET account_id = ?, external_user_id = ?, alt_external_id = ?, username = ?, email = ?,
             library_ids = ?, allow_downloads = ?, allow_4k = ?, is_active = ?, expires_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableUUID(access.AccountID),
		access.ExternalUserID,
		nullableString(access.AltExternalID),
		nullableString(access.Username),
		nullableString(access.Email),
		libraryIDs,
		boolToInt(access.AllowDownloads),
		boolToInt(access.Allow4K),
		boolToInt(access.IsActive),
		nullableTime(access.ExpiresAt),
		formatTime(time.Now().UTC()),
		access.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	return nil
}

// TouchAccessActivity records the most recent observed activity for a grant.
func (q *queries) TouchAccessActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE service_access SET last_activity_at = ? WHERE id = ?`,
		formatTime(at),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("touch access activity: %w", err)
	}
	return nil
}

// DeleteAccess removes one access grant.
func (q *queries) DeleteAccess(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM service_access WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete access: %w", err)
	}
	return nil
}

// CountAccessByAccount reports how many grants an account still holds.
func (q *queries) CountAccessByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM service_access WHERE account_id = ?`, accountID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count access by account: %w", err)
	}
	return count, nil
}

func collectAccess(rows *sql.Rows) ([]*ServiceAccess, error) {
	var grants []*ServiceAccess
	for rows.Next() {
		access, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, access)
	}
	return grants, rows.Err()
}

func scanAccess(scanner rowScanner) (*ServiceAccess, error) {
	var (
		idRaw          string
		serverID       int64
		accountRaw     sql.NullString
		externalUserID string
		altExternalID  sql.NullString
		username       sql.NullString
		email          sql.NullString
		libraryRaw     string
		allowDownloads int
		allow4K        int
		isActive       int
		expiresRaw     sql.NullString
		activityRaw    sql.NullString
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(&idRaw, &serverID, &accountRaw, &externalUserID, &altExternalID, &username, &email, &libraryRaw, &allowDownloads, &allow4K, &isActive, &expiresRaw, &activityRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idRaw)
	if err != nil {
		return nil, fmt.Errorf("parse access id %q: %w", idRaw, err)
	}
	accountID, err := parseUUID(accountRaw)
	if err != nil {
		return nil, err
	}
	libraryIDs, err := unmarshalStringSlice(libraryRaw)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseTime(expiresRaw)
	if err != nil {
		return nil, err
	}
	activityAt, err := parseTime(activityRaw)
	if err != nil {
		return nil, err
	}
	createdAt, err := mustTime(createdRaw)
	if err != nil {
		return nil, err
	}
	updatedAt, err := mustTime(updatedRaw)
	if err != nil {
		return nil, err
	}

	return &ServiceAccess{
		ID:             id,
		ServerID:       serverID,
		AccountID:      accountID,
		ExternalUserID: externalUserID,
		AltExternalID:  altExternalID.String,
		Username:       username.String,
		Email:          email.String,
		LibraryIDs:     libraryIDs,
		AllowDownloads: allowDownloads != 0,
		Allow4K:        allow4K != 0,
		IsActive:       isActive != 0,
		ExpiresAt:      expiresAt,
		LastActivityAt: activityAt,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}
