package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usher/internal/media"
)

const serverColumns = "id, name, service_type, base_url, api_key, is_active, is_online, last_status_error, last_checked_at, last_synced_at, created_at, updated_at"

// CreateServer inserts a new media server record.
func (q *queries) CreateServer(ctx context.Context, server *Server) (*Server, error) {
	if server == nil {
		return nil, errors.New("server is nil")
	}
	now := time.Now().UTC()

	res, err := q.db.ExecContext(
		ctx,
		`INSERT INTO servers (name, service_type, base_url, api_key, is_active, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		server.Name,
		string(server.ServiceType),
		server.BaseURL,
		nullableString(server.APIKey),
		boolToInt(server.IsActive),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert server: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return q.GetServer(ctx, id)
}

// GetServer fetches a server by identifier, returning nil when absent.
func (q *queries) GetServer(ctx context.Context, id int64) (*Server, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return server, nil
}

// ListServers returns servers ordered by name, optionally only active ones.
func (q *queries) ListServers(ctx context.Context, activeOnly bool) ([]*Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// UpdateServerStatus records the outcome of a health probe.
func (q *queries) UpdateServerStatus(ctx context.Context, id int64, online bool, statusError string, checkedAt time.Time) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE servers SET is_online = ?, last_status_error = ?, last_checked_at = ?, updated_at = ? WHERE id = ?`,
		boolToInt(online),
		nullableString(statusError),
		formatTime(checkedAt),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update server status: %w", err)
	}
	return nil
}

// MarkServerSynced stamps the last successful catalog sync.
func (q *queries) MarkServerSynced(ctx context.Context, id int64, syncedAt time.Time) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE servers SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(syncedAt),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark server synced: %w", err)
	}
	return nil
}

// DeleteServer removes a server; libraries, grants, and events cascade.
func (q *queries) DeleteServer(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}

func scanServer(scanner rowScanner) (*Server, error) {
	var (
		id          int64
		name        string
		serviceType string
		baseURL     string
		apiKey      sql.NullString
		isActive    int
		isOnline    int
		statusError sql.NullString
		checkedRaw  sql.NullString
		syncedRaw   sql.NullString
		createdRaw  string
		updatedRaw  string
	)

	if err := scanner.Scan(&id, &name, &serviceType, &baseURL, &apiKey, &isActive, &isOnline, &statusError, &checkedRaw, &syncedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	checkedAt, err := parseTime(checkedRaw)
	if err != nil {
		return nil, err
	}
	syncedAt, err := parseTime(syncedRaw)
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

	return &Server{
		ID:              id,
		Name:            name,
		ServiceType:     media.ServiceType(serviceType),
		BaseURL:         baseURL,
		APIKey:          apiKey.String,
		IsActive:        isActive != 0,
		IsOnline:        isOnline != 0,
		LastStatusError: statusError.String,
		LastCheckedAt:   checkedAt,
		LastSyncedAt:    syncedAt,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}
