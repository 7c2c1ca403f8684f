package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const libraryColumns = "id, server_id, external_id, name, kind, item_count, scanned_at, created_at, updated_at"

// InsertLibrary adds a new cached library for a server.
func (q *queries) InsertLibrary(ctx context.Context, library *Library) (*Library, error) {
	if library == nil {
		return nil, errors.New("library is nil")
	}
	now := time.Now().UTC()

	res, err := q.db.ExecContext(
		ctx,
		`INSERT INTO libraries (server_id, external_id, name, kind, item_count, scanned_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		library.ServerID,
		library.ExternalID,
		library.Name,
		nullableString(library.Kind),
		library.ItemCount,
		formatTime(now),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert library: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return q.getLibrary(ctx, id)
}

// UpdateLibrary persists name/kind/count changes to a cached library.
func (q *queries) UpdateLibrary(ctx context.Context, library *Library) error {
	if library == nil {
		return errors.New("library is nil")
	}
	now := time.Now().UTC()
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE libraries SET name = ?, kind = ?, item_count = ?, scanned_at = ?, updated_at = ? WHERE id = ?`,
		library.Name,
		nullableString(library.Kind),
		library.ItemCount,
		formatTime(now),
		formatTime(now),
		library.ID,
	)
	if err != nil {
		return fmt.Errorf("update library: %w", err)
	}
	return nil
}

// DeleteLibrary removes one cached library.
func (q *queries) DeleteLibrary(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	return nil
}

// LibrariesByServer returns a server's cached libraries ordered by name.
func (q *queries) LibrariesByServer(ctx context.Context, serverID int64) ([]*Library, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE server_id = ? ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("libraries by server: %w", err)
	}
	defer rows.Close()

	var libraries []*Library
	for rows.Next() {
		library, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libraries = append(libraries, library)
	}
	return libraries, rows.Err()
}

func (q *queries) getLibrary(ctx context.Context, id int64) (*Library, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	library, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get library: %w", err)
	}
	return library, nil
}

func scanLibrary(scanner rowScanner) (*Library, error) {
	var (
		id         int64
		serverID   int64
		externalID string
		name       string
		kind       sql.NullString
		itemCount  int64
		scannedRaw sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(&id, &serverID, &externalID, &name, &kind, &itemCount, &scannedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	scannedAt, err := parseTime(scannedRaw)
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

	return &Library{
		ID:         id,
		ServerID:   serverID,
		ExternalID: externalID,
		Name:       name,
		Kind:       kind.String,
		ItemCount:  itemCount,
		ScannedAt:  scannedAt,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
