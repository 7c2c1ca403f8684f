package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const streamColumns = "id, server_id, account_id, access_id, session_key, rating_key, started_at, stopped_at, offset_seconds, duration_seconds, media_title, media_type, series_title, season_title, platform, product, player, ip_address, is_lan, runtime_seconds"

// InsertStreamEvent records the start of a playback session.
func (q *queries) InsertStreamEvent(ctx context.Context, event *StreamEvent) (*StreamEvent, error) {
	if event == nil {
		return nil, errors.New("stream event is nil")
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(
		ctx,
		`INSERT INTO stream_events (
            server_id, account_id, access_id, session_key, rating_key, started_at, offset_seconds,
            media_title, media_type, series_title, season_title, platform, product, player,
            ip_address, is_lan, runtime_seconds
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ServerID,
		nullableUUID(event.AccountID),
		nullableUUID(event.AccessID),
		event.SessionKey,
		nullableString(event.RatingKey),
		formatTime(event.StartedAt),
		event.OffsetSeconds,
		nullableString(event.MediaTitle),
		nullableString(event.MediaType),
		nullableString(event.SeriesTitle),
		nullableString(event.SeasonTitle),
		nullableString(event.Platform),
		nullableString(event.Product),
		nullableString(event.Player),
		nullableString(event.IPAddress),
		boolToInt(event.IsLAN),
		event.RuntimeSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stream event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return q.GetStreamEvent(ctx, id)
}

// GetStreamEvent fetches a playback record by identifier, nil when absent.
func (q *queries) GetStreamEvent(ctx context.Context, id int64) (*StreamEvent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM stream_events WHERE id = ?`, id)
	event, err := scanStreamEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stream event: %w", err)
	}
	return event, nil
}

// UpdateStreamProgress advances the stored playback offset for a live session.
func (q *queries) UpdateStreamProgress(ctx context.Context, id int64, offsetSeconds int64) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE stream_events SET offset_seconds = ? WHERE id = ? AND stopped_at IS NULL`,
		offsetSeconds,
		id,
	)
	if err != nil {
		return fmt.Errorf("update stream progress: %w", err)
	}
	return nil
}

// CloseStreamEvent finalizes a session with its stop time and watched duration.
// Closing an already-closed event is a no-op.
func (q *queries) CloseStreamEvent(ctx context.Context, id int64, stoppedAt time.Time, durationSeconds int64) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE stream_events SET stopped_at = ?, duration_seconds = ? WHERE id = ? AND stopped_at IS NULL`,
		formatTime(stoppedAt),
		durationSeconds,
		id,
	)
	if err != nil {
		return fmt.Errorf("close stream event: %w", err)
	}
	return nil
}

// OpenStreamEvents returns every session not yet marked stopped, oldest first.
func (q *queries) OpenStreamEvents(ctx context.Context) ([]*StreamEvent, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+streamColumns+` FROM stream_events WHERE stopped_at IS NULL ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("open stream events: %w", err)
	}
	defer rows.Close()
	return collectStreamEvents(rows)
}

// StreamEventsByServer returns a server's sessions, newest first, capped at limit.
func (q *queries) StreamEventsByServer(ctx context.Context, serverID int64, limit int) ([]*StreamEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT `+streamColumns+` FROM stream_events WHERE server_id = ? ORDER BY started_at DESC LIMIT ?`,
		serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stream events by server: %w", err)
	}
	defer rows.Close()
	return collectStreamEvents(rows)
}

// PurgeStreamEventsBefore removes closed session records older than cutoff
// and reports how many rows were deleted.
func (q *queries) PurgeStreamEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(
		ctx,
		`DELETE FROM stream_events WHERE stopped_at IS NOT NULL AND started_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge stream events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func collectStreamEvents(rows *sql.Rows) ([]*StreamEvent, error) {
	var events []*StreamEvent
	for rows.Next() {
		event, err := scanStreamEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanStreamEvent(scanner rowScanner) (*StreamEvent, error) {
	var (
		id          int64
		serverID    int64
		accountRaw  sql.NullString
		accessRaw   sql.NullString
		sessionKey  string
		ratingKey   sql.NullString
		startedRaw  string
		stoppedRaw  sql.NullString
		offset      int64
		duration    sql.NullInt64
		mediaTitle  sql.NullString
		mediaType   sql.NullString
		seriesTitle sql.NullString
		seasonTitle sql.NullString
		platform    sql.NullString
		product     sql.NullString
		player      sql.NullString
		ipAddress   sql.NullString
		isLAN       int
		runtime     int64
	)

	if err := scanner.Scan(&id, &serverID, &accountRaw, &accessRaw, &sessionKey, &ratingKey, &startedRaw, &stoppedRaw, &offset, &duration, &mediaTitle, &mediaType, &seriesTitle, &seasonTitle, &platform, &product, &player, &ipAddress, &isLAN, &runtime); err != nil {
		return nil, err
	}

	accountID, err := parseUUID(accountRaw)
	if err != nil {
		return nil, err
	}
	accessID, err := parseUUID(accessRaw)
	if err != nil {
		return nil, err
	}
	startedAt, err := mustTime(startedRaw)
	if err != nil {
		return nil, err
	}
	stoppedAt, err := parseTime(stoppedRaw)
	if err != nil {
		return nil, err
	}

	var durationSeconds *int64
	if duration.Valid {
		value := duration.Int64
		durationSeconds = &value
	}

	return &StreamEvent{
		ID:              id,
		ServerID:        serverID,
		AccountID:       accountID,
		AccessID:        accessID,
		SessionKey:      sessionKey,
		RatingKey:       ratingKey.String,
		StartedAt:       startedAt,
		StoppedAt:       stoppedAt,
		OffsetSeconds:   offset,
		DurationSeconds: durationSeconds,
		MediaTitle:      mediaTitle.String,
		MediaType:       mediaType.String,
		SeriesTitle:     seriesTitle.String,
		SeasonTitle:     seasonTitle.String,
		Platform:        platform.String,
		Product:         product.String,
		Player:          player.String,
		IPAddress:       ipAddress.String,
		IsLAN:           isLAN != 0,
		RuntimeSeconds:  runtime,
	}, nil
}
