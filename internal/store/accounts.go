package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const accountColumns = "id, username, email, avatar_url, last_streamed_at, created_at"

// CreateAccount inserts a new account, assigning a UUID when none is set.
func (q *queries) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	if account == nil {
		return nil, errors.New("account is nil")
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := q.db.ExecContext(
		ctx,
		`INSERT INTO accounts (id, username, email, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		account.ID.String(),
		account.Username,
		nullableString(account.Email),
		nullableString(account.AvatarURL),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return q.GetAccount(ctx, account.ID)
}

// GetAccount fetches an account by UUID, returning nil when absent.
func (q *queries) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// FindAccountByUsername returns the first account matching a username.
func (q *queries) FindAccountByUsername(ctx context.Context, username string) (*Account, error) {
	if username == "" {
		return nil, nil
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ? ORDER BY created_at LIMIT 1`, username)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account by username: %w", err)
	}
	return account, nil
}

// FindAccountByEmail returns the first account matching an email address.
func (q *queries) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, nil
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ? ORDER BY created_at LIMIT 1`, email)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return account, nil
}

// TouchAccountStreamed records the most recent playback time for an account.
func (q *queries) TouchAccountStreamed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.ExecContext(
		ctx,
		`UPDATE accounts SET last_streamed_at = ? WHERE id = ?`,
		formatTime(at),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("touch account streamed: %w", err)
	}
	return nil
}

// DeleteAccount removes an account; its access grants cascade.
func (q *queries) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func scanAccount(scanner rowScanner) (*Account, error) {
	var (
		idRaw       string
		username    string
		email       sql.NullString
		avatarURL   sql.NullString
		streamedRaw sql.NullString
		createdRaw  string
	)

	if err := scanner.Scan(&idRaw, &username, &email, &avatarURL, &streamedRaw, &createdRaw); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idRaw)
	if err != nil {
		return nil, fmt.Errorf("parse account id %q: %w", idRaw, err)
	}
	streamedAt, err := parseTime(streamedRaw)
	if err != nil {
		return nil, err
	}
	createdAt, err := mustTime(createdRaw)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:             id,
		Username:       username,
		Email:          email.String,
		AvatarURL:      avatarURL.String,
		LastStreamedAt: streamedAt,
		CreatedAt:      createdAt,
	}, nil
}
