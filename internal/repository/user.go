package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rolesync/internal/domain"
)

var ErrNotFound = errors.New("repository: not found")

type UserRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewUserRepository(sqlDB *sql.DB, logger zerolog.Logger) *UserRepository {
	return &UserRepository{db: sqlDB, logger: logger}
}

func (r *UserRepository) Get(ctx context.Context, snowflake string) (*domain.User, error) {
	user := &domain.User{Snowflake: snowflake}

	row := r.db.QueryRowContext(ctx,
		`SELECT mastery_fetch_at, ranked_fetch_at, created_at, updated_at FROM users WHERE snowflake = ?`,
		snowflake)
	err := row.Scan(&user.MasteryFetch, &user.RankedFetch, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", snowflake, err)
	}

	accounts, err := r.accounts(ctx, snowflake)
	if err != nil {
		return nil, err
	}
	user.Accounts = accounts
	user.HasAccounts = len(accounts) > 0

	return user, nil
}

func (r *UserRepository) Upsert(ctx context.Context, snowflake string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (snowflake, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(snowflake) DO UPDATE SET updated_at = excluded.updated_at`,
		snowflake, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", snowflake, err)
	}
	return nil
}

func (r *UserRepository) LinkAccount(ctx context.Context, account domain.LinkedAccount) error {
	if err := r.Upsert(ctx, account.UserSnowflake); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO linked_accounts (user_snowflake, region, account_id, created_at) VALUES (?, ?, ?, ?)`,
		account.UserSnowflake, account.Region, account.AccountID, time.Now())
	if err != nil {
		return fmt.Errorf("link account for %s: %w", account.UserSnowflake, err)
	}

	r.logger.Info().
		Str("snowflake", account.UserSnowflake).
		Str("region", account.Region).
		Msg("account linked")
	return nil
}

func (r *UserRepository) UnlinkAccount(ctx context.Context, snowflake, region, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE user_snowflake = ? AND region = ? AND account_id = ?`,
		snowflake, region, accountID)
	if err != nil {
		return fmt.Errorf("unlink account for %s: %w", snowflake, err)
	}
	return nil
}

// ListStale returns up to limit users ordered by oldest mastery fetch
// first. Users with no linked accounts have nothing to fetch and are
// skipped entirely.
func (r *UserRepository) ListStale(ctx context.Context, limit int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.snowflake, u.mastery_fetch_at, u.ranked_fetch_at, u.created_at, u.updated_at
		 FROM users u
		 WHERE EXISTS (SELECT 1 FROM linked_accounts a WHERE a.user_snowflake = u.snowflake)
		 ORDER BY u.mastery_fetch_at ASC
		 LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list stale users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Snowflake, &u.MasteryFetch, &u.RankedFetch, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stale user: %w", err)
		}
		u.HasAccounts = true
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale users: %w", err)
	}

	for i := range users {
		accounts, err := r.accounts(ctx, users[i].Snowflake)
		if err != nil {
			return nil, err
		}
		users[i].Accounts = accounts
	}

	r.logger.Debug().Int("count", len(users)).Msg("selected stale users")
	return users, nil
}

func (r *UserRepository) GetSnapshot(ctx context.Context, snowflake string) (domain.StatsSnapshot, error) {
	snap := domain.StatsSnapshot{
		Mastery: make(map[int64]int64),
		Tiers:   make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT champion_id, score FROM mastery_scores WHERE user_snowflake = ?`, snowflake)
	if err != nil {
		return snap, fmt.Errorf("get mastery snapshot for %s: %w", snowflake, err)
	}
	defer rows.Close()
	for rows.Next() {
		var champion, score int64
		if err := rows.Scan(&champion, &score); err != nil {
			return snap, fmt.Errorf("scan mastery score: %w", err)
		}
		snap.Mastery[champion] = score
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("get mastery snapshot for %s: %w", snowflake, err)
	}

	tierRows, err := r.db.QueryContext(ctx,
		`SELECT queue, tier FROM ranked_tiers WHERE user_snowflake = ?`, snowflake)
	if err != nil {
		return snap, fmt.Errorf("get tier snapshot for %s: %w", snowflake, err)
	}
	defer tierRows.Close()
	for tierRows.Next() {
		var queue string
		var tier int
		if err := tierRows.Scan(&queue, &tier); err != nil {
			return snap, fmt.Errorf("scan ranked tier: %w", err)
		}
		snap.Tiers[queue] = tier
	}
	if err := tierRows.Err(); err != nil {
		return snap, fmt.Errorf("get tier snapshot for %s: %w", snowflake, err)
	}

	return snap, nil
}

// SaveSnapshot replaces a user's statistics and advances the fetch
// timestamps in one transaction. The worker is the only writer of these
// rows; the timestamps move only when the whole fetch succeeded.
func (r *UserRepository) SaveSnapshot(ctx context.Context, snowflake string, snap domain.StatsSnapshot, fetchedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mastery_scores WHERE user_snowflake = ?`, snowflake); err != nil {
		return fmt.Errorf("clear mastery scores: %w", err)
	}
	for champion, score := range snap.Mastery {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mastery_scores (user_snowflake, champion_id, score) VALUES (?, ?, ?)`,
			snowflake, champion, score); err != nil {
			return fmt.Errorf("insert mastery score: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_tiers WHERE user_snowflake = ?`, snowflake); err != nil {
		return fmt.Errorf("clear ranked tiers: %w", err)
	}
	for queue, tier := range snap.Tiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ranked_tiers (user_snowflake, queue, tier) VALUES (?, ?, ?)`,
			snowflake, queue, tier); err != nil {
			return fmt.Errorf("insert ranked tier: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET mastery_fetch_at = ?, ranked_fetch_at = ?, updated_at = ? WHERE snowflake = ?`,
		fetchedAt, fetchedAt, time.Now(), snowflake); err != nil {
		return fmt.Errorf("advance fetch timestamps: %w", err)
	}

	r.logger.Debug().
		Str("snowflake", snowflake).
		Int("champions", len(snap.Mastery)).
		Int("queues", len(snap.Tiers)).
		Time("fetched_at", fetchedAt).
		Msg("snapshot saved")

	return tx.Commit()
}

func (r *UserRepository) accounts(ctx context.Context, snowflake string) ([]domain.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_snowflake, region, account_id, created_at FROM linked_accounts WHERE user_snowflake = ?`,
		snowflake)
	if err != nil {
		return nil, fmt.Errorf("get accounts for %s: %w", snowflake, err)
	}
	defer rows.Close()

	var accounts []domain.LinkedAccount
	for rows.Next() {
		var a domain.LinkedAccount
		if err := rows.Scan(&a.UserSnowflake, &a.Region, &a.AccountID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get accounts for %s: %w", snowflake, err)
	}
	return accounts, nil
}
