package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"rolesync/internal/domain"
)

type PromotionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPromotionRepository(sqlDB *sql.DB, logger zerolog.Logger) *PromotionRepository {
	return &PromotionRepository{db: sqlDB, logger: logger}
}

func (r *PromotionRepository) Insert(ctx context.Context, p *domain.Promotion) error {
	if p.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO promotions (id, user_snowflake, guild_snowflake, role_id, score_before, score_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Snowflake, p.Guild, p.RoleID, p.ScoreBefore, p.ScoreAfter, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}

	r.logger.Info().
		Str("snowflake", p.Snowflake).
		Str("guild", p.Guild).
		Str("role_id", p.RoleID).
		Int64("score_before", p.ScoreBefore).
		Int64("score_after", p.ScoreAfter).
		Msg("promotion recorded")
	return nil
}

func (r *PromotionRepository) ListRecent(ctx context.Context, guild string, limit int) ([]domain.Promotion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_snowflake, guild_snowflake, role_id, score_before, score_after, created_at
		 FROM promotions WHERE guild_snowflake = ? ORDER BY created_at DESC LIMIT ?`, guild, limit)
	if err != nil {
		return nil, fmt.Errorf("list promotions for %s: %w", guild, err)
	}
	defer rows.Close()

	var promotions []domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		if err := rows.Scan(&p.ID, &p.Snowflake, &p.Guild, &p.RoleID, &p.ScoreBefore, &p.ScoreAfter, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		promotions = append(promotions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list promotions for %s: %w", guild, err)
	}
	return promotions, nil
}
