package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rolesync/internal/domain"
)

type GuildRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewGuildRepository(sqlDB *sql.DB, logger zerolog.Logger) *GuildRepository {
	return &GuildRepository{db: sqlDB, logger: logger}
}

func (r *GuildRepository) Get(ctx context.Context, snowflake string) (*domain.Guild, error) {
	g := &domain.Guild{Snowflake: snowflake}
	row := r.db.QueryRowContext(ctx,
		`SELECT champion_id, announce_promotions, announce_channel, created_at, updated_at
		 FROM guilds WHERE snowflake = ?`, snowflake)
	err := row.Scan(&g.Champion, &g.AnnouncePromotions, &g.AnnounceChannel, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get guild %s: %w", snowflake, err)
	}
	return g, nil
}

func (r *GuildRepository) List(ctx context.Context) ([]domain.Guild, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT snowflake, champion_id, announce_promotions, announce_channel, created_at, updated_at FROM guilds`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer rows.Close()

	var guilds []domain.Guild
	for rows.Next() {
		var g domain.Guild
		if err := rows.Scan(&g.Snowflake, &g.Champion, &g.AnnouncePromotions, &g.AnnounceChannel, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		guilds = append(guilds, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	return guilds, nil
}

func (r *GuildRepository) Upsert(ctx context.Context, g *domain.Guild) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guilds (snowflake, champion_id, announce_promotions, announce_channel, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(snowflake) DO UPDATE SET
			champion_id = excluded.champion_id,
			announce_promotions = excluded.announce_promotions,
			announce_channel = excluded.announce_channel,
			updated_at = excluded.updated_at`,
		g.Snowflake, g.Champion, g.AnnouncePromotions, g.AnnounceChannel, now, now)
	if err != nil {
		return fmt.Errorf("upsert guild %s: %w", g.Snowflake, err)
	}

	r.logger.Debug().Str("guild", g.Snowflake).Msg("guild upserted")
	return nil
}
