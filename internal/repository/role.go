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

type RoleRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRoleRepository(sqlDB *sql.DB, logger zerolog.Logger) *RoleRepository {
	return &RoleRepository{db: sqlDB, logger: logger}
}

func (r *RoleRepository) ListByGuild(ctx context.Context, guild string) ([]domain.RoleDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guild_snowflake, name, role_id, combinator_type, combinator_amount, legacy_range, created_at, updated_at
		 FROM role_definitions WHERE guild_snowflake = ? ORDER BY created_at ASC`, guild)
	if err != nil {
		return nil, fmt.Errorf("list role definitions for %s: %w", guild, err)
	}
	defer rows.Close()

	var defs []domain.RoleDefinition
	for rows.Next() {
		var def domain.RoleDefinition
		var combType string
		if err := rows.Scan(&def.ID, &def.Guild, &def.Name, &def.RoleID, &combType,
			&def.Combinator.Amount, &def.LegacyRange, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role definition: %w", err)
		}
		def.Combinator.Type = domain.CombinatorType(combType)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list role definitions for %s: %w", guild, err)
	}

	for i := range defs {
		if defs[i].IsLegacy() {
			continue
		}
		conditions, err := r.conditions(ctx, defs[i].ID)
		if err != nil {
			return nil, err
		}
		defs[i].Conditions = conditions
	}

	return defs, nil
}

// Save writes a definition and its conditions as a unit, replacing any
// prior condition rows.
func (r *RoleRepository) Save(ctx context.Context, def *domain.RoleDefinition) error {
	if def.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		def.ID = id
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	combType := string(def.Combinator.Type)
	if combType == "" {
		combType = string(domain.CombinatorAll)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO role_definitions (id, guild_snowflake, name, role_id, combinator_type, combinator_amount, legacy_range, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role_id = excluded.role_id,
			combinator_type = excluded.combinator_type,
			combinator_amount = excluded.combinator_amount,
			legacy_range = excluded.legacy_range,
			updated_at = excluded.updated_at`,
		def.ID, def.Guild, def.Name, def.RoleID, combType, def.Combinator.Amount, def.LegacyRange, now, now)
	if err != nil {
		return fmt.Errorf("upsert role definition %s: %w", def.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conditions WHERE role_definition_id = ?`, def.ID); err != nil {
		return fmt.Errorf("clear conditions for %s: %w", def.Name, err)
	}

	for i := range def.Conditions {
		cond := &def.Conditions[i]
		if cond.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
			cond.ID = id
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conditions (id, role_definition_id, type, champion_id, queue, compare_type, value, max_value, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cond.ID, def.ID, string(cond.Type), cond.Champion, cond.Queue, string(cond.Compare), cond.Value, cond.Max, i)
		if err != nil {
			return fmt.Errorf("insert condition for %s: %w", def.Name, err)
		}
	}

	r.logger.Debug().
		Str("guild", def.Guild).
		Str("role", def.Name).
		Int("conditions", len(def.Conditions)).
		Msg("role definition saved")

	return tx.Commit()
}

func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM role_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete role definition %s: %w", id, err)
	}
	return nil
}

func (r *RoleRepository) conditions(ctx context.Context, defID string) ([]domain.Condition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, champion_id, queue, compare_type, value, max_value
		 FROM conditions WHERE role_definition_id = ? ORDER BY position ASC`, defID)
	if err != nil {
		return nil, fmt.Errorf("list conditions for %s: %w", defID, err)
	}
	defer rows.Close()

	var conditions []domain.Condition
	for rows.Next() {
		var cond domain.Condition
		var condType, compare string
		if err := rows.Scan(&cond.ID, &condType, &cond.Champion, &cond.Queue, &compare, &cond.Value, &cond.Max); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		cond.Type = domain.ConditionType(condType)
		cond.Compare = domain.Compare(compare)
		conditions = append(conditions, cond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conditions for %s: %w", defID, err)
	}
	return conditions, nil
}
