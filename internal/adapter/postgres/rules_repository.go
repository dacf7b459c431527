package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/subathon/internal/domain"
)

const upsertRules = `-- name: UpsertRules
INSERT INTO rule_configs (broadcaster_id, config)
VALUES ($1, $2)
ON CONFLICT (broadcaster_id) DO UPDATE SET
    config = EXCLUDED.config,
    version = rule_configs.version + 1,
    updated_at = NOW()`

const getRules = `-- name: GetRules
SELECT config FROM rule_configs WHERE broadcaster_id = $1`

// RulesRepo stores each broadcaster's rule config as JSONB. Updates replace
// the whole document and bump its version.
type RulesRepo struct {
	pool *pgxpool.Pool
}

var _ domain.RulesStore = (*RulesRepo)(nil)

func NewRulesRepo(pool *pgxpool.Pool) *RulesRepo {
	return &RulesRepo{pool: pool}
}

func (r *RulesRepo) SaveRules(ctx context.Context, tenantID string, rules domain.RuleConfig) error {
	doc, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	if _, err := r.pool.Exec(ctx, upsertRules, tenantID, doc); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}
	return nil
}

func (r *RulesRepo) LoadRules(ctx context.Context, tenantID string) (*domain.RuleConfig, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, getRules, tenantID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRulesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	var rules domain.RuleConfig
	if err := json.Unmarshal(doc, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return &rules, nil
}
