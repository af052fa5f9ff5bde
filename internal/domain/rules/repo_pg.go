package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rpm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `id, name, COALESCE(description, ''), metric_type, window_days, condition,
	severity, action, enabled, priority, created_at, updated_at`

func (r *ruleRepoPG) scanRule(row pgx.Row) (*Rule, error) {
	var rule Rule
	var cond, act []byte
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Metric, &rule.WindowDays, &cond,
		&rule.Severity, &act, &rule.Enabled, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rule.Condition, err = UnmarshalCondition(cond); err != nil {
		return nil, fmt.Errorf("decode condition of rule %s: %w", rule.ID, err)
	}
	if rule.Action, err = UnmarshalAction(act); err != nil {
		return nil, fmt.Errorf("decode action of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

func encodeUnions(rule *Rule) (cond, act []byte, err error) {
	if cond, err = MarshalCondition(rule.Condition); err != nil {
		return nil, nil, err
	}
	if act, err = MarshalAction(rule.Action); err != nil {
		return nil, nil, err
	}
	return cond, act, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	cond, act, err := encodeUnions(rule)
	if err != nil {
		return err
	}
	rule.ID = uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rule_definition (id, name, description, metric_type, window_days, condition,
			severity, action, enabled, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.Description, rule.Metric, rule.WindowDays, cond,
		rule.Severity, act, rule.Enabled, rule.Priority).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	return translate(err)
}

// translate maps a unique-name violation to ErrConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	rule, err := r.scanRule(r.conn(ctx).QueryRow(ctx, `SELECT `+ruleCols+` FROM rule_definition WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *Rule) error {
	cond, act, err := encodeUnions(rule)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE rule_definition SET name=$2, description=$3, metric_type=$4, window_days=$5, condition=$6,
			severity=$7, action=$8, enabled=$9, priority=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.Description, rule.Metric, rule.WindowDays, cond,
		rule.Severity, act, rule.Enabled, rule.Priority).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return translate(err)
}

func (r *ruleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rule_definition WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepoPG) List(ctx context.Context, limit, offset int) ([]*Rule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rule_definition`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM rule_definition
		ORDER BY priority DESC, name ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *ruleRepoPG) ListEnabled(ctx context.Context) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM rule_definition
		WHERE enabled = TRUE ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query enabled rules: %w", err)
	}
	return r.collect(rows)
}

func (r *ruleRepoPG) collect(rows pgx.Rows) ([]*Rule, error) {
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	return items, rows.Err()
}

func (r *ruleRepoPG) UpsertDefault(ctx context.Context, rule *Rule) (bool, error) {
	cond, act, err := encodeUnions(rule)
	if err != nil {
		return false, err
	}
	id := uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rule_definition (id, name, description, metric_type, window_days, condition,
			severity, action, enabled, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at, updated_at`,
		id, rule.Name, rule.Description, rule.Metric, rule.WindowDays, cond,
		rule.Severity, act, rule.Enabled, rule.Priority).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rule.ID = id
	return true, nil
}
