package execution

import (
	"context"
	"encoding/json"
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

type executionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &executionRepoPG{pool: pool} }

func (r *executionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const executionCols = `id, rule_id, rule_name, patient_id, triggered, value, trend_slope,
	COALESCE(message, ''), metadata, executed_at`

func (r *executionRepoPG) Record(ctx context.Context, e *Execution) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode execution metadata: %w", err)
		}
	}
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rule_execution (id, rule_id, rule_name, patient_id, triggered, value, trend_slope, message, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING executed_at`,
		e.ID, e.RuleID, e.RuleName, e.PatientID, e.Triggered, e.Value, e.TrendSlope, e.Message, metadata,
	).Scan(&e.ExecutedAt)
}

func (r *executionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Execution, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rule_execution WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+executionCols+` FROM rule_execution
		WHERE patient_id = $1 ORDER BY executed_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Execution
	for rows.Next() {
		var e Execution
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.RuleID, &e.RuleName, &e.PatientID, &e.Triggered, &e.Value, &e.TrendSlope,
			&e.Message, &metadata, &e.ExecutedAt); err != nil {
			return nil, 0, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode execution metadata: %w", err)
			}
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
