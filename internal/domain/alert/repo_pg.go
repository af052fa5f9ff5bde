package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rpm/internal/platform/db"
)

var ErrNotFound = errors.New("alert not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, patient_id, rule_id, alert_type, dedup_key, severity, title,
	COALESCE(body, ''), payload, status, created_at, resolved_at`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var payload []byte
	err := row.Scan(&a.ID, &a.PatientID, &a.RuleID, &a.Type, &a.DedupKey, &a.Severity, &a.Title,
		&a.Body, &payload, &a.Status, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, fmt.Errorf("decode alert payload: %w", err)
		}
	}
	return &a, nil
}

func (r *alertRepoPG) CreateAlert(ctx context.Context, patientID uuid.UUID, d Draft) (*Alert, error) {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode alert payload: %w", err)
	}
	a := &Alert{
		ID:        uuid.New(),
		PatientID: patientID,
		RuleID:    d.RuleID,
		Type:      d.Type,
		DedupKey:  d.DedupKey,
		Severity:  d.Severity,
		Title:     d.Title,
		Body:      d.Body,
		Payload:   d.Payload,
		Status:    StatusActive,
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, rule_id, alert_type, dedup_key, severity, title, body, payload, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		a.ID, a.PatientID, a.RuleID, a.Type, a.DedupKey, a.Severity, a.Title, a.Body, payload, a.Status,
	).Scan(&a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

func (r *alertRepoPG) FindActiveAlert(ctx context.Context, patientID uuid.UUID, dedupKey string, since time.Time) (*Alert, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM alert
		WHERE patient_id = $1 AND dedup_key = $2 AND status = 'active' AND created_at >= $3
		ORDER BY created_at DESC LIMIT 1`, patientID, dedupKey, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+alertCols+` FROM alert WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) Resolve(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE alert SET status = 'resolved', resolved_at = NOW()
		WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
