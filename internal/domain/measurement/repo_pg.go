package measurement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

type measurementRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &measurementRepoPG{pool: pool} }

func (r *measurementRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const measurementCols = `id, patient_id, metric_type, value, recorded_at, COALESCE(source, ''), created_at`

func (r *measurementRepoPG) scan(row pgx.Row) (*Measurement, error) {
	var m Measurement
	var raw []byte
	if err := row.Scan(&m.ID, &m.PatientID, &m.Metric, &raw, &m.RecordedAt, &m.Source, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Value = ParseValue(raw)
	return &m, nil
}

func (r *measurementRepoPG) Create(ctx context.Context, m *Measurement) error {
	m.ID = uuid.New()
	raw, err := json.Marshal(m.Value)
	if err != nil {
		return fmt.Errorf("encode measurement value: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO measurement (id, patient_id, metric_type, value, recorded_at, source)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at`,
		m.ID, m.PatientID, m.Metric, raw, m.RecordedAt, m.Source).Scan(&m.CreatedAt)
}

func (r *measurementRepoPG) FindMeasurements(ctx context.Context, patientID uuid.UUID, metric Metric, start, end time.Time) ([]*Measurement, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+measurementCols+` FROM measurement
		WHERE patient_id = $1 AND metric_type = $2 AND recorded_at >= $3 AND recorded_at <= $4
		ORDER BY recorded_at ASC`, patientID, metric, start, end)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var items []*Measurement
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
