package visitrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rpm/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Sink { return &visitRepoPG{pool: pool} }

func (r *visitRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *visitRepoPG) CreateVisitRequest(ctx context.Context, patientID uuid.UUID, d Draft) (*VisitRequest, error) {
	v := &VisitRequest{
		ID:        uuid.New(),
		PatientID: patientID,
		RuleID:    d.RuleID,
		Type:      d.Type,
		Notes:     d.Notes,
		Status:    StatusPending,
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_request (id, patient_id, rule_id, request_type, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		v.ID, v.PatientID, v.RuleID, v.Type, v.Notes, v.Status).Scan(&v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert visit request: %w", err)
	}
	return v, nil
}

func (r *visitRepoPG) FindPendingRequest(ctx context.Context, patientID uuid.UUID, since time.Time) (*VisitRequest, error) {
	var v VisitRequest
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, rule_id, request_type, COALESCE(notes, ''), status, created_at
		FROM visit_request
		WHERE patient_id = $1 AND status = 'pending' AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`, patientID, since).
		Scan(&v.ID, &v.PatientID, &v.RuleID, &v.Type, &v.Notes, &v.Status, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
