package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"viralfaces/internal/domain"
	"viralfaces/internal/infra"
	"viralfaces/internal/sqlinline"
)

// ResultRepositoryPG implements domain.ResultRepository backed by PostgreSQL.
type ResultRepositoryPG struct {
	db infra.SQLExecutor
}

// NewResultRepository creates a new ResultRepositoryPG.
func NewResultRepository(db infra.SQLExecutor) *ResultRepositoryPG {
	return &ResultRepositoryPG{db: db}
}

// Create inserts a result record. Re-inserting the same ID is a no-op.
func (r *ResultRepositoryPG) Create(ctx context.Context, record *domain.ResultRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("repo: result id is required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, sqlinline.QInsertResult,
		record.ID,
		record.UserID,
		record.TemplateID,
		record.StorageKey,
		record.Watermark,
		createdAt,
	); err != nil {
		return fmt.Errorf("repo: insert result: %w", err)
	}
	return nil
}

// GetForUser fetches a result owned by userID. Unknown or malformed IDs yield
// domain.ErrNotFound.
func (r *ResultRepositoryPG) GetForUser(ctx context.Context, resultID, userID string) (*domain.ResultRecord, error) {
	if _, err := uuid.Parse(resultID); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.db.QueryRow(ctx, sqlinline.QSelectResultForUser, resultID, userID)
	return scanResult(row)
}

// MarkPaid flags a result as paid. Already paid results keep their paid_at.
func (r *ResultRepositoryPG) MarkPaid(ctx context.Context, resultID, userID string) error {
	if _, err := uuid.Parse(resultID); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, sqlinline.QMarkResultPaid, resultID, userID)
	if err != nil {
		return fmt.Errorf("repo: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanResult(row pgx.Row) (*domain.ResultRecord, error) {
	var rec domain.ResultRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TemplateID,
		&rec.StorageKey,
		&rec.Watermark,
		&rec.IsPaid,
		&rec.PaidAt,
		&rec.CreatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

var _ domain.ResultRepository = (*ResultRepositoryPG)(nil)
