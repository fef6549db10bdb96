package domain

import "context"

// ResultRepository persists generated result records.
type ResultRepository interface {
	Create(ctx context.Context, record *ResultRecord) error
	GetForUser(ctx context.Context, resultID, userID string) (*ResultRecord, error)
	MarkPaid(ctx context.Context, resultID, userID string) error
}
