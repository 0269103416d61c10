package tracer

import (
	"context"

	"github.com/google/uuid"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

type LotRepository interface {
	Create(ctx context.Context, l *Lot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lot, error)
	// GetForUpdate locks the lot row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Lot, int, error)
	ListActive(ctx context.Context) ([]*Lot, error)
	MarkDisposed(ctx context.Context, id uuid.UUID) error
}

type QCRepository interface {
	Create(ctx context.Context, lotID uuid.UUID, r *radiopharm.QualityControlRecord) error
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]radiopharm.QualityControlRecord, error)
	ListByLots(ctx context.Context, lotIDs []uuid.UUID) (map[uuid.UUID][]radiopharm.QualityControlRecord, error)
}

type PreparationRepository interface {
	Create(ctx context.Context, p *Preparation) error
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]*Preparation, error)
}
