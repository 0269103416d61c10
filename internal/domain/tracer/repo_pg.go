package tracer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucmed/nucmed/internal/platform/db"
	"github.com/nucmed/nucmed/internal/radiopharm"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Lots --

type lotRepoPG struct{ pool *pgxpool.Pool }

func NewLotRepoPG(pool *pgxpool.Pool) LotRepository {
	return &lotRepoPG{pool: pool}
}

const lotCols = `id, lot_number, isotope, radiopharmaceutical, supplier,
	initial_activity, activity_unit, minimum_usable_activity,
	reference_time, stated_expiry, status, disposed_at, created_at`

func (r *lotRepoPG) scanLot(row pgx.Row) (*Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.LotNumber, &l.Isotope, &l.Radiopharmaceutical, &l.Supplier,
		&l.InitialActivity, &l.ActivityUnit, &l.MinimumUsableActivity,
		&l.ReferenceTime, &l.StatedExpiry, &l.Status, &l.DisposedAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *lotRepoPG) Create(ctx context.Context, l *Lot) error {
	l.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tracer_lot (id, lot_number, isotope, radiopharmaceutical, supplier,
			initial_activity, activity_unit, minimum_usable_activity,
			reference_time, stated_expiry, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		l.ID, l.LotNumber, l.Isotope, l.Radiopharmaceutical, l.Supplier,
		l.InitialActivity, l.ActivityUnit, l.MinimumUsableActivity,
		l.ReferenceTime, l.StatedExpiry, l.Status).Scan(&l.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateLot, l.LotNumber)
	}
	return err
}

func (r *lotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return r.scanLot(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+lotCols+` FROM tracer_lot WHERE id = $1`, id))
}

func (r *lotRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return r.scanLot(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+lotCols+` FROM tracer_lot WHERE id = $1 FOR UPDATE`, id))
}

func (r *lotRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*Lot, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tracer_lot WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+lotCols+` FROM tracer_lot
		WHERE ($1 = '' OR status = $1)
		ORDER BY reference_time DESC, lot_number LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *lotRepoPG) ListActive(ctx context.Context) ([]*Lot, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+lotCols+` FROM tracer_lot
		WHERE status = $1 ORDER BY lot_number`, StatusActive)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *lotRepoPG) collect(rows pgx.Rows) ([]*Lot, error) {
	defer rows.Close()
	var items []*Lot
	for rows.Next() {
		l, err := r.scanLot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *lotRepoPG) MarkDisposed(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE tracer_lot SET status = $2, disposed_at = NOW()
		WHERE id = $1 AND status <> $2`, id, StatusDisposed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already disposed.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrLotDisposed
	}
	return nil
}

// -- Quality control records --

type qcRepoPG struct{ pool *pgxpool.Pool }

func NewQCRepoPG(pool *pgxpool.Pool) QCRepository {
	return &qcRepoPG{pool: pool}
}

const qcCols = `id, lot_id, test_type, result, unit, criteria, passed,
	performed_by, performed_at, notes`

func (r *qcRepoPG) scanRecord(row pgx.Row) (radiopharm.QualityControlRecord, uuid.UUID, error) {
	var (
		rec      radiopharm.QualityControlRecord
		lotID    uuid.UUID
		criteria []byte
	)
	err := row.Scan(&rec.ID, &lotID, &rec.TestType, &rec.Result, &rec.Unit, &criteria,
		&rec.Passed, &rec.PerformedBy, &rec.PerformedAt, &rec.Notes)
	if err != nil {
		return rec, lotID, err
	}
	if err := json.Unmarshal(criteria, &rec.Criteria); err != nil {
		return rec, lotID, fmt.Errorf("decode criteria of QC record %s: %w", rec.ID, err)
	}
	rec.LotID = lotID.String()
	return rec, lotID, nil
}

func (r *qcRepoPG) Create(ctx context.Context, lotID uuid.UUID, rec *radiopharm.QualityControlRecord) error {
	criteria, err := json.Marshal(rec.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	if rec.Notes == nil {
		rec.Notes = []string{}
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO quality_control_record (id, lot_id, test_type, result, unit, criteria,
			passed, performed_by, performed_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, lotID, rec.TestType, rec.Result, rec.Unit, criteria,
		rec.Passed, rec.PerformedBy, rec.PerformedAt, rec.Notes)
	if err == nil {
		rec.LotID = lotID.String()
	}
	return err
}

func (r *qcRepoPG) ListByLot(ctx context.Context, lotID uuid.UUID) ([]radiopharm.QualityControlRecord, error) {
	byLot, err := r.ListByLots(ctx, []uuid.UUID{lotID})
	if err != nil {
		return nil, err
	}
	return byLot[lotID], nil
}

func (r *qcRepoPG) ListByLots(ctx context.Context, lotIDs []uuid.UUID) (map[uuid.UUID][]radiopharm.QualityControlRecord, error) {
	out := make(map[uuid.UUID][]radiopharm.QualityControlRecord, len(lotIDs))
	if len(lotIDs) == 0 {
		return out, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+qcCols+` FROM quality_control_record
		WHERE lot_id = ANY($1) ORDER BY performed_at, created_at`, lotIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, lotID, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[lotID] = append(out[lotID], rec)
	}
	return out, rows.Err()
}

// -- Preparations --

type preparationRepoPG struct{ pool *pgxpool.Pool }

func NewPreparationRepoPG(pool *pgxpool.Pool) PreparationRepository {
	return &preparationRepoPG{pool: pool}
}

const preparationCols = `id, lot_id, activity, prepared_at, prepared_by,
	patient_ref, exam_type, note, created_at`

func (r *preparationRepoPG) Create(ctx context.Context, p *Preparation) error {
	p.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO preparation_log (id, lot_id, activity, prepared_at, prepared_by,
			patient_ref, exam_type, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		p.ID, p.LotID, p.Activity, p.PreparedAt, p.PreparedBy,
		p.PatientRef, p.ExamType, p.Note).Scan(&p.CreatedAt)
}

func (r *preparationRepoPG) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*Preparation, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+preparationCols+` FROM preparation_log
		WHERE lot_id = $1 ORDER BY prepared_at, created_at`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Preparation
	for rows.Next() {
		var p Preparation
		if err := rows.Scan(&p.ID, &p.LotID, &p.Activity, &p.PreparedAt, &p.PreparedBy,
			&p.PatientRef, &p.ExamType, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
