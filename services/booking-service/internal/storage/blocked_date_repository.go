package storage

import (
	"context"
	"time"

	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
)

type BlockedDateRepository struct {
	pool *db.Pool
}

func NewBlockedDateRepository(pool *db.Pool) *BlockedDateRepository {
	return &BlockedDateRepository{pool: pool}
}

func (r *BlockedDateRepository) Create(ctx context.Context, b *model.BlockedDate) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO blocked_dates (date, reason, category, full_day, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, b.Date, b.Reason, string(b.Category), b.FullDay, b.StartMinute, b.EndMinute).Scan(&id)
	return id, err
}

func (r *BlockedDateRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blocked_dates WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BlockedDateRepository) ListForDate(ctx context.Context, date time.Time) ([]model.BlockedDate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, date, reason, category, full_day, start_minute, end_minute, created_at
		FROM blocked_dates
		WHERE date = $1
		ORDER BY id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlockedDates(rows)
}

func (r *BlockedDateRepository) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]model.BlockedDate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, date, reason, category, full_day, start_minute, end_minute, created_at
		FROM blocked_dates
		WHERE date >= $1
		ORDER BY date ASC, id ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlockedDates(rows)
}

func scanBlockedDates(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.BlockedDate, error) {
	var blocks []model.BlockedDate
	for rows.Next() {
		var b model.BlockedDate
		var category string
		if err := rows.Scan(&b.ID, &b.Date, &b.Reason, &category, &b.FullDay, &b.StartMinute, &b.EndMinute, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Category = model.BlockCategory(category)
		blocks = append(blocks, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}
