package storage

import (
	"context"
	"encoding/json"

	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/model"
)

const serviceColumns = `
	id, slug, name, description, category, duration_minutes, base_price_cents,
	COALESCE(membership_discount_pct, '{}'::jsonb), max_bookings_per_day, advance_booking_days,
	active, booking_enabled`

type ServiceRepository struct {
	pool *db.Pool
}

func NewServiceRepository(pool *db.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

func (r *ServiceRepository) Get(ctx context.Context, id string) (model.Service, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

func (r *ServiceRepository) GetBySlug(ctx context.Context, slug string) (model.Service, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE slug = $1`, slug)
	return scanService(row)
}

func (r *ServiceRepository) ListBookable(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE active AND booking_enabled
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return services, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (model.Service, error) {
	var svc model.Service
	var discountRaw []byte
	err := row.Scan(
		&svc.ID,
		&svc.Slug,
		&svc.Name,
		&svc.Description,
		&svc.Category,
		&svc.DurationMinutes,
		&svc.BasePriceCents,
		&discountRaw,
		&svc.MaxBookingsPerDay,
		&svc.AdvanceBookingDays,
		&svc.Active,
		&svc.BookingEnabled,
	)
	if err != nil {
		return model.Service{}, err
	}
	if len(discountRaw) > 0 {
		if err := json.Unmarshal(discountRaw, &svc.MembershipDiscount); err != nil {
			return model.Service{}, err
		}
	}
	return svc, nil
}
