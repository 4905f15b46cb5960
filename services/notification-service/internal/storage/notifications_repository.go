package storage

import (
	"context"
	"strings"

	"github.com/serenitymassage/bookwell/libs/db"
)

// Notification is one row of the send log. SubjectID is the appointment or
// waitlist entry the message was about.
type Notification struct {
	SubjectID string
	Channel   string
	Recipient string
	Kind      string
	Status    string
	Error     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	var errVal any
	if strings.TrimSpace(n.Error) != "" {
		errVal = n.Error
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (subject_id, channel, recipient, kind, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.SubjectID, n.Channel, n.Recipient, n.Kind, n.Status, errVal)
	return err
}

// ServiceName resolves a service id for events that carry only the id.
func (r *Repository) ServiceName(ctx context.Context, serviceID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM services WHERE id = $1`, serviceID).Scan(&name)
	if err != nil {
		return "", err
	}
	return name, nil
}
