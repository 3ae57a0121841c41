package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresAppointmentRepo はPostgreSQLを使用した面談予約リポジトリ。
type PostgresAppointmentRepo struct {
	db *sql.DB
}

// NewPostgresAppointmentRepo はPostgresAppointmentRepoを生成する。
func NewPostgresAppointmentRepo(db *sql.DB) *PostgresAppointmentRepo {
	return &PostgresAppointmentRepo{db: db}
}

const appointmentColumns = `id, user_id, name, email, topic, preferred_at, message, status, created_at`

// Create は面談予約を作成する。
func (r *PostgresAppointmentRepo) Create(ctx context.Context, a *model.Appointment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO appointments (`+appointmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.Name, a.Email, a.Topic, a.PreferredAt, a.Message, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

// List は面談予約を希望日時の近い順に最大limit件返す。
func (r *PostgresAppointmentRepo) List(ctx context.Context, limit int) ([]*model.Appointment, error) {
	return r.query(ctx,
		`SELECT `+appointmentColumns+` FROM appointments ORDER BY preferred_at ASC LIMIT $1`,
		limit,
	)
}

// ListByUserID はユーザーの面談予約を希望日時の近い順に返す。
func (r *PostgresAppointmentRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Appointment, error) {
	return r.query(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE user_id = $1 ORDER BY preferred_at ASC`,
		userID,
	)
}

func (r *PostgresAppointmentRepo) query(ctx context.Context, query string, args ...any) ([]*model.Appointment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []*model.Appointment
	for rows.Next() {
		a := &model.Appointment{}
		var status string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Name, &a.Email, &a.Topic,
			&a.PreferredAt, &a.Message, &status, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.Status = model.AppointmentStatus(status)
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

// compile-time interface check
var _ AppointmentRepository = (*PostgresAppointmentRepo)(nil)
