package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresPledgeRepo はPostgreSQLを使用した寄付意思表示リポジトリ。
type PostgresPledgeRepo struct {
	db *sql.DB
}

// NewPostgresPledgeRepo はPostgresPledgeRepoを生成する。
func NewPostgresPledgeRepo(db *sql.DB) *PostgresPledgeRepo {
	return &PostgresPledgeRepo{db: db}
}

// Create は寄付の意思表示を作成する。
func (r *PostgresPledgeRepo) Create(ctx context.Context, p *model.Pledge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pledges (id, name, email, amount, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Email, p.Amount, p.Message, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pledge: %w", err)
	}
	return nil
}

// List は寄付の意思表示を新しい順に最大limit件返す。
func (r *PostgresPledgeRepo) List(ctx context.Context, limit int) ([]*model.Pledge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, email, amount, message, created_at
		 FROM pledges
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pledges: %w", err)
	}
	defer rows.Close()

	var pledges []*model.Pledge
	for rows.Next() {
		p := &model.Pledge{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Amount, &p.Message, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pledge: %w", err)
		}
		pledges = append(pledges, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pledges: %w", err)
	}
	return pledges, nil
}

// compile-time interface check
var _ PledgeRepository = (*PostgresPledgeRepo)(nil)
