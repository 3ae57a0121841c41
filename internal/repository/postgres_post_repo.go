package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用したブログ記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, title, slug, content, image_id, author, author_id, source_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var authorID sql.NullString
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.Content, &p.ImageID,
		&p.Author, &authorID, &p.SourceURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AuthorID = nullStringValue(authorID)
	return p, nil
}

func (r *PostgresPostRepo) findOne(ctx context.Context, where string, arg any) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE `+where,
		arg,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindBySlug(ctx context.Context, slug string) (*model.Post, error) {
	return r.findOne(ctx, `slug = $1`, slug)
}

// List は記事を新しい順に最大limit件返す。
func (r *PostgresPostRepo) List(ctx context.Context, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// Create は記事を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Title, p.Slug, p.Content, p.ImageID,
		p.Author, nullString(p.AuthorID), p.SourceURL, p.CreatedAt, p.UpdatedAt,
	)
	if uniqueViolation(err) {
		return fmt.Errorf("slug %q: %w", p.Slug, ErrDuplicateSlug)
	}
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事のタイトル・slug・本文・画像を更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, p *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET title = $2, slug = $3, content = $4, image_id = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Title, p.Slug, p.Content, p.ImageID, p.UpdatedAt,
	)
	if uniqueViolation(err) {
		return fmt.Errorf("slug %q: %w", p.Slug, ErrDuplicateSlug)
	}
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return requireAffected(result, "post", p.ID)
}

// Delete は指定IDの記事を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	return requireAffected(result, "post", id)
}

// UpsertBySlug はslugをキーに記事を作成または上書きする。
// 新規作成した場合はtrueを返す。既存記事のid、author、created_atは維持する。
// 同じslugの記事が別の取り込み元（手書き記事を含む）のものであれば上書きせずErrDuplicateSlugを返す。
func (r *PostgresPostRepo) UpsertBySlug(ctx context.Context, p *model.Post) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (slug) DO UPDATE SET
		     title = EXCLUDED.title,
		     content = EXCLUDED.content,
		     image_id = EXCLUDED.image_id,
		     source_url = EXCLUDED.source_url,
		     updated_at = EXCLUDED.updated_at
		 WHERE posts.source_url = EXCLUDED.source_url
		 RETURNING (xmax = 0)`,
		p.ID, p.Title, p.Slug, p.Content, p.ImageID,
		p.Author, nullString(p.AuthorID), p.SourceURL, p.CreatedAt, p.UpdatedAt,
	).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("slug %q: %w", p.Slug, ErrDuplicateSlug)
	}
	if err != nil {
		return false, fmt.Errorf("記事のUPSERTに失敗しました: %w", err)
	}
	return inserted, nil
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
