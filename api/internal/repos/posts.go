package repos

import (
	"context"
	"fmt"
	"time"

	"creator-sync/api/internal/models"
)

const postColumns = `id, creator_id, content, visibility, media_ids, like_count, comment_count, price, created_at, updated_at`

type PostsRepo struct {
	db DBTX
}

func NewPostsRepo(db DBTX) *PostsRepo {
	return &PostsRepo{db: db}
}

func (r *PostsRepo) Insert(ctx context.Context, p models.Post) (models.Post, error) {
	now := time.Now().UTC()
	row := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO posts (id, creator_id, content, visibility, media_ids, like_count, comment_count, price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $7)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+postColumns+`
		)
		SELECT `+postColumns+` FROM ins
		UNION ALL
		SELECT `+postColumns+` FROM posts WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM ins)
	`, p.ID, p.CreatorID, p.Content, p.Visibility, orEmpty(p.MediaIDs), p.Price, now)
	return scanPost(row)
}

func (r *PostsRepo) Update(ctx context.Context, id string, p PostPatch) (models.Post, error) {
	var mediaIDs any
	if p.MediaIDs != nil {
		mediaIDs = orEmpty(*p.MediaIDs)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE posts SET
			content = COALESCE($2, content),
			visibility = COALESCE($3, visibility),
			media_ids = COALESCE($4::text[], media_ids),
			price = COALESCE($5, price),
			updated_at = $6
		WHERE id = $1
		RETURNING `+postColumns,
		id, p.Content, p.Visibility, mediaIDs, p.Price, time.Now().UTC())
	return scanPost(row)
}

func (r *PostsRepo) Upsert(ctx context.Context, p models.Post) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO posts (id, creator_id, content, visibility, media_ids, like_count, comment_count, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			creator_id = EXCLUDED.creator_id,
			content = EXCLUDED.content,
			visibility = EXCLUDED.visibility,
			media_ids = EXCLUDED.media_ids,
			like_count = EXCLUDED.like_count,
			comment_count = EXCLUDED.comment_count,
			price = EXCLUDED.price,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.CreatorID, p.Content, p.Visibility, orEmpty(p.MediaIDs), p.LikeCount, p.CommentCount, p.Price, p.CreatedAt, now)
	return err
}

func (r *PostsRepo) Delete(ctx context.Context, id string) (models.Post, error) {
	return scanPost(r.db.QueryRow(ctx, `DELETE FROM posts WHERE id = $1 RETURNING `+postColumns, id))
}

func (r *PostsRepo) FindByID(ctx context.Context, id string) (models.Post, error) {
	return scanPost(r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
}

func (r *PostsRepo) FindRecent(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// IncrementCounter applies delta atomically in the store; concurrent handlers
// never read-modify-write a counter in application code.
func (r *PostsRepo) IncrementCounter(ctx context.Context, id string, column string, delta int64) error {
	if !counterColumns[column] {
		return fmt.Errorf("column %q is not a counter", column)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE posts SET `+column+` = `+column+` + $2, updated_at = $3 WHERE id = $1`,
		id, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPost(row scanner) (models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.CreatorID, &p.Content, &p.Visibility, &p.MediaIDs, &p.LikeCount, &p.CommentCount, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	p.MediaIDs = orEmpty(p.MediaIDs)
	return p, notFound(err)
}
