package repos

import (
	"context"
	"time"

	"creator-sync/api/internal/models"
)

const mediaColumns = `id, owner_id, post_id, media_type, url, size_bytes, created_at`

type MediaRepo struct {
	db DBTX
}

func NewMediaRepo(db DBTX) *MediaRepo {
	return &MediaRepo{db: db}
}

func (r *MediaRepo) Insert(ctx context.Context, m models.Media) (models.Media, error) {
	row := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO media (id, owner_id, post_id, media_type, url, size_bytes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+mediaColumns+`
		)
		SELECT `+mediaColumns+` FROM ins
		UNION ALL
		SELECT `+mediaColumns+` FROM media WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM ins)
	`, m.ID, m.OwnerID, m.PostID, m.MediaType, m.URL, m.SizeBytes, time.Now().UTC())
	return scanMedia(row)
}

func (r *MediaRepo) Upsert(ctx context.Context, m models.Media) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO media (id, owner_id, post_id, media_type, url, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			post_id = EXCLUDED.post_id,
			media_type = EXCLUDED.media_type,
			url = EXCLUDED.url,
			size_bytes = EXCLUDED.size_bytes
	`, m.ID, m.OwnerID, m.PostID, m.MediaType, m.URL, m.SizeBytes, m.CreatedAt)
	return err
}

func (r *MediaRepo) FindByID(ctx context.Context, id string) (models.Media, error) {
	return scanMedia(r.db.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
}

func scanMedia(row scanner) (models.Media, error) {
	var m models.Media
	err := row.Scan(&m.ID, &m.OwnerID, &m.PostID, &m.MediaType, &m.URL, &m.SizeBytes, &m.CreatedAt)
	return m, notFound(err)
}
