package repos

import (
	"context"
	"time"

	"creator-sync/api/internal/models"
)

type LikesRepo struct {
	db DBTX
}

func NewLikesRepo(db DBTX) *LikesRepo {
	return &LikesRepo{db: db}
}

func (r *LikesRepo) Insert(ctx context.Context, postID string, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO likes (post_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (post_id, user_id) DO NOTHING
	`, postID, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LikesRepo) Delete(ctx context.Context, postID string, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type CommentsRepo struct {
	db DBTX
}

func NewCommentsRepo(db DBTX) *CommentsRepo {
	return &CommentsRepo{db: db}
}

func (r *CommentsRepo) Insert(ctx context.Context, c models.Comment) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO comments (id, post_id, user_id, content, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.PostID, c.UserID, c.Content, c.ParentID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CommentsRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
