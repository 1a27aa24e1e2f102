package handlers

import (
	"context"
	"log/slog"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/models"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/events"
)

func (h *Handlers) PostCreated(ctx context.Context, raw []byte) error {
	var p events.PostCreated
	ok, err := h.decode(ctx, events.TopicPostCreated, raw, &p, func() {
		events.Trim(&p.ID, &p.CreatorID, &p.Visibility)
	})
	if !ok || err != nil {
		return err
	}
	visibility := p.Visibility
	if visibility == "" {
		visibility = defaultVisibility
	}
	mediaIDs := p.MediaIDs
	if mediaIDs == nil {
		mediaIDs = []string{}
	}

	post, err := h.store.Posts.Insert(ctx, models.Post{
		ID:         p.ID,
		CreatorID:  p.CreatorID,
		Content:    p.Content,
		Visibility: visibility,
		MediaIDs:   mediaIDs,
		Price:      p.Price,
	})
	if err != nil {
		return storeFailed("insert post", p.ID, err)
	}
	if err := h.mirror.PutPost(ctx, post); err != nil {
		h.cacheFailed(ctx, mirror.EntityPost, post.ID, consistency.OpSyncToCache, rawPayload(raw), err)
	}
	// Secondary lists are indexed even when the blob write failed.
	if err := h.mirror.IndexPost(ctx, post); err != nil {
		h.logger.Warn(ctx, "post_index_failed", "post missing from secondary lists",
			slog.String("entity_id", post.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (h *Handlers) PostUpdated(ctx context.Context, raw []byte) error {
	var p events.PostUpdated
	ok, err := h.decode(ctx, events.TopicPostUpdated, raw, &p, func() {
		events.Trim(&p.ID)
		events.TrimOptional(&p.Visibility)
	})
	if !ok || err != nil {
		return err
	}

	post, err := h.store.Posts.Update(ctx, p.ID, repos.PostPatch{
		Content:    p.Content,
		Visibility: p.Visibility,
		MediaIDs:   p.MediaIDs,
		Price:      p.Price,
	})
	if err != nil {
		return storeFailed("update post", p.ID, err)
	}
	if err := h.mirror.PutPost(ctx, post); err != nil {
		h.cacheFailed(ctx, mirror.EntityPost, post.ID, consistency.OpSyncToCache, rawPayload(raw), err)
	}
	return nil
}

func (h *Handlers) PostDeleted(ctx context.Context, raw []byte) error {
	var p events.PostDeleted
	ok, err := h.decode(ctx, events.TopicPostDeleted, raw, &p, func() { events.Trim(&p.ID) })
	if !ok || err != nil {
		return err
	}
	if _, err := h.store.Posts.Delete(ctx, p.ID); err != nil && !isNotFound(err) {
		return storeFailed("delete post", p.ID, err)
	}
	if err := h.mirror.EvictPost(ctx, p.ID); err != nil {
		h.cacheFailed(ctx, mirror.EntityPost, p.ID, consistency.OpEvictFromCache, nil, err)
	}
	return nil
}

func (h *Handlers) PostLiked(ctx context.Context, raw []byte) error {
	return h.like(ctx, events.TopicPostLiked, raw, 1)
}

func (h *Handlers) PostUnliked(ctx context.Context, raw []byte) error {
	return h.like(ctx, events.TopicPostUnliked, raw, -1)
}

// like applies a like (+1) or unlike (-1). The likes row gates the counter,
// so a redelivered event changes nothing.
func (h *Handlers) like(ctx context.Context, topic string, raw []byte, delta int64) error {
	var p events.PostLiked
	ok, err := h.decode(ctx, topic, raw, &p, func() { events.Trim(&p.PostID, &p.UserID) })
	if !ok || err != nil {
		return err
	}

	var changed bool
	if delta > 0 {
		changed, err = h.store.Likes.Insert(ctx, p.PostID, p.UserID)
	} else {
		changed, err = h.store.Likes.Delete(ctx, p.PostID, p.UserID)
	}
	if err != nil {
		return storeFailed("record like on", p.PostID, err)
	}
	if !changed {
		h.logger.Debug(ctx, "event_duplicate", "like state already applied",
			slog.String("topic", topic),
			slog.String("post_id", p.PostID),
			slog.String("user_id", p.UserID),
		)
		return nil
	}

	if err := h.store.Posts.IncrementCounter(ctx, p.PostID, repos.ColumnLikeCount, delta); err != nil {
		h.undoLike(ctx, p, delta)
		return storeFailed("count like on", p.PostID, err)
	}
	return h.refreshPost(ctx, p.PostID, raw)
}

// undoLike reverts the likes row so a replay of the event is not skipped.
func (h *Handlers) undoLike(ctx context.Context, p events.PostLiked, delta int64) {
	var err error
	if delta > 0 {
		_, err = h.store.Likes.Delete(ctx, p.PostID, p.UserID)
	} else {
		_, err = h.store.Likes.Insert(ctx, p.PostID, p.UserID)
	}
	if err != nil {
		h.logger.Error(ctx, "like_undo_failed", "like row and counter may disagree",
			slog.String("post_id", p.PostID),
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) CommentCreated(ctx context.Context, raw []byte) error {
	var p events.CommentCreated
	ok, err := h.decode(ctx, events.TopicCommentCreated, raw, &p, func() {
		events.Trim(&p.ID, &p.PostID, &p.UserID)
		events.TrimOptional(&p.ParentID)
	})
	if !ok || err != nil {
		return err
	}

	inserted, err := h.store.Comments.Insert(ctx, models.Comment{
		ID:       p.ID,
		PostID:   p.PostID,
		UserID:   p.UserID,
		Content:  p.Content,
		ParentID: p.ParentID,
	})
	if err != nil {
		return storeFailed("insert comment", p.ID, err)
	}
	if !inserted {
		return nil
	}
	if err := h.store.Posts.IncrementCounter(ctx, p.PostID, repos.ColumnCommentCount, 1); err != nil {
		h.undoComment(ctx, p.ID, p.PostID)
		return storeFailed("count comment on", p.PostID, err)
	}
	return h.refreshPost(ctx, p.PostID, raw)
}

// undoComment drops the comment row so a replay counts it again.
func (h *Handlers) undoComment(ctx context.Context, id string, postID string) {
	if _, err := h.store.Comments.Delete(ctx, id); err != nil {
		h.logger.Error(ctx, "comment_undo_failed", "comment row and counter may disagree",
			slog.String("comment_id", id),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
}

// refreshPost mirrors the post as the store holds it after a counter change;
// the cache is never incremented on its own. A failed re-read is queued for
// sync_to_cache like a failed cache write.
func (h *Handlers) refreshPost(ctx context.Context, postID string, raw []byte) error {
	post, err := h.store.Posts.FindByID(ctx, postID)
	if err != nil {
		h.cacheFailed(ctx, mirror.EntityPost, postID, consistency.OpSyncToCache, rawPayload(raw), err)
		return nil
	}
	if err := h.mirror.PutPost(ctx, post); err != nil {
		h.cacheFailed(ctx, mirror.EntityPost, postID, consistency.OpSyncToCache, rawPayload(raw), err)
	}
	return nil
}
