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

func (h *Handlers) UserCreated(ctx context.Context, raw []byte) error {
	var p events.UserCreated
	ok, err := h.decode(ctx, events.TopicUserCreated, raw, &p, func() {
		events.Trim(&p.ID, &p.Email, &p.Username, &p.Role)
		events.TrimOptional(&p.DisplayName, &p.AvatarURL, &p.Bio)
		p.Email = mirror.NormalizeEmail(p.Email)
	})
	if !ok || err != nil {
		return err
	}
	role := p.Role
	if role == "" {
		role = defaultRole
	}

	u, err := h.store.Users.Insert(ctx, models.User{
		ID:          p.ID,
		Email:       p.Email,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        role,
		AvatarURL:   p.AvatarURL,
		Bio:         p.Bio,
		IsVerified:  p.IsVerified,
	})
	if err != nil {
		return storeFailed("insert user", p.ID, err)
	}
	if err := h.mirror.PutUser(ctx, u); err != nil {
		h.cacheFailed(ctx, mirror.EntityUser, u.ID, consistency.OpSyncToCache, rawPayload(raw), err)
	}
	return nil
}

func (h *Handlers) UserUpdated(ctx context.Context, raw []byte) error {
	var p events.UserUpdated
	ok, err := h.decode(ctx, events.TopicUserUpdated, raw, &p, func() {
		events.Trim(&p.ID)
		events.TrimOptional(&p.Email, &p.Username, &p.DisplayName, &p.Role, &p.AvatarURL, &p.Bio)
		if p.Email != nil {
			email := mirror.NormalizeEmail(*p.Email)
			p.Email = &email
		}
	})
	if !ok || err != nil {
		return err
	}

	var previousEmail string
	if p.Email != nil {
		before, err := h.store.Users.FindByID(ctx, p.ID)
		if err != nil && !isNotFound(err) {
			return storeFailed("read user", p.ID, err)
		}
		previousEmail = before.Email
	}

	u, err := h.store.Users.Update(ctx, p.ID, repos.UserPatch{
		Email:       p.Email,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		AvatarURL:   p.AvatarURL,
		Bio:         p.Bio,
		IsVerified:  p.IsVerified,
	})
	if err != nil {
		return storeFailed("update user", p.ID, err)
	}
	if err := h.mirror.PutUser(ctx, u); err != nil {
		h.cacheFailed(ctx, mirror.EntityUser, u.ID, consistency.OpSyncToCache, rawPayload(raw), err)
		return nil
	}
	if previousEmail != "" && previousEmail != u.Email {
		if err := h.mirror.DropEmail(ctx, previousEmail); err != nil {
			h.logger.Warn(ctx, "cache_write_failed", "stale email lookup left in cache",
				slog.String("entity_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

type evictUser struct {
	Email string `json:"email"`
}

func (h *Handlers) UserDeleted(ctx context.Context, raw []byte) error {
	var p events.UserDeleted
	ok, err := h.decode(ctx, events.TopicUserDeleted, raw, &p, func() { events.Trim(&p.ID) })
	if !ok || err != nil {
		return err
	}

	u, err := h.store.Users.Delete(ctx, p.ID)
	switch {
	case err == nil:
	case isNotFound(err):
		// already gone from the store; the cache blob may still name the email key
		if v, found, cerr := h.mirror.GetUser(ctx, p.ID); cerr == nil && found {
			u.Email = v.Email
		}
	default:
		return storeFailed("delete user", p.ID, err)
	}

	if err := h.mirror.EvictUser(ctx, p.ID, u.Email); err != nil {
		h.cacheFailed(ctx, mirror.EntityUser, p.ID, consistency.OpEvictFromCache, evictUser{Email: u.Email}, err)
	}
	return nil
}
