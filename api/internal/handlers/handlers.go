// Package handlers applies each domain event to the entity store first and
// then to its cache mirror.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/dispatch"
	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/events"
	"creator-sync/shared/logx"
)

const (
	defaultRole       = "user"
	defaultVisibility = mirror.VisibilityPublic
)

// FailureRecorder queues cache-side repairs after the store write succeeded.
type FailureRecorder interface {
	RecordFailedWrite(ctx context.Context, entityType string, entityID string, operation string, payload any, cause error)
}

type Handlers struct {
	store    repos.Store
	mirror   *mirror.Mirror
	failures FailureRecorder
	logger   logx.Logger
}

func New(store repos.Store, cache mirror.Cache, failures FailureRecorder, logger logx.Logger) *Handlers {
	return &Handlers{
		store:    store,
		mirror:   mirror.New(cache),
		failures: failures,
		logger:   logger,
	}
}

// Routes is the static topic table the dispatcher subscribes from.
func (h *Handlers) Routes() []dispatch.Route {
	return []dispatch.Route{
		{Topic: events.TopicUserCreated, Handler: h.UserCreated},
		{Topic: events.TopicUserUpdated, Handler: h.UserUpdated},
		{Topic: events.TopicUserDeleted, Handler: h.UserDeleted},
		{Topic: events.TopicPostCreated, Handler: h.PostCreated},
		{Topic: events.TopicPostUpdated, Handler: h.PostUpdated},
		{Topic: events.TopicPostDeleted, Handler: h.PostDeleted},
		{Topic: events.TopicPostLiked, Handler: h.PostLiked},
		{Topic: events.TopicPostUnliked, Handler: h.PostUnliked},
		{Topic: events.TopicCommentCreated, Handler: h.CommentCreated},
		{Topic: events.TopicMediaUploaded, Handler: h.MediaUploaded},
		{Topic: events.TopicSubscriptionCreated, Handler: h.SubscriptionCreated},
		{Topic: events.TopicPaymentCompleted, Handler: h.PaymentCompleted},
		{Topic: events.TopicTipSent, Handler: h.TipSent},
		{Topic: events.TopicPurchaseCompleted, Handler: h.PurchaseCompleted},
		{Topic: events.TopicTierCreated, Handler: h.TierCreated},
	}
}

// decode returns ok=false when the payload lacks required fields; that is a
// deliberate no-op, not a failure.
func (h *Handlers) decode(ctx context.Context, topic string, raw []byte, dst any, normalize func()) (bool, error) {
	if err := events.Decode(raw, dst); err != nil {
		return false, err
	}
	if normalize != nil {
		normalize()
	}
	if missing := events.Validate(dst); len(missing) > 0 {
		h.logger.Warn(ctx, "event_invalid", "event skipped: required fields missing",
			slog.String("topic", topic),
			slog.Any("fields", missing),
		)
		return false, nil
	}
	return true, nil
}

// cacheFailed hands a failed mirror write to the retry subsystem and swallows
// it: the store already holds the truth.
func (h *Handlers) cacheFailed(ctx context.Context, entityType string, entityID string, operation string, payload any, err error) {
	h.logger.Warn(ctx, "cache_write_failed", "cache write failed after store write",
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	h.failures.RecordFailedWrite(ctx, entityType, entityID, operation, payload, err)
}

func storeFailed(action string, id string, err error) error {
	return fmt.Errorf("%s %s: %w", action, id, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, repos.ErrNotFound)
}

func rawPayload(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(raw)
}

var _ FailureRecorder = (*consistency.Service)(nil)
