package handlers

import (
	"context"
	"log/slog"
	"time"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/models"
	"creator-sync/shared/events"
)

const (
	defaultSubscriptionStatus = "active"
	defaultPaymentStatus      = "completed"
	defaultCurrency           = "USD"
)

func (h *Handlers) MediaUploaded(ctx context.Context, raw []byte) error {
	var p events.MediaUploaded
	ok, err := h.decode(ctx, events.TopicMediaUploaded, raw, &p, func() {
		events.Trim(&p.ID, &p.OwnerID, &p.MediaType, &p.URL)
		events.TrimOptional(&p.PostID)
	})
	if !ok || err != nil {
		return err
	}

	m, err := h.store.Media.Insert(ctx, models.Media{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		PostID:    p.PostID,
		MediaType: p.MediaType,
		URL:       p.URL,
		SizeBytes: p.SizeBytes,
	})
	if err != nil {
		return storeFailed("insert media", p.ID, err)
	}
	if err := h.mirror.PutMedia(ctx, m); err != nil {
		h.cacheFailed(ctx, mirror.EntityMedia, m.ID, consistency.OpSyncToCache, rawPayload(raw), err)
	}
	return nil
}

// The remaining events have no cache representation and only reach the store.

func (h *Handlers) SubscriptionCreated(ctx context.Context, raw []byte) error {
	var p events.SubscriptionCreated
	ok, err := h.decode(ctx, events.TopicSubscriptionCreated, raw, &p, func() {
		events.Trim(&p.ID, &p.SubscriberID, &p.CreatorID, &p.Status)
		events.TrimOptional(&p.TierID, &p.ExpiresAt)
	})
	if !ok || err != nil {
		return err
	}
	status := p.Status
	if status == "" {
		status = defaultSubscriptionStatus
	}
	var expiresAt *time.Time
	if p.ExpiresAt != nil && *p.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *p.ExpiresAt)
		if err != nil {
			h.logger.Warn(ctx, "event_invalid", "event skipped: unparsable expiresAt",
				slog.String("topic", events.TopicSubscriptionCreated),
				slog.String("expires_at", *p.ExpiresAt),
			)
			return nil
		}
		expiresAt = &t
	}

	err = h.store.Subscriptions.InsertSubscription(ctx, models.Subscription{
		ID:           p.ID,
		SubscriberID: p.SubscriberID,
		CreatorID:    p.CreatorID,
		TierID:       p.TierID,
		Status:       status,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return storeFailed("insert subscription", p.ID, err)
	}
	return nil
}

func (h *Handlers) PaymentCompleted(ctx context.Context, raw []byte) error {
	var p events.PaymentCompleted
	ok, err := h.decode(ctx, events.TopicPaymentCompleted, raw, &p, func() {
		events.Trim(&p.ID, &p.UserID, &p.Type, &p.Currency, &p.Status)
		events.TrimOptional(&p.ReferenceID)
	})
	if !ok || err != nil {
		return err
	}
	payment := models.Payment{
		ID:          p.ID,
		UserID:      p.UserID,
		Type:        p.Type,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		ReferenceID: p.ReferenceID,
	}
	if payment.Currency == "" {
		payment.Currency = defaultCurrency
	}
	if payment.Status == "" {
		payment.Status = defaultPaymentStatus
	}
	if err := h.store.Payments.InsertPayment(ctx, payment); err != nil {
		return storeFailed("insert payment", p.ID, err)
	}
	return nil
}

func (h *Handlers) TipSent(ctx context.Context, raw []byte) error {
	var p events.TipSent
	ok, err := h.decode(ctx, events.TopicTipSent, raw, &p, func() {
		events.Trim(&p.ID, &p.SenderID, &p.CreatorID)
		events.TrimOptional(&p.PostID, &p.Message)
	})
	if !ok || err != nil {
		return err
	}
	err = h.store.Payments.InsertTip(ctx, models.Tip{
		ID:        p.ID,
		SenderID:  p.SenderID,
		CreatorID: p.CreatorID,
		Amount:    p.Amount,
		PostID:    p.PostID,
		Message:   p.Message,
	})
	if err != nil {
		return storeFailed("insert tip", p.ID, err)
	}
	return nil
}

func (h *Handlers) PurchaseCompleted(ctx context.Context, raw []byte) error {
	var p events.PurchaseCompleted
	ok, err := h.decode(ctx, events.TopicPurchaseCompleted, raw, &p, func() {
		events.Trim(&p.ID, &p.BuyerID, &p.PostID)
	})
	if !ok || err != nil {
		return err
	}
	err = h.store.Payments.InsertPurchase(ctx, models.Purchase{
		ID:      p.ID,
		BuyerID: p.BuyerID,
		PostID:  p.PostID,
		Amount:  p.Amount,
	})
	if err != nil {
		return storeFailed("insert purchase", p.ID, err)
	}
	return nil
}

func (h *Handlers) TierCreated(ctx context.Context, raw []byte) error {
	var p events.TierCreated
	ok, err := h.decode(ctx, events.TopicTierCreated, raw, &p, func() {
		events.Trim(&p.ID, &p.CreatorID, &p.Name)
		events.TrimOptional(&p.Description)
	})
	if !ok || err != nil {
		return err
	}
	benefits := p.Benefits
	if benefits == nil {
		benefits = []string{}
	}
	err = h.store.Subscriptions.InsertTier(ctx, models.Tier{
		ID:          p.ID,
		CreatorID:   p.CreatorID,
		Name:        p.Name,
		Price:       p.Price,
		Description: p.Description,
		Benefits:    benefits,
	})
	if err != nil {
		return storeFailed("insert tier", p.ID, err)
	}
	return nil
}
