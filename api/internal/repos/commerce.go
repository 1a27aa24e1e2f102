package repos

import (
	"context"
	"time"

	"creator-sync/api/internal/models"
)

type SubscriptionsRepo struct {
	db DBTX
}

func NewSubscriptionsRepo(db DBTX) *SubscriptionsRepo {
	return &SubscriptionsRepo{db: db}
}

func (r *SubscriptionsRepo) InsertSubscription(ctx context.Context, s models.Subscription) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, creator_id, tier_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.SubscriberID, s.CreatorID, s.TierID, s.Status, s.ExpiresAt, time.Now().UTC())
	return err
}

func (r *SubscriptionsRepo) InsertTier(ctx context.Context, t models.Tier) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscription_tiers (id, creator_id, name, price, description, benefits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.CreatorID, t.Name, t.Price, t.Description, orEmpty(t.Benefits), time.Now().UTC())
	return err
}

type PaymentsRepo struct {
	db DBTX
}

func NewPaymentsRepo(db DBTX) *PaymentsRepo {
	return &PaymentsRepo{db: db}
}

func (r *PaymentsRepo) InsertPayment(ctx context.Context, p models.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (id, user_id, type, amount, currency, status, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.UserID, p.Type, p.Amount, p.Currency, p.Status, p.ReferenceID, time.Now().UTC())
	return err
}

func (r *PaymentsRepo) InsertTip(ctx context.Context, t models.Tip) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tips (id, sender_id, creator_id, amount, post_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.SenderID, t.CreatorID, t.Amount, t.PostID, t.Message, time.Now().UTC())
	return err
}

func (r *PaymentsRepo) InsertPurchase(ctx context.Context, p models.Purchase) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO purchases (id, buyer_id, post_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.BuyerID, p.PostID, p.Amount, time.Now().UTC())
	return err
}
