package repos

import (
	"context"

	"creator-sync/api/internal/models"
)

const (
	ColumnLikeCount    = "like_count"
	ColumnCommentCount = "comment_count"
)

// counterColumns is the set IncrementCounter may touch; the column name is
// interpolated into SQL so it must never come from input.
var counterColumns = map[string]bool{
	ColumnLikeCount:    true,
	ColumnCommentCount: true,
}

type UserPatch struct {
	Email       *string
	Username    *string
	DisplayName *string
	Role        *string
	AvatarURL   *string
	Bio         *string
	IsVerified  *bool
}

type PostPatch struct {
	Content    *string
	Visibility *string
	MediaIDs   *[]string
	Price      *float64
}

type Users interface {
	Insert(ctx context.Context, u models.User) (models.User, error)
	Update(ctx context.Context, id string, p UserPatch) (models.User, error)
	Upsert(ctx context.Context, u models.User) error
	Delete(ctx context.Context, id string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	FindRecent(ctx context.Context, limit int) ([]models.User, error)
}

type Posts interface {
	Insert(ctx context.Context, p models.Post) (models.Post, error)
	Update(ctx context.Context, id string, p PostPatch) (models.Post, error)
	Upsert(ctx context.Context, p models.Post) error
	Delete(ctx context.Context, id string) (models.Post, error)
	FindByID(ctx context.Context, id string) (models.Post, error)
	FindRecent(ctx context.Context, limit int) ([]models.Post, error)
	IncrementCounter(ctx context.Context, id string, column string, delta int64) error
}

// Likes reports whether a row was actually inserted or removed so counter
// updates can be skipped on redelivery.
type Likes interface {
	Insert(ctx context.Context, postID string, userID string) (bool, error)
	Delete(ctx context.Context, postID string, userID string) (bool, error)
}

type Comments interface {
	Insert(ctx context.Context, c models.Comment) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Media interface {
	Insert(ctx context.Context, m models.Media) (models.Media, error)
	Upsert(ctx context.Context, m models.Media) error
	FindByID(ctx context.Context, id string) (models.Media, error)
}

type Subscriptions interface {
	InsertSubscription(ctx context.Context, s models.Subscription) error
	InsertTier(ctx context.Context, t models.Tier) error
}

type Payments interface {
	InsertPayment(ctx context.Context, p models.Payment) error
	InsertTip(ctx context.Context, t models.Tip) error
	InsertPurchase(ctx context.Context, p models.Purchase) error
}

// Store bundles every entity repository behind one handle.
type Store struct {
	Users         Users
	Posts         Posts
	Likes         Likes
	Comments      Comments
	Media         Media
	Subscriptions Subscriptions
	Payments      Payments
}

func NewStore(db DBTX) Store {
	return Store{
		Users:         NewUsersRepo(db),
		Posts:         NewPostsRepo(db),
		Likes:         NewLikesRepo(db),
		Comments:      NewCommentsRepo(db),
		Media:         NewMediaRepo(db),
		Subscriptions: NewSubscriptionsRepo(db),
		Payments:      NewPaymentsRepo(db),
	}
}
