// Package events defines the topics this service consumes and publishes and
// the typed payload carried on each of them.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	TopicUserCreated         = "user.created"
	TopicUserUpdated         = "user.updated"
	TopicUserDeleted         = "user.deleted"
	TopicPostCreated         = "post.created"
	TopicPostUpdated         = "post.updated"
	TopicPostDeleted         = "post.deleted"
	TopicPostLiked           = "post.liked"
	TopicPostUnliked         = "post.unliked"
	TopicCommentCreated      = "comment.created"
	TopicMediaUploaded       = "media.uploaded"
	TopicSubscriptionCreated = "subscription.created"
	TopicPaymentCompleted    = "payment.completed"
	TopicTipSent             = "tip.sent"
	TopicPurchaseCompleted   = "purchase.completed"
	TopicTierCreated         = "tier.created"

	TopicDeadLetter      = "dlq.messages"
	TopicDeadLetterAlert = "dlq.alert"
)

var ErrInvalidPayload = errors.New("invalid event payload")

// Decode unmarshals a message body. An absent or blank body decodes as {}.
func Decode(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks `validate` tags and returns the names of the failing fields.
func Validate(v any) []string {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fields
}

// Trim trims each string in place.
func Trim(ptrs ...*string) {
	for _, p := range ptrs {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

func TrimOptional(ptrs ...**string) {
	for _, p := range ptrs {
		if p != nil && *p != nil {
			v := strings.TrimSpace(**p)
			*p = &v
		}
	}
}

type UserCreated struct {
	ID          string  `json:"id" validate:"required"`
	Email       string  `json:"email" validate:"required"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName"`
	Role        string  `json:"role"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
	IsVerified  bool    `json:"isVerified"`
}

type UserUpdated struct {
	ID          string  `json:"id" validate:"required"`
	Email       *string `json:"email"`
	Username    *string `json:"username"`
	DisplayName *string `json:"displayName"`
	Role        *string `json:"role"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
	IsVerified  *bool   `json:"isVerified"`
}

type UserDeleted struct {
	ID string `json:"id" validate:"required"`
}

type PostCreated struct {
	ID         string   `json:"id" validate:"required"`
	CreatorID  string   `json:"creatorId" validate:"required"`
	Content    *string  `json:"content"`
	Visibility string   `json:"visibility"`
	MediaIDs   []string `json:"mediaIds"`
	Price      *float64 `json:"price"`
}

type PostUpdated struct {
	ID         string    `json:"id" validate:"required"`
	Content    *string   `json:"content"`
	Visibility *string   `json:"visibility"`
	MediaIDs   *[]string `json:"mediaIds"`
	Price      *float64  `json:"price"`
}

type PostDeleted struct {
	ID string `json:"id" validate:"required"`
}

// PostLiked is shared by post.liked and post.unliked.
type PostLiked struct {
	PostID string `json:"postId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type CommentCreated struct {
	ID       string  `json:"id" validate:"required"`
	PostID   string  `json:"postId" validate:"required"`
	UserID   string  `json:"userId" validate:"required"`
	Content  string  `json:"content"`
	ParentID *string `json:"parentId"`
}

type MediaUploaded struct {
	ID        string  `json:"id" validate:"required"`
	OwnerID   string  `json:"ownerId" validate:"required"`
	MediaType string  `json:"mediaType" validate:"required"`
	URL       string  `json:"url"`
	PostID    *string `json:"postId"`
	SizeBytes int64   `json:"sizeBytes"`
}

type SubscriptionCreated struct {
	ID           string  `json:"id" validate:"required"`
	SubscriberID string  `json:"subscriberId" validate:"required"`
	CreatorID    string  `json:"creatorId" validate:"required"`
	TierID       *string `json:"tierId"`
	Status       string  `json:"status"`
	ExpiresAt    *string `json:"expiresAt"`
}

type PaymentCompleted struct {
	ID          string  `json:"id" validate:"required"`
	UserID      string  `json:"userId" validate:"required"`
	Type        string  `json:"type" validate:"required"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	ReferenceID *string `json:"referenceId"`
}

type TipSent struct {
	ID        string  `json:"id" validate:"required"`
	SenderID  string  `json:"senderId" validate:"required"`
	CreatorID string  `json:"creatorId" validate:"required"`
	Amount    float64 `json:"amount"`
	PostID    *string `json:"postId"`
	Message   *string `json:"message"`
}

type PurchaseCompleted struct {
	ID      string  `json:"id" validate:"required"`
	BuyerID string  `json:"buyerId" validate:"required"`
	PostID  string  `json:"postId" validate:"required"`
	Amount  float64 `json:"amount"`
}

type TierCreated struct {
	ID          string   `json:"id" validate:"required"`
	CreatorID   string   `json:"creatorId" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Price       float64  `json:"price"`
	Description *string  `json:"description"`
	Benefits    []string `json:"benefits"`
}

// DeadLetterAlert is published to TopicDeadLetterAlert when the backlog is over threshold.
type DeadLetterAlert struct {
	Size      int64  `json:"size"`
	Threshold int    `json:"threshold"`
	Timestamp string `json:"timestamp"`
}
