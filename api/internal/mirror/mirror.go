package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"creator-sync/api/internal/models"
)

const (
	EntityUser  = "user"
	EntityPost  = "post"
	EntityMedia = "media"

	VisibilityPublic = "public"
)

// Cache is the slice of the cache adapter the mirror writes through.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, key string) error
	ListPush(ctx context.Context, key string, value string) error
}

type UserView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"displayName"`
	Role        string    `json:"role"`
	AvatarURL   *string   `json:"avatarUrl"`
	Bio         *string   `json:"bio"`
	IsVerified  bool      `json:"isVerified"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PostView struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creatorId"`
	Content      *string   `json:"content"`
	Visibility   string    `json:"visibility"`
	MediaIDs     []string  `json:"mediaIds"`
	LikeCount    int64     `json:"likeCount"`
	CommentCount int64     `json:"commentCount"`
	Price        *float64  `json:"price"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type MediaView struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	PostID    *string   `json:"postId"`
	MediaType string    `json:"mediaType"`
	URL       string    `json:"url"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewUserView(u models.User) UserView {
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// NewPostView floors counters at zero; the store may be transiently negative
// while an unlike races its like.
func NewPostView(p models.Post) PostView {
	mediaIDs := p.MediaIDs
	if mediaIDs == nil {
		mediaIDs = []string{}
	}
	return PostView{
		ID:           p.ID,
		CreatorID:    p.CreatorID,
		Content:      p.Content,
		Visibility:   p.Visibility,
		MediaIDs:     mediaIDs,
		LikeCount:    max(p.LikeCount, 0),
		CommentCount: max(p.CommentCount, 0),
		Price:        p.Price,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func NewMediaView(m models.Media) MediaView {
	return MediaView{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		PostID:    m.PostID,
		MediaType: m.MediaType,
		URL:       m.URL,
		SizeBytes: m.SizeBytes,
		CreatedAt: m.CreatedAt,
	}
}

// ToUser and friends rebuild a store row from a cached blob for sync_to_db.
func (v UserView) ToUser() models.User {
	return models.User{
		ID: v.ID, Email: v.Email, Username: v.Username, DisplayName: v.DisplayName,
		Role: v.Role, AvatarURL: v.AvatarURL, Bio: v.Bio, IsVerified: v.IsVerified,
		CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
	}
}

func (v PostView) ToPost() models.Post {
	return models.Post{
		ID: v.ID, CreatorID: v.CreatorID, Content: v.Content, Visibility: v.Visibility,
		MediaIDs: v.MediaIDs, LikeCount: v.LikeCount, CommentCount: v.CommentCount,
		Price: v.Price, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
	}
}

func (v MediaView) ToMedia() models.Media {
	return models.Media{
		ID: v.ID, OwnerID: v.OwnerID, PostID: v.PostID, MediaType: v.MediaType,
		URL: v.URL, SizeBytes: v.SizeBytes, CreatedAt: v.CreatedAt,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Mirror struct {
	cache Cache
}

func New(cache Cache) *Mirror {
	return &Mirror{cache: cache}
}

func (m *Mirror) PutUser(ctx context.Context, u models.User) error {
	if err := m.put(ctx, UserKey(u.ID), NewUserView(u)); err != nil {
		return err
	}
	if u.Email == "" {
		return nil
	}
	return m.cache.Set(ctx, UserEmailKey(u.Email), u.ID)
}

func (m *Mirror) PutPost(ctx context.Context, p models.Post) error {
	return m.put(ctx, PostKey(p.ID), NewPostView(p))
}

func (m *Mirror) PutMedia(ctx context.Context, md models.Media) error {
	return m.put(ctx, MediaKey(md.ID), NewMediaView(md))
}

// IndexPost appends a new post to its secondary lists. Lists are append-only.
func (m *Mirror) IndexPost(ctx context.Context, p models.Post) error {
	if p.Visibility == VisibilityPublic {
		if err := m.cache.ListPush(ctx, KeyPublicPosts, p.ID); err != nil {
			return err
		}
	}
	return m.cache.ListPush(ctx, CreatorPostsKey(p.CreatorID), p.ID)
}

// EvictUser drops the user blob and, when known, the email lookup.
func (m *Mirror) EvictUser(ctx context.Context, id string, email string) error {
	var errs []error
	if err := m.cache.Del(ctx, UserKey(id)); err != nil {
		errs = append(errs, err)
	}
	if email != "" {
		if err := m.cache.Del(ctx, UserEmailKey(email)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) DropEmail(ctx context.Context, email string) error {
	if email == "" {
		return nil
	}
	return m.cache.Del(ctx, UserEmailKey(email))
}

func (m *Mirror) EvictPost(ctx context.Context, id string) error {
	return m.cache.Del(ctx, PostKey(id))
}

func (m *Mirror) EvictMedia(ctx context.Context, id string) error {
	return m.cache.Del(ctx, MediaKey(id))
}

func (m *Mirror) GetUser(ctx context.Context, id string) (UserView, bool, error) {
	var v UserView
	ok, err := m.get(ctx, UserKey(id), &v)
	return v, ok, err
}

func (m *Mirror) GetPost(ctx context.Context, id string) (PostView, bool, error) {
	var v PostView
	ok, err := m.get(ctx, PostKey(id), &v)
	return v, ok, err
}

func (m *Mirror) GetMedia(ctx context.Context, id string) (MediaView, bool, error) {
	var v MediaView
	ok, err := m.get(ctx, MediaKey(id), &v)
	return v, ok, err
}

func (m *Mirror) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, key, string(b))
}

func (m *Mirror) get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := m.cache.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, err
	}
	return true, nil
}
