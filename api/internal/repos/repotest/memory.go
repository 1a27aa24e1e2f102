// Package repotest provides an in-memory entity store for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"creator-sync/api/internal/models"
	"creator-sync/api/internal/repos"
)

// Memory implements every repos interface over maps. Fail injects an error
// for a named operation such as "posts.Insert".
type Memory struct {
	mu sync.Mutex

	users    map[string]models.User
	posts    map[string]models.Post
	likes    map[[2]string]bool
	comments map[string]models.Comment
	media    map[string]models.Media
	subs     map[string]models.Subscription
	tiers    map[string]models.Tier
	payments map[string]models.Payment
	tips     map[string]models.Tip
	purchase map[string]models.Purchase

	Fail   map[string]error
	Writes int
	Reads  int

	clock time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    map[string]models.User{},
		posts:    map[string]models.Post{},
		likes:    map[[2]string]bool{},
		comments: map[string]models.Comment{},
		media:    map[string]models.Media{},
		subs:     map[string]models.Subscription{},
		tiers:    map[string]models.Tier{},
		payments: map[string]models.Payment{},
		tips:     map[string]models.Tip{},
		purchase: map[string]models.Purchase{},
		Fail:     map[string]error{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *Memory) Store() repos.Store {
	return repos.Store{
		Users:         memUsers{m},
		Posts:         memPosts{m},
		Likes:         memLikes{m},
		Comments:      memComments{m},
		Media:         memMedia{m},
		Subscriptions: memCommerce{m},
		Payments:      memCommerce{m},
	}
}

// SetUser and SetPost seed rows without counting as handler writes.
func (m *Memory) SetUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = m.tick()
	}
	m.users[u.ID] = u
}

func (m *Memory) SetPost(p models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.tick()
	}
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}
	m.posts[p.ID] = p
}

func (m *Memory) User(id string) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *Memory) Post(id string) (models.Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	return p, ok
}

func (m *Memory) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch table {
	case "users":
		return len(m.users)
	case "posts":
		return len(m.posts)
	case "likes":
		return len(m.likes)
	case "comments":
		return len(m.comments)
	case "media":
		return len(m.media)
	case "subscriptions":
		return len(m.subs)
	case "subscription_tiers":
		return len(m.tiers)
	case "payments":
		return len(m.payments)
	case "tips":
		return len(m.tips)
	case "purchases":
		return len(m.purchase)
	}
	return 0
}

func (m *Memory) write(op string) error {
	if err := m.Fail[op]; err != nil {
		return err
	}
	m.Writes++
	return nil
}

func (m *Memory) read(op string) error {
	if err := m.Fail[op]; err != nil {
		return err
	}
	m.Reads++
	return nil
}

func (m *Memory) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

type memUsers struct{ m *Memory }

func (s memUsers) Insert(_ context.Context, u models.User) (models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("users.Insert"); err != nil {
		return models.User{}, err
	}
	if existing, ok := s.m.users[u.ID]; ok {
		return existing, nil
	}
	u.CreatedAt = s.m.tick()
	u.UpdatedAt = u.CreatedAt
	s.m.users[u.ID] = u
	return u, nil
}

func (s memUsers) Update(_ context.Context, id string, p repos.UserPatch) (models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("users.Update"); err != nil {
		return models.User{}, err
	}
	u, ok := s.m.users[id]
	if !ok {
		return models.User{}, repos.ErrNotFound
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.DisplayName != nil {
		u.DisplayName = p.DisplayName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.AvatarURL != nil {
		u.AvatarURL = p.AvatarURL
	}
	if p.Bio != nil {
		u.Bio = p.Bio
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
	u.UpdatedAt = s.m.tick()
	s.m.users[id] = u
	return u, nil
}

func (s memUsers) Upsert(_ context.Context, u models.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("users.Upsert"); err != nil {
		return err
	}
	u.UpdatedAt = s.m.tick()
	s.m.users[u.ID] = u
	return nil
}

func (s memUsers) Delete(_ context.Context, id string) (models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("users.Delete"); err != nil {
		return models.User{}, err
	}
	u, ok := s.m.users[id]
	if !ok {
		return models.User{}, repos.ErrNotFound
	}
	delete(s.m.users, id)
	return u, nil
}

func (s memUsers) FindByID(_ context.Context, id string) (models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.read("users.FindByID"); err != nil {
		return models.User{}, err
	}
	u, ok := s.m.users[id]
	if !ok {
		return models.User{}, repos.ErrNotFound
	}
	return u, nil
}

func (s memUsers) FindRecent(_ context.Context, limit int) ([]models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.read("users.FindRecent"); err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(s.m.users))
	for _, u := range s.m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPosts struct{ m *Memory }

func (s memPosts) Insert(_ context.Context, p models.Post) (models.Post, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("posts.Insert"); err != nil {
		return models.Post{}, err
	}
	if existing, ok := s.m.posts[p.ID]; ok {
		return existing, nil
	}
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}
	p.LikeCount, p.CommentCount = 0, 0
	p.CreatedAt = s.m.tick()
	p.UpdatedAt = p.CreatedAt
	s.m.posts[p.ID] = p
	return p, nil
}

func (s memPosts) Update(_ context.Context, id string, patch repos.PostPatch) (models.Post, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("posts.Update"); err != nil {
		return models.Post{}, err
	}
	p, ok := s.m.posts[id]
	if !ok {
		return models.Post{}, repos.ErrNotFound
	}
	if patch.Content != nil {
		p.Content = patch.Content
	}
	if patch.Visibility != nil {
		p.Visibility = *patch.Visibility
	}
	if patch.MediaIDs != nil {
		p.MediaIDs = append([]string{}, (*patch.MediaIDs)...)
	}
	if patch.Price != nil {
		p.Price = patch.Price
	}
	p.UpdatedAt = s.m.tick()
	s.m.posts[id] = p
	return p, nil
}

func (s memPosts) Upsert(_ context.Context, p models.Post) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("posts.Upsert"); err != nil {
		return err
	}
	p.UpdatedAt = s.m.tick()
	s.m.posts[p.ID] = p
	return nil
}

func (s memPosts) Delete(_ context.Context, id string) (models.Post, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("posts.Delete"); err != nil {
		return models.Post{}, err
	}
	p, ok := s.m.posts[id]
	if !ok {
		return models.Post{}, repos.ErrNotFound
	}
	delete(s.m.posts, id)
	return p, nil
}

func (s memPosts) FindByID(_ context.Context, id string) (models.Post, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.read("posts.FindByID"); err != nil {
		return models.Post{}, err
	}
	p, ok := s.m.posts[id]
	if !ok {
		return models.Post{}, repos.ErrNotFound
	}
	return p, nil
}

func (s memPosts) FindRecent(_ context.Context, limit int) ([]models.Post, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.read("posts.FindRecent"); err != nil {
		return nil, err
	}
	out := make([]models.Post, 0, len(s.m.posts))
	for _, p := range s.m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memPosts) IncrementCounter(_ context.Context, id string, column string, delta int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("posts.IncrementCounter"); err != nil {
		return err
	}
	p, ok := s.m.posts[id]
	if !ok {
		return repos.ErrNotFound
	}
	switch column {
	case repos.ColumnLikeCount:
		p.LikeCount += delta
	case repos.ColumnCommentCount:
		p.CommentCount += delta
	default:
		return repos.ErrNotFound
	}
	p.UpdatedAt = s.m.tick()
	s.m.posts[id] = p
	return nil
}

type memLikes struct{ m *Memory }

func (s memLikes) Insert(_ context.Context, postID string, userID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("likes.Insert"); err != nil {
		return false, err
	}
	key := [2]string{postID, userID}
	if s.m.likes[key] {
		return false, nil
	}
	s.m.likes[key] = true
	return true, nil
}

func (s memLikes) Delete(_ context.Context, postID string, userID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("likes.Delete"); err != nil {
		return false, err
	}
	key := [2]string{postID, userID}
	if !s.m.likes[key] {
		return false, nil
	}
	delete(s.m.likes, key)
	return true, nil
}

type memComments struct{ m *Memory }

func (s memComments) Insert(_ context.Context, c models.Comment) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("comments.Insert"); err != nil {
		return false, err
	}
	if _, ok := s.m.comments[c.ID]; ok {
		return false, nil
	}
	c.CreatedAt = s.m.tick()
	s.m.comments[c.ID] = c
	return true, nil
}

func (s memComments) Delete(_ context.Context, id string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("comments.Delete"); err != nil {
		return false, err
	}
	if _, ok := s.m.comments[id]; !ok {
		return false, nil
	}
	delete(s.m.comments, id)
	return true, nil
}

type memMedia struct{ m *Memory }

func (s memMedia) Insert(_ context.Context, md models.Media) (models.Media, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("media.Insert"); err != nil {
		return models.Media{}, err
	}
	if existing, ok := s.m.media[md.ID]; ok {
		return existing, nil
	}
	md.CreatedAt = s.m.tick()
	s.m.media[md.ID] = md
	return md, nil
}

func (s memMedia) Upsert(_ context.Context, md models.Media) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("media.Upsert"); err != nil {
		return err
	}
	s.m.media[md.ID] = md
	return nil
}

func (s memMedia) FindByID(_ context.Context, id string) (models.Media, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.read("media.FindByID"); err != nil {
		return models.Media{}, err
	}
	md, ok := s.m.media[id]
	if !ok {
		return models.Media{}, repos.ErrNotFound
	}
	return md, nil
}

type memCommerce struct{ m *Memory }

func (s memCommerce) InsertSubscription(_ context.Context, sub models.Subscription) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("subscriptions.InsertSubscription"); err != nil {
		return err
	}
	s.m.subs[sub.ID] = sub
	return nil
}

func (s memCommerce) InsertTier(_ context.Context, t models.Tier) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("subscriptions.InsertTier"); err != nil {
		return err
	}
	s.m.tiers[t.ID] = t
	return nil
}

func (s memCommerce) InsertPayment(_ context.Context, p models.Payment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("payments.InsertPayment"); err != nil {
		return err
	}
	s.m.payments[p.ID] = p
	return nil
}

func (s memCommerce) InsertTip(_ context.Context, t models.Tip) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("payments.InsertTip"); err != nil {
		return err
	}
	s.m.tips[t.ID] = t
	return nil
}

func (s memCommerce) InsertPurchase(_ context.Context, p models.Purchase) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.write("payments.InsertPurchase"); err != nil {
		return err
	}
	s.m.purchase[p.ID] = p
	return nil
}
