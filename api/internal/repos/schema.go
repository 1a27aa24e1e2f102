package repos

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creator-sync/shared/dbx"
)

// 不加外键：事件可能乱序到达
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           text PRIMARY KEY,
	email        text NOT NULL,
	username     text NOT NULL DEFAULT '',
	display_name text,
	role         text NOT NULL DEFAULT 'user',
	avatar_url   text,
	bio          text,
	is_verified  boolean NOT NULL DEFAULT false,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS users_updated_at_idx ON users (updated_at DESC);

CREATE TABLE IF NOT EXISTS posts (
	id            text PRIMARY KEY,
	creator_id    text NOT NULL,
	content       text,
	visibility    text NOT NULL DEFAULT 'public',
	media_ids     text[] NOT NULL DEFAULT '{}',
	like_count    bigint NOT NULL DEFAULT 0,
	comment_count bigint NOT NULL DEFAULT 0,
	price         double precision,
	created_at    timestamptz NOT NULL DEFAULT now(),
	updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS posts_updated_at_idx ON posts (updated_at DESC);

CREATE TABLE IF NOT EXISTS likes (
	post_id    text NOT NULL,
	user_id    text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, user_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id         text PRIMARY KEY,
	post_id    text NOT NULL,
	user_id    text NOT NULL,
	content    text NOT NULL DEFAULT '',
	parent_id  text,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS media (
	id         text PRIMARY KEY,
	owner_id   text NOT NULL,
	post_id    text,
	media_type text NOT NULL,
	url        text NOT NULL DEFAULT '',
	size_bytes bigint NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscription_tiers (
	id          text PRIMARY KEY,
	creator_id  text NOT NULL,
	name        text NOT NULL,
	price       double precision NOT NULL DEFAULT 0,
	description text,
	benefits    text[] NOT NULL DEFAULT '{}',
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id            text PRIMARY KEY,
	subscriber_id text NOT NULL,
	creator_id    text NOT NULL,
	tier_id       text,
	status        text NOT NULL DEFAULT 'active',
	expires_at    timestamptz,
	created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payments (
	id           text PRIMARY KEY,
	user_id      text NOT NULL,
	type         text NOT NULL,
	amount       double precision NOT NULL DEFAULT 0,
	currency     text NOT NULL DEFAULT 'USD',
	status       text NOT NULL DEFAULT 'completed',
	reference_id text,
	created_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tips (
	id         text PRIMARY KEY,
	sender_id  text NOT NULL,
	creator_id text NOT NULL,
	amount     double precision NOT NULL DEFAULT 0,
	post_id    text,
	message    text,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS purchases (
	id         text PRIMARY KEY,
	buyer_id   text NOT NULL,
	post_id    text NOT NULL,
	amount     double precision NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now()
);
`

// Migrate 幂等建表
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return dbx.InTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, schema)
		return err
	})
}
