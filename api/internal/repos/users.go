package repos

import (
	"context"
	"time"

	"creator-sync/api/internal/models"
)

const userColumns = `id, email, username, display_name, role, avatar_url, bio, is_verified, created_at, updated_at`

type UsersRepo struct {
	db DBTX
}

func NewUsersRepo(db DBTX) *UsersRepo {
	return &UsersRepo{db: db}
}

// Insert creates the user or, when the id already exists, returns the stored row unchanged.
func (r *UsersRepo) Insert(ctx context.Context, u models.User) (models.User, error) {
	now := time.Now().UTC()
	row := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO users (id, email, username, display_name, role, avatar_url, bio, is_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+userColumns+`
		)
		SELECT `+userColumns+` FROM ins
		UNION ALL
		SELECT `+userColumns+` FROM users WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM ins)
	`, u.ID, u.Email, u.Username, u.DisplayName, u.Role, u.AvatarURL, u.Bio, u.IsVerified, now)
	return scanUser(row)
}

func (r *UsersRepo) Update(ctx context.Context, id string, p UserPatch) (models.User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users SET
			email = COALESCE($2, email),
			username = COALESCE($3, username),
			display_name = COALESCE($4, display_name),
			role = COALESCE($5, role),
			avatar_url = COALESCE($6, avatar_url),
			bio = COALESCE($7, bio),
			is_verified = COALESCE($8, is_verified),
			updated_at = $9
		WHERE id = $1
		RETURNING `+userColumns,
		id, p.Email, p.Username, p.DisplayName, p.Role, p.AvatarURL, p.Bio, p.IsVerified, time.Now().UTC())
	return scanUser(row)
}

func (r *UsersRepo) Upsert(ctx context.Context, u models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, username, display_name, role, avatar_url, bio, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			avatar_url = EXCLUDED.avatar_url,
			bio = EXCLUDED.bio,
			is_verified = EXCLUDED.is_verified,
			updated_at = EXCLUDED.updated_at
	`, u.ID, u.Email, u.Username, u.DisplayName, u.Role, u.AvatarURL, u.Bio, u.IsVerified, u.CreatedAt, now)
	return err
}

// Delete removes the user and returns the row as it was.
func (r *UsersRepo) Delete(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING `+userColumns, id))
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UsersRepo) FindRecent(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Role, &u.AvatarURL, &u.Bio, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	return u, notFound(err)
}
