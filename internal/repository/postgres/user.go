package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, email, name, role, is_active, team_leader_id, managed_by, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpsertUser writes a user row. The CRUD service owns users; this exists for
// seeding and integration tests.
func UpsertUser(ctx context.Context, base BaseRepository, user *model.User) error {
	query := `
		INSERT INTO users (id, email, name, role, is_active, team_leader_id, managed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			team_leader_id = EXCLUDED.team_leader_id,
			managed_by = EXCLUDED.managed_by,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := base.GetDB().ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Role,
		user.IsActive,
		user.TeamLeaderID,
		user.ManagedBy,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
