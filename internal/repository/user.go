package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// UserRepo handles user persistence.
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a UserRepo.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// EnsureUser creates a user record if it doesn't already exist, and bumps
// login_count/last_login_at otherwise. The user ID is the subject claim
// from the verified bearer token.
func (r *UserRepo) EnsureUser(ctx context.Context, userID, email string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, status, is_admin, total_points, login_count, created_at, last_login_at)
		VALUES ($1, $2, 'Active', false, 0, 1, now(), now())
		ON CONFLICT (id) DO UPDATE SET last_login_at = now(), login_count = users.login_count + 1
	`, userID, email)
	if err != nil {
		return fmt.Errorf("repository.EnsureUser: %w", err)
	}
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	return r.getByID(ctx, r.pool, userID)
}

// GetByIDTx loads a user by ID for update within an existing transaction,
// used by internal/points so read-modify-write on total_points is
// serialized with the surrounding commit.
func (r *UserRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, userID string) (*model.User, error) {
	return r.getByID(ctx, tx, userID)
}

func (r *UserRepo) getByID(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, userID string) (*model.User, error) {
	row := q.QueryRow(ctx, `
		SELECT id, email, name, status, is_admin, total_points, login_count, created_at, last_login_at
		FROM users WHERE id = $1 FOR UPDATE
	`, userID)

	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Status, &u.IsAdmin, &u.TotalPoints, &u.LoginCount, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	return &u, nil
}

// SetTotalPoints updates a user's total_points inside the caller's
// transaction. Used exclusively by internal/points.AwardPoints so the
// update is atomic with the PointTransaction insert.
func SetTotalPoints(ctx context.Context, tx pgx.Tx, userID string, totalPoints int) error {
	_, err := tx.Exec(ctx, `UPDATE users SET total_points = $2 WHERE id = $1`, userID, totalPoints)
	if err != nil {
		return fmt.Errorf("repository.SetTotalPoints: %w", err)
	}
	return nil
}

// IncrementUserCounter bumps one achievement counter column in
// user_counters by 1 within tx, upserting a fresh row on a user's first
// counted action. column must be one of the literal column names in
// points.achievementCounter — never caller-supplied input.
func IncrementUserCounter(ctx context.Context, tx pgx.Tx, userID, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO user_counters (user_id, %s) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET %s = user_counters.%s + 1`, column, column, column)
	if _, err := tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("repository.IncrementUserCounter: %w", err)
	}
	return nil
}

// ListPointTransactions returns a user's ledger entries newest-first,
// paginated, for GET /api/users/me/points/history.
func (r *UserRepo) ListPointTransactions(ctx context.Context, userID string, limit, offset int) ([]model.PointTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, reason, type, related_entity_type, related_entity_id, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repository.ListPointTransactions: %w", err)
	}
	defer rows.Close()

	var out []model.PointTransaction
	for rows.Next() {
		var t model.PointTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.Type, &t.RelatedEntityType, &t.RelatedEntityID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListPointTransactions: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListPointTransactions: %w", err)
	}
	return out, nil
}

// ListAchievements returns every active Achievement alongside whether
// and when userID earned it, for GET /api/users/me/achievements.
func (r *UserRepo) ListAchievements(ctx context.Context, userID string) ([]model.AchievementProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.name, a.criteria_type, a.criteria_value, a.reward_points, a.is_active,
		       ua.earned_at
		FROM achievements a
		LEFT JOIN user_achievements ua ON ua.achievement_id = a.id AND ua.user_id = $1
		WHERE a.is_active
		ORDER BY a.criteria_type, a.criteria_value
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListAchievements: %w", err)
	}
	defer rows.Close()

	var out []model.AchievementProgress
	for rows.Next() {
		var p model.AchievementProgress
		var earnedAt *time.Time
		if err := rows.Scan(&p.Achievement.ID, &p.Achievement.Name, &p.Achievement.CriteriaType,
			&p.Achievement.CriteriaValue, &p.Achievement.RewardPoints, &p.Achievement.IsActive, &earnedAt); err != nil {
			return nil, fmt.Errorf("repository.ListAchievements: scan: %w", err)
		}
		p.Earned = earnedAt != nil
		p.EarnedAt = earnedAt
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListAchievements: %w", err)
	}
	return out, nil
}
