// Package points implements the Points/Achievement transactional hook
// (C13): staged point credits and badge checks piggybacked onto the
// transaction of whatever action triggered them.
package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// Hook is the C13 entry point. Both of its methods require an open
// transaction so the point ledger write, the user.total_points mutation,
// and the action that triggered them commit or roll back together.
type Hook struct {
	userRepo *repository.UserRepo
}

func NewHook(userRepo *repository.UserRepo) *Hook {
	return &Hook{userRepo: userRepo}
}

// AwardPoints stages a PointTransaction row and mutates user.total_points
// within tx, clamping at 0 on a negative amount per spec's Open Question
// decision (preserved literally, not reinterpreted as a spend cap).
func (h *Hook) AwardPoints(ctx context.Context, tx pgx.Tx, userID string, amount int, reason string, txType model.PointTransactionType, relatedEntityType, relatedEntityID *string) error {
	user, err := h.userRepo.GetByIDTx(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("points.AwardPoints: load user: %w", err)
	}

	newTotal := user.TotalPoints + amount
	if newTotal < 0 {
		newTotal = 0
	}

	if err := repository.SetTotalPoints(ctx, tx, userID, newTotal); err != nil {
		return fmt.Errorf("points.AwardPoints: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO point_transactions (id, user_id, amount, reason, type, related_entity_type, related_entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, uuid.NewString(), userID, amount, reason, txType, relatedEntityType, relatedEntityID)
	if err != nil {
		return fmt.Errorf("points.AwardPoints: insert transaction: %w", err)
	}
	return nil
}

// IncrementChatMessageCounter bumps the chat_messages_count counter
// within tx so a subsequent CheckAndAwardAchievements call in the same
// transaction sees the up-to-date count for CriteriaChatMessages.
func (h *Hook) IncrementChatMessageCounter(ctx context.Context, tx pgx.Tx, userID string) error {
	col := achievementCounter[model.CriteriaChatMessages]
	if err := repository.IncrementUserCounter(ctx, tx, userID, col); err != nil {
		return fmt.Errorf("points.IncrementChatMessageCounter: %w", err)
	}
	return nil
}

// achievementCounter reads the counter column backing one criteria type.
// Each counter is read within tx so a concurrent writer's effect on the
// same row is visible per spec's "within the same transaction" rule.
var achievementCounter = map[model.AchievementCriteriaType]string{
	model.CriteriaCompletedProjects: "completed_projects_count",
	model.CriteriaCompletedCourses:  "completed_courses_count",
	model.CriteriaLikesReceived:     "likes_received_count",
	model.CriteriaForumPosts:        "forum_posts_count",
	model.CriteriaChatMessages:      "chat_messages_count",
	model.CriteriaLoginCount:        "login_count",
}

// CheckAndAwardAchievements reads each active achievement's counter from
// the DB within tx, compares against criteria the user hasn't yet earned,
// and on a match inserts a UserAchievement row plus (when reward_points >
// 0) a recursive AwardPoints call. A unique constraint on
// (user_id, achievement_id) backstops this against concurrent duplicate
// grants (spec S5): the insert is ON CONFLICT DO NOTHING and only the
// winner of that race proceeds to the points award.
func (h *Hook) CheckAndAwardAchievements(ctx context.Context, tx pgx.Tx, userID string) error {
	rows, err := tx.Query(ctx, `
		SELECT a.id, a.name, a.criteria_type, a.criteria_value, a.reward_points
		FROM achievements a
		WHERE a.is_active
		AND NOT EXISTS (
			SELECT 1 FROM user_achievements ua
			WHERE ua.user_id = $1 AND ua.achievement_id = a.id
		)
	`, userID)
	if err != nil {
		return fmt.Errorf("points.CheckAndAwardAchievements: query candidates: %w", err)
	}

	type candidate struct {
		id, name      string
		criteriaType  model.AchievementCriteriaType
		criteriaValue int
		rewardPoints  int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.name, &c.criteriaType, &c.criteriaValue, &c.rewardPoints); err != nil {
			rows.Close()
			return fmt.Errorf("points.CheckAndAwardAchievements: scan: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("points.CheckAndAwardAchievements: %w", err)
	}

	for _, c := range candidates {
		col, ok := achievementCounter[c.criteriaType]
		if !ok {
			continue
		}

		var actual int
		query := fmt.Sprintf(`SELECT %s FROM user_counters WHERE user_id = $1`, col)
		if err := tx.QueryRow(ctx, query, userID).Scan(&actual); err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return fmt.Errorf("points.CheckAndAwardAchievements: read counter %s: %w", col, err)
		}
		if actual < c.criteriaValue {
			continue
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO user_achievements (id, user_id, achievement_id, earned_at, is_notified)
			VALUES ($1, $2, $3, now(), false)
			ON CONFLICT (user_id, achievement_id) DO NOTHING
		`, uuid.NewString(), userID, c.id)
		if err != nil {
			return fmt.Errorf("points.CheckAndAwardAchievements: insert grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Another concurrent commit already won this grant (P3).
			continue
		}

		if c.rewardPoints > 0 {
			entityType := "achievement"
			if err := h.AwardPoints(ctx, tx, userID, c.rewardPoints, fmt.Sprintf("获得成就：%s", c.name), model.PointTxEarn, &entityType, &c.id); err != nil {
				return fmt.Errorf("points.CheckAndAwardAchievements: award reward: %w", err)
			}
		}
	}
	return nil
}
