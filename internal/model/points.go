package model

import "time"

// PointTransactionType classifies why a PointTransaction was written.
type PointTransactionType string

const (
	PointTxEarn        PointTransactionType = "EARN"
	PointTxConsume      PointTransactionType = "CONSUME"
	PointTxAdminAdjust PointTransactionType = "ADMIN_ADJUST"
)

// PointTransaction is an append-only ledger entry. It is always written
// in the same database transaction as the action that triggered it, and
// user.total_points is updated alongside it in that same transaction.
type PointTransaction struct {
	ID                string               `json:"id"`
	UserID            string               `json:"userId"`
	Amount            int                  `json:"amount"`
	Reason            string               `json:"reason"`
	Type              PointTransactionType `json:"type"`
	RelatedEntityType *string              `json:"relatedEntityType,omitempty"`
	RelatedEntityID   *string              `json:"relatedEntityId,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// AchievementCriteriaType names the counter an Achievement is compared
// against.
type AchievementCriteriaType string

const (
	CriteriaCompletedProjects AchievementCriteriaType = "COMPLETED_PROJECTS_COUNT"
	CriteriaCompletedCourses  AchievementCriteriaType = "COMPLETED_COURSES_COUNT"
	CriteriaLikesReceived     AchievementCriteriaType = "LIKES_RECEIVED_COUNT"
	CriteriaForumPosts        AchievementCriteriaType = "FORUM_POSTS_COUNT"
	CriteriaChatMessages      AchievementCriteriaType = "CHAT_MESSAGES_COUNT"
	CriteriaLoginCount        AchievementCriteriaType = "LOGIN_COUNT"
)

// Achievement is a static, admin-managed definition of an awardable badge.
type Achievement struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	CriteriaType AchievementCriteriaType `json:"criteriaType"`
	CriteriaValue int                    `json:"criteriaValue"`
	RewardPoints int                     `json:"rewardPoints"`
	IsActive     bool                    `json:"isActive"`
}

// UserAchievement is a per-user grant of an Achievement. Unique on
// (UserID, AchievementID).
type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	EarnedAt      time.Time `json:"earnedAt"`
	IsNotified    bool      `json:"isNotified"`
}

// AchievementProgress pairs a static Achievement with one user's grant
// status, for GET /api/users/me/achievements.
type AchievementProgress struct {
	Achievement Achievement `json:"achievement"`
	Earned      bool        `json:"earned"`
	EarnedAt    *time.Time  `json:"earnedAt,omitempty"`
}
