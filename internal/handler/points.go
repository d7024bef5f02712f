package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// PointsHistoryStore is the read-side contract the points history handler
// needs from internal/repository.UserRepo.
type PointsHistoryStore interface {
	ListPointTransactions(ctx context.Context, userID string, limit, offset int) ([]model.PointTransaction, error)
}

// AchievementStore is the read-side contract the achievements handler
// needs from internal/repository.UserRepo.
type AchievementStore interface {
	ListAchievements(ctx context.Context, userID string) ([]model.AchievementProgress, error)
}

// PointsDeps bundles dependencies for the points/achievements handlers.
type PointsDeps struct {
	Store interface {
		PointsHistoryStore
		AchievementStore
	}
}

const defaultPointsHistoryLimit = 20

// PointsHistory handles GET /api/users/me/points/history?limit=&offset=.
// Returns the caller's own PointTransaction ledger, newest first.
func PointsHistory(deps PointsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		limit := defaultPointsHistoryLimit
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l >= 1 && l <= 100 {
			limit = l
		}
		offset := 0
		if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
			offset = o
		}

		txns, err := deps.Store.ListPointTransactions(r.Context(), userID, limit, offset)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to load points history"})
			return
		}
		if txns == nil {
			txns = []model.PointTransaction{}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"transactions": txns,
			"limit":        limit,
			"offset":       offset,
		}})
	}
}

// Achievements handles GET /api/users/me/achievements. Returns every
// active achievement alongside the caller's earned status, so a client
// can render locked/unlocked badges in one call.
func Achievements(deps PointsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		progress, err := deps.Store.ListAchievements(r.Context(), userID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to load achievements"})
			return
		}
		if progress == nil {
			progress = []model.AchievementProgress{}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"achievements": progress,
		}})
	}
}
