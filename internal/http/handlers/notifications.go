package handlers

import (
	"net/http"
	"time"
)

type notificationDTO struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	list, err := a.Notifications.List(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]notificationDTO, 0, len(list))
	for _, n := range list {
		out = append(out, notificationDTO{
			ID:        n.ID,
			BatchID:   n.BatchID,
			Kind:      string(n.Kind),
			Title:     n.Title,
			Body:      n.Body,
			CreatedAt: n.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"notifications": out})
}
