package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wakeguard/companion/internal/consumer"
)

// Tracker is the read-only slice of the sync consumer the dashboard needs.
type Tracker interface {
	Snapshot() []consumer.TrackedSubject
	Badges() consumer.Badges
}

// DashboardHandler exposes the tracked-subject projection to the UI shell.
type DashboardHandler struct {
	tracker Tracker
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(tracker Tracker) *DashboardHandler {
	return &DashboardHandler{tracker: tracker}
}

// Subjects returns the current tracked-subject snapshot.
func (h *DashboardHandler) Subjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.tracker.Snapshot())
}

// Badges returns the observer's aggregate counts.
func (h *DashboardHandler) Badges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.tracker.Badges())
}
