// This file implements the operator endpoints: health check and the stats
// overview. Stats are served behind basic auth (wired in main).
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/laoshi/internal/service"
)

// AdminHandler serves the operator stats overview.
type AdminHandler struct {
	stats  service.StatsService
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(stats service.StatsService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		stats:  stats,
		logger: logger,
	}
}

// RegisterRoutes registers admin routes with the provided auth middleware.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /admin/stats", requireAdmin(http.HandlerFunc(h.Stats)))
}

// statsResponse is the JSON shape of the overview.
type statsResponse struct {
	TotalUsers   int64 `json:"total_users"`
	NewToday     int64 `json:"new_today"`
	NewThisWeek  int64 `json:"new_this_week"`
	NewThisMonth int64 `json:"new_this_month"`

	PremiumUsers int64 `json:"premium_users"`

	TextToday  int64 `json:"text_messages_today"`
	VoiceToday int64 `json:"voice_messages_today"`

	DAU int64 `json:"dau"`
	WAU int64 `json:"wau"`
	MAU int64 `json:"mau"`

	RevenueKopecks    int64   `json:"revenue_30d_kopecks"`
	ConversionPercent float64 `json:"conversion_percent"`
}

// Stats returns the point-in-time overview.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Overview(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalUsers:        stats.TotalUsers,
		NewToday:          stats.NewToday,
		NewThisWeek:       stats.NewThisWeek,
		NewThisMonth:      stats.NewThisMonth,
		PremiumUsers:      stats.PremiumUsers,
		TextToday:         stats.TextToday,
		VoiceToday:        stats.VoiceToday,
		DAU:               stats.DAU,
		WAU:               stats.WAU,
		MAU:               stats.MAU,
		RevenueKopecks:    stats.RevenueKopecks,
		ConversionPercent: stats.Conversion,
	})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
