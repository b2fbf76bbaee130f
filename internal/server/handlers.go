package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/dexmaker/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type breakerView struct {
	State               string    `json:"state"`
	TripReason          string    `json:"trip_reason,omitempty"`
	TrippedAt           time.Time `json:"tripped_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ResumeStep          int       `json:"resume_step,omitempty"`
	ResumeSteps         int       `json:"resume_steps,omitempty"`
}

func breakerViewOf(st domain.BreakerStatus) breakerView {
	return breakerView{
		State:               string(st.State),
		TripReason:          string(st.TripReason),
		TrippedAt:           st.TrippedAt,
		ConsecutiveFailures: st.ConsecutiveFailures,
		ResumeStep:          st.ResumeStep,
		ResumeSteps:         st.ResumeSteps,
	}
}

type accountView struct {
	Account           string     `json:"account"`
	BaseUnits         int64      `json:"base_units"`
	QuoteUnits        int64      `json:"quote_units"`
	AvgCostBasis      string     `json:"avg_cost_basis"`
	Bid               *orderView `json:"bid,omitempty"`
	Ask               *orderView `json:"ask,omitempty"`
	BreakerTripped    bool       `json:"breaker_tripped"`
	RugPullFlagged    bool       `json:"rugpull_flagged"`
	BlockedTradeCount int        `json:"blocked_trade_count"`
}

type orderView struct {
	ID        string    `json:"id"`
	Price     string    `json:"price"`
	BaseUnits int64     `json:"base_units"`
	CreatedAt time.Time `json:"created_at"`
}

func orderViewOf(o *domain.PlacedOrder) *orderView {
	if o == nil {
		return nil
	}
	return &orderView{
		ID:        o.ID,
		Price:     o.Price.String(),
		BaseUnits: o.BaseUnits,
		CreatedAt: o.CreatedAt,
	}
}

func (s *Server) accountViews() []accountView {
	views := make([]accountView, 0, len(s.runners))
	for _, r := range s.runners {
		inv := s.ledger.Get(r.Account())
		orders := r.Orders()
		safety := r.Safety()
		views = append(views, accountView{
			Account:           r.Account(),
			BaseUnits:         inv.BaseUnits,
			QuoteUnits:        inv.QuoteUnits,
			AvgCostBasis:      inv.AvgCostBasis.String(),
			Bid:               orderViewOf(orders.Bid),
			Ask:               orderViewOf(orders.Ask),
			BreakerTripped:    safety.BreakerTripped,
			RugPullFlagged:    safety.RugPullFlagged,
			BlockedTradeCount: safety.BlockedTradeCount,
		})
	}
	return views
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Breaker  breakerView                      `json:"breaker"`
		Accounts []accountView                    `json:"accounts"`
		Risk     map[string]domain.RiskAssessment `json:"risk,omitempty"`
	}{
		Breaker:  breakerViewOf(s.breaker.Status()),
		Accounts: s.accountViews(),
	}
	if s.monitor != nil {
		resp.Risk = s.monitor.Assessments()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBreaker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, breakerViewOf(s.breaker.Status()))
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.accountViews())
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]domain.RiskAssessment{})
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Assessments())
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual trip via api"
	}

	s.breaker.TripManual(r.Context(), req.Reason)
	s.logger.WarnContext(r.Context(), "breaker tripped via api", slog.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, breakerViewOf(s.breaker.Status()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if ok := s.breaker.TryReset(r.Context()); !ok {
		writeError(w, http.StatusConflict, "breaker not resettable yet")
		return
	}
	s.logger.InfoContext(r.Context(), "breaker reset via api")
	writeJSON(w, http.StatusOK, breakerViewOf(s.breaker.Status()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
