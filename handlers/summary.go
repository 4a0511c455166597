package handlers

import (
	"fmt"
	"net/http"

	"github.com/aj9599/submeter-billing/services"
)

type SummaryHandler struct {
	summaries *services.SummaryService
	profiles  *services.ProfileService
}

func NewSummaryHandler(summaries *services.SummaryService, profiles *services.ProfileService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries, profiles: profiles}
}

func (h *SummaryHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := pathAdmin(r); err != nil {
		respondError(w, r, err)
		return
	}
	summaries, err := h.summaries.List(r.Context(), callerContext(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

// Report serves GET /summary/report?month=YYYY-MM as a PDF download.
func (h *SummaryHandler) Report(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		respondError(w, r, &services.ValidationError{Field: "month", Reason: "is required"})
		return
	}
	pdf, err := h.summaries.Report(r.Context(), callerContext(r), month)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="summary-%s.pdf"`, month))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (h *SummaryHandler) UpdatePaymentProfile(w http.ResponseWriter, r *http.Request) {
	var req services.PaymentProfile
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	profile, err := h.profiles.UpdatePaymentProfile(r.Context(), callerContext(r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
