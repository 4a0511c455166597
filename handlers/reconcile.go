package handlers

import (
	"net/http"

	"github.com/aj9599/submeter-billing/services"
)

type ReconcileHandler struct {
	reconcile *services.ReconcileService
}

func NewReconcileHandler(reconcile *services.ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{reconcile: reconcile}
}

// Reconcile serves GET /reconcile/{adminId}?month=YYYY-MM (or from/to).
func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if err := pathAdmin(r); err != nil {
		respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	period, err := services.ParsePeriod(q.Get("month"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	report, err := h.reconcile.Reconcile(r.Context(), callerContext(r), period)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
