package handlers

import (
	"net/http"

	"github.com/aj9599/submeter-billing/services"
)

type StatementHandler struct {
	statements *services.StatementService
}

func NewStatementHandler(statements *services.StatementService) *StatementHandler {
	return &StatementHandler{statements: statements}
}

func (h *StatementHandler) Preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := services.ParsePeriod(q.Get("month"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	preview, err := h.statements.Preview(r.Context(), callerContext(r), period)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

func (h *StatementHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req services.SaveStatementsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := h.statements.Save(r.Context(), callerContext(r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *StatementHandler) List(w http.ResponseWriter, r *http.Request) {
	statements, err := h.statements.List(r.Context(), callerContext(r), r.URL.Query().Get("month"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statements)
}

func (h *StatementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	statement, err := h.statements.Get(r.Context(), callerContext(r), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statement)
}

func (h *StatementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.statements.Delete(r.Context(), callerContext(r), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "Statement deleted")
}
