package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/aj9599/submeter-billing/services"
)

type ReadingHandler struct {
	readings *services.ReadingService
	exporter services.ReadingExporter
}

func NewReadingHandler(readings *services.ReadingService) *ReadingHandler {
	return &ReadingHandler{readings: readings}
}

// Add accepts multipart form fields tenant_id and closing_value plus the
// meter photo in "photo".
func (h *ReadingHandler) Add(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := parseMultipart(r); err != nil {
		respondError(w, r, err)
		return
	}

	tenantID, err := strconv.ParseInt(r.FormValue("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		respondError(w, r, &services.ValidationError{Field: "tenant_id", Reason: "is required"})
		return
	}
	name, contentType, data, err := readUpload(r, "photo")
	if err != nil {
		respondError(w, r, err)
		return
	}

	reading, err := h.readings.Submit(r.Context(), callerContext(r), tenantID, r.FormValue("closing_value"), services.Photo{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reading)
}

func (h *ReadingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	readings, err := h.readings.ListMine(r.Context(), callerContext(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, readings)
}

// List serves GET /readings?status=Pending&tenant_id=3.
func (h *ReadingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.ReadingFilter{Status: q.Get("status")}
	if raw := q.Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, r, &services.ValidationError{Field: "tenant_id", Reason: fmt.Sprintf("%q is not an id", raw)})
			return
		}
		filter.TenantID = id
	}

	readings, err := h.readings.List(r.Context(), callerContext(r), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, readings)
}

func (h *ReadingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	reading, err := h.readings.Approve(r.Context(), callerContext(r), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *ReadingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}
	reading, err := h.readings.Reject(r.Context(), callerContext(r), id, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

// Export serves GET /readings/export?month=2024-05 (or from/to) as .xlsx.
func (h *ReadingHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := services.ParsePeriod(q.Get("month"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	rows, err := h.readings.ExportRows(r.Context(), callerContext(r), period)
	if err != nil {
		respondError(w, r, err)
		return
	}
	data, err := h.exporter.Export(rows)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", h.exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="readings-%s.xlsx"`, period.Label()))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
