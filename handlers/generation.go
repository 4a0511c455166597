package handlers

import (
	"net/http"

	"github.com/aj9599/submeter-billing/services"
)

type GenerationHandler struct {
	generation *services.GenerationService
}

func NewGenerationHandler(generation *services.GenerationService) *GenerationHandler {
	return &GenerationHandler{generation: generation}
}

type SolarLogRequest struct {
	Date          string `json:"date"`
	UnitsProduced number `json:"units_produced"`
}

func (h *GenerationHandler) AddSolar(w http.ResponseWriter, r *http.Request) {
	var req SolarLogRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	log, err := h.generation.UpsertSolarLog(r.Context(), callerContext(r), req.Date, req.UnitsProduced.String())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

// SolarHistory serves GET /solar/history?month=YYYY-MM (or from/to).
func (h *GenerationHandler) SolarHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := services.ParsePeriod(q.Get("month"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	logs, err := h.generation.ListSolarLogs(r.Context(), callerContext(r), period)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

type DGLogRequest struct {
	DGName        string `json:"dg_name"`
	Date          string `json:"date"`
	UnitsProduced number `json:"units_produced"`
	FuelLiters    number `json:"fuel_liters"`
	FuelCost      number `json:"fuel_cost"`
}

func (h *GenerationHandler) AddDGLog(w http.ResponseWriter, r *http.Request) {
	var req DGLogRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	log, err := h.generation.UpsertDGLog(r.Context(), callerContext(r), services.DGLogInput{
		DGName:     req.DGName,
		Date:       req.Date,
		Units:      req.UnitsProduced.String(),
		FuelLiters: req.FuelLiters.String(),
		FuelCost:   req.FuelCost.String(),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

func (h *GenerationHandler) DGMonthlyTotal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := services.ParsePeriod(q.Get("month"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	total, err := h.generation.DGMonthlyTotal(r.Context(), callerContext(r), period)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, total)
}

type DGUnitRequest struct {
	Name            string `json:"name"`
	ModbusHost      string `json:"modbus_host"`
	ModbusPort      int    `json:"modbus_port"`
	ModbusUnitID    int    `json:"modbus_unit_id"`
	RegisterAddress int    `json:"register_address"`
	RegisterCount   int    `json:"register_count"`
}

func (h *GenerationHandler) RegisterDGUnit(w http.ResponseWriter, r *http.Request) {
	var req DGUnitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	unit, err := h.generation.RegisterDGUnit(r.Context(), callerContext(r), services.DGUnitInput(req))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, unit)
}

type DGPollRequest struct {
	DGName string `json:"dg_name"`
}

// PollDG reads a registered DG set's Modbus counter on demand.
func (h *GenerationHandler) PollDG(w http.ResponseWriter, r *http.Request) {
	var req DGPollRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	result, err := h.generation.PollDGMeter(r.Context(), callerContext(r), req.DGName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
